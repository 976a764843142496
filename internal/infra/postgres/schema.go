package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements は実行履歴テーブルの定義
// 埋め込みの次元はモデルごとに異なるため vector 列は次元を固定しない
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS outlier_runs (
		id UUID PRIMARY KEY,
		dataset_version_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		scope TEXT NOT NULL,
		tag_name TEXT NOT NULL,
		model TEXT NOT NULL,
		items INTEGER NOT NULL,
		processed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		outliers INTEGER NOT NULL,
		tagged INTEGER NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		degenerate BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outlier_runs_dataset
		ON outlier_runs (dataset_version_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS outlier_verdicts (
		run_id UUID NOT NULL REFERENCES outlier_runs(id) ON DELETE CASCADE,
		row_index INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		outlier BOOLEAN NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		cluster INTEGER NOT NULL,
		PRIMARY KEY (run_id, row_index)
	)`,
	`CREATE TABLE IF NOT EXISTS item_embeddings (
		run_id UUID NOT NULL REFERENCES outlier_runs(id) ON DELETE CASCADE,
		row_index INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		embedding vector NOT NULL,
		PRIMARY KEY (run_id, row_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_item_embeddings_item
		ON item_embeddings (run_id, item_id)`,
}

// EnsureSchema は必要な拡張とテーブルを作成する（冪等）
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
