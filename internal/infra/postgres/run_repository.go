package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/jinford/dev-vision/internal/platform/database"
)

// DefaultListLimit は ListRuns の既定件数
const DefaultListLimit = 20

// ErrRunNotFound は指定した実行または実行内のアイテムが存在しない場合のエラー
var ErrRunNotFound = errors.New("run not found")

// Run は保存済みの検出実行の概要
type Run struct {
	ID               uuid.UUID
	DatasetVersionID string
	Strategy         string
	Scope            string
	TagName          string
	Model            string
	Items            int
	Processed        int
	Skipped          int
	Outliers         int
	Tagged           int
	Threshold        float64
	Degenerate       bool
	CreatedAt        time.Time
}

// Neighbor は近傍検索の結果
type Neighbor struct {
	ItemID   string
	AssetID  string
	Outlier  bool
	Distance float64
}

// RunRepository は検出実行の保存と参照を行う
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository は新しいRunRepositoryを作成する
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// RecordRun は実行概要・判定・埋め込みを1トランザクションで保存する
func (r *RunRepository) RecordRun(ctx context.Context, record *outlier.RunRecord) error {
	if record == nil || record.Summary == nil {
		return errors.New("run record is empty")
	}
	if len(record.Verdicts) != record.Matrix.Len() {
		return fmt.Errorf("verdict count %d does not match matrix rows %d", len(record.Verdicts), record.Matrix.Len())
	}

	_, err := database.Transact(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		s := record.Summary
		// 同じデータセットバージョンの記録は直列化する
		if err := lockDataset(ctx, tx, s.DatasetVersionID); err != nil {
			return struct{}{}, err
		}

		createdAt := record.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO outlier_runs (
				id, dataset_version_id, strategy, scope, tag_name, model,
				items, processed, skipped, outliers, tagged, threshold, degenerate, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			UUIDToPgtype(record.ID),
			s.DatasetVersionID,
			string(s.Strategy),
			string(s.Scope),
			s.TagName,
			record.Model,
			s.Items,
			s.Processed,
			s.Skipped,
			s.Outliers,
			s.Tagged,
			s.Threshold,
			s.Degenerate,
			pgtype.Timestamptz{Time: createdAt, Valid: true},
		)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to insert run: %w", err)
		}

		batch := &pgx.Batch{}
		for i, v := range record.Verdicts {
			item := record.Matrix.Items[i]
			batch.Queue(`
				INSERT INTO outlier_verdicts (run_id, row_index, item_id, asset_id, outlier, score, cluster)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				UUIDToPgtype(record.ID), i, v.ItemID, item.AssetID, v.Outlier, v.Score, v.Cluster,
			)
			batch.Queue(`
				INSERT INTO item_embeddings (run_id, row_index, item_id, embedding)
				VALUES ($1, $2, $3, $4)`,
				UUIDToPgtype(record.ID), i, v.ItemID, EmbeddingToVector(record.Matrix.Rows[i]),
			)
		}
		if batch.Len() == 0 {
			return struct{}{}, nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return struct{}{}, fmt.Errorf("failed to insert verdicts: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// ListRuns はデータセットバージョンの実行履歴を新しい順に返す
// datasetVersionID が空の場合は全データセットを対象にする
func (r *RunRepository) ListRuns(ctx context.Context, datasetVersionID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, dataset_version_id, strategy, scope, tag_name, model,
			items, processed, skipped, outliers, tagged, threshold, degenerate, created_at
		FROM outlier_runs
		WHERE $1 = '' OR dataset_version_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		datasetVersionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run       Run
			id        pgtype.UUID
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(
			&id,
			&run.DatasetVersionID,
			&run.Strategy,
			&run.Scope,
			&run.TagName,
			&run.Model,
			&run.Items,
			&run.Processed,
			&run.Skipped,
			&run.Outliers,
			&run.Tagged,
			&run.Threshold,
			&run.Degenerate,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.ID = PgtypeToUUID(id)
		run.CreatedAt = createdAt.Time
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// OutlierItems は実行で外れ値と判定されたアイテムを行順に返す
func (r *RunRepository) OutlierItems(ctx context.Context, runID uuid.UUID) ([]Neighbor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT item_id, asset_id, outlier, score
		FROM outlier_verdicts
		WHERE run_id = $1 AND outlier
		ORDER BY row_index`,
		UUIDToPgtype(runID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list outlier items: %w", err)
	}
	defer rows.Close()
	return collectNeighbors(rows)
}

// Neighbors は実行内で itemID に最も近いアイテムを k 件返す（L2距離の昇順）
func (r *RunRepository) Neighbors(ctx context.Context, runID uuid.UUID, itemID string, k int) ([]Neighbor, error) {
	if k <= 0 {
		k = 5
	}

	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM item_embeddings WHERE run_id = $1 AND item_id = $2)`,
		UUIDToPgtype(runID), itemID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up item: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: item %s in run %s", ErrRunNotFound, itemID, runID)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT v.item_id, v.asset_id, v.outlier, e.embedding <-> q.embedding AS distance
		FROM item_embeddings e
		JOIN outlier_verdicts v ON v.run_id = e.run_id AND v.row_index = e.row_index
		JOIN LATERAL (
			SELECT embedding FROM item_embeddings
			WHERE run_id = $1 AND item_id = $2
			LIMIT 1
		) q ON TRUE
		WHERE e.run_id = $1 AND e.item_id <> $2
		ORDER BY distance
		LIMIT $3`,
		UUIDToPgtype(runID), itemID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search neighbors: %w", err)
	}
	defer rows.Close()
	return collectNeighbors(rows)
}

func collectNeighbors(rows pgx.Rows) ([]Neighbor, error) {
	var result []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ItemID, &n.AssetID, &n.Outlier, &n.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return result, nil
}

// インターフェース実装の確認
var _ outlier.RunRecorder = (*RunRepository)(nil)
