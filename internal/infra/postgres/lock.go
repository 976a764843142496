package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// advisoryLockID は文字列からアドバイザリロックのIDを生成します
// 区切りを入れてハッシュするため ("ab","c") と ("a","bc") は別のIDになる
func advisoryLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

// lockDataset はデータセットバージョン単位のトランザクションスコープロックを取得します
// ロックはコミットまたはロールバックで解放される
func lockDataset(ctx context.Context, tx pgx.Tx, datasetVersionID string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockID("outlier_runs", datasetVersionID)); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
