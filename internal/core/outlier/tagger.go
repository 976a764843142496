package outlier

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// RetryPolicy は拒否されたアセットへのタグ付け再試行の設定
// ゼロ値は再試行なし
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * p.BaseBackoff
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Tagger はアセット群にデータセットスコープのタグを付与する
type Tagger struct {
	platform Platform
	retry    RetryPolicy
	logger   *slog.Logger
}

// TaggerOption は Tagger のオプション
type TaggerOption func(*Tagger)

// WithRetryPolicy は部分失敗時の再試行ポリシーを設定する
func WithRetryPolicy(policy RetryPolicy) TaggerOption {
	return func(t *Tagger) {
		t.retry = policy
	}
}

// WithTaggerLogger はロガーを差し替える
func WithTaggerLogger(logger *slog.Logger) TaggerOption {
	return func(t *Tagger) {
		t.logger = logger
	}
}

// NewTagger は新しいTaggerを作成する
func NewTagger(platform Platform, opts ...TaggerOption) *Tagger {
	t := &Tagger{
		platform: platform,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TagOutliers はアセットIDの集合にタグを付与し、付与できた件数を返す
// 重複IDは1回だけ送信し、付与済みのアセットはプラットフォーム側でno-opとなる
// 一部が拒否された場合は *TaggingPartialFailureError を返す
func (t *Tagger) TagOutliers(ctx context.Context, dataset *DatasetVersion, assetIDs []string, tagName string) (int, error) {
	ids := dedupe(assetIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := t.platform.GetOrCreateTag(ctx, dataset, tagName)
	if err != nil {
		return 0, fmt.Errorf("failed to get or create tag %q: %w", tagName, err)
	}

	pending := ids
	var lastErr error
	for attempt := 0; attempt <= t.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			t.logger.Warn("タグ付けを再試行",
				"tag", tagName,
				"attempt", attempt,
				"pending", len(pending),
			)
			select {
			case <-ctx.Done():
				return len(ids) - len(pending), fmt.Errorf("tagging cancelled: %w", ctx.Err())
			case <-time.After(t.retry.backoff(attempt)):
			}
		}

		result, err := t.platform.AddTag(ctx, dataset, tag, pending)
		if err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		// 結果が無い場合は全件受理とみなす
		pending = nil
		if result != nil {
			pending = result.Rejected
		}
		if len(pending) == 0 {
			break
		}
	}

	if lastErr != nil {
		return len(ids) - len(pending), fmt.Errorf("failed to add tag %q: %w", tagName, lastErr)
	}

	tagged := len(ids) - len(pending)
	t.logger.Info("タグ付けが完了",
		"datasetVersionID", dataset.ID,
		"tag", tagName,
		"tagged", tagged,
		"rejected", len(pending),
	)

	if len(pending) > 0 {
		return tagged, &TaggingPartialFailureError{
			Tag:    tagName,
			Failed: pending,
			Tagged: tagged,
		}
	}
	return tagged, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
