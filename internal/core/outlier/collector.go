package outlier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultCollectorWorkers はデフォルトの抽出ワーカー数（I/O バウンド）
	DefaultCollectorWorkers = 8
	// DefaultItemTimeout は1アイテムあたりの抽出タイムアウト
	DefaultItemTimeout = 30 * time.Second
)

// CollectorConfig は埋め込み収集の設定
type CollectorConfig struct {
	// Workers は同時に実行する抽出数の上限
	Workers int
	// ItemTimeout は1アイテムの取得＋推論のタイムアウト（超過は抽出失敗として扱う）
	ItemTimeout time.Duration
	// RequestsPerSecond は抽出開始レートの上限（0以下で無制限）
	RequestsPerSecond float64
}

// DefaultCollectorConfig はデフォルトの収集設定を返す
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		Workers:     DefaultCollectorWorkers,
		ItemTimeout: DefaultItemTimeout,
	}
}

// Collection は収集結果（成功行の行列と失敗リスト）
type Collection struct {
	Matrix   FeatureMatrix
	Failures []*ExtractionFailure
}

// Processed は埋め込みを得られたアイテム数
func (c *Collection) Processed() int {
	return c.Matrix.Len()
}

// Skipped は抽出に失敗したアイテム数
func (c *Collection) Skipped() int {
	return len(c.Failures)
}

// FailedIDs は失敗したアイテムのIDを入力順で返す
func (c *Collection) FailedIDs() []string {
	ids := make([]string, 0, len(c.Failures))
	for _, f := range c.Failures {
		ids = append(ids, f.ItemID)
	}
	return ids
}

// Collector はデータセットの全アイテムから特徴行列を組み立てる
type Collector struct {
	extractor *Extractor
	config    *CollectorConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// CollectorOption は Collector のオプション
type CollectorOption func(*Collector)

// WithCollectorLogger はロガーを差し替える
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = logger
	}
}

// NewCollector は新しいCollectorを作成する
func NewCollector(extractor *Extractor, config *CollectorConfig, opts ...CollectorOption) *Collector {
	if config == nil {
		config = DefaultCollectorConfig()
	}
	cfg := *config
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultCollectorWorkers
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultItemTimeout
	}

	c := &Collector{
		extractor: extractor,
		config:    &cfg,
		logger:    slog.Default(),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Workers)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// ModelName は抽出に使用するモデル名を返す
func (c *Collector) ModelName() string {
	return c.extractor.ModelName()
}

// Collect は全アイテムの埋め込みを並行に計算し、入力順を保った行列を返す
// 個々の抽出失敗は Failures に記録され、処理全体は中断しない
// ctx がキャンセルされた場合は未処理の抽出を打ち切りエラーを返す
func (c *Collector) Collect(ctx context.Context, items []Item) (*Collection, error) {
	results := make([]mo.Result[Embedding], len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Workers)

	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if c.limiter != nil {
				if err := c.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			itemCtx, cancel := context.WithTimeout(gctx, c.config.ItemTimeout)
			defer cancel()
			results[i] = c.extractor.Extract(itemCtx, item)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("embedding collection aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embedding collection aborted: %w", err)
	}

	collection := &Collection{}
	dimension := 0
	for i, item := range items {
		emb, err := results[i].Get()
		if err == nil && dimension > 0 && len(emb) != dimension {
			err = &ExtractionFailure{
				ItemID: item.ID,
				Kind:   FailureEncode,
				Cause:  fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(emb)),
			}
		}
		if err != nil {
			var f *ExtractionFailure
			if !errors.As(err, &f) {
				f = &ExtractionFailure{ItemID: item.ID, Kind: FailureEncode, Cause: err}
			}
			c.logger.Warn("埋め込みの抽出に失敗",
				"itemID", item.ID,
				"kind", f.Kind,
				"error", f.Cause,
			)
			collection.Failures = append(collection.Failures, f)
			continue
		}
		if dimension == 0 {
			dimension = len(emb)
		}
		collection.Matrix.append(item, emb)
	}

	c.logger.Info("埋め込みの収集が完了",
		"items", len(items),
		"processed", collection.Processed(),
		"skipped", collection.Skipped(),
		"dimension", dimension,
	)

	return collection, nil
}
