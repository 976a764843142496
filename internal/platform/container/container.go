package container

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/jinford/dev-vision/internal/core/tool"
	"github.com/jinford/dev-vision/internal/infra/openai"
	"github.com/jinford/dev-vision/internal/infra/parquet"
	"github.com/jinford/dev-vision/internal/infra/picsellia"
	"github.com/jinford/dev-vision/internal/infra/postgres"
	"github.com/jinford/dev-vision/internal/platform/config"
	"github.com/jinford/dev-vision/internal/platform/database"
)

// ServiceContainer はアプリケーションの依存関係を保持する
type ServiceContainer struct {
	Platform       outlier.Platform
	OutlierService *outlier.Service
	ExportService  *outlier.ExportService
	Tagger         *outlier.Tagger
	Registry       *tool.Registry
	// RunRepository はDB未設定の場合 nil
	RunRepository *postgres.RunRepository

	logger   *slog.Logger
	database *database.Database
	// ownsDatabase は NewContainer が接続を開いた場合のみ true
	ownsDatabase bool
}

type containerOptions struct {
	logger       *slog.Logger
	platform     outlier.Platform
	fetcher      outlier.ImageFetcher
	encoder      outlier.Encoder
	writer       outlier.EmbeddingWriter
	tokenCounter tool.TokenCounter
	tools        *config.ToolsFile
	database     *database.Database
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerPlatform はプラットフォームクライアントを差し替える
func WithContainerPlatform(platform outlier.Platform) ContainerOption {
	return func(opts *containerOptions) {
		opts.platform = platform
	}
}

// WithContainerFetcher は画像取得を差し替える
func WithContainerFetcher(fetcher outlier.ImageFetcher) ContainerOption {
	return func(opts *containerOptions) {
		opts.fetcher = fetcher
	}
}

// WithContainerEncoder は画像エンコーダを差し替える
func WithContainerEncoder(encoder outlier.Encoder) ContainerOption {
	return func(opts *containerOptions) {
		opts.encoder = encoder
	}
}

// WithContainerEmbeddingWriter はエクスポート先を差し替える
func WithContainerEmbeddingWriter(writer outlier.EmbeddingWriter) ContainerOption {
	return func(opts *containerOptions) {
		opts.writer = writer
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter tool.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// WithContainerTools は tools.yaml の読み込みを省略して設定を注入する
func WithContainerTools(tools *config.ToolsFile) ContainerOption {
	return func(opts *containerOptions) {
		opts.tools = tools
	}
}

// WithContainerDatabase は既存の Database を使う（実行履歴を保存する）
func WithContainerDatabase(db *database.Database) ContainerOption {
	return func(opts *containerOptions) {
		opts.database = db
	}
}

// NewContainer は設定からコンテナを生成する
// DB_HOST が設定されている場合のみデータベースに接続する
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	var owned *database.Database
	if options.database == nil && cfg.Database.Enabled() {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: int32(cfg.Database.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db.Pool); err != nil {
			db.Close()
			return nil, fmt.Errorf("スキーマの作成に失敗しました: %w", err)
		}
		owned = db
		opts = append(opts, WithContainerDatabase(db))
	}

	c, err := build(cfg, opts...)
	if err != nil {
		owned.Close()
		return nil, err
	}
	c.ownsDatabase = owned != nil
	return c, nil
}

// NewContainerWithoutDB は実行履歴を保存しないコンテナを生成する
func NewContainerWithoutDB(cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	return build(cfg, opts...)
}

func build(cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	// Platform (REST API)
	platform := options.platform
	if platform == nil {
		client, err := picsellia.NewClient(
			cfg.Platform.BaseURL,
			cfg.Platform.APIToken,
			picsellia.WithHTTPClient(&http.Client{Timeout: cfg.Platform.Timeout}),
			picsellia.WithPageSize(cfg.Platform.PageSize),
			picsellia.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("プラットフォームクライアント初期化に失敗しました: %w", err)
		}
		platform = client
	}

	// ImageFetcher（署名付きURL）
	fetcher := options.fetcher
	if fetcher == nil {
		fetcher = picsellia.NewFetcher(&http.Client{Timeout: cfg.Platform.Timeout})
	}

	// Encoder (OpenAI互換の埋め込みAPI)
	encoder := options.encoder
	if encoder == nil {
		enc, err := openai.NewEncoder(
			cfg.Encoder.BaseURL,
			openai.WithAPIKey(cfg.Encoder.APIKey),
			openai.WithEncoderModel(cfg.Encoder.Model),
			openai.WithEncoderDimension(cfg.Encoder.Dimension),
			openai.WithTimeout(cfg.Encoder.Timeout),
			openai.WithBackoff(cfg.Encoder.MaxRetries, openai.BaseBackoff, openai.MaxBackoff),
		)
		if err != nil {
			return nil, fmt.Errorf("エンコーダ初期化に失敗しました: %w", err)
		}
		encoder = enc
	}

	writer := options.writer
	if writer == nil {
		writer = parquet.NewWriter(cfg.Tools.ExportDir)
	}

	tools := options.tools
	if tools == nil {
		var err error
		tools, err = config.LoadTools(cfg.Tools.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("ツール設定の読み込みに失敗しました: %w", err)
		}
	}

	// Collector / Tagger
	extractor := outlier.NewExtractor(fetcher, encoder)
	collector := outlier.NewCollector(extractor, &outlier.CollectorConfig{
		Workers:           cfg.Collector.Workers,
		ItemTimeout:       cfg.Collector.ItemTimeout,
		RequestsPerSecond: cfg.Collector.RequestsPerSecond,
	}, outlier.WithCollectorLogger(logger))
	tagger := outlier.NewTagger(platform,
		outlier.WithRetryPolicy(outlier.RetryPolicy{
			MaxRetries:  cfg.Tagging.MaxRetries,
			BaseBackoff: cfg.Tagging.BaseBackoff,
			MaxBackoff:  cfg.Tagging.MaxBackoff,
		}),
		outlier.WithTaggerLogger(logger),
	)

	// RunRepository (PostgreSQL)
	serviceOpts := []outlier.ServiceOption{outlier.WithServiceLogger(logger)}
	var runRepo *postgres.RunRepository
	if options.database != nil {
		runRepo = postgres.NewRunRepository(options.database.Pool)
		serviceOpts = append(serviceOpts, outlier.WithRunRecorder(runRepo))
	}

	outlierService := outlier.NewService(platform, collector, tagger, serviceOpts...)
	exportService := outlier.NewExportService(platform, collector, writer, outlier.WithExportLogger(logger))

	// Registry
	registry, err := newRegistry(tools, options.tokenCounter, logger, outlierService, exportService, platform, tagger)
	if err != nil {
		return nil, err
	}

	return &ServiceContainer{
		Platform:       platform,
		OutlierService: outlierService,
		ExportService:  exportService,
		Tagger:         tagger,
		Registry:       registry,
		RunRepository:  runRepo,
		logger:         logger,
		database:       options.database,
	}, nil
}

func newRegistry(
	tools *config.ToolsFile,
	counter tool.TokenCounter,
	logger *slog.Logger,
	runner tool.OutlierRunner,
	exporter tool.EmbeddingExporter,
	resolver tool.DatasetResolver,
	tagger tool.AssetTagger,
) (*tool.Registry, error) {
	// 結果を切り詰める設定がある場合のみトークナイザを読み込む
	if counter == nil && needsTokenCounter(tools) {
		tc, err := newTokenCounter()
		if err != nil {
			return nil, fmt.Errorf("TokenCounter 初期化に失敗しました: %w", err)
		}
		counter = tc
	}

	registryOpts := []tool.RegistryOption{tool.WithRegistryLogger(logger)}
	if counter != nil {
		registryOpts = append(registryOpts, tool.WithTokenCounter(counter))
	}
	registry := tool.NewRegistry(registryOpts...)

	detector := tools.Entry(tool.OutliersDetectorName)
	entries := []struct {
		tool  tool.Tool
		entry config.ToolEntry
	}{
		{
			tool: tool.NewOutliersDetector(runner, tool.OutlierDefaults{
				Strategy: detector.DefaultStrategy,
				TagName:  detector.DefaultTag,
				Scope:    detector.DefaultScope,
			}),
			entry: detector,
		},
		{tool: tool.NewEmbeddingExporter(exporter), entry: tools.Entry(tool.EmbeddingExporterName)},
		{tool: tool.NewAssetTagger(resolver, tagger), entry: tools.Entry(tool.AssetTaggerName)},
	}
	for _, e := range entries {
		if err := registry.Register(e.tool, tool.Settings{
			Enabled:         e.entry.IsEnabled(),
			Description:     e.entry.Description,
			MaxResultTokens: e.entry.MaxResultTokens,
		}); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func needsTokenCounter(tools *config.ToolsFile) bool {
	if tools == nil {
		return false
	}
	for _, entry := range tools.Tools {
		if entry.MaxResultTokens > 0 {
			return true
		}
	}
	return false
}

// Close は内部リソースを解放する
// WithContainerDatabase で渡されたデータベースは呼び出し側が閉じる
func (c *ServiceContainer) Close() {
	if c != nil && c.ownsDatabase {
		c.database.Close()
	}
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す（未設定の場合 nil）
func (c *ServiceContainer) Database() *database.Database {
	if c == nil {
		return nil
	}
	return c.database
}
