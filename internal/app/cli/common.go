package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/dev-vision/internal/infra/postgres"
	"github.com/jinford/dev-vision/internal/platform/config"
	"github.com/jinford/dev-vision/internal/platform/container"
	"github.com/jinford/dev-vision/internal/platform/logger"
)

// ErrDatabaseNotConfigured は実行履歴を参照するコマンドでDBが未設定の場合のエラー
var ErrDatabaseNotConfigured = errors.New("database is not configured: please set DB_HOST environment variable")

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、依存関係を初期化して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string, mutate ...func(*config.Config)) (*AppContext, error) {
	// 設定の読み込み（platform層を使用）
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	// ロガーの初期化（platform層を使用）
	appLogger := logger.New(logger.ParseConfig(cfg.Log.Level, cfg.Log.Format))

	// コンテナの初期化（platform層を使用）
	cont, err := container.NewContainer(ctx, cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// RunRepository は実行履歴リポジトリを返す（DB未設定の場合はエラー）
func (ac *AppContext) RunRepository() (*postgres.RunRepository, error) {
	if ac.Container == nil || ac.Container.RunRepository == nil {
		return nil, ErrDatabaseNotConfigured
	}
	return ac.Container.RunRepository, nil
}

// output はコマンドの出力先を返す
func output(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}
	return os.Stdout
}
