package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/jinford/dev-vision/internal/interface/httpapi"
	"github.com/jinford/dev-vision/internal/platform/config"
)

// ServerStartAction はツールAPIのHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	addr := cmd.String("addr")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, cmd.String("env"), func(cfg *config.Config) {
		if addr != "" {
			cfg.HTTP.Addr = addr
		}
	})
	if err != nil {
		return err
	}
	defer appCtx.Close()

	server := httpapi.NewServer(appCtx.Config.HTTP.Addr, appCtx.Container.Registry,
		httpapi.WithServerLogger(appCtx.Logger()),
	)
	return server.Run(ctx)
}
