package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/jinford/dev-vision/internal/platform/config"
)

// EmbeddingExportAction はデータセットバージョンの埋め込みをparquetに書き出すコマンドのアクション
func EmbeddingExportAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	datasetID := cmd.String("dataset")
	outDir := cmd.String("out")

	scope, err := outlier.ParseScope(cmd.String("scope"))
	if err != nil {
		return err
	}

	slog.Info("埋め込みエクスポートを開始", "datasetVersionID", datasetID, "scope", scope)

	appCtx, err := NewAppContext(ctx, envFile, func(cfg *config.Config) {
		if outDir != "" {
			cfg.Tools.ExportDir = outDir
		}
	})
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.ExportService.Export(ctx, datasetID, scope)
	if err != nil {
		return fmt.Errorf("エクスポートに失敗: %w", err)
	}

	w := output(cmd)
	fmt.Fprintln(w, result.String())
	if info, err := os.Stat(result.Location); err == nil {
		fmt.Fprintf(w, "File size: %s\n", humanize.Bytes(uint64(info.Size())))
	}
	return nil
}
