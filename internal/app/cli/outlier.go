package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/dev-vision/internal/core/outlier"
)

// OutlierDetectAction はデータセットバージョンの外れ値を検出してタグ付けするコマンドのアクション
func OutlierDetectAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	datasetID := cmd.String("dataset")

	scope, err := outlier.ParseScope(cmd.String("scope"))
	if err != nil {
		return err
	}
	// 戦略名は処理を始める前に検証する
	if _, err := outlier.ParseStrategy(cmd.String("strategy")); err != nil {
		return err
	}

	slog.Info("外れ値検出コマンドを開始", "datasetVersionID", datasetID)

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	record := cmd.Bool("record")
	if record && appCtx.Container.RunRepository == nil {
		appCtx.Logger().Warn("DBが未設定のため実行結果は保存されません")
	}

	summary, runErr := appCtx.Container.OutlierService.Run(ctx, outlier.RunParams{
		DatasetVersionID: datasetID,
		Strategy:         cmd.String("strategy"),
		TagName:          cmd.String("tag"),
		Scope:            scope,
		Record:           record,
	})
	if summary != nil {
		if err := renderSummary(output(cmd), summary); err != nil {
			return err
		}
	}
	return runErr
}

// OutlierRunsAction は保存済みの検出実行の一覧を表示するコマンドのアクション
func OutlierRunsAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	repo, err := appCtx.RunRepository()
	if err != nil {
		return err
	}

	runs, err := repo.ListRuns(ctx, cmd.String("dataset"), cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("実行履歴の取得に失敗: %w", err)
	}
	return renderRuns(output(cmd), runs)
}

// OutlierNeighborsAction は保存済みの実行内でアイテムの近傍を表示するコマンドのアクション
func OutlierNeighborsAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	runID, err := uuid.Parse(cmd.String("run"))
	if err != nil {
		return fmt.Errorf("実行IDが不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	repo, err := appCtx.RunRepository()
	if err != nil {
		return err
	}

	itemID := cmd.String("item")
	if itemID == "" {
		// アイテム未指定の場合は外れ値の一覧を表示する
		items, err := repo.OutlierItems(ctx, runID)
		if err != nil {
			return fmt.Errorf("外れ値の取得に失敗: %w", err)
		}
		return renderNeighbors(output(cmd), "Score", items)
	}

	neighbors, err := repo.Neighbors(ctx, runID, itemID, cmd.Int("k"))
	if err != nil {
		return fmt.Errorf("近傍検索に失敗: %w", err)
	}
	return renderNeighbors(output(cmd), "Distance", neighbors)
}
