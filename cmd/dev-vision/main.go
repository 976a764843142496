package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/dev-vision/internal/app/cli"
	"github.com/jinford/dev-vision/internal/core/outlier"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定（設定読み込み後に LOG_LEVEL / LOG_FORMAT で差し替える）
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "dev-vision",
		Usage: "画像埋め込みによるデータセットの外れ値検出とタグ付け",
		Commands: []*cli.Command{
			{
				Name:  "outlier",
				Usage: "外れ値検出コマンド",
				Commands: []*cli.Command{
					{
						Name:  "detect",
						Usage: "データセットバージョンの外れ値を検出してタグ付け",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "dataset",
								Usage:    "データセットバージョンID",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "strategy",
								Usage: "検出戦略（centroid または dbscan）",
								Value: string(outlier.StrategyCentroid),
							},
							&cli.StringFlag{
								Name:  "tag",
								Usage: "外れ値に付与するタグ名",
								Value: outlier.DefaultTagName,
							},
							&cli.StringFlag{
								Name:  "scope",
								Usage: "埋め込みの単位（image または object）",
								Value: string(outlier.ScopeImage),
							},
							&cli.BoolFlag{
								Name:  "record",
								Usage: "実行結果をデータベースに保存",
							},
						},
						Action: appcli.OutlierDetectAction,
					},
					{
						Name:  "runs",
						Usage: "保存済みの検出実行を一覧表示",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "dataset",
								Usage: "データセットバージョンID（絞り込み）",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "表示件数",
								Value: 20,
							},
						},
						Action: appcli.OutlierRunsAction,
					},
					{
						Name:  "neighbors",
						Usage: "保存済みの実行内でアイテムの近傍を表示（--item 省略時は外れ値一覧）",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "run",
								Usage:    "実行ID",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "item",
								Usage: "アイテムID",
							},
							&cli.IntFlag{
								Name:  "k",
								Usage: "近傍の件数",
								Value: 5,
							},
						},
						Action: appcli.OutlierNeighborsAction,
					},
				},
			},
			{
				Name:  "embedding",
				Usage: "埋め込みコマンド",
				Commands: []*cli.Command{
					{
						Name:  "export",
						Usage: "データセットバージョンの埋め込みをparquetに書き出す",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "dataset",
								Usage:    "データセットバージョンID",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "scope",
								Usage: "埋め込みの単位（image または object）",
								Value: string(outlier.ScopeImage),
							},
							&cli.StringFlag{
								Name:  "out",
								Usage: "出力ディレクトリ（省略時は EXPORT_DIR）",
							},
						},
						Action: appcli.EmbeddingExportAction,
					},
				},
			},
			{
				Name:  "tool",
				Usage: "エージェント向けツールコマンド",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "有効なツールを一覧表示",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.ToolListAction,
					},
					{
						Name:  "call",
						Usage: "ツールを名前で呼び出す",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "name",
								Usage:    "ツール名",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "input",
								Usage: "JSON入力（@ファイルパス でファイルから読み込み）",
							},
						},
						Action: appcli.ToolCallAction,
					},
				},
			},
			{
				Name:  "server",
				Usage: "HTTPサーバコマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "ツールAPIのHTTPサーバを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "addr",
								Usage: "待ち受けアドレス（省略時は HTTP_ADDR）",
							},
						},
						Action: appcli.ServerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
