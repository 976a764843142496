package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/jinford/dev-vision/internal/core/tool"
	"github.com/jinford/dev-vision/internal/infra/postgres"
)

// renderSummary は検出結果の要約と外れ値の一覧を表示します
func renderSummary(w io.Writer, summary *outlier.RunSummary) error {
	fmt.Fprintln(w, summary.String())
	fmt.Fprintf(w, "Run ID: %s (%s)\n", summary.RunID, summary.Duration.Round(time.Millisecond))

	if len(summary.OutlierIDs) == 0 {
		return nil
	}

	fmt.Fprintln(w, "\n=== 外れ値 ===")
	table := tablewriter.NewWriter(w)
	table.Header("#", "Item ID")
	for i, id := range summary.OutlierIDs {
		table.Append(humanize.Comma(int64(i+1)), id)
	}
	return table.Render()
}

// renderRuns は実行履歴をテーブル形式で表示します
func renderRuns(w io.Writer, runs []postgres.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "実行履歴はありません")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Run ID", "Dataset", "Strategy", "Scope", "Processed", "Skipped", "Outliers", "Tagged", "Threshold", "Created")
	for _, run := range runs {
		threshold := "-"
		if !run.Degenerate && run.Strategy == string(outlier.StrategyCentroid) {
			threshold = fmt.Sprintf("%.4f", run.Threshold)
		}
		table.Append(
			run.ID.String(),
			run.DatasetVersionID,
			run.Strategy,
			run.Scope,
			humanize.Comma(int64(run.Processed)),
			humanize.Comma(int64(run.Skipped)),
			humanize.Comma(int64(run.Outliers)),
			humanize.Comma(int64(run.Tagged)),
			threshold,
			humanize.Time(run.CreatedAt),
		)
	}
	return table.Render()
}

// renderNeighbors はアイテムの一覧を距離（またはスコア）付きで表示します
func renderNeighbors(w io.Writer, metric string, neighbors []postgres.Neighbor) error {
	if len(neighbors) == 0 {
		fmt.Fprintln(w, "該当するアイテムはありません")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Item ID", "Asset ID", metric, "Outlier")
	for _, n := range neighbors {
		flag := ""
		if n.Outlier {
			flag = "yes"
		}
		table.Append(n.ItemID, n.AssetID, fmt.Sprintf("%.4f", n.Distance), flag)
	}
	return table.Render()
}

// renderTools は有効なツールの一覧を表示します
func renderTools(w io.Writer, registry *tool.Registry) error {
	tools := registry.Tools()
	if len(tools) == 0 {
		fmt.Fprintln(w, "有効なツールはありません")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Description")
	for _, t := range tools {
		table.Append(t.Name(), registry.Description(t))
	}
	return table.Render()
}
