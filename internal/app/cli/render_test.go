package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/jinford/dev-vision/internal/core/tool"
	"github.com/jinford/dev-vision/internal/infra/postgres"
)

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	summary := &outlier.RunSummary{
		RunID:            uuid.New(),
		DatasetVersionID: "dv-1",
		Strategy:         outlier.StrategyCentroid,
		Scope:            outlier.ScopeImage,
		TagName:          "outlier",
		Processed:        20,
		Outliers:         2,
		Tagged:           2,
		OutlierIDs:       []string{"asset-18", "asset-19"},
		Duration:         1500 * time.Millisecond,
	}

	require.NoError(t, renderSummary(&buf, summary))
	out := buf.String()
	assert.Contains(t, out, "Found 2 outlier(s) in dataset version dv-1")
	assert.Contains(t, out, summary.RunID.String())
	assert.Contains(t, out, "asset-18")
	assert.Contains(t, out, "asset-19")
}

func TestRenderSummary_NoOutliers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderSummary(&buf, &outlier.RunSummary{DatasetVersionID: "dv-1", Strategy: outlier.StrategyDBSCAN}))
	assert.NotContains(t, buf.String(), "外れ値 ===")
}

func TestRenderRuns(t *testing.T) {
	var buf bytes.Buffer
	runs := []postgres.Run{
		{ID: uuid.New(), DatasetVersionID: "dv-1", Strategy: "centroid", Scope: "image", Processed: 1200, Outliers: 3, Threshold: 0.12346, CreatedAt: time.Now().Add(-2 * time.Hour)},
		{ID: uuid.New(), DatasetVersionID: "dv-1", Strategy: "dbscan", Scope: "object", Processed: 10, CreatedAt: time.Now()},
	}

	require.NoError(t, renderRuns(&buf, runs))
	out := buf.String()
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "0.1235")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "dbscan")
}

func TestRenderRuns_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderRuns(&buf, nil))
	assert.Contains(t, buf.String(), "実行履歴はありません")
}

func TestRenderNeighbors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderNeighbors(&buf, "Distance", []postgres.Neighbor{
		{ItemID: "i2", AssetID: "a2", Distance: 0.25},
		{ItemID: "i3", AssetID: "a3", Distance: 1.5, Outlier: true},
	}))
	out := buf.String()
	assert.Contains(t, out, "0.2500")
	assert.Contains(t, out, "1.5000")
	assert.Contains(t, out, "yes")
}

func TestRenderTools(t *testing.T) {
	registry := tool.NewRegistry()
	cmd := tool.NewCommand("echo", "echo tool", map[string]any{"type": "object"},
		func(ctx context.Context, in struct{}) (string, error) { return "", nil })
	require.NoError(t, registry.Register(cmd, tool.Settings{Enabled: true, Description: "overridden"}))

	var buf bytes.Buffer
	require.NoError(t, renderTools(&buf, registry))
	assert.Contains(t, buf.String(), "echo")
	assert.Contains(t, buf.String(), "overridden")
}

func TestReadToolInput(t *testing.T) {
	in, err := readToolInput("")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(in))

	in, err = readToolInput(`{"dataset_version_id":"dv-1"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dataset_version_id":"dv-1"}`, string(in))

	path := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tags":["a"]}`), 0o600))
	in, err = readToolInput("@" + path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tags":["a"]}`, string(in))

	_, err = readToolInput("{not json")
	assert.Error(t, err)
}
