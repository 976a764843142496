package parquet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func readRecords(t *testing.T, path string) []EmbeddingRecord {
	t.Helper()
	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(EmbeddingRecord), DefaultParallelism)
	require.NoError(t, err)
	defer pr.ReadStop()

	records := make([]EmbeddingRecord, pr.GetNumRows())
	require.NoError(t, pr.Read(&records))
	return records
}

func TestWriter_WriteEmbeddings(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "exports"))
	dataset := &outlier.DatasetVersion{ID: "dv-1", Name: "fruits", Version: "v 2"}

	matrix := outlier.FeatureMatrix{
		Rows: []outlier.Embedding{{1, 0, 0}, {0, 0.6, 0.8}},
		IDs:  []string{"r1", "r2"},
		Items: []outlier.Item{
			{ID: "r1", AssetID: "a1", Filename: "a1.jpg", AnnotationID: "ann-1", Label: "apple",
				Region: &outlier.Region{X: 1, Y: 2, W: 3, H: 4}, Tags: []string{"train", "day"}},
			{ID: "r2", AssetID: "a2", Filename: "a2.jpg"},
		},
	}

	path, err := w.WriteEmbeddings(context.Background(), dataset, outlier.ScopeObject, matrix)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "exports", "fruits_v_2_object_data.parquet"), path)

	records := readRecords(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ItemID)
	assert.Equal(t, "a1", records[0].AssetID)
	assert.Equal(t, "apple", records[0].Label)
	assert.Equal(t, []int32{1, 2, 3, 4}, records[0].BBox)
	assert.Equal(t, []string{"train", "day"}, records[0].Tags)
	assert.Equal(t, []float32{1, 0, 0}, records[0].Embedding)
	assert.Equal(t, []float32{0, 0.6, 0.8}, records[1].Embedding)
	assert.Empty(t, records[1].BBox)
}

func TestWriter_Path(t *testing.T) {
	w := NewWriter("out")
	assert.Equal(t, filepath.Join("out", "dv-9_image_data.parquet"), w.Path(&outlier.DatasetVersion{ID: "dv-9"}, outlier.ScopeImage))
}

func TestWriter_WriteEmbeddings_CancelledLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	dataset := &outlier.DatasetVersion{ID: "dv-1", Name: "fruits", Version: "v1"}
	matrix := outlier.FeatureMatrix{
		Rows:  []outlier.Embedding{{1, 0}, {0, 1}},
		IDs:   []string{"a1", "a2"},
		Items: []outlier.Item{{ID: "a1", AssetID: "a1"}, {ID: "a2", AssetID: "a2"}},
	}

	t.Run("初回の書き出しが無い場合はファイルを作らない", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := w.WriteEmbeddings(ctx, dataset, outlier.ScopeImage, matrix)
		assert.ErrorIs(t, err, context.Canceled)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("既存のファイルは失敗した書き出しで壊れない", func(t *testing.T) {
		path, err := w.WriteEmbeddings(context.Background(), dataset, outlier.ScopeImage, matrix)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = w.WriteEmbeddings(ctx, dataset, outlier.ScopeImage, outlier.FeatureMatrix{
			Rows:  []outlier.Embedding{{0, 1}},
			IDs:   []string{"b1"},
			Items: []outlier.Item{{ID: "b1", AssetID: "b1"}},
		})
		assert.ErrorIs(t, err, context.Canceled)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, filepath.Base(path), entries[0].Name())
		assert.Len(t, readRecords(t, path), 2)
	})
}
