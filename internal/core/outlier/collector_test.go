package outlier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(fetcher ImageFetcher, encoder Encoder, cfg *CollectorConfig) *Collector {
	return NewCollector(NewExtractor(fetcher, encoder), cfg, WithCollectorLogger(discardLogger()))
}

func TestCollector_Collect_PreservesAlignment(t *testing.T) {
	fetcher := &stubFetcher{data: map[string][]byte{}}
	encoder := &stubEncoder{vectors: map[uint8][]float32{}}

	var items []Item
	for i := 0; i < 10; i++ {
		shade := uint8(i + 1)
		encoder.vectors[shade] = []float32{float32(i + 1), 1}
		url := fmt.Sprintf("u%d", i)
		if i != 5 {
			fetcher.data[url] = grayPNG(t, shade, 2, 2)
		}
		items = append(items, Item{ID: fmt.Sprintf("item-%d", i), AssetID: fmt.Sprintf("item-%d", i), URL: url})
	}

	collection, err := newTestCollector(fetcher, encoder, &CollectorConfig{Workers: 3}).Collect(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 9, collection.Processed())
	assert.Equal(t, 1, collection.Skipped())
	assert.Equal(t, []string{"item-5"}, collection.FailedIDs())
	assert.Equal(t, FailureFetch, collection.Failures[0].Kind)

	require.Len(t, collection.Matrix.IDs, collection.Matrix.Len())
	require.Len(t, collection.Matrix.Items, collection.Matrix.Len())
	assert.Equal(t, []string{"item-0", "item-1", "item-2", "item-3", "item-4", "item-6", "item-7", "item-8", "item-9"}, collection.Matrix.IDs)

	for i, id := range collection.Matrix.IDs {
		var n int
		_, err := fmt.Sscanf(id, "item-%d", &n)
		require.NoError(t, err)
		expected, err := Normalize([]float32{float32(n + 1), 1})
		require.NoError(t, err)
		assert.Equal(t, expected, collection.Matrix.Rows[i], "row %d must belong to %s", i, id)
		assert.InDelta(t, 1.0, norm(collection.Matrix.Rows[i]), 1e-5)
	}
}

func TestCollector_Collect_EmptyInput(t *testing.T) {
	collection, err := newTestCollector(&stubFetcher{}, &stubEncoder{}, nil).Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, collection.Processed())
	assert.Equal(t, 0, collection.Skipped())
	assert.Equal(t, 0, collection.Matrix.Dimension())
}

func TestCollector_Collect_DimensionMismatch(t *testing.T) {
	fetcher := &stubFetcher{data: map[string][]byte{
		"a": grayPNG(t, 1, 2, 2),
		"b": grayPNG(t, 2, 2, 2),
	}}
	encoder := &stubEncoder{vectors: map[uint8][]float32{
		1: {1, 0, 0},
		2: {1, 0},
	}}
	items := []Item{{ID: "a", URL: "a"}, {ID: "b", URL: "b"}}

	collection, err := newTestCollector(fetcher, encoder, nil).Collect(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, collection.Matrix.IDs)
	require.Len(t, collection.Failures, 1)
	assert.Equal(t, FailureEncode, collection.Failures[0].Kind)
	assert.ErrorIs(t, collection.Failures[0], ErrDimensionMismatch)
}

func TestCollector_Collect_ItemTimeout(t *testing.T) {
	fetcher := &stubFetcher{block: true}
	items := []Item{{ID: "a", URL: "a"}, {ID: "b", URL: "b"}}

	collection, err := newTestCollector(fetcher, &stubEncoder{}, &CollectorConfig{ItemTimeout: 10 * time.Millisecond}).
		Collect(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 0, collection.Processed())
	require.Len(t, collection.Failures, 2)
	for _, f := range collection.Failures {
		assert.Equal(t, FailureTimeout, f.Kind)
	}
}

func TestCollector_Collect_Cancelled(t *testing.T) {
	items, fetcher, encoder := basisFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestCollector(fetcher, encoder, nil).Collect(ctx, items)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollector_Collect_RateLimited(t *testing.T) {
	items, fetcher, encoder := basisFixture(t)

	collection, err := newTestCollector(fetcher, encoder, &CollectorConfig{Workers: 4, RequestsPerSecond: 1000}).
		Collect(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, len(items), collection.Processed())
}
