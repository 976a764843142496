package outlier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func norm(emb Embedding) float64 {
	v := make([]float64, len(emb))
	for i, x := range emb {
		v[i] = float64(x)
	}
	return floats.Norm(v, 2)
}

func TestNormalize(t *testing.T) {
	t.Run("単位ノルムになる", func(t *testing.T) {
		emb, err := Normalize([]float32{3, 4, 12})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, norm(emb), 1e-5)
		assert.InDelta(t, 3.0/13, emb[0], 1e-6)
	})

	t.Run("ゼロベクトルはエラー", func(t *testing.T) {
		_, err := Normalize([]float32{0, 0, 0})
		assert.ErrorIs(t, err, ErrEncodeFailure)
	})

	t.Run("非有限値はエラー", func(t *testing.T) {
		_, err := Normalize([]float32{float32(math.NaN()), 1})
		assert.ErrorIs(t, err, ErrEncodeFailure)

		_, err = Normalize([]float32{float32(math.Inf(1)), 1})
		assert.ErrorIs(t, err, ErrEncodeFailure)
	})

	t.Run("空ベクトルはエラー", func(t *testing.T) {
		_, err := Normalize(nil)
		assert.ErrorIs(t, err, ErrEncodeFailure)
	})
}

func TestExtractor_Extract(t *testing.T) {
	fetcher := &stubFetcher{
		data: map[string][]byte{
			"ok":     grayPNG(t, 7, 8, 6),
			"broken": []byte("not an image"),
		},
		errs: map[string]error{
			"slow": fmt.Errorf("get slow: %w", context.DeadlineExceeded),
		},
	}
	encoder := &stubEncoder{vectors: map[uint8][]float32{7: {2, 0, 0}}}
	extractor := NewExtractor(fetcher, encoder)

	t.Run("成功時は単位ノルムの埋め込みを返す", func(t *testing.T) {
		emb, err := extractor.Extract(context.Background(), Item{ID: "a", URL: "ok"}).Get()
		require.NoError(t, err)
		assert.Equal(t, Embedding{1, 0, 0}, emb)
		assert.InDelta(t, 1.0, norm(emb), 1e-5)
	})

	cases := []struct {
		name     string
		item     Item
		kind     FailureKind
		sentinel error
	}{
		{name: "取得失敗", item: Item{ID: "b", URL: "missing"}, kind: FailureFetch, sentinel: ErrFetchFailure},
		{name: "デコード失敗", item: Item{ID: "c", URL: "broken"}, kind: FailureDecode, sentinel: ErrDecodeFailure},
		{name: "タイムアウト", item: Item{ID: "d", URL: "slow"}, kind: FailureTimeout, sentinel: context.DeadlineExceeded},
		{
			name:     "範囲外の領域",
			item:     Item{ID: "e", URL: "ok", Region: &Region{X: 10, Y: 0, W: 4, H: 4}},
			kind:     FailureDecode,
			sentinel: ErrRegionOutOfBounds,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := extractor.Extract(context.Background(), tc.item)
			require.True(t, res.IsError())

			var f *ExtractionFailure
			require.True(t, errors.As(res.Error(), &f))
			assert.Equal(t, tc.item.ID, f.ItemID)
			assert.Equal(t, tc.kind, f.Kind)
			assert.ErrorIs(t, res.Error(), tc.sentinel)
		})
	}

	t.Run("領域を切り出してからエンコードする", func(t *testing.T) {
		encoder.bounds = nil
		item := Item{ID: "f", URL: "ok", Region: &Region{X: 1, Y: 2, W: 3, H: 4}}
		_, err := extractor.Extract(context.Background(), item).Get()
		require.NoError(t, err)
		require.Len(t, encoder.bounds, 1)
		assert.Equal(t, image.Rect(1, 2, 4, 6), encoder.bounds[0])
	})

	t.Run("画像の端をはみ出す領域はクリップする", func(t *testing.T) {
		encoder.bounds = nil
		item := Item{ID: "g", URL: "ok", Region: &Region{X: 6, Y: 0, W: 4, H: 6}}
		emb, err := extractor.Extract(context.Background(), item).Get()
		require.NoError(t, err)
		assert.Equal(t, Embedding{1, 0, 0}, emb)
		require.Len(t, encoder.bounds, 1)
		assert.Equal(t, image.Rect(6, 0, 8, 6), encoder.bounds[0])
	})

	t.Run("負の座標から始まる領域もクリップする", func(t *testing.T) {
		encoder.bounds = nil
		item := Item{ID: "h", URL: "ok", Region: &Region{X: -2, Y: -2, W: 5, H: 5}}
		_, err := extractor.Extract(context.Background(), item).Get()
		require.NoError(t, err)
		require.Len(t, encoder.bounds, 1)
		assert.Equal(t, image.Rect(0, 0, 3, 3), encoder.bounds[0])
	})
}

func TestExtractor_ModelName(t *testing.T) {
	extractor := NewExtractor(&stubFetcher{}, &stubEncoder{})
	assert.Equal(t, "stub-clip", extractor.ModelName())
}
