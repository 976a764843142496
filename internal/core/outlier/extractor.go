package outlier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/samber/mo"
	"gonum.org/v1/gonum/floats"
)

// Extractor は1アイテムを単位ノルムの埋め込みに変換する
// エンコーダは構築時に一度だけ受け取り、全ての抽出呼び出しで読み取り専用として共有する
type Extractor struct {
	fetcher ImageFetcher
	encoder Encoder
}

// NewExtractor は新しいExtractorを作成する
func NewExtractor(fetcher ImageFetcher, encoder Encoder) *Extractor {
	return &Extractor{
		fetcher: fetcher,
		encoder: encoder,
	}
}

// ModelName はエンコーダのモデル名を返す
func (e *Extractor) ModelName() string {
	return e.encoder.ModelName()
}

// Extract は画像を取得・デコード・（必要なら）切り出し・エンコードし、L2正規化した埋め込みを返す
// 失敗は *ExtractionFailure を保持したResultとして返し、panicやエラー伝播はしない
func (e *Extractor) Extract(ctx context.Context, item Item) mo.Result[Embedding] {
	data, err := e.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		return failure(item, FailureFetch, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return failure(item, FailureDecode, fmt.Errorf("%w: %v", ErrDecodeFailure, err))
	}

	if item.Region != nil {
		img, err = crop(img, *item.Region)
		if err != nil {
			return failure(item, FailureDecode, err)
		}
	}

	raw, err := e.encoder.Encode(ctx, img)
	if err != nil {
		return failure(item, FailureEncode, err)
	}

	emb, err := Normalize(raw)
	if err != nil {
		return failure(item, FailureEncode, err)
	}

	return mo.Ok(emb)
}

func failure(item Item, kind FailureKind, cause error) mo.Result[Embedding] {
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = FailureTimeout
	}
	return mo.Err[Embedding](&ExtractionFailure{
		ItemID: item.ID,
		Kind:   kind,
		Cause:  cause,
	})
}

// crop は矩形領域を画像範囲でクリップしてから切り出す
// クリップ後に面積が残らない場合はエラー
func crop(img image.Image, region Region) (image.Image, error) {
	rect := region.Rect().Add(img.Bounds().Min).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("%w: region %v, bounds %v", ErrRegionOutOfBounds, region.Rect(), img.Bounds())
	}

	if sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(rect), nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst, nil
}

// Normalize は特徴ベクトルをL2正規化する
// ノルムが0または非有限の場合はゼロ除算せずにエラーを返す
func Normalize(raw []float32) (Embedding, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty feature vector", ErrEncodeFailure)
	}

	vec := make([]float64, len(raw))
	for i, v := range raw {
		vec[i] = float64(v)
	}

	norm := floats.Norm(vec, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: feature vector norm is %v", ErrEncodeFailure, norm)
	}
	floats.Scale(1/norm, vec)

	emb := make(Embedding, len(vec))
	for i, v := range vec {
		emb[i] = float32(v)
	}
	return emb, nil
}
