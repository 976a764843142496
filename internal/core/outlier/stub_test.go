package outlier

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// grayPNG は単色のグレースケール画像をPNGにエンコードする
func grayPNG(t *testing.T, shade uint8, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type stubFetcher struct {
	data  map[string][]byte
	errs  map[string]error
	block bool
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	data, ok := f.data[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFetchFailure, url)
	}
	return data, nil
}

// stubEncoder は画像左上の輝度値に対応するベクトルを返す
type stubEncoder struct {
	mu      sync.Mutex
	vectors map[uint8][]float32
	bounds  []image.Rectangle
}

func (e *stubEncoder) Encode(ctx context.Context, img image.Image) ([]float32, error) {
	e.mu.Lock()
	e.bounds = append(e.bounds, img.Bounds())
	e.mu.Unlock()

	shade := color.GrayModel.Convert(img.At(img.Bounds().Min.X, img.Bounds().Min.Y)).(color.Gray).Y
	vec, ok := e.vectors[shade]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for shade %d", ErrEncodeFailure, shade)
	}
	return append([]float32(nil), vec...), nil
}

func (e *stubEncoder) ModelName() string { return "stub-clip" }

// fakePlatform はタグを集合として保持するインメモリのプラットフォーム
type fakePlatform struct {
	datasets map[string]*DatasetVersion
	items    map[Scope][]Item
	tags     map[string]*Tag
	tagged   map[string]map[string]struct{}
	// rejectOnce は最初のAddTag呼び出しで拒否するアセットID
	rejectOnce map[string]struct{}
	// rejectAlways は常に拒否するアセットID
	rejectAlways map[string]struct{}
	addCalls     int
	tagCalls     int
	listCalls    int
}

func newFakePlatform(dataset *DatasetVersion, items []Item) *fakePlatform {
	return &fakePlatform{
		datasets: map[string]*DatasetVersion{dataset.ID: dataset},
		items:    map[Scope][]Item{ScopeImage: items},
		tags:     map[string]*Tag{},
		tagged:   map[string]map[string]struct{}{},
	}
}

func (p *fakePlatform) GetDatasetVersion(ctx context.Context, id string) (*DatasetVersion, error) {
	ds, ok := p.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset version %s: %w", id, ErrResourceNotFound)
	}
	return ds, nil
}

func (p *fakePlatform) ListItems(ctx context.Context, dataset *DatasetVersion, scope Scope) ([]Item, error) {
	p.listCalls++
	return p.items[scope], nil
}

func (p *fakePlatform) GetOrCreateTag(ctx context.Context, dataset *DatasetVersion, name string) (*Tag, error) {
	p.tagCalls++
	if tag, ok := p.tags[name]; ok {
		return tag, nil
	}
	tag := &Tag{ID: "tag-" + name, Name: name}
	p.tags[name] = tag
	return tag, nil
}

func (p *fakePlatform) AddTag(ctx context.Context, dataset *DatasetVersion, tag *Tag, assetIDs []string) (*BulkTagResult, error) {
	p.addCalls++
	result := &BulkTagResult{}
	set, ok := p.tagged[tag.ID]
	if !ok {
		set = map[string]struct{}{}
		p.tagged[tag.ID] = set
	}
	for _, id := range assetIDs {
		if _, ok := p.rejectAlways[id]; ok {
			result.Rejected = append(result.Rejected, id)
			continue
		}
		if _, ok := p.rejectOnce[id]; ok {
			delete(p.rejectOnce, id)
			result.Rejected = append(result.Rejected, id)
			continue
		}
		set[id] = struct{}{}
	}
	return result, nil
}

func (p *fakePlatform) taggedWith(name string) map[string]struct{} {
	tag, ok := p.tags[name]
	if !ok {
		return nil
	}
	return p.tagged[tag.ID]
}

// basisFixture は17件の典型アイテム（e0）と3件の外れ値（e1, e2, e3）を作る
func basisFixture(t *testing.T) ([]Item, *stubFetcher, *stubEncoder) {
	t.Helper()
	fetcher := &stubFetcher{data: map[string][]byte{}}
	encoder := &stubEncoder{vectors: map[uint8][]float32{
		0: {1, 0, 0, 0},
		1: {0, 1, 0, 0},
		2: {0, 0, 1, 0},
		3: {0, 0, 0, 1},
	}}

	var items []Item
	for i := 0; i < 20; i++ {
		shade := uint8(0)
		if i >= 17 {
			shade = uint8(i - 16)
		}
		id := fmt.Sprintf("asset-%02d", i)
		url := "https://img.example/" + id + ".png"
		fetcher.data[url] = grayPNG(t, shade, 4, 4)
		items = append(items, Item{ID: id, AssetID: id, URL: url})
	}
	return items, fetcher, encoder
}
