package picsellia

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jinford/dev-vision/internal/core/outlier"
)

// DefaultMaxImageBytes は1画像あたりの最大サイズ
const DefaultMaxImageBytes = 32 << 20

// Fetcher はアセットURL（署名付きURL）から画像を取得する
// 署名付きURLにはAPIトークンを付与しない
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewFetcher は新しい Fetcher を作成する
func NewFetcher(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Fetcher{
		httpClient: httpClient,
		maxBytes:   DefaultMaxImageBytes,
	}
}

// Fetch は画像のバイト列を取得する（2xx以外は ErrFetchFailure）
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", outlier.ErrFetchFailure, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", outlier.ErrFetchFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", outlier.ErrFetchFailure, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", outlier.ErrFetchFailure, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", outlier.ErrFetchFailure, f.maxBytes)
	}
	return data, nil
}

// インターフェース実装の確認
var _ outlier.ImageFetcher = (*Fetcher)(nil)
