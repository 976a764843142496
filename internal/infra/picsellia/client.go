package picsellia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/tidwall/gjson"
)

const (
	// DefaultBaseURL はプラットフォームAPIのデフォルトURL
	DefaultBaseURL = "https://app.picsellia.com"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize はアセット一覧の1ページあたりの件数
	DefaultPageSize = 100

	// maxErrorBody はエラー応答から読み取る最大バイト数
	maxErrorBody = 64 << 10
)

var (
	// ErrTokenNotSet はAPIトークンが設定されていない場合のエラー
	ErrTokenNotSet = errors.New("platform API token not set: please set PICSELLIA_API_TOKEN environment variable")
)

// APIError は2xx以外の応答
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform API error (status %d): %s", e.StatusCode, e.Message)
}

// Client はデータセット管理プラットフォームのREST APIクライアント
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	pageSize   int
	logger     *slog.Logger
}

// ClientOption は Client のオプション
type ClientOption func(*Client)

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithPageSize はアセット一覧のページサイズを設定する
func WithPageSize(size int) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient は新しい Client を作成する
func NewClient(baseURL, token string, opts ...ClientOption) (*Client, error) {
	if token == "" {
		return nil, ErrTokenNotSet
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		pageSize:   DefaultPageSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetDatasetVersion はIDからデータセットバージョンを取得する
func (c *Client) GetDatasetVersion(ctx context.Context, id string) (*outlier.DatasetVersion, error) {
	body, err := c.do(ctx, http.MethodGet, datasetPath(id), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset version %s: %w", id, err)
	}

	res := gjson.ParseBytes(body)
	return &outlier.DatasetVersion{
		ID:      res.Get("id").String(),
		Name:    res.Get("name").String(),
		Version: res.Get("version").String(),
	}, nil
}

// ListItems はデータセットバージョンのアイテムを列挙する
// object スコープではアノテーションの矩形ごとに1アイテムを返し、アノテーションの無いアセットは含めない
func (c *Client) ListItems(ctx context.Context, dataset *outlier.DatasetVersion, scope outlier.Scope) ([]outlier.Item, error) {
	assets, err := c.listAssets(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}
	if scope != outlier.ScopeObject {
		return assets, nil
	}

	var items []outlier.Item
	for _, asset := range assets {
		shapes, err := c.listShapes(ctx, dataset.ID, asset)
		if err != nil {
			return nil, err
		}
		items = append(items, shapes...)
	}

	c.logger.Debug("矩形アイテムを列挙",
		"datasetVersionID", dataset.ID,
		"assets", len(assets),
		"shapes", len(items),
	)
	return items, nil
}

func (c *Client) listAssets(ctx context.Context, datasetID string) ([]outlier.Item, error) {
	var items []outlier.Item
	for offset := 0; ; {
		query := url.Values{
			"limit":  {strconv.Itoa(c.pageSize)},
			"offset": {strconv.Itoa(offset)},
		}
		body, err := c.do(ctx, http.MethodGet, datasetPath(datasetID)+"/assets", query, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list assets: %w", err)
		}

		res := gjson.ParseBytes(body)
		page := res.Get("items").Array()
		for _, a := range page {
			id := a.Get("id").String()
			var tags []string
			a.Get("tags.#.name").ForEach(func(_, v gjson.Result) bool {
				tags = append(tags, v.String())
				return true
			})
			items = append(items, outlier.Item{
				ID:       id,
				AssetID:  id,
				URL:      a.Get("url").String(),
				Filename: a.Get("filename").String(),
				Tags:     tags,
			})
		}

		offset += len(page)
		if len(page) == 0 || offset >= int(res.Get("count").Int()) {
			break
		}
	}
	return items, nil
}

func (c *Client) listShapes(ctx context.Context, datasetID string, asset outlier.Item) ([]outlier.Item, error) {
	body, err := c.do(ctx, http.MethodGet, datasetPath(datasetID)+"/assets/"+url.PathEscape(asset.AssetID)+"/annotations", nil, nil)
	if errors.Is(err, outlier.ErrResourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations of asset %s: %w", asset.AssetID, err)
	}

	var items []outlier.Item
	gjson.GetBytes(body, "items").ForEach(func(_, ann gjson.Result) bool {
		annotationID := ann.Get("id").String()
		ann.Get("rectangles").ForEach(func(_, rect gjson.Result) bool {
			items = append(items, outlier.Item{
				ID:           rect.Get("id").String(),
				AssetID:      asset.AssetID,
				URL:          asset.URL,
				Filename:     asset.Filename,
				AnnotationID: annotationID,
				Label:        rect.Get("label.name").String(),
				Region: &outlier.Region{
					X: int(rect.Get("x").Int()),
					Y: int(rect.Get("y").Int()),
					W: int(rect.Get("w").Int()),
					H: int(rect.Get("h").Int()),
				},
				Tags: asset.Tags,
			})
			return true
		})
		return true
	})
	return items, nil
}

// GetOrCreateTag はデータセットスコープのタグを取得し、無ければ作成する
func (c *Client) GetOrCreateTag(ctx context.Context, dataset *outlier.DatasetVersion, name string) (*outlier.Tag, error) {
	body, err := c.do(ctx, http.MethodGet, datasetPath(dataset.ID)+"/tags", url.Values{"name": {name}}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to find tag %q: %w", name, err)
	}
	for _, t := range gjson.GetBytes(body, "items").Array() {
		if t.Get("name").String() == name {
			return &outlier.Tag{ID: t.Get("id").String(), Name: name}, nil
		}
	}

	body, err = c.do(ctx, http.MethodPost, datasetPath(dataset.ID)+"/tags", nil, map[string]string{"name": name})
	if err != nil {
		return nil, fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	c.logger.Info("タグを作成", "datasetVersionID", dataset.ID, "tag", name)
	return &outlier.Tag{ID: gjson.GetBytes(body, "id").String(), Name: name}, nil
}

// AddTag はアセット群にタグを一括で付与する
func (c *Client) AddTag(ctx context.Context, dataset *outlier.DatasetVersion, tag *outlier.Tag, assetIDs []string) (*outlier.BulkTagResult, error) {
	path := datasetPath(dataset.ID) + "/tags/" + url.PathEscape(tag.ID) + "/assets"
	body, err := c.do(ctx, http.MethodPost, path, nil, map[string][]string{"asset_ids": assetIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to add tag %q: %w", tag.Name, err)
	}

	result := &outlier.BulkTagResult{}
	gjson.GetBytes(body, "rejected").ForEach(func(_, v gjson.Result) bool {
		result.Rejected = append(result.Rejected, v.String())
		return true
	})
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", outlier.ErrResourceNotFound, apiErr.Message)
		}
		return nil, apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// errorMessage はエラー応答本文からメッセージを取り出す
func errorMessage(body []byte, fallback string) string {
	if gjson.ValidBytes(body) {
		for _, key := range []string{"message", "detail", "error"} {
			if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}

func datasetPath(id string) string {
	return "/api/dataset/version/" + url.PathEscape(id)
}

// インターフェース実装の確認
var _ outlier.Platform = (*Client)(nil)
