package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultEncoderModel はモデル未指定時のデフォルトモデル
	DefaultEncoderModel = "openai/clip-vit-large-patch14"
	// DefaultEncoderDimension は clip-vit-large-patch14 の画像特徴の次元
	DefaultEncoderDimension = 768
)

// Encoder はOpenAI互換の /embeddings エンドポイントを持つCLIPサーバで画像を特徴ベクトルに変換する
// 画像はPNGのdata URLとして送り、modality=image を指定する
type Encoder struct {
	client     openai.Client
	model      string
	dimension  int
	timeout    time.Duration
	maxRetries int
	backoff    backoff
}

type encoderOptions struct {
	apiKey      string
	model       string
	dimension   int
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// EncoderOption は Encoder のオプション設定
type EncoderOption func(*encoderOptions)

// WithAPIKey はAPIキーを設定する（ローカルサーバでは不要）
func WithAPIKey(apiKey string) EncoderOption {
	return func(o *encoderOptions) {
		o.apiKey = apiKey
	}
}

// WithEncoderModel はモデル名を上書きする
func WithEncoderModel(model string) EncoderOption {
	return func(o *encoderOptions) {
		o.model = model
	}
}

// WithEncoderDimension は期待するベクトル次元を上書きする（0で検証しない）
func WithEncoderDimension(dimension int) EncoderOption {
	return func(o *encoderOptions) {
		o.dimension = dimension
	}
}

// WithTimeout は1リクエストのタイムアウトを設定する
func WithTimeout(timeout time.Duration) EncoderOption {
	return func(o *encoderOptions) {
		o.timeout = timeout
	}
}

// WithBackoff はレート制限時の再試行設定を上書きする
func WithBackoff(maxRetries int, base, maxBackoff time.Duration) EncoderOption {
	return func(o *encoderOptions) {
		o.maxRetries = maxRetries
		o.baseBackoff = base
		o.maxBackoff = maxBackoff
	}
}

// NewEncoder は新しい Encoder を作成する
func NewEncoder(baseURL string, opts ...EncoderOption) (*Encoder, error) {
	if baseURL == "" {
		return nil, ErrBaseURLNotSet
	}

	options := encoderOptions{
		apiKey:      "unused",
		model:       DefaultEncoderModel,
		dimension:   DefaultEncoderDimension,
		timeout:     DefaultTimeout,
		maxRetries:  MaxRetries,
		baseBackoff: BaseBackoff,
		maxBackoff:  MaxBackoff,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Encoder{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(options.apiKey),
			option.WithMaxRetries(0),
		),
		model:      options.model,
		dimension:  options.dimension,
		timeout:    options.timeout,
		maxRetries: options.maxRetries,
		backoff:    backoff{base: options.baseBackoff, max: options.maxBackoff},
	}, nil
}

// Encode は画像の特徴ベクトル（正規化前）を返す
func (e *Encoder) Encode(ctx context.Context, img image.Image) ([]float32, error) {
	dataURL, err := imageDataURL(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", outlier.ErrEncodeFailure, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(dataURL),
		},
	}

	resp, err := withRetry(ctx, e.backoff, e.maxRetries, func(ctx context.Context) (*openai.CreateEmbeddingResponse, error) {
		return e.client.Embeddings.New(ctx, params, option.WithJSONSet("modality", "image"))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", outlier.ErrEncodeFailure, err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: %w: no embedding returned", outlier.ErrEncodeFailure, ErrInvalidResponseFormat)
	}

	raw := resp.Data[0].Embedding
	if e.dimension > 0 && len(raw) != e.dimension {
		return nil, fmt.Errorf("%w: %w: expected %d, got %d", outlier.ErrEncodeFailure, outlier.ErrDimensionMismatch, e.dimension, len(raw))
	}

	vector := make([]float32, len(raw))
	for i, v := range raw {
		vector[i] = float32(v)
	}
	return vector, nil
}

// ModelName はモデル名を返す
func (e *Encoder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Encoder) Dimension() int {
	return e.dimension
}

func imageDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode image as png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// インターフェース実装の確認
var _ outlier.Encoder = (*Encoder)(nil)
