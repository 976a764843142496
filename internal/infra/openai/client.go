package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
)

const (
	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

var (
	// ErrBaseURLNotSet はエンコーダサーバのURLが設定されていない場合のエラー
	ErrBaseURLNotSet = errors.New("encoder base URL not set: please set ENCODER_BASE_URL environment variable")

	// ErrInvalidResponseFormat は不正なレスポンス形式のエラー
	ErrInvalidResponseFormat = errors.New("invalid response format")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// backoff はリトライ回数に応じた待機時間を返す
type backoff struct {
	base time.Duration
	max  time.Duration
}

func (b backoff) duration(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * b.base
	if d > b.max {
		d = b.max
	}
	return d
}

// withRetry はレート制限エラーの場合のみ Exponential Backoff で再試行する
func withRetry[T any](ctx context.Context, b backoff, maxRetries int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(b.duration(attempt)):
			}
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isRateLimitError(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}

	return false
}
