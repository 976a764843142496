package outlier

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrResourceNotFound はデータセットバージョンが存在しない場合のエラー
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidStrategy は未知の検出戦略が指定された場合のエラー
	ErrInvalidStrategy = errors.New("invalid strategy")

	// ErrInvalidScope は未知のスコープが指定された場合のエラー
	ErrInvalidScope = errors.New("invalid scope")

	// ErrFetchFailure は画像の取得に失敗した場合のエラー
	ErrFetchFailure = errors.New("image fetch failed")

	// ErrDecodeFailure は画像のデコードに失敗した場合のエラー
	ErrDecodeFailure = errors.New("image decode failed")

	// ErrEncodeFailure はエンコーダが特徴ベクトルを返せなかった場合のエラー
	ErrEncodeFailure = errors.New("image encode failed")

	// ErrRegionOutOfBounds は矩形領域が画像と重ならない場合のエラー
	ErrRegionOutOfBounds = errors.New("region out of image bounds")

	// ErrDimensionMismatch は埋め込み次元が他の行と一致しない場合のエラー
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrTaggingPartialFailure は一括タグ付けの一部が拒否された場合のエラー
	ErrTaggingPartialFailure = errors.New("tagging partially failed")
)

// InvalidStrategyError は不正な戦略名を保持する
type InvalidStrategyError struct {
	Value string
}

func (e *InvalidStrategyError) Error() string {
	return fmt.Sprintf("invalid strategy %q: options are %q or %q", e.Value, StrategyCentroid, StrategyDBSCAN)
}

func (e *InvalidStrategyError) Is(target error) bool {
	return target == ErrInvalidStrategy
}

// FailureKind は抽出失敗の分類
type FailureKind string

const (
	FailureFetch   FailureKind = "fetch"
	FailureDecode  FailureKind = "decode"
	FailureEncode  FailureKind = "encode"
	FailureTimeout FailureKind = "timeout"
)

// ExtractionFailure は1アイテムの抽出失敗を表す
type ExtractionFailure struct {
	ItemID string
	Kind   FailureKind
	Cause  error
}

func (f *ExtractionFailure) Error() string {
	return fmt.Sprintf("item %s: %s failure: %v", f.ItemID, f.Kind, f.Cause)
}

func (f *ExtractionFailure) Unwrap() error { return f.Cause }

// TaggingPartialFailureError は一括タグ付けで拒否されたIDをまとめたエラー
type TaggingPartialFailureError struct {
	Tag    string
	Failed []string
	Tagged int
}

func (e *TaggingPartialFailureError) Error() string {
	return fmt.Sprintf("failed to tag %d item(s) with %q: %s", len(e.Failed), e.Tag, strings.Join(e.Failed, ", "))
}

func (e *TaggingPartialFailureError) Is(target error) bool {
	return target == ErrTaggingPartialFailure
}
