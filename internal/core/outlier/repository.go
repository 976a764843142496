package outlier

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"
)

// Platform はデータセット管理プラットフォームへのアクセスを抽象化する
type Platform interface {
	// GetDatasetVersion はIDからデータセットバージョンを解決する（存在しない場合は ErrResourceNotFound）
	GetDatasetVersion(ctx context.Context, id string) (*DatasetVersion, error)

	// ListItems はデータセットバージョン内のアイテムを列挙する
	ListItems(ctx context.Context, dataset *DatasetVersion, scope Scope) ([]Item, error)

	// GetOrCreateTag はデータセットスコープのタグを取得し、無ければ作成する
	GetOrCreateTag(ctx context.Context, dataset *DatasetVersion, name string) (*Tag, error)

	// AddTag はアセット群にタグを一括で付与する（付与済みのアセットはno-op）
	AddTag(ctx context.Context, dataset *DatasetVersion, tag *Tag, assetIDs []string) (*BulkTagResult, error)
}

// ImageFetcher は画像ソースからバイト列を取得する
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Encoder は画像を特徴ベクトルに変換する事前学習済みモデル
type Encoder interface {
	// Encode は正規化前の特徴ベクトルを返す
	Encode(ctx context.Context, img image.Image) ([]float32, error)

	// ModelName はモデル名を返す
	ModelName() string
}

// RunRecord は1回の検出実行の永続化単位
type RunRecord struct {
	ID        uuid.UUID
	Summary   *RunSummary
	Matrix    FeatureMatrix
	Verdicts  []Verdict
	Model     string
	CreatedAt time.Time
}

// RunRecorder は検出実行の結果を外部に保存する
type RunRecorder interface {
	RecordRun(ctx context.Context, record *RunRecord) error
}

// EmbeddingWriter は埋め込みをエクスポートする
type EmbeddingWriter interface {
	WriteEmbeddings(ctx context.Context, dataset *DatasetVersion, scope Scope, matrix FeatureMatrix) (string, error)
}
