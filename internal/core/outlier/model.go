package outlier

import (
	"fmt"
	"image"
)

// Scope は埋め込みを計算する単位を表す
type Scope string

const (
	// ScopeImage はアセットの画像全体を1アイテムとして扱う
	ScopeImage Scope = "image"
	// ScopeObject はアノテーションの矩形領域を1アイテムとして扱う
	ScopeObject Scope = "object"
)

// ParseScope は文字列からScopeを解決する（空文字はScopeImage）
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeImage:
		return ScopeImage, nil
	case ScopeObject:
		return ScopeObject, nil
	default:
		return "", fmt.Errorf("%w %q: options are %q or %q", ErrInvalidScope, s, ScopeImage, ScopeObject)
	}
}

// DatasetVersion はプラットフォーム上のデータセットバージョンを表す
type DatasetVersion struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Region は画像内の矩形領域（ピクセル座標、x/y は左上）
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect は image.Rectangle に変換する
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Item は埋め込み計算の対象となる1単位（画像または矩形領域）
type Item struct {
	ID           string   `json:"id"`
	AssetID      string   `json:"assetID"`
	URL          string   `json:"url"`
	Filename     string   `json:"filename,omitempty"`
	AnnotationID string   `json:"annotationID,omitempty"`
	Label        string   `json:"label,omitempty"`
	Region       *Region  `json:"region,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// Embedding は単位ノルムの特徴ベクトル
type Embedding []float32

// FeatureMatrix は埋め込み行列と識別子列をインデックスで対応付けて保持する
// 不変条件: len(Rows) == len(IDs) == len(Items)
type FeatureMatrix struct {
	Rows  []Embedding
	IDs   []string
	Items []Item
}

// Len は行数を返す
func (m FeatureMatrix) Len() int {
	return len(m.Rows)
}

// Dimension は埋め込みの次元数を返す（空の場合は0）
func (m FeatureMatrix) Dimension() int {
	if len(m.Rows) == 0 {
		return 0
	}
	return len(m.Rows[0])
}

func (m *FeatureMatrix) append(item Item, emb Embedding) {
	m.Rows = append(m.Rows, emb)
	m.IDs = append(m.IDs, item.ID)
	m.Items = append(m.Items, item)
}

// Verdict は1アイテムの判定結果
type Verdict struct {
	Index   int     `json:"index"`
	ItemID  string  `json:"itemID"`
	Outlier bool    `json:"outlier"`
	Score   float64 `json:"score"`
	// Cluster はDBSCANのクラスタラベル（-1はノイズ、centroid戦略では0）
	Cluster int `json:"cluster"`
}

// Tag はプラットフォーム上のタグ
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BulkTagResult は一括タグ付けの結果
type BulkTagResult struct {
	// Rejected はプラットフォームが拒否したアセットID
	Rejected []string
}
