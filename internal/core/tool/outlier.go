package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinford/dev-vision/internal/core/outlier"
)

const (
	OutliersDetectorName  = "dataset_version_outliers_detector"
	EmbeddingExporterName = "dataset_version_embedding_exporter"
	AssetTaggerName       = "asset_tagger"
)

// OutlierRunner は外れ値検出の実行を提供する
type OutlierRunner interface {
	Run(ctx context.Context, params outlier.RunParams) (*outlier.RunSummary, error)
}

// EmbeddingExporter は埋め込みのエクスポートを提供する
type EmbeddingExporter interface {
	Export(ctx context.Context, datasetVersionID string, scope outlier.Scope) (*outlier.ExportResult, error)
}

// DatasetResolver はデータセットバージョンを解決する
type DatasetResolver interface {
	GetDatasetVersion(ctx context.Context, id string) (*outlier.DatasetVersion, error)
}

// AssetTagger はアセット群にタグを付与する
type AssetTagger interface {
	TagOutliers(ctx context.Context, dataset *outlier.DatasetVersion, assetIDs []string, tagName string) (int, error)
}

// OutlierDefaults は外れ値検出ツールの既定値
type OutlierDefaults struct {
	Strategy string
	TagName  string
	Scope    string
}

// OutliersInput は外れ値検出ツールの入力
type OutliersInput struct {
	DatasetVersionID string `json:"dataset_version_id" validate:"required"`
	SearchType       string `json:"search_type"`
	TagName          string `json:"tag_name" validate:"required,max=128"`
	Scope            string `json:"scope" validate:"omitempty,oneof=image object"`
	Record           bool   `json:"record"`
}

// NewOutliersDetector は外れ値検出ツールを作成する
// 戦略名の検証は実行側で行い、不正な値と選択肢をエラーに含める
func NewOutliersDetector(runner OutlierRunner, defaults OutlierDefaults) *Command[OutliersInput] {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dataset_version_id": map[string]any{
				"type":        "string",
				"description": "The id of the dataset version to analyse",
			},
			"search_type": map[string]any{
				"type":        "string",
				"enum":        []string{string(outlier.StrategyCentroid), string(outlier.StrategyDBSCAN)},
				"description": "Outlier detection strategy: distance to centroid or DBSCAN noise",
			},
			"tag_name": map[string]any{
				"type":        "string",
				"description": "Tag applied to the detected outliers",
			},
			"scope": map[string]any{
				"type":        "string",
				"enum":        []string{string(outlier.ScopeImage), string(outlier.ScopeObject)},
				"description": "Compute embeddings on whole images or on annotated shapes",
			},
			"record": map[string]any{
				"type":        "boolean",
				"description": "Persist the run for later inspection",
			},
		},
		"required": []string{"dataset_version_id"},
	}

	description := "A tool to detect outliers in a dataset version using image embeddings. " +
		"Outlier assets are tagged on the platform and a summary with the number of outliers, " +
		"processed and skipped items is returned."

	run := func(ctx context.Context, in OutliersInput) (string, error) {
		summary, err := runner.Run(ctx, outlier.RunParams{
			DatasetVersionID: in.DatasetVersionID,
			Strategy:         in.SearchType,
			TagName:          in.TagName,
			Scope:            outlier.Scope(in.Scope),
			Record:           in.Record,
		})
		if summary != nil {
			// タグ付けの部分失敗でも集計はエージェントに返す
			return summary.String(), err
		}
		return "", err
	}

	return NewCommand(OutliersDetectorName, description, params, run).
		WithDefaults(func(in *OutliersInput) {
			if in.SearchType == "" {
				in.SearchType = defaults.Strategy
			}
			if in.TagName == "" {
				in.TagName = defaults.TagName
			}
			if in.TagName == "" {
				in.TagName = outlier.DefaultTagName
			}
			if in.Scope == "" {
				in.Scope = defaults.Scope
			}
		})
}

// ExportInput は埋め込みエクスポートツールの入力
type ExportInput struct {
	DatasetVersionID string `json:"dataset_version_id" validate:"required"`
	Scope            string `json:"scope" validate:"omitempty,oneof=image object"`
}

// NewEmbeddingExporter は埋め込みエクスポートツールを作成する
func NewEmbeddingExporter(exporter EmbeddingExporter) *Command[ExportInput] {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dataset_version_id": map[string]any{
				"type":        "string",
				"description": "The id of the dataset version to export",
			},
			"scope": map[string]any{
				"type":        "string",
				"enum":        []string{string(outlier.ScopeImage), string(outlier.ScopeObject)},
				"description": "Export whole-image or shape embeddings",
			},
		},
		"required": []string{"dataset_version_id"},
	}

	description := "A tool to compute the image embeddings of a dataset version and export them " +
		"with asset metadata as a parquet file for further analysis."

	run := func(ctx context.Context, in ExportInput) (string, error) {
		result, err := exporter.Export(ctx, in.DatasetVersionID, outlier.Scope(in.Scope))
		if err != nil {
			return "", err
		}
		return result.String(), nil
	}

	return NewCommand(EmbeddingExporterName, description, params, run).
		WithDefaults(func(in *ExportInput) {
			if in.Scope == "" {
				in.Scope = string(outlier.ScopeImage)
			}
		})
}

// TagInput はアセットタグ付けツールの入力
type TagInput struct {
	DatasetVersionID string   `json:"dataset_version_id" validate:"required"`
	Tags             []string `json:"tags" validate:"required,min=1,dive,required,max=128"`
	Assets           []string `json:"assets" validate:"required,min=1,dive,required"`
}

// NewAssetTagger はアセットタグ付けツールを作成する
func NewAssetTagger(resolver DatasetResolver, tagger AssetTagger) *Command[TagInput] {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dataset_version_id": map[string]any{
				"type":        "string",
				"description": "The id of the dataset version the assets belong to",
			},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "List of tags to apply to the assets",
			},
			"assets": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "List of asset ids to be tagged",
			},
		},
		"required": []string{"dataset_version_id", "tags", "assets"},
	}

	description := "A tool to tag assets in a dataset version with one or multiple tags. " +
		"It allows for the organization and categorization of assets within a dataset version."

	run := func(ctx context.Context, in TagInput) (string, error) {
		dataset, err := resolver.GetDatasetVersion(ctx, in.DatasetVersionID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve dataset version %s: %w", in.DatasetVersionID, err)
		}

		var lines []string
		for _, tag := range in.Tags {
			n, err := tagger.TagOutliers(ctx, dataset, in.Assets, tag)
			if err != nil {
				return strings.Join(lines, "\n"), err
			}
			lines = append(lines, fmt.Sprintf("Tagged %d asset(s) with %q.", n, tag))
		}
		return strings.Join(lines, "\n"), nil
	}

	return NewCommand(AssetTaggerName, description, params, run)
}
