package parquet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/xitongsys/parquet-go-source/local"
	goparquet "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// DefaultParallelism はparquetエンコードの並列数
const DefaultParallelism = 4

// EmbeddingRecord は埋め込みエクスポートの1行
type EmbeddingRecord struct {
	ItemID       string    `parquet:"name=item_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AssetID      string    `parquet:"name=asset_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Filename     string    `parquet:"name=filename, type=BYTE_ARRAY, convertedtype=UTF8"`
	AnnotationID string    `parquet:"name=annotation_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Label        string    `parquet:"name=label, type=BYTE_ARRAY, convertedtype=UTF8"`
	Tags         []string  `parquet:"name=tags, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=REPEATED"`
	BBox         []int32   `parquet:"name=bbox, type=INT32, repetitiontype=REPEATED"`
	Embedding    []float32 `parquet:"name=embedding, type=FLOAT, repetitiontype=REPEATED"`
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Writer は埋め込みをローカルのparquetファイルに書き出す
type Writer struct {
	dir string
}

// NewWriter は出力ディレクトリを指定して Writer を作成する
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir}
}

// Path はデータセットとスコープに対応する出力ファイルのパスを返す
func (w *Writer) Path(dataset *outlier.DatasetVersion, scope outlier.Scope) string {
	name := fmt.Sprintf("%s_%s_%s_data.parquet", dataset.Name, dataset.Version, scope)
	if dataset.Name == "" {
		name = fmt.Sprintf("%s_%s_data.parquet", dataset.ID, scope)
	}
	return filepath.Join(w.dir, unsafeChars.ReplaceAllString(name, "_"))
}

// WriteEmbeddings は特徴行列を1アイテム1行で書き出し、ファイルパスを返す
// 一時ファイルに書き込んでから置き換えるため、失敗時に書きかけのファイルは残らない
func (w *Writer) WriteEmbeddings(ctx context.Context, dataset *outlier.DatasetVersion, scope outlier.Scope, matrix outlier.FeatureMatrix) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := w.Path(dataset, scope)
	tmpPath := path + ".partial"

	if err := writeFile(ctx, tmpPath, matrix); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move %s to %s: %w", tmpPath, path, err)
	}
	return path, nil
}

func writeFile(ctx context.Context, path string, matrix outlier.FeatureMatrix) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(EmbeddingRecord), DefaultParallelism)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = goparquet.CompressionCodec_SNAPPY

	for i, item := range matrix.Items {
		if err := ctx.Err(); err != nil {
			_ = pw.WriteStop()
			return err
		}
		if err := pw.Write(toRecord(item, matrix.Rows[i])); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func toRecord(item outlier.Item, emb outlier.Embedding) EmbeddingRecord {
	rec := EmbeddingRecord{
		ItemID:       item.ID,
		AssetID:      item.AssetID,
		Filename:     item.Filename,
		AnnotationID: item.AnnotationID,
		Label:        item.Label,
		Tags:         item.Tags,
		Embedding:    emb,
	}
	if item.Region != nil {
		rec.BBox = []int32{int32(item.Region.X), int32(item.Region.Y), int32(item.Region.W), int32(item.Region.H)}
	}
	return rec
}

// インターフェース実装の確認
var _ outlier.EmbeddingWriter = (*Writer)(nil)
