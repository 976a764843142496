package outlier

import (
	"context"
	"fmt"
	"log/slog"
)

// ExportResult は埋め込みエクスポートの結果
type ExportResult struct {
	DatasetVersionID string
	Scope            Scope
	Location         string
	Rows             int
	Skipped          int
	Dimension        int
}

// String はエージェントに返す要約メッセージ
func (r *ExportResult) String() string {
	return fmt.Sprintf("Exported %d %s embedding(s) of dimension %d from dataset version %s to %s (%d skipped).",
		r.Rows, r.Scope, r.Dimension, r.DatasetVersionID, r.Location, r.Skipped)
}

// ExportService はデータセットの埋め込みを収集して外部に書き出す
type ExportService struct {
	platform  Platform
	collector *Collector
	writer    EmbeddingWriter
	logger    *slog.Logger
}

// ExportOption は ExportService のオプション
type ExportOption func(*ExportService)

// WithExportLogger はロガーを差し替える
func WithExportLogger(logger *slog.Logger) ExportOption {
	return func(s *ExportService) {
		s.logger = logger
	}
}

// NewExportService は新しいExportServiceを作成する
func NewExportService(platform Platform, collector *Collector, writer EmbeddingWriter, opts ...ExportOption) *ExportService {
	s := &ExportService{
		platform:  platform,
		collector: collector,
		writer:    writer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export はデータセットバージョンの全アイテムの埋め込みを書き出す
func (s *ExportService) Export(ctx context.Context, datasetVersionID string, scope Scope) (*ExportResult, error) {
	scope, err := ParseScope(string(scope))
	if err != nil {
		return nil, err
	}

	dataset, err := s.platform.GetDatasetVersion(ctx, datasetVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dataset version %s: %w", datasetVersionID, err)
	}

	items, err := s.platform.ListItems(ctx, dataset, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	collection, err := s.collector.Collect(ctx, items)
	if err != nil {
		return nil, err
	}

	location, err := s.writer.WriteEmbeddings(ctx, dataset, scope, collection.Matrix)
	if err != nil {
		return nil, fmt.Errorf("failed to write embeddings: %w", err)
	}

	result := &ExportResult{
		DatasetVersionID: dataset.ID,
		Scope:            scope,
		Location:         location,
		Rows:             collection.Processed(),
		Skipped:          collection.Skipped(),
		Dimension:        collection.Matrix.Dimension(),
	}

	s.logger.Info("埋め込みをエクスポート",
		"datasetVersionID", dataset.ID,
		"scope", scope,
		"location", location,
		"rows", result.Rows,
		"skipped", result.Skipped,
	)

	return result, nil
}
