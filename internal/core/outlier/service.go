package outlier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTagName は外れ値に付与するデフォルトのタグ名
const DefaultTagName = "outlier"

// RunParams は検出実行のパラメータ
type RunParams struct {
	DatasetVersionID string
	// Strategy は検出戦略（空文字はcentroid）
	Strategy string
	// TagName は付与するタグ名（空文字は DefaultTagName）
	TagName string
	// Scope は埋め込みの単位（空文字はimage）
	Scope Scope
	// Record が true かつ RunRecorder が設定されている場合は実行結果を保存する
	Record bool
}

// RunSummary は検出実行の集計結果
type RunSummary struct {
	RunID            uuid.UUID
	DatasetVersionID string
	Strategy         Strategy
	Scope            Scope
	TagName          string
	Items            int
	Processed        int
	Skipped          int
	Outliers         int
	Tagged           int
	Threshold        float64
	Degenerate       bool
	OutlierIDs       []string
	FailedItems      []string
	TagRejected      []string
	Duration         time.Duration
}

// String はエージェントに返す要約メッセージ
func (s *RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d outlier(s) in dataset version %s using %s strategy (%s scope): %d processed, %d skipped, %d tagged with %q.",
		s.Outliers, s.DatasetVersionID, s.Strategy, s.Scope, s.Processed, s.Skipped, s.Tagged, s.TagName)
	if s.Degenerate && s.Processed > 0 {
		b.WriteString(" Not enough items to detect outliers.")
	}
	if len(s.FailedItems) > 0 {
		fmt.Fprintf(&b, " Skipped items: %s.", strings.Join(s.FailedItems, ", "))
	}
	if len(s.TagRejected) > 0 {
		fmt.Fprintf(&b, " Tagging rejected: %s.", strings.Join(s.TagRejected, ", "))
	}
	return b.String()
}

// Service は埋め込み収集・外れ値検出・タグ付けを順に実行する
type Service struct {
	platform  Platform
	collector *Collector
	tagger    *Tagger
	recorder  RunRecorder
	params    DetectParams
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceOption は Service のオプション
type ServiceOption func(*Service)

// WithServiceLogger はロガーを差し替える
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRunRecorder は実行結果の保存先を設定する
func WithRunRecorder(recorder RunRecorder) ServiceOption {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithDetectParams は検出パラメータを上書きする（テスト用）
func WithDetectParams(params DetectParams) ServiceOption {
	return func(s *Service) {
		s.params = params
	}
}

// NewService は新しいServiceを作成する
func NewService(platform Platform, collector *Collector, tagger *Tagger, opts ...ServiceOption) *Service {
	s := &Service{
		platform:  platform,
		collector: collector,
		tagger:    tagger,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run はデータセットバージョンの外れ値を検出してタグ付けする
// 抽出失敗は集計に含めて吸収し、データセット解決と戦略・スコープの誤りは即座にエラーを返す
// タグ付けが部分的に失敗した場合は集計結果と *TaggingPartialFailureError を両方返す
func (s *Service) Run(ctx context.Context, params RunParams) (*RunSummary, error) {
	started := s.now()

	strategy, err := ParseStrategy(params.Strategy)
	if err != nil {
		return nil, err
	}
	scope, err := ParseScope(string(params.Scope))
	if err != nil {
		return nil, err
	}
	tagName := params.TagName
	if tagName == "" {
		tagName = DefaultTagName
	}

	logger := s.logger.With("datasetVersionID", params.DatasetVersionID, "strategy", strategy, "scope", scope)
	logger.Info("外れ値検出を開始")

	dataset, err := s.platform.GetDatasetVersion(ctx, params.DatasetVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dataset version %s: %w", params.DatasetVersionID, err)
	}

	items, err := s.platform.ListItems(ctx, dataset, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	collection, err := s.collector.Collect(ctx, items)
	if err != nil {
		return nil, err
	}

	detection, err := Detect(collection.Matrix, strategy, s.params)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:            uuid.New(),
		DatasetVersionID: dataset.ID,
		Strategy:         strategy,
		Scope:            scope,
		TagName:          tagName,
		Items:            len(items),
		Processed:        collection.Processed(),
		Skipped:          collection.Skipped(),
		Outliers:         detection.Count(),
		Threshold:        detection.Threshold,
		Degenerate:       detection.Degenerate,
		OutlierIDs:       detection.OutlierIDs(),
		FailedItems:      collection.FailedIDs(),
	}

	if err := ctx.Err(); err != nil {
		logger.Warn("キャンセルされたためタグ付けをスキップ", "error", err)
		return nil, fmt.Errorf("run cancelled before tagging: %w", err)
	}

	assetIDs := make([]string, 0, detection.Count())
	for _, i := range detection.Indices() {
		assetIDs = append(assetIDs, collection.Matrix.Items[i].AssetID)
	}

	tagged, tagErr := s.tagger.TagOutliers(ctx, dataset, assetIDs, tagName)
	summary.Tagged = tagged
	var partial *TaggingPartialFailureError
	if errors.As(tagErr, &partial) {
		summary.TagRejected = partial.Failed
	} else if tagErr != nil {
		return nil, tagErr
	}

	summary.Duration = s.now().Sub(started)
	s.record(ctx, params, summary, collection, detection, logger)

	logger.Info("外れ値検出が完了",
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"outliers", summary.Outliers,
		"tagged", summary.Tagged,
		"failedItems", summary.FailedItems,
	)

	return summary, tagErr
}

func (s *Service) record(ctx context.Context, params RunParams, summary *RunSummary, collection *Collection, detection *Detection, logger *slog.Logger) {
	if !params.Record || s.recorder == nil {
		return
	}

	record := &RunRecord{
		ID:        summary.RunID,
		Summary:   summary,
		Matrix:    collection.Matrix,
		Verdicts:  detection.Verdicts,
		Model:     s.collector.ModelName(),
		CreatedAt: s.now(),
	}
	if err := s.recorder.RecordRun(ctx, record); err != nil {
		logger.Warn("実行結果の保存に失敗", "runID", summary.RunID, "error", err)
		return
	}
	logger.Info("実行結果を保存", "runID", summary.RunID)
}
