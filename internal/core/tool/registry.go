package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// TokenCounter はツール結果のトークン数を数えて切り詰める
type TokenCounter interface {
	CountTokens(text string) int
	TrimToTokenLimit(text string, maxTokens int) string
}

// Settings は1ツール分の設定（tools.yaml の1エントリ）
type Settings struct {
	Enabled bool
	// Description が空でなければツールの説明を上書きする
	Description string
	// MaxResultTokens が正の場合、結果をこのトークン数に切り詰める
	MaxResultTokens int
}

// DefaultSettings は有効かつ上書きなしの設定
func DefaultSettings() Settings {
	return Settings{Enabled: true}
}

type entry struct {
	tool     Tool
	settings Settings
}

// Registry は静的なツールテーブル
type Registry struct {
	entries map[string]*entry
	counter TokenCounter
	logger  *slog.Logger
}

// RegistryOption は Registry のオプション
type RegistryOption func(*Registry)

// WithRegistryLogger はロガーを差し替える
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithTokenCounter は結果の切り詰めに使うトークンカウンタを設定する
func WithTokenCounter(counter TokenCounter) RegistryOption {
	return func(r *Registry) {
		r.counter = counter
	}
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register はツールを登録する（同名のツールは登録できない）
func (r *Registry) Register(t Tool, settings Settings) error {
	if _, ok := r.entries[t.Name()]; ok {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.entries[t.Name()] = &entry{tool: t, settings: settings}
	return nil
}

// Tools は有効なツールを名前順で返す
func (r *Registry) Tools() []Tool {
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.settings.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.entries[name].tool)
	}
	return tools
}

// Description は設定による上書きを反映したツールの説明を返す
func (r *Registry) Description(t Tool) string {
	if e, ok := r.entries[t.Name()]; ok && e.settings.Description != "" {
		return e.settings.Description
	}
	return t.Description()
}

// Definitions は有効なツールを関数呼び出し定義として返す
func (r *Registry) Definitions() []shared.FunctionDefinitionParam {
	tools := r.Tools()
	defs := make([]shared.FunctionDefinitionParam, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(r.Description(t)),
			Parameters:  shared.FunctionParameters(t.Parameters()),
		})
	}
	return defs
}

// ChatTools はチャット補完リクエストに渡すツール定義を返す
func (r *Registry) ChatTools() []openai.ChatCompletionToolUnionParam {
	defs := r.Definitions()
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.ChatCompletionFunctionTool(def))
	}
	return tools
}

// Call は名前でツールを解決して実行する
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (string, error) {
	e, ok := r.entries[name]
	if !ok || !e.settings.Enabled {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	started := time.Now()
	r.logger.Info("ツールを実行", "tool", name)

	result, err := e.tool.Call(ctx, input)
	if err != nil {
		r.logger.Warn("ツールの実行に失敗", "tool", name, "error", err, "elapsed", time.Since(started))
		return result, err
	}

	if e.settings.MaxResultTokens > 0 && r.counter != nil {
		if tokens := r.counter.CountTokens(result); tokens > e.settings.MaxResultTokens {
			r.logger.Debug("ツール結果を切り詰め", "tool", name, "tokens", tokens, "limit", e.settings.MaxResultTokens)
			result = r.counter.TrimToTokenLimit(result, e.settings.MaxResultTokens)
		}
	}

	r.logger.Info("ツールの実行が完了", "tool", name, "elapsed", time.Since(started))
	return result, nil
}
