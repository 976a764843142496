package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToolEntry は tools.yaml の1ツール分の設定
type ToolEntry struct {
	// Enabled が未指定の場合は有効とみなす
	Enabled         *bool  `yaml:"enabled"`
	Description     string `yaml:"description"`
	MaxResultTokens int    `yaml:"max_result_tokens"`
	DefaultStrategy string `yaml:"default_strategy"`
	DefaultTag      string `yaml:"default_tag"`
	DefaultScope    string `yaml:"default_scope"`
}

// IsEnabled はツールが有効かを返す
func (e ToolEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// ToolsFile は tools.yaml 全体
type ToolsFile struct {
	Tools map[string]ToolEntry `yaml:"tools"`
}

// Entry は名前に対応する設定を返す（未定義の場合はゼロ値＝有効）
func (f *ToolsFile) Entry(name string) ToolEntry {
	if f == nil || f.Tools == nil {
		return ToolEntry{}
	}
	return f.Tools[name]
}

// LoadTools は tools.yaml を読み込む
// ファイルが存在しない場合は空の設定を返す
func LoadTools(path string) (*ToolsFile, error) {
	if path == "" {
		return &ToolsFile{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ToolsFile{}, nil
		}
		return nil, fmt.Errorf("failed to read tools config: %w", err)
	}

	var file ToolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tools config %s: %w", path, err)
	}
	for name, entry := range file.Tools {
		if entry.MaxResultTokens < 0 {
			return nil, fmt.Errorf("tool %s: max_result_tokens must not be negative", name)
		}
	}
	return &file, nil
}
