package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput はツール入力のデコードまたは検証に失敗した場合のエラー
	ErrInvalidInput = errors.New("invalid tool input")

	// ErrUnknownTool は未登録（または無効化された）ツールが呼ばれた場合のエラー
	ErrUnknownTool = errors.New("unknown tool")
)

// Tool はエージェントから呼び出せるコマンド
type Tool interface {
	Name() string
	Description() string
	// Parameters は入力のJSONスキーマ
	Parameters() map[string]any
	// Call は入力JSONを検証して実行し、エージェント向けの文字列を返す
	Call(ctx context.Context, input json.RawMessage) (string, error)
}

// Command は型付き入力を持つ Tool の実装
type Command[In any] struct {
	name        string
	description string
	parameters  map[string]any
	defaults    func(*In)
	run         func(ctx context.Context, in In) (string, error)
}

// NewCommand は新しいCommandを作成する
func NewCommand[In any](name, description string, parameters map[string]any, run func(ctx context.Context, in In) (string, error)) *Command[In] {
	return &Command[In]{
		name:        name,
		description: description,
		parameters:  parameters,
		run:         run,
	}
}

// WithDefaults は検証前に入力へ既定値を補う関数を設定する
func (c *Command[In]) WithDefaults(fn func(*In)) *Command[In] {
	c.defaults = fn
	return c
}

func (c *Command[In]) Name() string { return c.name }

func (c *Command[In]) Description() string { return c.description }

func (c *Command[In]) Parameters() map[string]any { return c.parameters }

// Call は入力をデコードし、既定値を適用して検証した後に実行する
func (c *Command[In]) Call(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := c.decode(input)
	if err != nil {
		return "", err
	}
	return c.run(ctx, in)
}

func (c *Command[In]) decode(input json.RawMessage) (In, error) {
	var in In
	if len(bytes.TrimSpace(input)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(input))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&in); err != nil {
			return in, fmt.Errorf("%w: %s: %v", ErrInvalidInput, c.name, err)
		}
	}
	if c.defaults != nil {
		c.defaults(&in)
	}
	if err := Validate(in); err != nil {
		return in, fmt.Errorf("%w: %s: %v", ErrInvalidInput, c.name, err)
	}
	return in, nil
}

var _ Tool = (*Command[struct{}])(nil)
