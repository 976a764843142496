package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
)

// ToolListAction は登録済みツールの一覧を表示するコマンドのアクション
func ToolListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	return renderTools(output(cmd), appCtx.Container.Registry)
}

// ToolCallAction はツールを名前で呼び出し、結果を表示するコマンドのアクション
// --input にはJSON文字列、または @ファイルパス を指定する
func ToolCallAction(ctx context.Context, cmd *cli.Command) error {
	input, err := readToolInput(cmd.String("input"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, callErr := appCtx.Container.Registry.Call(ctx, cmd.String("name"), input)
	if result != "" {
		fmt.Fprintln(output(cmd), result)
	}
	return callErr
}

func readToolInput(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, fmt.Errorf("入力ファイルの読み込みに失敗: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("入力がJSONとして不正です")
	}
	return json.RawMessage(raw), nil
}
