package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/jinford/dev-vision/internal/core/tool"
)

// ToolCaller はツールの一覧と呼び出しを提供する（tool.Registry）
type ToolCaller interface {
	Definitions() []shared.FunctionDefinitionParam
	Call(ctx context.Context, name string, input json.RawMessage) (string, error)
}

type handler struct {
	tools  ToolCaller
	logger *slog.Logger
}

type callResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tools.Definitions())
}

func (h *handler) callTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, callResponse{Error: "failed to read request body"})
		return
	}
	if len(body) > maxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, callResponse{Error: "request body too large"})
		return
	}

	result, err := h.tools.Call(r.Context(), name, json.RawMessage(body))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("ツール呼び出しに失敗", "tool", name, "error", err)
		}
		writeJSON(w, status, callResponse{Result: result, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, callResponse{Result: result})
}

// statusFor はツールのエラーをHTTPステータスに対応付ける
func statusFor(err error) int {
	switch {
	case errors.Is(err, tool.ErrInvalidInput), errors.Is(err, outlier.ErrInvalidStrategy),
		errors.Is(err, outlier.ErrInvalidScope):
		return http.StatusBadRequest
	case errors.Is(err, tool.ErrUnknownTool), errors.Is(err, outlier.ErrResourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
