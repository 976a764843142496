package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const (
	// DefaultRequestTimeout はツール呼び出し1件あたりのタイムアウト（埋め込み収集を含む）
	DefaultRequestTimeout = 30 * time.Minute
	// maxBodyBytes はリクエストボディの上限
	maxBodyBytes = 1 << 20
)

// Server は chi ルーターと http.Server の薄いラッパー
type Server struct {
	addr   string
	srv    *http.Server
	logger *slog.Logger
}

// ServerOption は Server のオプション
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger  *slog.Logger
	timeout time.Duration
}

// WithServerLogger はロガーを差し替える
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithRequestTimeout はリクエストのタイムアウトを設定する
func WithRequestTimeout(timeout time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.timeout = timeout
	}
}

// NewRouter はツールAPIのルーティングを構築する
func NewRouter(tools ToolCaller, opts ...ServerOption) http.Handler {
	options := serverOptions{logger: slog.Default(), timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	h := &handler{tools: tools, logger: options.logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(options.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Route("/tools", func(r chi.Router) {
		r.Get("/", h.listTools)
		r.With(chimw.Timeout(options.timeout), chimw.AllowContentType("application/json")).
			Post("/{name}", h.callTool)
	})
	return r
}

// NewServer は新しい Server を作成する
func NewServer(addr string, tools ToolCaller, opts ...ServerOption) *Server {
	options := serverOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(tools, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: options.logger,
	}
}

// Addr は待ち受けアドレスを返す
func (s *Server) Addr() string { return s.addr }

// Run はサーバーを起動し、ctx がキャンセルされるとグレースフルに停止する
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバーを起動", "addr", s.addr)
		err := s.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("HTTPサーバーを停止")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("HTTPリクエスト",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"requestID", chimw.GetReqID(r.Context()),
				"elapsed", time.Since(started),
			)
		})
	}
}
