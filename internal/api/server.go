// Package api 暴露服务的 HTTP 入口：Telegram webhook、
// 交易历史查询和指标端点。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"StarkFinder/internal/history"
	"StarkFinder/internal/observability/metrics"
	"StarkFinder/internal/queue"
	"StarkFinder/pkg/logger"
)

// secretTokenHeader 是 Telegram 回传 webhook 时携带的校验头。
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxWebhookBody = 1 << 20

// Config 描述 HTTP 服务的参数。
type Config struct {
	Addr string
	// WebhookSecret 非空时校验 Telegram 的 secret token 头。
	WebhookSecret string
}

// Server 负责暴露 REST 接口。webhook 只做轻量校验与入队，
// 真正的会话处理在队列消费侧完成，Telegram 因此总能快速得到应答。
type Server struct {
	addr     string
	secret   string
	producer queue.Producer
	history  history.Repository
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config, producer queue.Producer, repo history.Repository) *Server {
	return &Server{
		addr:     cfg.Addr,
		secret:   cfg.WebhookSecret,
		producer: producer,
		history:  repo,
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/telegram/webhook", s.instrument("webhook", s.handleWebhook))
	mux.HandleFunc("/api/v1/transactions", s.instrument("transactions", s.handleTransactions))
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleWebhook 接收 Telegram 的更新。校验通过后立即入队并应答，
// 处理耗时不会反压到 Telegram 的投递重试。
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.secret != "" && r.Header.Get(secretTokenHeader) != s.secret {
		http.Error(w, "校验失败", http.StatusForbidden)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "读取请求体失败", http.StatusBadRequest)
		return
	}
	if !json.Valid(payload) {
		http.Error(w, "请求体不是合法 JSON", http.StatusBadRequest)
		return
	}

	if err := s.producer.Publish(r.Context(), payload); err != nil {
		logger.L().Error("webhook 入队失败", slog.String("error", err.Error()))
		http.Error(w, "入队失败", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	opts := history.ListOptions{SessionKey: r.URL.Query().Get("session_key")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}

	records, err := s.history.List(r.Context(), opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

// instrument 记录每个端点的请求指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
