package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"Nara-Wallet/internal/auth"
	xerrors "Nara-Wallet/internal/errors"
	"Nara-Wallet/internal/intent"
	"Nara-Wallet/internal/observability/metrics"
	"Nara-Wallet/internal/payment/stripe"
	"Nara-Wallet/internal/settlement"
	"Nara-Wallet/pkg/logger"
)

// maxWebhookBody 限制 webhook 请求体大小。
const maxWebhookBody = 1 << 20

// Conversation 是对话状态机的对外接口。
type Conversation interface {
	StartSession(ctx context.Context, sender string) (*intent.SessionInfo, error)
	HandleMessage(ctx context.Context, sender, text string) (string, error)
}

// Webhook 处理支付网关的回调。
type Webhook interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*settlement.Outcome, error)
}

// Options 描述 Server 的依赖。
type Options struct {
	Address      string
	Conversation Conversation
	Webhook      Webhook
	Limiter      *SenderLimiter
	// Auth 保护 /api/v1，为 nil 时不做认证。
	Auth *auth.Service
	// Metrics 为 true 时挂载 /metrics。
	Metrics bool
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	conv    Conversation
	webhook Webhook
	limiter *SenderLimiter
	auth    *auth.Service
	metrics bool
	log     *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(opts Options) *Server {
	return &Server{
		addr:    opts.Address,
		conv:    opts.Conversation,
		webhook: opts.Webhook,
		limiter: opts.Limiter,
		auth:    opts.Auth,
		metrics: opts.Metrics,
		log:     logger.Named("api"),
	}
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", instrument("health", s.handleHealth))
	r.Get("/order/success", instrument("order_success", s.handleOrderSuccess))
	r.Get("/cancel", instrument("cancel", s.handleCancel))
	r.Post("/stripe/webhook", instrument("webhook", s.handleWebhook))
	r.Route("/api/v1", func(sr chi.Router) {
		sr.Use(s.auth.Middleware("api_v1"))
		sr.Post("/sessions", instrument("sessions", s.handleStartSession))
		sr.Post("/messages", instrument("messages", s.handleMessage))
	})
	if s.metrics {
		r.Handle("/metrics", metrics.Handler())
	}
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP 服务启动", slog.String("address", s.addr))
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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOrderSuccess(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"message":    "Payment completed. Your order is being processed.",
		"session_id": r.URL.Query().Get("session_id"),
		"note":       "Token will be sent after we receive payment confirmation.",
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "cancelled",
		"message": "Payment was cancelled. No charges were made.",
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhook == nil {
		writeError(w, http.StatusServiceUnavailable, "结算服务未初始化")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "请求体读取失败")
		return
	}

	outcome, err := s.webhook.HandleWebhook(r.Context(), payload, r.Header.Get(stripe.SignatureHeader))
	if err != nil {
		status := webhookStatus(err)
		s.log.Error("webhook 处理失败",
			slog.Int("status", status),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		writeError(w, status, err.Error())
		return
	}

	body := map[string]string{"status": outcome.Status}
	if outcome.OrderID != "" {
		body["order_id"] = outcome.OrderID
	}
	if outcome.TxReference != "" {
		body["tx"] = outcome.TxReference
	}
	if outcome.Reason != "" {
		body["reason"] = outcome.Reason
	}
	if outcome.Code != "" {
		body["code"] = string(outcome.Code)
	}
	writeJSON(w, http.StatusOK, body)
}

// webhookStatus 把结算错误映射为 HTTP 状态码：签名或元数据错误为 400，其余为 500。
func webhookStatus(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidSignature, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type sessionRequest struct {
	Sender string `json:"sender"`
}

type messageRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type messageResponse struct {
	Sender string `json:"sender"`
	Reply  string `json:"reply"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if s.conv == nil {
		writeError(w, http.StatusServiceUnavailable, "对话服务未初始化")
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	req.Sender = strings.TrimSpace(req.Sender)
	if req.Sender == "" {
		writeError(w, http.StatusBadRequest, "sender 不能为空")
		return
	}
	if !s.authorizeSender(w, r, req.Sender) {
		return
	}
	info, err := s.conv.StartSession(r.Context(), req.Sender)
	if err != nil {
		s.log.Error("会话创建失败", slog.String("sender", req.Sender), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.conv == nil {
		writeError(w, http.StatusServiceUnavailable, "对话服务未初始化")
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	req.Sender = strings.TrimSpace(req.Sender)
	if req.Sender == "" {
		writeError(w, http.StatusBadRequest, "sender 不能为空")
		return
	}
	if !s.authorizeSender(w, r, req.Sender) {
		return
	}
	if s.limiter != nil && !s.limiter.Allow(req.Sender) {
		writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
		return
	}

	reply, err := s.conv.HandleMessage(r.Context(), req.Sender, req.Text)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		s.log.Error("消息处理失败", slog.String("sender", req.Sender), slog.Any("error", err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Sender: req.Sender, Reply: reply})
}

// authorizeSender 确认已认证的调用方可以代表 sender 操作，否则写入 403。
func (s *Server) authorizeSender(w http.ResponseWriter, r *http.Request, sender string) bool {
	subject := auth.SubjectFromContext(r.Context())
	if subject == nil {
		return true
	}
	if err := subject.CanActFor(sender); err != nil {
		s.log.Warn("发送方越权", slog.String("caller", subject.Name), slog.String("sender", sender))
		writeError(w, http.StatusForbidden, http.StatusText(http.StatusForbidden))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusRecorder 记录响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	}
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
