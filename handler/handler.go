package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chat-worker/internal/domain"
	"chat-worker/internal/integrations/identity"
	"chat-worker/internal/logging"
	"chat-worker/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"

	routeChat      = "chat"
	routeTitle     = "title"
	routeQuota     = "quota"
	routePreflight = "preflight"
	routeUnknown   = "unknown"

	maxErrorMessageRunes = 300

	codeNotFound         = "NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// ChatUseCase answers a chat request and reports the caller's budget.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	Usage(ctx context.Context, userID string) (usecase.QuotaOutput, error)
}

// TitleUseCase derives a conversation title from a first message.
type TitleUseCase interface {
	Title(ctx context.Context, userID, message string) (string, error)
}

// Verifier resolves a bearer token to a user.
type Verifier interface {
	Verify(ctx context.Context, token string) (identity.User, error)
}

// Observer records per-request metrics.
type Observer interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
}

type Handler struct {
	chat    ChatUseCase
	title   TitleUseCase
	auth    Verifier
	origins []string
	log     *slog.Logger
	obs     Observer
	now     func() time.Time
}

type Option func(*Handler)

// WithAllowedOrigins restricts browser callers to the listed origins. An
// empty list allows every origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		h.origins = h.origins[:0]
		for _, o := range origins {
			if o = strings.TrimSpace(o); o != "" {
				h.origins = append(h.origins, o)
			}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(h *Handler) {
		h.obs = o
	}
}

func NewHandler(chat ChatUseCase, title TitleUseCase, auth Verifier, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if title == nil {
		return nil, errors.New("handler: title use case must not be nil")
	}
	if auth == nil {
		return nil, errors.New("handler: verifier must not be nil")
	}
	h := &Handler{
		chat:  chat,
		title: title,
		auth:  auth,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type chatRequest struct {
	Messages      []requestMessage `json:"messages"`
	Mode          string           `json:"mode"`
	Memory        *string          `json:"memory"`
	GenerateTitle bool             `json:"generateTitle"`
	UpdateMemory  bool             `json:"updateMemory"`
}

// requestMessage accepts any JSON type for role and content. Absent or null
// values become "", other non-strings keep their JSON text.
type requestMessage struct {
	Role    string
	Content string
}

func (m *requestMessage) UnmarshalJSON(b []byte) error {
	var raw struct {
		Role    json.RawMessage `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Role = coerceString(raw.Role)
	m.Content = coerceString(raw.Content)
	return nil
}

func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type titleRequest struct {
	FirstMessage string `json:"firstMessage"`
}

type chatResponse struct {
	// Response duplicates Answer for older clients.
	Response       string  `json:"response"`
	Answer         string  `json:"answer"`
	Title          *string `json:"title"`
	Mode           string  `json:"mode"`
	Model          string  `json:"model"`
	Memory         *string `json:"memory"`
	RemainingToday int     `json:"remainingToday"`
	MaxPerDay      int     `json:"maxPerDay"`
}

type titleResponse struct {
	Title string `json:"title"`
}

type quotaResponse struct {
	RemainingToday int `json:"remainingToday"`
	MaxPerDay      int `json:"maxPerDay"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	MaxPerDay int    `json:"maxPerDay,omitempty"`
}

// Handle serves one API Gateway proxy request. Failures are always reported
// through the response; the returned error is reserved for the runtime.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := h.now()
	correlationID := header(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With("correlation_id", correlationID)
	ctx = logging.WithLogger(ctx, log)

	route := routeOf(req.HTTPMethod, req.Path)
	resp := h.serve(ctx, req, route)

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID
	elapsed := h.now().Sub(start)
	if h.obs != nil {
		h.obs.ObserveRequest(route, resp.StatusCode, elapsed)
	}
	log.Info("request served",
		"method", req.HTTPMethod,
		"path", req.Path,
		"status", resp.StatusCode,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

func (h *Handler) serve(ctx context.Context, req events.APIGatewayProxyRequest, route string) events.APIGatewayProxyResponse {
	origin := header(req.Headers, "Origin")
	allowOrigin, ok := h.corsOrigin(origin)
	if !ok {
		logging.FromContext(ctx).Warn("origin rejected", "origin", origin)
		return jsonResponse(http.StatusForbidden, nil, errorResponse{
			Error:   string(usecase.ErrorForbiddenOrigin),
			Message: "origin not allowed",
		})
	}
	cors := corsHeaders(allowOrigin)

	if req.HTTPMethod == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent, Headers: cors}
	}
	if route == routeUnknown {
		return jsonResponse(http.StatusNotFound, cors, errorResponse{Error: codeNotFound})
	}
	if method := methodFor(route); req.HTTPMethod != method {
		cors["Allow"] = method + ", OPTIONS"
		return jsonResponse(http.StatusMethodNotAllowed, cors, errorResponse{Error: codeMethodNotAllowed})
	}

	user, err := h.authenticate(ctx, req.Headers)
	if err != nil {
		return h.errorResponse(ctx, cors, err)
	}
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("user_id", user.ID))

	if route == routeQuota {
		return h.serveQuota(ctx, cors, user)
	}

	body, err := requestBody(req)
	if err != nil {
		return h.errorResponse(ctx, cors, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
	}

	switch route {
	case routeTitle:
		return h.serveTitle(ctx, cors, user, body)
	default:
		return h.serveChat(ctx, cors, user, body)
	}
}

func (h *Handler) serveChat(ctx context.Context, cors map[string]string, user identity.User, body []byte) events.APIGatewayProxyResponse {
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return h.errorResponse(ctx, cors, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err})
	}
	msgs := make([]domain.ChatMessage, 0, len(in.Messages))
	for _, m := range in.Messages {
		msgs = append(msgs, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}

	out, err := h.chat.Chat(ctx, usecase.ChatInput{
		UserID:        user.ID,
		Messages:      msgs,
		Mode:          in.Mode,
		Memory:        in.Memory,
		GenerateTitle: in.GenerateTitle,
		UpdateMemory:  in.UpdateMemory,
	})
	if err != nil {
		return h.errorResponse(ctx, cors, err)
	}
	return jsonResponse(http.StatusOK, cors, chatResponse{
		Response:       out.Answer,
		Answer:         out.Answer,
		Title:          out.Title,
		Mode:           string(out.Mode),
		Model:          out.Model,
		Memory:         out.Memory,
		RemainingToday: out.RemainingToday,
		MaxPerDay:      out.MaxPerDay,
	})
}

func (h *Handler) serveTitle(ctx context.Context, cors map[string]string, user identity.User, body []byte) events.APIGatewayProxyResponse {
	var in titleRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return h.errorResponse(ctx, cors, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err})
	}
	title, err := h.title.Title(ctx, user.ID, in.FirstMessage)
	if err != nil {
		return h.errorResponse(ctx, cors, err)
	}
	return jsonResponse(http.StatusOK, cors, titleResponse{Title: title})
}

func (h *Handler) serveQuota(ctx context.Context, cors map[string]string, user identity.User) events.APIGatewayProxyResponse {
	out, err := h.chat.Usage(ctx, user.ID)
	if err != nil {
		return h.errorResponse(ctx, cors, err)
	}
	return jsonResponse(http.StatusOK, cors, quotaResponse{
		RemainingToday: out.RemainingToday,
		MaxPerDay:      out.MaxPerDay,
	})
}

func (h *Handler) authenticate(ctx context.Context, headers map[string]string) (identity.User, error) {
	token := bearerToken(header(headers, "Authorization"))
	if token == "" {
		return identity.User{}, &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "missing_token"}
	}
	user, err := h.auth.Verify(ctx, token)
	switch {
	case errors.Is(err, identity.ErrUnauthorized):
		return identity.User{}, &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "invalid_token", Err: err}
	case err != nil:
		return identity.User{}, &usecase.Error{Code: usecase.ErrorInternal, Reason: "identity_unavailable", Err: err}
	}
	return user, nil
}

func (h *Handler) errorResponse(ctx context.Context, cors map[string]string, err error) events.APIGatewayProxyResponse {
	log := logging.FromContext(ctx)

	var ue *usecase.Error
	if !errors.As(err, &ue) {
		log.Error("unexpected error", "err", err)
		return jsonResponse(http.StatusInternalServerError, cors, errorResponse{Error: string(usecase.ErrorInternal)})
	}

	status := statusFor(ue.Code)
	body := errorResponse{Error: string(ue.Code), Message: ue.Reason}
	switch ue.Code {
	case usecase.ErrorDailyLimit:
		body.Message = "daily request limit reached, try again tomorrow"
		body.MaxPerDay = ue.MaxPerDay
	case usecase.ErrorAI:
		if ue.Err != nil {
			body.Message = clip(ue.Err.Error(), maxErrorMessageRunes)
		}
	case usecase.ErrorInternal:
		body.Message = ""
	}

	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	} else {
		log.Info("request rejected", "code", ue.Code, "reason", ue.Reason)
	}
	return jsonResponse(status, cors, body)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorForbiddenOrigin:
		return http.StatusForbidden
	case usecase.ErrorDailyLimit:
		return http.StatusTooManyRequests
	case usecase.ErrorAI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// corsOrigin reports whether origin may call the API and which value to put
// in Access-Control-Allow-Origin.
func (h *Handler) corsOrigin(origin string) (string, bool) {
	if len(h.origins) == 0 {
		if origin == "" {
			return "*", true
		}
		return origin, true
	}
	for _, o := range h.origins {
		if o == origin {
			return origin, true
		}
	}
	if origin == "" {
		return h.origins[0], true
	}
	return "", false
}

func corsHeaders(origin string) map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":   origin,
		"Access-Control-Allow-Methods":  "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers":  "Content-Type, Authorization, X-Correlation-Id",
		"Access-Control-Expose-Headers": correlationHeader,
		"Access-Control-Max-Age":        "86400",
		"Vary":                          "Origin",
	}
}

func jsonResponse(status int, headers map[string]string, v any) events.APIGatewayProxyResponse {
	out := make(map[string]string, len(headers)+2)
	for k, val := range headers {
		out[k] = val
	}
	out["Content-Type"] = "application/json; charset=utf-8"

	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: out, Body: string(b)}
}

func routeOf(method, path string) string {
	if method == http.MethodOptions {
		return routePreflight
	}
	p := strings.TrimRight(path, "/")
	switch {
	case p == "" || strings.HasSuffix(p, "/chat"):
		return routeChat
	case strings.HasSuffix(p, "/title"):
		return routeTitle
	case strings.HasSuffix(p, "/quota"):
		return routeQuota
	default:
		return routeUnknown
	}
}

func methodFor(route string) string {
	if route == routeQuota {
		return http.MethodGet
	}
	return http.MethodPost
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if strings.TrimSpace(req.Body) == "" {
		return nil, errors.New("empty body")
	}
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

// header does a case-insensitive lookup; API Gateway passes header names as
// the client sent them.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func clip(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}

func bearerToken(authorization string) string {
	const prefix = "bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authorization[len(prefix):])
}
