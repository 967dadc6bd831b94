package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"chat-worker/internal/domain"
	"chat-worker/internal/logging"
	"chat-worker/internal/modelrouter"
)

const (
	defaultMaxMessages     = 50
	defaultMaxMessageChars = 8000
)

// Admitter consumes and reports daily quota.
type Admitter interface {
	Admit(ctx context.Context, userID string, today time.Time) (domain.QuotaDecision, error)
	Remaining(ctx context.Context, userID string, today time.Time) (domain.QuotaDecision, error)
}

// Router selects and invokes upstream models.
type Router interface {
	SelectModel(mode modelrouter.Mode) string
	Invoke(ctx context.Context, primary string, messages []domain.ChatMessage, mode modelrouter.Mode) (modelrouter.Result, error)
}

// LLMClient is a single upstream model call, used for auxiliary prompts.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int) (string, error)
}

// Recorder receives business metrics. Implementations must tolerate
// concurrent use.
type Recorder interface {
	ObserveQuota(admitted bool)
	ObserveTitle(source string)
	ObserveMemoryUpdate(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveQuota(bool)          {}
func (nopRecorder) ObserveTitle(string)        {}
func (nopRecorder) ObserveMemoryUpdate(string) {}

type ChatInput struct {
	UserID        string
	Messages      []domain.ChatMessage
	Mode          string
	Memory        *string
	GenerateTitle bool
	UpdateMemory  bool
}

type ChatOutput struct {
	Answer         string
	Title          *string
	Mode           modelrouter.Mode
	Model          string
	Memory         *string
	RemainingToday int
	MaxPerDay      int
}

// QuotaOutput is a user's chat budget for the current UTC day.
type QuotaOutput struct {
	RemainingToday int
	MaxPerDay      int
}

type ChatService struct {
	quota           Admitter
	router          Router
	llm             LLMClient
	titles          *TitleService
	rec             Recorder
	maxMessages     int
	maxMessageChars int
	now             func() time.Time
}

type ChatOption func(*ChatService)

// WithLimits bounds the accepted history. Non-positive values keep the
// defaults.
func WithLimits(maxMessages, maxMessageChars int) ChatOption {
	return func(s *ChatService) {
		if maxMessages > 0 {
			s.maxMessages = maxMessages
		}
		if maxMessageChars > 0 {
			s.maxMessageChars = maxMessageChars
		}
	}
}

func WithRecorder(r Recorder) ChatOption {
	return func(s *ChatService) {
		if r != nil {
			s.rec = r
		}
	}
}

func NewChatService(q Admitter, r Router, llm LLMClient, titles *TitleService, opts ...ChatOption) (*ChatService, error) {
	if q == nil {
		return nil, errors.New("usecase: quota admitter must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: model router must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if titles == nil {
		return nil, errors.New("usecase: title service must not be nil")
	}
	s := &ChatService{
		quota:           q,
		router:          r,
		llm:             llm,
		titles:          titles,
		rec:             nopRecorder{},
		maxMessages:     defaultMaxMessages,
		maxMessageChars: defaultMaxMessageChars,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Chat validates the request, consumes one unit of quota, generates the
// answer and runs the optional title and memory steps. Failures of the
// optional steps never fail the request.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return ChatOutput{}, newError(ErrorUnauthorized, "missing_user", nil)
	}
	history, err := s.normalizeMessages(in.Messages)
	if err != nil {
		return ChatOutput{}, err
	}

	decision, err := s.quota.Admit(ctx, userID, s.now())
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "quota_store_error", err)
	}
	s.rec.ObserveQuota(decision.Admitted)
	if !decision.Admitted {
		e := newError(ErrorDailyLimit, "daily_limit_reached", nil)
		e.MaxPerDay = decision.Max
		return ChatOutput{}, e
	}

	mode := modelrouter.ParseMode(in.Mode)
	primary := s.router.SelectModel(mode)
	prior := ""
	if in.Memory != nil {
		prior = *in.Memory
	}

	res, err := s.router.Invoke(ctx, primary, buildChatMessages(mode, prior, history), mode)
	if err != nil {
		return ChatOutput{}, newError(ErrorAI, "generation_failed", err)
	}
	log := logging.FromContext(ctx).With("mode", string(mode), "model", res.Model)
	if res.Model != primary {
		log.Warn("answered by fallback model", "primary", primary)
	}

	out := ChatOutput{
		Answer:         res.Text,
		Mode:           mode,
		Model:          res.Model,
		RemainingToday: decision.Remaining,
		MaxPerDay:      decision.Max,
	}

	if in.GenerateTitle {
		if text := domain.LastUserText(history); text != "" {
			title, err := s.titles.Generate(ctx, text)
			if err != nil {
				log.Warn("title generation failed", "err", err)
			} else {
				out.Title = &title
			}
		}
	}

	if mode == modelrouter.ModeThink && in.UpdateMemory {
		out.Memory = in.Memory
		updated, err := s.updateMemory(ctx, res.Model, prior, domain.LastUserText(history), res.Text)
		if err != nil {
			s.rec.ObserveMemoryUpdate("error")
			log.Warn("memory update failed", "err", err)
		} else {
			s.rec.ObserveMemoryUpdate("ok")
			out.Memory = &updated
		}
	}

	return out, nil
}

// Usage reports userID's remaining chat budget without consuming any.
func (s *ChatService) Usage(ctx context.Context, userID string) (QuotaOutput, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return QuotaOutput{}, newError(ErrorUnauthorized, "missing_user", nil)
	}
	d, err := s.quota.Remaining(ctx, userID, s.now())
	if err != nil {
		return QuotaOutput{}, newError(ErrorInternal, "quota_store_error", err)
	}
	return QuotaOutput{RemainingToday: d.Remaining, MaxPerDay: d.Max}, nil
}

func (s *ChatService) updateMemory(ctx context.Context, model, prior, question, answer string) (string, error) {
	raw, err := s.llm.Chat(ctx, model, buildMemoryPrompt(prior, question, answer), memoryMaxTokens)
	if err != nil {
		return "", err
	}
	mem := normalizeMemory(raw)
	if mem == "" {
		return "", errors.New("usecase: memory update returned no bullet lines")
	}
	return mem, nil
}

// normalizeMessages maps client roles onto the upstream vocabulary and
// enforces the history limits.
func (s *ChatService) normalizeMessages(in []domain.ChatMessage) ([]domain.ChatMessage, error) {
	if len(in) == 0 {
		return nil, newError(ErrorInvalidInput, "empty_messages", nil)
	}
	if len(in) > s.maxMessages {
		return nil, newError(ErrorInvalidInput, "too_many_messages", nil)
	}
	out := make([]domain.ChatMessage, 0, len(in))
	blank := true
	for _, m := range in {
		if utf8.RuneCountInString(m.Content) > s.maxMessageChars {
			return nil, newError(ErrorInvalidInput, "message_too_long", nil)
		}
		if strings.TrimSpace(m.Content) != "" {
			blank = false
		}
		out = append(out, domain.ChatMessage{Role: normalizeRole(m.Role), Content: m.Content})
	}
	if blank {
		return nil, newError(ErrorInvalidInput, "empty_messages", nil)
	}
	return out, nil
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "model", domain.RoleAssistant:
		return domain.RoleAssistant
	case domain.RoleSystem:
		return domain.RoleSystem
	default:
		return domain.RoleUser
	}
}
