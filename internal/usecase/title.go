package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"chat-worker/internal/logging"
)

// TitleDeriver turns a message and an optional model candidate into a title.
type TitleDeriver interface {
	Derive(message, candidate string) string
}

// TitleService derives conversation titles, optionally asking a model for a
// candidate first.
type TitleService struct {
	deriver TitleDeriver
	llm     LLMClient
	model   string
	rec     Recorder
	quota   Admitter
	now     func() time.Time
}

type TitleOption func(*TitleService)

// WithTitleQuota gates Title calls with a per-user daily budget.
func WithTitleQuota(q Admitter) TitleOption {
	return func(s *TitleService) {
		s.quota = q
	}
}

// NewTitleService returns a TitleService. llm and model may be empty, in
// which case titles come from the heuristic alone.
func NewTitleService(d TitleDeriver, llm LLMClient, model string, rec Recorder, opts ...TitleOption) (*TitleService, error) {
	if d == nil {
		return nil, errors.New("usecase: title deriver must not be nil")
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	s := &TitleService{deriver: d, llm: llm, model: strings.TrimSpace(model), rec: rec, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Title serves a standalone title request for userID. When a title quota is
// configured, each accepted request consumes one unit of it.
func (s *TitleService) Title(ctx context.Context, userID, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", newError(ErrorInvalidInput, "empty_first_message", nil)
	}
	if s.quota != nil {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			return "", newError(ErrorUnauthorized, "missing_user", nil)
		}
		d, err := s.quota.Admit(ctx, userID, s.now())
		if err != nil {
			return "", newError(ErrorInternal, "quota_store_error", err)
		}
		if !d.Admitted {
			e := newError(ErrorDailyLimit, "title_limit_reached", nil)
			e.MaxPerDay = d.Max
			return "", e
		}
	}
	return s.Generate(ctx, message)
}

// Generate returns a one to five word title for message.
func (s *TitleService) Generate(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", newError(ErrorInvalidInput, "empty_first_message", nil)
	}

	candidate := ""
	if s.llm != nil && s.model != "" {
		c, err := s.llm.Chat(ctx, s.model, buildTitlePrompt(message), titleMaxTokens)
		if err != nil {
			logging.FromContext(ctx).Warn("title candidate failed", "model", s.model, "err", err)
		} else {
			candidate = c
		}
	}

	title := s.deriver.Derive(message, candidate)
	if strings.TrimSpace(title) == "" {
		s.rec.ObserveTitle("error")
		return "", newError(ErrorInternal, "empty_title", nil)
	}
	source := "heuristic"
	if strings.TrimSpace(candidate) != "" {
		source = "model"
	}
	s.rec.ObserveTitle(source)
	return title, nil
}
