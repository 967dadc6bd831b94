// Package modelrouter picks the upstream model for a request mode and
// recovers from failed or empty generations by sweeping a fallback list.
package modelrouter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"chat-worker/internal/domain"
)

// Mode is the caller-selected quality/latency tradeoff.
type Mode string

const (
	ModeFast  Mode = "fast"
	ModeThink Mode = "think"
)

// minAnswerRunes is the shortest output accepted as an answer.
const minAnswerRunes = 3

// Token budgets per mode.
const (
	ThinkMaxTokens = 1024
	FastMaxTokens  = 256
)

// ErrEmptyResponse is returned when a model succeeds with blank or unusable
// output and no fallback recovered it.
var ErrEmptyResponse = errors.New("modelrouter: empty model response")

// ParseMode maps any value other than the literal "think" to ModeFast.
func ParseMode(s string) Mode {
	if s == string(ModeThink) {
		return ModeThink
	}
	return ModeFast
}

// MaxTokens returns the generation budget for m.
func (m Mode) MaxTokens() int {
	if m == ModeThink {
		return ThinkMaxTokens
	}
	return FastMaxTokens
}

// Invoker calls one upstream model.
type Invoker interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int) (string, error)
}

// Observer receives one callback per model attempt. Outcome is one of ok,
// empty, invalid or error.
type Observer interface {
	ObserveAttempt(model, outcome string, fallback bool)
}

// Config holds model identifiers. Fallbacks is the ordered candidate list
// swept in fast mode; a typical list is default, deep, last resort.
type Config struct {
	Default   string
	Fast      string
	Deep      string
	Fallbacks []string
}

// Result is a successful generation.
type Result struct {
	Text  string
	Model string
}

// Router selects and invokes models.
type Router struct {
	llm Invoker
	cfg Config
	obs Observer
}

// Option configures a Router.
type Option func(*Router)

// WithObserver attaches an attempt observer.
func WithObserver(o Observer) Option {
	return func(r *Router) {
		r.obs = o
	}
}

// New returns a Router. cfg.Default is required.
func New(llm Invoker, cfg Config, opts ...Option) (*Router, error) {
	if llm == nil {
		return nil, errors.New("modelrouter: invoker must not be nil")
	}
	cfg.Default = strings.TrimSpace(cfg.Default)
	if cfg.Default == "" {
		return nil, errors.New("modelrouter: default model must not be empty")
	}
	cfg.Fast = strings.TrimSpace(cfg.Fast)
	cfg.Deep = strings.TrimSpace(cfg.Deep)
	fallbacks := make([]string, 0, len(cfg.Fallbacks))
	for _, m := range cfg.Fallbacks {
		if m = strings.TrimSpace(m); m != "" {
			fallbacks = append(fallbacks, m)
		}
	}
	cfg.Fallbacks = fallbacks

	r := &Router{llm: llm, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SelectModel returns the preferred model for mode, or the default model when
// the preferred one is not configured.
func (r *Router) SelectModel(mode Mode) string {
	preferred := r.cfg.Fast
	if mode == ModeThink {
		preferred = r.cfg.Deep
	}
	if preferred == "" {
		return r.cfg.Default
	}
	return preferred
}

// Invoke calls primary with the mode's token budget. In think mode any failure,
// including blank output, is returned immediately. In fast mode a failure or
// blank output starts one sweep over the fallback list that skips primary and
// every model already tried; the first non-blank answer wins, otherwise the
// last error is returned.
func (r *Router) Invoke(ctx context.Context, primary string, messages []domain.ChatMessage, mode Mode) (Result, error) {
	budget := mode.MaxTokens()

	text, err := r.attempt(ctx, primary, messages, budget, false)
	if err == nil {
		return Result{Text: text, Model: primary}, nil
	}
	if mode != ModeFast {
		return Result{}, err
	}

	lastErr := err
	tried := map[string]struct{}{primary: {}}
	for _, candidate := range r.cfg.Fallbacks {
		if _, ok := tried[candidate]; ok {
			continue
		}
		tried[candidate] = struct{}{}
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("modelrouter: fallback aborted: %w", ctx.Err())
		}

		text, err := r.attempt(ctx, candidate, messages, budget, true)
		if err == nil {
			return Result{Text: text, Model: candidate}, nil
		}
		lastErr = err
	}
	return Result{}, lastErr
}

func (r *Router) attempt(ctx context.Context, model string, messages []domain.ChatMessage, budget int, fallback bool) (string, error) {
	text, err := r.llm.Chat(ctx, model, messages, budget)
	switch {
	case err != nil:
		r.observe(model, "error", fallback)
		return "", fmt.Errorf("modelrouter: %s: %w", model, err)
	case strings.TrimSpace(text) == "":
		r.observe(model, "empty", fallback)
		return "", fmt.Errorf("%w from %s", ErrEmptyResponse, model)
	case invalidOutput(strings.TrimSpace(text)):
		r.observe(model, "invalid", fallback)
		return "", fmt.Errorf("%w from %s: unusable output %q", ErrEmptyResponse, model, truncate(strings.TrimSpace(text), 40))
	default:
		r.observe(model, "ok", fallback)
		return strings.TrimSpace(text), nil
	}
}

// invalidOutput reports text that cannot be an answer: too short, a bare
// role name, or a JSON object.
func invalidOutput(text string) bool {
	if utf8.RuneCountInString(text) < minAnswerRunes {
		return true
	}
	switch strings.ToLower(text) {
	case "model", domain.RoleUser, domain.RoleAssistant:
		return true
	}
	return strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

func (r *Router) observe(model, outcome string, fallback bool) {
	if r.obs != nil {
		r.obs.ObserveAttempt(model, outcome, fallback)
	}
}
