// Package quota enforces the per-user daily call budget.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-worker/internal/domain"
)

const (
	// DefaultMaxPerDay is the budget used when none is configured.
	DefaultMaxPerDay = 40
	// Retention is how long a counter survives after its last write.
	Retention = 48 * time.Hour

	// DefaultPrefix namespaces chat counters.
	DefaultPrefix = "rl:"

	dayLayout = "20060102"
)

// Store performs the conditional increment for one counter record.
//
// IncrementBelow must, as a single atomic operation, increment the counter
// identified by rec.Key unless its current value is already >= limit. It
// returns the new count and admitted=true on increment, or admitted=false
// when the counter was left untouched.
//
// Count returns the current value of the counter at key, 0 when absent. It
// never modifies the counter.
type Store interface {
	IncrementBelow(ctx context.Context, rec domain.QuotaRecord, limit int) (newCount int, admitted bool, err error)
	Count(ctx context.Context, key string) (int, error)
}

// Limiter gates requests against a Store.
type Limiter struct {
	store  Store
	max    int
	prefix string
	now    func() time.Time
}

type Option func(*Limiter)

// WithKeyPrefix keeps this limiter's counters apart from others sharing the
// same store.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			l.prefix = prefix
		}
	}
}

// New returns a Limiter admitting at most limit calls per user per UTC day.
// Values below 1 are raised to 1.
func New(store Store, limit int, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("quota: store must not be nil")
	}
	if limit < 1 {
		limit = 1
	}
	l := &Limiter{store: store, max: limit, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Max returns the configured daily budget.
func (l *Limiter) Max() int { return l.max }

// Key returns the chat counter key for userID on the UTC day containing day.
func Key(userID string, day time.Time) string {
	return keyFor(DefaultPrefix, userID, day)
}

func keyFor(prefix, userID string, day time.Time) string {
	return prefix + userID + ":" + day.UTC().Format(dayLayout)
}

// Remaining reports userID's budget for the UTC day of today without
// consuming it. Admitted tells whether the next call would be let through.
func (l *Limiter) Remaining(ctx context.Context, userID string, today time.Time) (domain.QuotaDecision, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.QuotaDecision{}, errors.New("quota: user id must not be empty")
	}
	key := keyFor(l.prefix, userID, today)
	count, err := l.store.Count(ctx, key)
	if err != nil {
		return domain.QuotaDecision{}, fmt.Errorf("quota: remaining %s: %w", key, err)
	}
	left := max(l.max-count, 0)
	return domain.QuotaDecision{Admitted: left > 0, Remaining: left, Max: l.max}, nil
}

// Admit consumes one unit of userID's budget for the UTC day of today.
func (l *Limiter) Admit(ctx context.Context, userID string, today time.Time) (domain.QuotaDecision, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.QuotaDecision{}, errors.New("quota: user id must not be empty")
	}
	rec := domain.QuotaRecord{
		Key:    keyFor(l.prefix, userID, today),
		UserID: userID,
		Day:    today.UTC().Format(dayLayout),
		TTL:    l.now().Add(Retention).Unix(),
	}

	count, admitted, err := l.store.IncrementBelow(ctx, rec, l.max)
	if err != nil {
		return domain.QuotaDecision{}, fmt.Errorf("quota: admit %s: %w", rec.Key, err)
	}
	if !admitted {
		return domain.QuotaDecision{Admitted: false, Remaining: 0, Max: l.max}, nil
	}
	return domain.QuotaDecision{Admitted: true, Remaining: max(l.max-count, 0), Max: l.max}, nil
}
