// Package identity verifies bearer tokens against the hosted auth provider.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
)

const (
	// DefaultCacheTTL is how long a verified token is trusted without asking
	// the provider again.
	DefaultCacheTTL = 5 * time.Minute

	userPath = "/auth/v1/user"
)

// ErrUnauthorized reports a missing, expired or rejected token.
var ErrUnauthorized = errors.New("identity: unauthorized")

// User is the verified identity behind a token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Client calls GET {baseURL}/auth/v1/user with the caller's token.
type Client struct {
	http   *resty.Client
	apiKey string
	cache  *cache.Cache
}

// Option configures a Client.
type Option func(*Client)

// WithCacheTTL overrides DefaultCacheTTL. A zero or negative value disables
// caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl <= 0 {
			c.cache = nil
			return
		}
		c.cache = cache.New(ttl, 2*ttl)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// New returns a Client for the provider at baseURL. apiKey is the project's
// public key, sent as the "apikey" header.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("identity: base url must not be empty")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("identity: api key must not be empty")
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Accept", "application/json").
			SetTimeout(10 * time.Second),
		apiKey: apiKey,
		cache:  cache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Verify resolves token to a User. Any provider rejection or malformed
// answer is reported as ErrUnauthorized; transport failures are wrapped so
// callers can tell them apart.
func (c *Client) Verify(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, ErrUnauthorized
	}
	key := cacheKey(token)
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return v.(User), nil
		}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", c.apiKey).
		SetAuthToken(token).
		Get(userPath)
	if err != nil {
		return User{}, fmt.Errorf("identity: request: %w", err)
	}
	if !resp.IsSuccess() {
		return User{}, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode())
	}

	var u User
	if err := json.Unmarshal(resp.Body(), &u); err != nil {
		return User{}, fmt.Errorf("%w: decode user: %v", ErrUnauthorized, err)
	}
	if strings.TrimSpace(u.ID) == "" {
		return User{}, fmt.Errorf("%w: user id missing", ErrUnauthorized)
	}

	if c.cache != nil {
		c.cache.SetDefault(key, u)
	}
	return u, nil
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
