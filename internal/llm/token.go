// Package llm is the client side of the Authentication/LLM Gateway: a
// cached client-credentials token and a text completion call.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// TokenSource supplies bearer tokens.
type TokenSource interface {
	// Token returns a valid token, refreshing it when close to expiry.
	Token(ctx context.Context) (string, error)

	// Refresh fetches a new token unconditionally.
	Refresh(ctx context.Context) (string, error)
}

type token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenManager caches an OAuth client-credentials token.
//
// The current token is swapped atomically. Two callers racing past expiry
// may both refresh; the later swap wins and both tokens are valid.
type TokenManager struct {
	tokenURL     string
	clientID     string
	clientSecret string
	ttl          time.Duration
	buffer       time.Duration
	httpClient   *http.Client
	shared       domain.Cache

	current atomic.Pointer[token]
	now     func() time.Time
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithSharedCache mirrors the token into a cache shared across replicas.
func WithSharedCache(c domain.Cache) TokenManagerOption {
	return func(m *TokenManager) { m.shared = c }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) TokenManagerOption {
	return func(m *TokenManager) { m.httpClient = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) { m.now = now }
}

// NewTokenManager creates a token manager from gateway config.
func NewTokenManager(cfg domain.LLMConfig, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		ttl:          cfg.TokenTTL,
		buffer:       cfg.RefreshBuffer,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		now:          time.Now,
	}
	if m.ttl <= 0 {
		m.ttl = 30 * time.Minute
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token implements TokenSource.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if t := m.current.Load(); m.fresh(t) {
		return t.Value, nil
	}
	if t := m.loadShared(ctx); m.fresh(t) {
		m.current.Store(t)
		return t.Value, nil
	}
	return m.Refresh(ctx)
}

// Refresh implements TokenSource.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	t, err := m.fetch(ctx)
	if err != nil {
		return "", err
	}
	m.current.Store(t)
	m.storeShared(ctx, t)
	slog.Debug("llm token refreshed", "expiresAt", t.ExpiresAt)
	return t.Value, nil
}

func (m *TokenManager) fresh(t *token) bool {
	return t != nil && t.Value != "" && m.now().Before(t.ExpiresAt.Add(-m.buffer))
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *TokenManager) fetch(ctx context.Context) (*token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build token request: %v", domain.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token request: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: token endpoint returned %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: token response: %v", domain.ErrMalformedUpstreamResponse, err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", domain.ErrMalformedUpstreamResponse)
	}

	ttl := m.ttl
	if body.ExpiresIn > 0 {
		if d := time.Duration(body.ExpiresIn) * time.Second; d < ttl {
			ttl = d
		}
	}
	return &token{Value: body.AccessToken, ExpiresAt: m.now().Add(ttl)}, nil
}

func (m *TokenManager) loadShared(ctx context.Context) *token {
	if m.shared == nil {
		return nil
	}
	raw, err := m.shared.Get(ctx, domain.NamespaceToken, m.clientID)
	if err != nil || raw == nil {
		return nil
	}
	var t token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil
	}
	return &t
}

func (m *TokenManager) storeShared(ctx context.Context, t *token) {
	if m.shared == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	ttl := t.ExpiresAt.Sub(m.now())
	if err := m.shared.Set(ctx, domain.NamespaceToken, m.clientID, raw, ttl); err != nil {
		slog.Warn("failed to share llm token", "error", err)
	}
}
