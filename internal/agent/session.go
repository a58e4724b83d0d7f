package agent

import (
	"context"
	"errors"
	"time"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultSessionTTL is how long an idle conversation is kept.
const DefaultSessionTTL = time.Hour

// SessionStore keeps transcripts in the shared cache.
type SessionStore struct {
	cache domain.Cache
	ttl   time.Duration
}

// NewSessionStore creates a store over c.
func NewSessionStore(c domain.Cache, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{cache: c, ttl: ttl}
}

// Load returns the transcript for id, or nil when there is none.
func (s *SessionStore) Load(ctx context.Context, id string) (Transcript, error) {
	if s.cache == nil {
		return nil, errors.New("session cache not configured")
	}
	var t Transcript
	found, err := cache.GetJSON(ctx, s.cache, domain.NamespaceSession, id, &t)
	if err != nil || !found {
		return nil, err
	}
	return t, nil
}

// Save stores the transcript and restarts its TTL.
func (s *SessionStore) Save(ctx context.Context, id string, t Transcript) error {
	if s.cache == nil {
		return errors.New("session cache not configured")
	}
	return cache.SetJSON(ctx, s.cache, domain.NamespaceSession, id, t, s.ttl)
}

// Delete drops a session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, domain.NamespaceSession, id)
}
