package site

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blogreach/blogreach/internal/bot"
)

// SessionCache authenticates credential identities against the site and
// caches the resulting sessions. Sessions are partitioned per username so
// bots running under different accounts never see each other's cookies.
//
// The mutex guards only the maps; network calls run unlocked, so two bots
// logging in as different users authenticate concurrently. Two concurrent
// logins for the same user may both hit the network, with the later result
// winning the cache slot. That is harmless: both sessions are valid.
type SessionCache struct {
	adapter Adapter
	clock   bot.Clock
	ttl     time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	// Anonymous login-page tokens are shared across identities; they are
	// not tied to a user until the credential exchange.
	anonTokens TokenSet
	anonExpiry time.Time
}

// NewSessionCache creates a cache whose sessions expire after ttl.
func NewSessionCache(adapter Adapter, clock bot.Clock, ttl time.Duration, logger *zap.Logger) *SessionCache {
	return &SessionCache{
		adapter:  adapter,
		clock:    clock,
		ttl:      ttl,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Authenticate returns a live session for the given credentials, logging in
// when no unexpired session is cached.
func (c *SessionCache) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	now := c.clock.Now()

	c.mu.Lock()
	if sess := c.sessions[username]; !sess.expired(now) {
		c.mu.Unlock()
		return sess, nil
	}
	c.mu.Unlock()

	tokens, err := c.ensureTokens(ctx, now)
	if err != nil {
		return nil, err
	}

	cookies, err := c.adapter.ExchangeCredentials(ctx, tokens, username, password)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		Tokens:    tokens,
		Cookies:   cookies,
		user:      username,
		expiresAt: now.Add(c.ttl),
	}

	// Profile scraping is best-effort; a miss only loses ask attribution.
	profile, err := c.adapter.FetchProfile(ctx, sess)
	if err != nil {
		c.logger.Warn("profile fetch failed", zap.String("user", username), zap.Error(err))
	} else {
		sess.Profile = profile
	}

	c.mu.Lock()
	c.sessions[username] = sess
	c.mu.Unlock()

	c.logger.Info("authenticated", zap.String("user", username), zap.Time("expires_at", sess.expiresAt))
	return sess, nil
}

// IsLoggedInAs reports whether an unexpired session exists for the user.
func (c *SessionCache) IsLoggedInAs(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.sessions[username].expired(c.clock.Now())
}

// Invalidate drops the cached session for the user, forcing the next
// Authenticate to log in again.
func (c *SessionCache) Invalidate(username string) {
	c.mu.Lock()
	delete(c.sessions, username)
	c.mu.Unlock()
}

// Sweep removes expired sessions and stale anonymous tokens. Authenticate
// already evicts lazily; the sweep keeps the map from accumulating entries
// for identities that never log in again. Returns the number of sessions
// removed.
func (c *SessionCache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for user, sess := range c.sessions {
		if sess.expired(now) {
			delete(c.sessions, user)
			removed++
		}
	}
	if !now.Before(c.anonExpiry) {
		c.anonTokens = TokenSet{}
	}
	if removed > 0 {
		c.logger.Debug("swept expired sessions", zap.Int("removed", removed))
	}
	return removed
}

func (c *SessionCache) ensureTokens(ctx context.Context, now time.Time) (TokenSet, error) {
	c.mu.Lock()
	if c.anonTokens.Complete() && now.Before(c.anonExpiry) {
		tokens := c.anonTokens
		c.mu.Unlock()
		return tokens, nil
	}
	c.mu.Unlock()

	tokens, err := c.adapter.FetchLoginPage(ctx)
	if err != nil {
		return TokenSet{}, err
	}

	c.mu.Lock()
	c.anonTokens = tokens
	c.anonExpiry = now.Add(c.ttl)
	c.mu.Unlock()
	return tokens, nil
}
