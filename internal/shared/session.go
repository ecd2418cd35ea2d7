package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionManager reads and issues cookie sessions backed by Redis. Sessions are
// normally issued by the sign-in service that shares the Redis keyspace; this
// service only needs the principal id they carry.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

// Session holds per-request session data.
type Session struct {
	ID        string
	principal uuid.UUID
	issuedAt  time.Time
}

type sessionPayload struct {
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		now:        time.Now,
	}
}

// Load resolves the session for the request. A missing cookie, an unknown or
// expired key, or a payload without a user yields an anonymous session.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return &Session{}, nil
		}
		return nil, err
	}

	raw, err := sm.client.Get(ctx, sm.redisKey(cookie.Value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &Session{ID: cookie.Value}, nil
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}

	var stored sessionPayload
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	sess := &Session{ID: cookie.Value, issuedAt: stored.IssuedAt}
	if stored.UserID != "" {
		id, err := uuid.Parse(stored.UserID)
		if err != nil {
			return nil, fmt.Errorf("session: principal: %w", err)
		}
		sess.principal = id
	}
	return sess, nil
}

// Issue stores a new session for principal and writes the cookie.
func (sm *SessionManager) Issue(ctx context.Context, w http.ResponseWriter, principal uuid.UUID) (*Session, error) {
	if principal == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	sess := &Session{ID: uuid.NewString(), principal: principal, issuedAt: sm.now().UTC()}
	data, err := json.Marshal(sessionPayload{UserID: principal.String(), IssuedAt: sess.issuedAt})
	if err != nil {
		return nil, err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
		return nil, fmt.Errorf("session: store: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  sm.now().Add(sm.ttl),
	})
	return sess, nil
}

// Destroy removes the session key and expires the cookie.
func (sm *SessionManager) Destroy(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return nil
	}
	if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Principal returns the authenticated user id, or uuid.Nil.
func (s *Session) Principal() uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.principal
}

// Authenticated reports whether the session carries a principal.
func (s *Session) Authenticated() bool {
	return s.Principal() != uuid.Nil
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}
