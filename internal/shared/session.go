package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionManager resolves cookie sessions stored in Redis. Sessions are written by
// the login service under the same key layout; reads slide the expiry forward.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session holds the authenticated user of a request.
type Session struct {
	ID        string
	userID    string
	createdAt time.Time
}

type sessionPayload struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}
}

// Load returns the request's session, or nil when there is no valid session cookie.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return nil, nil
	}
	payload, err := sm.client.Get(ctx, sm.redisKey(cookie.Value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	if err := sm.client.Expire(ctx, sm.redisKey(cookie.Value), sm.ttl).Err(); err != nil {
		return nil, err
	}
	return &Session{ID: cookie.Value, userID: stored.UserID, createdAt: stored.CreatedAt}, nil
}

// Create stores a session for userID and sets the cookie on w.
func (sm *SessionManager) Create(ctx context.Context, w http.ResponseWriter, userID string) (*Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	sess := &Session{ID: id.String(), userID: userID, createdAt: time.Now().UTC()}
	data, err := json.Marshal(sessionPayload{UserID: sess.userID, CreatedAt: sess.createdAt})
	if err != nil {
		return nil, err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sm.ttl),
	})
	return sess, nil
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// User returns the authenticated user ID.
func (s *Session) User() string {
	if s == nil {
		return ""
	}
	return s.userID
}

// SetUser assigns the authenticated user ID.
func (s *Session) SetUser(userID string) {
	s.userID = userID
}

// CreatedAt returns when the session was issued.
func (s *Session) CreatedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.createdAt
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}
