// Package auth stores the Story API bearer token of the page user.
package auth

import (
	"context"
	"crypto/sha256"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"

	"github.com/storyapp/storyapp/internal/errors"
)

const (
	component   = "auth"
	sessionName = "storyapp"
	tokenKey    = "token"
	userKey     = "name"
)

// TokenStore keeps the auth token between requests.
type TokenStore interface {
	Token(ctx context.Context) (string, bool)
	SetToken(ctx context.Context, token, name string) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore holds a single token, for one-user pages and tests.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
	name  string
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (s *MemoryTokenStore) Token(context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

func (s *MemoryTokenStore) SetToken(_ context.Context, token, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.name = token, name
	return nil
}

func (s *MemoryTokenStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.name = "", ""
	return nil
}

type httpKey struct{}

type httpPair struct {
	w http.ResponseWriter
	r *http.Request
}

// WithHTTP attaches the request being served so a SessionTokenStore can
// read and write its session cookie.
func WithHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context {
	return context.WithValue(ctx, httpKey{}, httpPair{w: w, r: r})
}

func fromContext(ctx context.Context) (httpPair, bool) {
	p, ok := ctx.Value(httpKey{}).(httpPair)
	return p, ok && p.r != nil
}

// SessionTokenStore keeps the token in a signed, encrypted cookie session.
type SessionTokenStore struct {
	store sessions.Store
}

// NewSessionTokenStore creates a cookie backed store. secret must be at
// least 32 bytes; the signing and encryption keys are derived from it.
func NewSessionTokenStore(secret []byte, secure bool) (*SessionTokenStore, error) {
	if len(secret) < 32 {
		return nil, errors.Newf("session secret must be at least 32 bytes").
			Component(component).
			Category(errors.CategoryConfiguration).
			Context("length", len(secret)).
			Build()
	}
	hashKey, err := deriveKey(secret, "storyapp session signing", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(secret, "storyapp session encryption", 32)
	if err != nil {
		return nil, err
	}
	cs := sessions.NewCookieStore(hashKey, blockKey)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionTokenStore{store: cs}, nil
}

func deriveKey(secret []byte, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, errors.New(err).Component(component).Category(errors.CategoryConfiguration).Build()
	}
	return key, nil
}

func (s *SessionTokenStore) session(ctx context.Context) (*sessions.Session, httpPair, error) {
	p, ok := fromContext(ctx)
	if !ok {
		return nil, p, errors.Newf("no http request in context").
			Component(component).
			Category(errors.CategoryGeneric).
			Build()
	}
	// A cookie that fails to decode yields a fresh session and an error;
	// the fresh session is still usable.
	sess, err := s.store.Get(p.r, sessionName)
	if sess == nil {
		return nil, p, errors.New(err).Component(component).Category(errors.CategoryAuth).Build()
	}
	return sess, p, nil
}

func (s *SessionTokenStore) Token(ctx context.Context) (string, bool) {
	sess, _, err := s.session(ctx)
	if err != nil {
		return "", false
	}
	token, _ := sess.Values[tokenKey].(string)
	return token, token != ""
}

// Name returns the display name stored at login.
func (s *SessionTokenStore) Name(ctx context.Context) string {
	sess, _, err := s.session(ctx)
	if err != nil {
		return ""
	}
	name, _ := sess.Values[userKey].(string)
	return name
}

func (s *SessionTokenStore) SetToken(ctx context.Context, token, name string) error {
	sess, p, err := s.session(ctx)
	if err != nil {
		return err
	}
	sess.Values[tokenKey] = token
	sess.Values[userKey] = name
	return s.save(sess, p)
}

func (s *SessionTokenStore) Clear(ctx context.Context) error {
	sess, p, err := s.session(ctx)
	if err != nil {
		return err
	}
	delete(sess.Values, tokenKey)
	delete(sess.Values, userKey)
	sess.Options.MaxAge = -1
	return s.save(sess, p)
}

func (s *SessionTokenStore) save(sess *sessions.Session, p httpPair) error {
	if p.w == nil {
		return errors.Newf("session cannot be saved without a response writer").
			Component(component).
			Category(errors.CategoryGeneric).
			Build()
	}
	if err := sess.Save(p.r, p.w); err != nil {
		return errors.New(err).Component(component).Category(errors.CategoryAuth).Build()
	}
	return nil
}
