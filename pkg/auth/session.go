package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

// SessionName is the name of the login session cookie.
const SessionName = "signportal-session"

const sessionKeyToken = "token"

// ErrNoSession is returned when the request carries no usable session.
var ErrNoSession = errors.New("no session token")

// SessionStore keeps the login token in a signed, encrypted cookie so
// browser clients do not need to handle the bearer token themselves.
type SessionStore struct {
	store *sessions.CookieStore
}

// NewSessionStore creates a cookie store for login sessions.
//
// The secret can be any passphrase; it is SHA-256 hashed into the
// signing key and a second hash is used as the encryption key. It must be
// the same on every instance behind a load balancer. An empty secret
// generates a random one, which logs everyone out on restart.
func NewSessionStore(secret string, ttl time.Duration, settings CookieSettings) (*SessionStore, error) {
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		secret = string(buf)
	}

	hashKey := sha256.Sum256([]byte(secret))
	blockKey := sha256.Sum256(append([]byte("enc:"), secret...))

	store := sessions.NewCookieStore(hashKey[:], blockKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   settings.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   settings.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{store: store}, nil
}

// Save stores token in the session cookie.
func (s *SessionStore) Save(w http.ResponseWriter, r *http.Request, token string) error {
	// A cookie signed with an old secret still yields a fresh session.
	session, err := s.store.Get(r, SessionName)
	if session == nil {
		return fmt.Errorf("create session: %w", err)
	}
	session.Values[sessionKeyToken] = token
	return session.Save(r, w)
}

// Token returns the token stored in the request's session cookie.
func (s *SessionStore) Token(r *http.Request) (string, error) {
	if _, err := r.Cookie(SessionName); err != nil {
		return "", ErrNoSession
	}
	session, err := s.store.Get(r, SessionName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	token, ok := session.Values[sessionKeyToken].(string)
	if !ok || token == "" {
		return "", ErrNoSession
	}
	return token, nil
}

// Clear expires the session cookie.
func (s *SessionStore) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, SessionName)
	if session == nil {
		return nil
	}
	delete(session.Values, sessionKeyToken)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
