package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultCookieName = "samlsp_session"
	defaultSessionTTL = 8 * time.Hour

	minSecretLen = 32
)

var ErrNoSession = errors.New("no session")

// Session is the local login state carried in the session cookie.
type Session struct {
	AccountID    string
	NameID       string
	NameIDFormat string
	SessionIndex string
	Roles        []string
}

type sessionClaims struct {
	jwt.RegisteredClaims

	AccountID    string   `json:"acct,omitempty"`
	NameIDFormat string   `json:"nif,omitempty"`
	SessionIndex string   `json:"six,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

// Sessions issues and reads signed session cookies. The cookie value is an
// HS256 JWT; the session lives entirely client-side, so terminating it means
// clearing the cookie.
type Sessions struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
}

// NewSessions creates a session manager with the given signing secret. The
// secret must carry at least 32 bytes of entropy.
func NewSessions(secret []byte, secureCookies bool) (*Sessions, error) {
	const op = "handler.NewSessions"

	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("%s: session secret must be at least %d bytes", op, minSecretLen)
	}

	return &Sessions{
		secret:     secret,
		cookieName: defaultCookieName,
		ttl:        defaultSessionTTL,
		secure:     secureCookies,
	}, nil
}

// Issue writes a session cookie for the given session.
func (s *Sessions) Issue(w http.ResponseWriter, session *Session) error {
	const op = "handler.Sessions.Issue"

	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.NameID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		AccountID:    session.AccountID,
		NameIDFormat: session.NameIDFormat,
		SessionIndex: session.SessionIndex,
		Roles:        session.Roles,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("%s: signing session token: %w", op, err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Read returns the session carried by the request, or ErrNoSession when
// there is none or it does not verify.
func (s *Sessions) Read(r *http.Request) (*Session, error) {
	const op = "handler.Sessions.Read"

	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return nil, ErrNoSession
	}

	var claims sessionClaims
	_, err = jwt.ParseWithClaims(cookie.Value, &claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrNoSession, err)
	}

	return &Session{
		AccountID:    claims.AccountID,
		NameID:       claims.Subject,
		NameIDFormat: claims.NameIDFormat,
		SessionIndex: claims.SessionIndex,
		Roles:        claims.Roles,
	}, nil
}

// Clear terminates the session by expiring the cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
