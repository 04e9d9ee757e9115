// Package auth resolves the caller of an HTTP request to a user id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
)

// SessionCookie is the cookie the web app's auth library sets.
const SessionCookie = "better-auth.session_token"

// SessionProvider authenticates a request. Implementations return an error
// matching ErrUnauthorized when there is no valid session.
type SessionProvider interface {
	Authenticate(r *http.Request) (string, error)
}

// Querier is the part of a pgx pool used for session lookups.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSessions looks sessions up in the sessions table.
type PostgresSessions struct {
	db     Querier
	logger logging.Logger
	now    func() time.Time
}

// NewPostgresSessions creates a session provider over db.
func NewPostgresSessions(db Querier, logger logging.Logger) *PostgresSessions {
	return &PostgresSessions{
		db:     db,
		logger: logger.With(logging.F("component", "auth")),
		now:    time.Now,
	}
}

// Authenticate implements SessionProvider.
func (p *PostgresSessions) Authenticate(r *http.Request) (string, error) {
	token := Token(r)
	if token == "" {
		return "", dgerrors.ErrUnauthorized
	}

	query := `
		SELECT user_id FROM sessions
		WHERE token = $1 AND expires_at > $2
	`

	var userID string
	err := p.db.QueryRow(r.Context(), query, token, p.now().UTC()).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", dgerrors.ErrUnauthorized
	}
	if err != nil {
		p.logger.Error("Session lookup failed", logging.Err(err))
		return "", fmt.Errorf("session lookup: %w", err)
	}
	return userID, nil
}

// Token extracts the session token from a bearer Authorization header or,
// failing that, the session cookie. Signed cookie values have the form
// <token>.<signature>; only the token part is returned.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if v := strings.TrimSpace(value); v != "" {
				return v
			}
		}
	}

	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return ""
	}
	value, err := url.QueryUnescape(c.Value)
	if err != nil {
		value = c.Value
	}
	token, _, _ := strings.Cut(value, ".")
	return token
}

// Static authenticates against a fixed token to user id map. It backs
// `digest serve --dev-token` and tests.
type Static map[string]string

// Authenticate implements SessionProvider.
func (s Static) Authenticate(r *http.Request) (string, error) {
	if userID, ok := s[Token(r)]; ok && userID != "" {
		return userID, nil
	}
	return "", dgerrors.ErrUnauthorized
}
