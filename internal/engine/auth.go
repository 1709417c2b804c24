package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/ringside/internal/core/crypto"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// SessionCookie is the name of the admin session cookie.
const SessionCookie = "ringside_session"

// ErrBadCredentials is returned when an email/password pair does not match an admin.
var ErrBadCredentials = errors.New("invalid email or password")

// AuthContext describes who is making a request.
type AuthContext struct {
	Authenticated bool
	AdminID       int64
	Email         string
	Name          string
	Via           string // "session" or "api_key"
}

type authContextKey struct{}

// AuthFromRequest extracts AuthContext from an HTTP request's context.
func AuthFromRequest(r *http.Request) AuthContext {
	return AuthFromContext(r.Context())
}

// AuthFromContext extracts AuthContext from a context.
func AuthFromContext(ctx context.Context) AuthContext {
	if ac, ok := ctx.Value(authContextKey{}).(AuthContext); ok {
		return ac
	}
	return AuthContext{}
}

// WithAuth stores an AuthContext in a context.
func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// AuthMiddleware resolves the admin from the session cookie or the
// "Authorization: Bearer <api key>" header. Requests without credentials
// continue unauthenticated; handlers decide whether that is allowed.
func AuthMiddleware(store *Store, apiKey string, logger *slog.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				if apiKey != "" && crypto.Equal(strings.TrimSpace(token), apiKey) {
					ac := AuthContext{Authenticated: true, Name: "api", Via: "api_key"}
					next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), ac)))
					return
				}
				logger.Debug("rejected bearer token", "path", r.URL.Path)
			}

			if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
				admin, err := store.SessionAdmin(r.Context(), c.Value)
				switch {
				case err == nil:
					ac := AuthContext{
						Authenticated: true,
						AdminID:       admin.ID,
						Email:         admin.Email,
						Name:          admin.Name,
						Via:           "session",
					}
					next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), ac)))
					return
				case !errors.Is(err, ErrNotFound):
					logger.Error("failed to resolve admin session", "error", err)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Admin users and sessions
// =============================================================================

// AdminUser is a row of admin_users.
type AdminUser struct {
	ID           int64     `db:"id"`
	ReferenceID  string    `db:"reference_id"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

const adminColumns = "u.id, u.reference_id, u.email, u.name, u.password_hash, u.created_at"

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UpsertAdmin creates an admin or resets the name and password of an existing one.
func (s *Store) UpsertAdmin(ctx context.Context, email, name, password string) (AdminUser, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return AdminUser{}, fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return AdminUser{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	now := s.Now()
	_, err = s.RawExec(ctx, `
		INSERT INTO admin_users (reference_id, email, name, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			name = excluded.name,
			password_hash = excluded.password_hash,
			updated_at = excluded.updated_at`,
		"adm_"+uuid.New().String()[:8], email, name, hash, now, now)
	if err != nil {
		return AdminUser{}, fmt.Errorf("upsert admin: %w", err)
	}
	return s.adminByEmail(ctx, email)
}

func (s *Store) adminByEmail(ctx context.Context, email string) (AdminUser, error) {
	var u AdminUser
	err := s.db.GetContext(ctx, &u, s.db.Rebind("SELECT "+adminColumns+" FROM admin_users u WHERE u.email = ?"), email)
	if errors.Is(err, sql.ErrNoRows) {
		return AdminUser{}, fmt.Errorf("admin %s: %w", email, ErrNotFound)
	}
	return u, err
}

// Authenticate checks an email/password pair.
func (s *Store) Authenticate(ctx context.Context, email, password string) (AdminUser, error) {
	u, err := s.adminByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return AdminUser{}, ErrBadCredentials
	}
	if err != nil {
		return AdminUser{}, err
	}
	if err := crypto.CheckPassword(u.PasswordHash, password); err != nil {
		return AdminUser{}, ErrBadCredentials
	}
	return u, nil
}

// CreateSession starts a session for the admin and returns the cookie token.
func (s *Store) CreateSession(ctx context.Context, adminID int64, ttl time.Duration) (string, time.Time, error) {
	token, err := crypto.NewToken()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.Now()
	expires := now.Add(ttl)
	_, err = s.RawExec(ctx,
		"INSERT INTO admin_sessions (token_hash, admin_user_id, expires_at, created_at) VALUES (?, ?, ?, ?)",
		crypto.HashToken(token), adminID, expires, now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create session: %w", err)
	}
	return token, expires, nil
}

// SessionAdmin returns the admin owning an unexpired session token.
func (s *Store) SessionAdmin(ctx context.Context, token string) (AdminUser, error) {
	var u AdminUser
	query := "SELECT " + adminColumns + ` FROM admin_sessions s
		JOIN admin_users u ON u.id = s.admin_user_id
		WHERE s.token_hash = ? AND s.expires_at > ?`
	err := s.db.GetContext(ctx, &u, s.db.Rebind(query), crypto.HashToken(token), s.Now())
	if errors.Is(err, sql.ErrNoRows) {
		return AdminUser{}, fmt.Errorf("session: %w", ErrNotFound)
	}
	return u, err
}

// DeleteSession ends a session.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.RawExec(ctx, "DELETE FROM admin_sessions WHERE token_hash = ?", crypto.HashToken(token))
	return err
}

// PurgeExpiredSessions deletes expired sessions and returns how many were removed.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.RawExec(ctx, "DELETE FROM admin_sessions WHERE expires_at <= ?", s.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
