package cart

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/atomic-shop/internal/common"
)

const (
	// UserHeader carries the authenticated user id set by the upstream gateway.
	UserHeader = "X-User-ID"
	// SessionHeader carries the anonymous cart session token.
	SessionHeader = "X-Cart-Session"
	// DefaultSessionCookie is the cookie holding the anonymous cart session token.
	DefaultSessionCookie = "cart_session"
)

// ErrInvalidOwner is returned when a cart owner is not exactly one of user or session.
var ErrInvalidOwner = errors.New("cart owner must be exactly one of user or session")

// Owner identifies who a cart belongs to: a user or an anonymous session, never both.
type Owner struct {
	UserID       uuid.UUID
	SessionToken string
}

// UserOwner returns an owner for an authenticated user.
func UserOwner(id uuid.UUID) Owner { return Owner{UserID: id} }

// SessionOwner returns an owner for an anonymous session.
func SessionOwner(token string) Owner { return Owner{SessionToken: strings.TrimSpace(token)} }

// IsUser reports whether the owner is an authenticated user.
func (o Owner) IsUser() bool { return o.UserID != uuid.Nil }

// Validate enforces the single-owner rule.
func (o Owner) Validate() error {
	hasUser := o.UserID != uuid.Nil
	hasSession := strings.TrimSpace(o.SessionToken) != ""
	if hasUser == hasSession {
		return ErrInvalidOwner
	}
	return nil
}

// LogValue is a short, non-secret owner label for logs.
func (o Owner) LogValue() string {
	if o.IsUser() {
		return "user:" + o.UserID.String()
	}
	if o.SessionToken == "" {
		return "none"
	}
	return "session:" + common.RedactToken(o.SessionToken, 12)
}

func (o Owner) columns() (pgtype.UUID, pgtype.Text) {
	if o.IsUser() {
		return pgtype.UUID{Bytes: o.UserID, Valid: true}, pgtype.Text{}
	}
	return pgtype.UUID{}, pgtype.Text{String: o.SessionToken, Valid: true}
}

// OwnerFromContext reads the owner placed on the context by OwnerMiddleware.
// A user id takes precedence over a session token.
func OwnerFromContext(ctx context.Context) (Owner, error) {
	if raw, ok := common.UserID(ctx); ok {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Owner{}, ErrInvalidOwner
		}
		return UserOwner(id), nil
	}
	if token, ok := common.SessionToken(ctx); ok {
		return SessionOwner(token), nil
	}
	return Owner{}, ErrInvalidOwner
}

// OwnerMiddleware resolves the cart owner from the request. A missing
// session is minted and returned to the client as a cookie and header.
type OwnerMiddleware struct {
	CookieName string
	CookieTTL  time.Duration
	Secure     bool
}

func (m OwnerMiddleware) cookieName() string {
	if m.CookieName == "" {
		return DefaultSessionCookie
	}
	return m.CookieName
}

// Middleware implements chi middleware.
func (m OwnerMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
			if _, err := uuid.Parse(user); err != nil {
				common.WriteError(w, common.BadRequest("invalid user id", nil))
				return
			}
			ctx = common.WithUserID(ctx, user)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if _, ok := common.UserID(ctx); ok {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(SessionHeader))
		if token == "" {
			if c, err := r.Cookie(m.cookieName()); err == nil {
				token = strings.TrimSpace(c.Value)
			}
		}
		if token == "" {
			token = uuid.NewString()
			ttl := m.CookieTTL
			if ttl <= 0 {
				ttl = 30 * 24 * time.Hour
			}
			http.SetCookie(w, &http.Cookie{
				Name:     m.cookieName(),
				Value:    token,
				Path:     "/",
				MaxAge:   int(ttl.Seconds()),
				HttpOnly: true,
				Secure:   m.Secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		w.Header().Set(SessionHeader, token)
		next.ServeHTTP(w, r.WithContext(common.WithSessionToken(ctx, token)))
	})
}
