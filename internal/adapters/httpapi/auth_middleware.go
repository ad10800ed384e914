package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campus-carpool/rides-api/internal/adapters/oidc"
	"github.com/campus-carpool/rides-api/internal/app/apperr"
	"github.com/campus-carpool/rides-api/internal/app/workspace"
	"github.com/campus-carpool/rides-api/internal/platform/auth/jwtverifier"
	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
)

type ClaimsVerifier interface {
	VerifyClaims(ctx context.Context, token string) (jwtverifier.Claims, error)
}

// NewAuthMiddleware enforces Authorization: Bearer <ID token>.
//
// On success, it stores the verified Principal (subject and profile claims) in
// request context.
func NewAuthMiddleware(v ClaimsVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			// Browsers cannot set headers on WebSocket handshakes.
			if authz == "" && websocket.IsWebSocketUpgrade(r) {
				if tok := r.URL.Query().Get("access_token"); tok != "" {
					authz = "Bearer " + tok
				}
			}
			if authz == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing Authorization header", nil)
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authz, prefix) {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed Authorization header", nil)
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
			if raw == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}

			claims, err := v.VerifyClaims(r.Context(), raw)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
				return
			}

			p := Principal{Subject: claims.Subject, User: oidc.UserFromClaims(claims)}
			if claims.ExpiresAt != nil {
				p.ExpiresAt = claims.ExpiresAt.Time.UTC()
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// NewDevAuthMiddleware is a local/dev-only auth shim.
//
// It accepts an explicit subject via X-Debug-Subject (plus optional
// X-Debug-Email and X-Debug-Name) and stores it in request context. If the
// subject header is absent, it falls back to defaultSubject and defaultEmail.
// An explicit subject without an email borrows defaultEmail's domain.
//
// Do NOT use this in production deployments.
func NewDevAuthMiddleware(defaultSubject, defaultEmail string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub := strings.TrimSpace(r.Header.Get("X-Debug-Subject"))
			email := strings.TrimSpace(r.Header.Get("X-Debug-Email"))
			switch {
			case sub == "":
				sub = strings.TrimSpace(defaultSubject)
				if email == "" {
					email = strings.TrimSpace(defaultEmail)
				}
			case email == "":
				// <subject>@<domain of defaultEmail>
				if at := strings.LastIndex(defaultEmail, "@"); at >= 0 {
					email = sub + strings.TrimSpace(defaultEmail[at:])
				}
			}
			if sub == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing subject (set X-Debug-Subject)", nil)
				return
			}

			p := Principal{
				Subject: sub,
				User: identity.ExternalUser{
					ID:       sub,
					Email:    email,
					FullName: strings.TrimSpace(r.Header.Get("X-Debug-Name")),
				},
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// sessionObserver is implemented by providers that learn about sign-in from
// verified requests rather than from a browser session of their own.
type sessionObserver interface {
	Observe(u identity.ExternalUser, expiresAt time.Time)
}

// NewWorkspaceMiddleware opens the caller's workspace, feeds it the verified
// identity and rejects requests whose identity the session store refused.
func NewWorkspaceMiddleware(reg *workspace.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing subject", nil)
				return
			}
			ws, err := reg.Open(r.Context(), p.Subject)
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, "INTERNAL", "could not open session", nil)
				return
			}
			if o, ok := ws.Provider.(sessionObserver); ok {
				o.Observe(p.User, p.ExpiresAt)
			}

			if !ws.Session.IsAuthenticated() {
				err := ws.Session.LastError()
				if !errors.Is(err, apperr.ErrDomainRejected) {
					// A concurrent first request may still be loading the profile.
					err = ws.Session.Authenticate(r.Context(), p.User)
				}
				if err != nil || !ws.Session.IsAuthenticated() {
					switch {
					case errors.Is(err, apperr.ErrDomainRejected):
						_ = reg.Close(p.Subject)
						writeAppError(w, r, err)
					case err != nil:
						writeAppError(w, r, err)
					default:
						writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "no active session", nil)
					}
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithWorkspace(r.Context(), ws)))
		})
	}
}
