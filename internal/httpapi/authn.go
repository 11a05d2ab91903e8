package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"mdscloud.org/identity/internal/identity"
	"mdscloud.org/identity/internal/obs"
)

const authHeader = "Authorization"

var publicPaths = map[string]bool{
	"/v1/authenticate":    true,
	"/v1/register":        true,
	"/v1/publicSignature": true,
	"/healthz":            true,
	"/readyz":             true,
	"/metrics":            true,
	"/":                   true,
}

// withAuth resolves the bearer token into a request principal. A missing or
// invalid token leaves the request anonymous rather than failing it here;
// role requirements downstream decide whether anonymous is acceptable.
// Infrastructure failures (store unreachable, key files unreadable) do fail
// the request.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(authHeader))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) || identity.IsAuthenticationFailure(err) {
				obs.Logger().WithField("request_id", RequestIDFromContext(r.Context())).
					Debug("bearer token rejected")
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := identity.ContextWithPrincipal(r.Context(), principal)
		ctx = identity.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects requests whose principal lacks the given role:
// 401 when anonymous, 403 when authenticated without the role.
func RequireRole(role identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := identity.PrincipalFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !principal.HasRole(role) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
