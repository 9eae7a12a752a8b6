package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"monitordb.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requireAuth authenticates the bearer token and, when permission is
// non-empty, checks it before handing the request to next. Verified
// claims land on the request context.
func (a *API) requireAuth(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}

		var claims *auth.Claims
		if permission == "" {
			claims, err = a.svc.Authenticate(r.Context(), token)
		} else {
			claims, err = a.svc.Authorize(r.Context(), token, permission)
		}
		if err != nil {
			a.respondAuthError(w, err)
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuthFunc is requireAuth for handlers that run their own
// permission check against the request body.
func (a *API) requireAuthFunc(fn http.HandlerFunc) http.Handler {
	return a.requireAuth("", fn)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
