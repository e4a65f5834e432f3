package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"reviewhub.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the request principal. A valid bearer token yields an
// authenticated principal; no token yields the anonymous one, since public
// projects are browsable without credentials. Only a malformed or expired
// token is rejected here.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" {
			ctx := auth.ContextWithPrincipal(r.Context(), auth.Anonymous())
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		principal, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalOf(r *http.Request) auth.Principal {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return auth.Anonymous()
	}
	return p
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
