package httpapi

import (
	"net/http"
	"strings"
	"time"

	"reviewhub.org/internal/audit"
	"reviewhub.org/internal/auth"
)

type tokenRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.credentials == nil {
		writeError(w, r, http.StatusServiceUnavailable, "token issuance disabled")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	login := strings.TrimSpace(req.Login)
	if login == "" {
		writeError(w, r, http.StatusBadRequest, "login is required")
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	// Identical failure for unknown logins and wrong passwords.
	user, hash, err := a.credentials.CredentialsByLogin(r.Context(), login)
	if err != nil || !auth.VerifyPassword(req.Password, hash) {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(user.UUID, user.Login, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"login":      user.Login,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
