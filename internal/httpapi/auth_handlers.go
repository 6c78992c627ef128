package httpapi

import (
	"net/http"
	"strings"
	"time"

	"paybook.org/internal/audit"
	"paybook.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleAuthLogin exchanges stored credentials for a token. Unlike the dev
// token endpoint, roles come from the user record, not the request.
func (a *API) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.users == nil {
		writeError(w, r, http.StatusServiceUnavailable, "credential login disabled")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	principal, err := a.users.Login(r.Context(), email, req.Password)
	if err != nil {
		// one failure mode on purpose: no account/password/status distinction
		w.Header().Set("WWW-Authenticate", `Bearer realm="paybook"`)
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(principal.UserID, principal.Roles, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":    principal.UserID,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:        token,
		ExpiresAt:    expiresAt,
		Capabilities: principal.SortedCapabilities(),
	})
}
