package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/faucetdb/latch/internal/service"
)

// DefaultSessionTTL is the lifetime of admin session tokens.
const DefaultSessionTTL = 24 * time.Hour

// SystemHandler manages admin sessions.
type SystemHandler struct {
	authSvc    *service.AuthService
	sessionTTL time.Duration
}

// NewSystemHandler creates a new SystemHandler. A non-positive ttl selects
// DefaultSessionTTL.
func NewSystemHandler(authSvc *service.AuthService, ttl time.Duration) *SystemHandler {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SystemHandler{
		authSvc:    authSvc,
		sessionTTL: ttl,
	}
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email" validate:"notblank"`
	Password string `json:"password" validate:"required"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an admin user and returns a JWT session token.
// POST /api/system/admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	admin, err := h.authSvc.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	case errors.Is(err, service.ErrAdminInactive):
		writeError(w, http.StatusUnauthorized, "Account is disabled")
		return
	case err != nil:
		writeServiceError(w, err, "Invalid credentials")
		return
	}

	token, err := h.authSvc.IssueJWT(r.Context(), admin.Email, h.sessionTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.sessionTTL.Seconds()),
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout invalidates the current session. Since JWTs are stateless, this is
// a no-op on the server side. Clients should discard their token.
// DELETE /api/system/admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}
