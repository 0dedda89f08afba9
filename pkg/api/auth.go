package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"lynus-agent/pkg/auth"
	"lynus-agent/pkg/model"
	"lynus-agent/pkg/store"
)

type AuthHandler struct {
	Store  store.Store
	Issuer *auth.Issuer
	Log    *slog.Logger
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Username string `json:"username" validate:"omitempty,max=80"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type authResponse struct {
	Message string     `json:"message"`
	User    model.User `json:"user"`
	Token   string     `json:"token"`
}

var registerMessages = map[string]string{
	"Email.required":    "Email and password are required",
	"Password.required": "Email and password are required",
	"Email.email":       "Invalid email format",
	"Password.min":      "Password must be at least 6 characters long",
	"Username.max":      "Username must be at most 80 characters long",
}

var emailMessages = map[string]string{
	"Email.required": "Email is required",
	"Email.email":    "Invalid email format",
}

func (a *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", a.handleRegister)
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", a.handleLogout)
	mux.HandleFunc("GET /api/auth/me", a.RequireUser(a.handleMe))
	mux.HandleFunc("POST /api/auth/check-email", a.handleCheckEmail)
}

func (a *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err, registerMessages))
		return
	}
	if req.Username == "" {
		req.Username = strings.SplitN(req.Email, "@", 2)[0]
	}

	emailTaken, nameTaken, err := a.Store.UserExists(r.Context(), req.Email, req.Username)
	if err != nil {
		a.Log.Error("check user failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	if emailTaken {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	if nameTaken {
		writeError(w, http.StatusConflict, "Username already taken")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	user, err := a.Store.CreateUser(r.Context(), model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		IsActive:     true,
	})
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	if err != nil {
		a.Log.Error("create user failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	a.respondWithToken(w, http.StatusCreated, "Registration successful", user)
}

func (a *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	user, err := a.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.Log.Error("load user failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "Account is deactivated")
		return
	}
	a.respondWithToken(w, http.StatusOK, "Login successful", user)
}

// handleLogout is a no-op for bearer tokens; clients drop the token.
func (a *AuthHandler) handleLogout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (a *AuthHandler) handleMe(w http.ResponseWriter, _ *http.Request, user model.User) {
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *AuthHandler) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err, emailMessages))
		return
	}
	taken, _, err := a.Store.UserExists(r.Context(), req.Email, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": taken})
}

func (a *AuthHandler) respondWithToken(w http.ResponseWriter, status int, msg string, user model.User) {
	token, err := a.Issuer.Generate(user.ID, user.Username)
	if err != nil {
		a.Log.Error("sign token failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	writeJSON(w, status, authResponse{Message: msg, User: user, Token: token})
}

// UserHandler receives the authenticated caller explicitly.
type UserHandler func(w http.ResponseWriter, r *http.Request, user model.User)

// RequireUser resolves the Authorization bearer token into an active user
// before calling next.
func (a *AuthHandler) RequireUser(next UserHandler) http.HandlerFunc {
	return a.requireUser(next, false)
}

// RequireStreamUser also accepts ?token=, since browsers cannot set headers
// on WebSocket handshakes.
func (a *AuthHandler) RequireStreamUser(next UserHandler) http.HandlerFunc {
	return a.requireUser(next, true)
}

func (a *AuthHandler) requireUser(next UserHandler, allowQuery bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" && allowQuery {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		user, reason := a.authenticate(r.Context(), token)
		if reason != "" {
			writeError(w, http.StatusUnauthorized, reason)
			return
		}
		next(w, r, user)
	}
}

// authenticate returns the user, or a non-empty rejection reason.
func (a *AuthHandler) authenticate(ctx context.Context, token string) (model.User, string) {
	claims, err := a.Issuer.Parse(token)
	if err != nil {
		return model.User{}, "Invalid or expired token"
	}
	user, err := a.Store.GetUser(ctx, claims.UserID)
	if err != nil || !user.IsActive {
		return model.User{}, "User not found or inactive"
	}
	return user, ""
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
