package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/narocila/internal/auth"
	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/store"
)

// errBadCredentials covers both an unknown username and a wrong password so
// a login response never reveals which accounts exist.
var errBadCredentials = errors.New("invalid credentials")

// AuthHandler issues session tokens and lets an account rotate its password.
type AuthHandler struct {
	DB        *sql.DB
	JWTSecret string
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type session struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

type passwordChange struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

func passwordMatches(u *model.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (h *AuthHandler) authenticate(ctx context.Context, c credentials) (*model.User, error) {
	u, err := store.GetUserByUsername(ctx, h.DB, c.Username)
	if err != nil {
		return nil, err
	}
	if u == nil || !passwordMatches(u, c.Password) {
		return nil, errBadCredentials
	}
	return u, nil
}

// Login handles POST /api/auth/login and answers with a token plus the
// account it belongs to.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeJSON(r, &c); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" || c.Password == "" {
		jsonError(w, http.StatusBadRequest, "username and password required")
		return
	}

	u, err := h.authenticate(r.Context(), c)
	if errors.Is(err, errBadCredentials) {
		slog.Warn("login refused", "username", c.Username, "remote", r.RemoteAddr)
		jsonError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeError(w, r, err, "user")
		return
	}

	token, err := auth.GenerateToken(h.JWTSecret, u.ID, u.Username, u.Role)
	if err != nil {
		writeError(w, r, err, "token")
		return
	}

	slog.Info("session issued", "user", u.Username, "role", u.Role)
	jsonResponse(w, http.StatusOK, session{Token: token, User: u})
}

// ChangePassword handles PUT /api/auth/password. The new password must pass
// model.ValidatePassword and the current one must match.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordChange
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Current == "" || req.New == "" {
		jsonError(w, http.StatusBadRequest, "current and new password required")
		return
	}
	if err := model.ValidatePassword(req.New); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	claims := GetClaims(r.Context())
	u, err := store.GetUser(r.Context(), h.DB, claims.UserID)
	if err == nil && u == nil {
		err = store.ErrNotFound
	}
	if err != nil {
		writeError(w, r, err, "user")
		return
	}
	if !passwordMatches(u, req.Current) {
		jsonError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.New), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err, "password")
		return
	}
	if err := store.UpdateUserPassword(r.Context(), h.DB, u.ID, string(hash)); err != nil {
		writeError(w, r, err, "user")
		return
	}

	slog.Info("password rotated", "user", u.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password updated"})
}
