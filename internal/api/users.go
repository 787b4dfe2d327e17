package api

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/settle"
	"github.com/erazemk/narocila/internal/store"
)

// UsersHandler handles user management endpoints (admin only). Every user
// created here is managed by the calling admin.
type UsersHandler struct {
	DB       *sql.DB
	Notifier settle.Emitter
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// List handles GET /api/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	users, err := store.ListUsersByAdmin(r.Context(), h.DB, claims.UserID)
	if err != nil {
		writeError(w, r, err, "users")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	jsonResponse(w, http.StatusOK, users)
}

// Create handles POST /api/users.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, "username and password required")
		return
	}

	if err := model.ValidatePassword(req.Password); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err, "password")
		return
	}

	claims := GetClaims(r.Context())
	adminID := claims.UserID
	user, err := store.CreateUser(r.Context(), h.DB, req.Username, string(hash), model.RoleUser, &adminID)
	if err != nil {
		writeError(w, r, err, "user")
		return
	}

	slog.Info("user created", "user", claims.Username, "new_user", user.Username)
	emit(r.Context(), h.Notifier, model.Event{
		Type:          model.NotifyNewUser,
		Recipient:     claims.UserID,
		RecipientKind: model.RecipientAdmin,
		Username:      user.Username,
	})
	jsonResponse(w, http.StatusCreated, user)
}

// Delete handles DELETE /api/users/{id}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	// Prevent self-deletion.
	claims := GetClaims(r.Context())
	if claims.UserID == id {
		jsonError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	// Look up target name before deleting.
	target, _ := store.GetUser(r.Context(), h.DB, id)
	targetName := fmt.Sprintf("id:%d", id)
	if target != nil {
		targetName = target.Username
	}

	if err := store.DeleteUser(r.Context(), h.DB, claims.UserID, id); err != nil {
		writeError(w, r, err, "user")
		return
	}

	slog.Info("user deleted", "user", claims.Username, "deleted_user", targetName)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "user deleted"})
}
