package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/video-stream/transcriber/internal/api/middleware"
	"github.com/video-stream/transcriber/internal/auth"
	"github.com/video-stream/transcriber/internal/db"
	"github.com/video-stream/transcriber/internal/db/models"
)

var validRoles = map[string]bool{models.RoleAdmin: true, models.RoleEditor: true, models.RoleViewer: true}

type AdminHandler struct {
	db      *db.Database
	limiter *middleware.RateLimiter
}

func NewAdminHandler(db *db.Database, limiter *middleware.RateLimiter) *AdminHandler {
	return &AdminHandler{db: db, limiter: limiter}
}

// ListUsers returns all users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers()
	if err != nil {
		jsonError(w, "failed to list users: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, users, http.StatusOK)
}

// CreateUser creates a new user
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		jsonError(w, "username and password are required", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleViewer
	}
	if !validRoles[req.Role] {
		jsonError(w, "role must be one of: admin, editor, viewer", http.StatusBadRequest)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonError(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	id, err := h.db.CreateUser(req.Username, hashed, req.Role)
	if err != nil {
		jsonError(w, "failed to create user (username may already exist)", http.StatusConflict)
		return
	}

	jsonResponse(w, userInfo{ID: id, Username: req.Username, Role: req.Role}, http.StatusCreated)
}

// UpdateUser changes the name, role or password of a user
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req struct {
		Username string `json:"username"`
		Role     string `json:"role"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	existing, ok := h.user(w, id)
	if !ok {
		return
	}

	username, role := existing.Username, existing.Role
	if req.Username != "" {
		username = req.Username
	}
	if req.Role != "" {
		if !validRoles[req.Role] {
			jsonError(w, "role must be one of: admin, editor, viewer", http.StatusBadRequest)
			return
		}
		if existing.Role == models.RoleAdmin && req.Role != models.RoleAdmin && !h.otherAdminExists(w) {
			return
		}
		role = req.Role
	}

	if err := h.db.UpdateUser(id, username, role); err != nil {
		jsonError(w, "failed to update user: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if req.Password != "" {
		hashed, err := auth.HashPassword(req.Password)
		if err != nil {
			jsonError(w, "failed to hash password", http.StatusInternalServerError)
			return
		}
		if err := h.db.UpdateUserPassword(id, hashed); err != nil {
			jsonError(w, "failed to update password", http.StatusInternalServerError)
			return
		}
	}

	jsonResponse(w, userInfo{ID: id, Username: username, Role: role}, http.StatusOK)
}

// DeleteUser removes a user
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	if claims := middleware.GetClaims(r); claims != nil && claims.UserID == id {
		jsonError(w, "cannot delete yourself", http.StatusBadRequest)
		return
	}

	user, ok := h.user(w, id)
	if !ok {
		return
	}
	if user.Role == models.RoleAdmin && !h.otherAdminExists(w) {
		return
	}

	if err := h.db.DeleteUser(id); err != nil {
		jsonError(w, "failed to delete user: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// RateLimits reports the login limiter's tracked addresses
func (h *AdminHandler) RateLimits(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, h.limiter.Status(), http.StatusOK)
}

func (h *AdminHandler) ClearRateLimits(w http.ResponseWriter, r *http.Request) {
	h.limiter.Clear()
	jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonError(w, "invalid user ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *AdminHandler) user(w http.ResponseWriter, id int64) (*models.User, bool) {
	u, err := h.db.GetUserByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		jsonError(w, "user not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		jsonError(w, "failed to load user", http.StatusInternalServerError)
		return nil, false
	}
	return u, true
}

// otherAdminExists writes the error response itself when the target is the
// last admin.
func (h *AdminHandler) otherAdminExists(w http.ResponseWriter) bool {
	count, err := h.db.CountAdmins()
	if err != nil {
		jsonError(w, "failed to check admin count", http.StatusInternalServerError)
		return false
	}
	if count <= 1 {
		jsonError(w, "cannot remove the last admin", http.StatusBadRequest)
		return false
	}
	return true
}
