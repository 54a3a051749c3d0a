package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/shelfscan/internal/auth"
	"github.com/lehigh-university-libraries/shelfscan/internal/models"
	"github.com/lehigh-university-libraries/shelfscan/internal/storage"
)

type credentials struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"display_name" validate:"max=255"`
}

type tokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !h.decode(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, "Internal server error", http.StatusInternalServerError)
		return
	}
	user := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(req.DisplayName),
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			h.writeError(w, r, "Email already registered", http.StatusConflict)
			return
		}
		h.writeStoreError(w, r, err, "User not found")
		return
	}

	h.issueToken(w, r, http.StatusCreated, user)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, r, auth.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
			return
		}
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		h.writeError(w, r, err.Error(), http.StatusUnauthorized)
		return
	}

	h.issueToken(w, r, http.StatusOK, user)
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request, code int, user *models.User) {
	token, exp, err := h.issuer.Sign(user.ID)
	if err != nil {
		h.writeError(w, r, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, code, tokenResponse{Token: token, ExpiresAt: exp, User: user})
}
