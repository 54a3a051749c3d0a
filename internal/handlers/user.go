package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/lehigh-university-libraries/shelfscan/internal/auth"
	"github.com/lehigh-university-libraries/shelfscan/internal/models"
	"github.com/lehigh-university-libraries/shelfscan/internal/storage"
)

func currentUser(r *http.Request) string {
	id, _ := auth.UserID(r.Context())
	return id
}

func (h *Handler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), currentUser(r))
	if err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	prefs, err := h.preferences(r)
	if err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"preferences": prefs,
	})
}

func (h *Handler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email" validate:"omitempty,email,max=255"`
		DisplayName string `json:"display_name" validate:"max=255"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.store.GetUser(r.Context(), currentUser(r))
	if err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	if req.Email != "" {
		user.Email = strings.ToLower(strings.TrimSpace(req.Email))
	}
	user.DisplayName = strings.TrimSpace(req.DisplayName)

	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			h.writeError(w, r, "Email already registered", http.StatusConflict)
			return
		}
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

// preferences returns the stored preferences or an empty set.
func (h *Handler) preferences(r *http.Request) (*models.UserPreferences, error) {
	userID := currentUser(r)
	prefs, err := h.store.GetPreferences(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		return &models.UserPreferences{
			UserID:          userID,
			FavoriteGenres:  datatypes.NewJSONType([]string{}),
			FavoriteAuthors: datatypes.NewJSONType([]string{}),
		}, nil
	}
	return prefs, err
}

func (h *Handler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.preferences(r)
	if err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	h.writeJSON(w, http.StatusOK, prefs)
}

func (h *Handler) HandleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FavoriteGenres  []string `json:"favorite_genres" validate:"max=50,dive,required,max=100"`
		FavoriteAuthors []string `json:"favorite_authors" validate:"max=50,dive,required,max=255"`
		ReadingGoal     string   `json:"reading_goal" validate:"max=512"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.FavoriteGenres == nil {
		req.FavoriteGenres = []string{}
	}
	if req.FavoriteAuthors == nil {
		req.FavoriteAuthors = []string{}
	}

	prefs := &models.UserPreferences{
		UserID:          currentUser(r),
		FavoriteGenres:  datatypes.NewJSONType(req.FavoriteGenres),
		FavoriteAuthors: datatypes.NewJSONType(req.FavoriteAuthors),
		ReadingGoal:     strings.TrimSpace(req.ReadingGoal),
	}
	if err := h.store.UpsertPreferences(r.Context(), prefs); err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	h.writeJSON(w, http.StatusOK, prefs)
}

func (h *Handler) HandleListReadingHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListReadingHistory(r.Context(), currentUser(r), queryInt(r, "limit", 50, 200))
	if err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleAddReadingHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title      string     `json:"title" validate:"required,max=512"`
		Author     string     `json:"author" validate:"max=512"`
		Rating     *int       `json:"rating" validate:"omitempty,min=1,max=5"`
		Status     string     `json:"status" validate:"omitempty,oneof=read reading want_to_read"`
		FinishedAt *time.Time `json:"finished_at"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	entry := &models.ReadingHistoryEntry{
		UserID:     currentUser(r),
		Title:      strings.TrimSpace(req.Title),
		Author:     strings.TrimSpace(req.Author),
		Rating:     req.Rating,
		Status:     req.Status,
		FinishedAt: req.FinishedAt,
	}
	if err := h.store.AddReadingHistory(r.Context(), entry); err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

// HandleDeleteUserData removes the account and everything tied to it.
func (h *Handler) HandleDeleteUserData(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteUserData(r.Context(), currentUser(r)); err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
