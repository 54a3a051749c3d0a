package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/shelfscan/internal/auth"
	"github.com/lehigh-university-libraries/shelfscan/internal/models"
	"github.com/lehigh-university-libraries/shelfscan/internal/pipeline"
)

type scanResponse struct {
	SessionID       string                  `json:"session_id"`
	Status          models.Status           `json:"status"`
	Error           string                  `json:"error,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	ExpiresAt       time.Time               `json:"expires_at"`
	DetectedBooks   []models.DetectedBook   `json:"detected_books"`
	Recommendations []models.Recommendation `json:"recommendations"`
}

// HandleGetScan is the polling endpoint.
func (h *Handler) HandleGetScan(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r, false)
	if !ok {
		return
	}
	st, err := h.pipeline.GetSessionStatus(r.Context(), session.ID)
	if err != nil {
		h.writeStoreError(w, r, err, "Session not found")
		return
	}
	h.writeJSON(w, http.StatusOK, scanResponse{
		SessionID:       st.Session.ID,
		Status:          st.Session.Status,
		Error:           st.Session.ErrorMessage,
		CreatedAt:       st.Session.CreatedAt,
		ExpiresAt:       st.Session.ExpiresAt,
		DetectedBooks:   st.DetectedBooks,
		Recommendations: st.Recommendations,
	})
}

// HandleRecommendations triggers the recommendation phase on first call.
func (h *Handler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r, false)
	if !ok {
		return
	}
	recs, err := h.pipeline.Recommendations(r.Context(), session.ID)
	var failed *pipeline.FailedError
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, recs)
	case errors.Is(err, pipeline.ErrNotReady):
		h.writeError(w, r, "Session is still processing", http.StatusConflict)
	case errors.As(err, &failed):
		h.writeError(w, r, failed.Message, http.StatusConflict)
	default:
		h.writeStoreError(w, r, err, "Session not found")
	}
}

type feedbackRequest struct {
	DetectedBookID  *string `json:"detected_book_id" validate:"omitempty,uuid"`
	FeedbackType    string  `json:"feedback_type" validate:"required,oneof=correction rating missing_book general"`
	IsCorrect       *bool   `json:"is_correct"`
	CorrectedTitle  string  `json:"corrected_title" validate:"max=512"`
	CorrectedAuthor string  `json:"corrected_author" validate:"max=512"`
	Rating          *int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Comments        string  `json:"comments" validate:"max=4000"`
}

func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r, false)
	if !ok {
		return
	}
	var req feedbackRequest
	if !h.decode(w, r, &req) {
		return
	}

	fb := &models.UserFeedback{
		SessionID:       session.ID,
		DetectedBookID:  req.DetectedBookID,
		FeedbackType:    req.FeedbackType,
		IsCorrect:       req.IsCorrect,
		CorrectedTitle:  req.CorrectedTitle,
		CorrectedAuthor: req.CorrectedAuthor,
		Rating:          req.Rating,
		Comments:        req.Comments,
	}
	if userID, ok := auth.UserID(r.Context()); ok {
		fb.UserID = &userID
	}
	if err := h.pipeline.SubmitFeedback(r.Context(), fb); err != nil {
		h.writeStoreError(w, r, err, "Session or book not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "feedback_id": fb.ID})
}

// HandleDeleteScan needs the owner or the session token, even for anonymous sessions.
func (h *Handler) HandleDeleteScan(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r, true)
	if !ok {
		return
	}
	if err := h.pipeline.DeleteSession(r.Context(), session.ID); err != nil {
		h.writeStoreError(w, r, err, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	limit := queryInt(r, "limit", 20, 100)
	offset := queryInt(r, "offset", 0, 0)

	sessions, err := h.store.ListSessionsByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeStoreError(w, r, err, "User not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}
