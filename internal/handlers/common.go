package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/lehigh-university-libraries/shelfscan/internal/auth"
	"github.com/lehigh-university-libraries/shelfscan/internal/models"
	"github.com/lehigh-university-libraries/shelfscan/internal/storage"
)

const maxJSONBody = 1 << 20

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
	} else {
		slog.Debug(message, "path", r.URL.Path, "code", code)
	}
	h.writeJSON(w, code, map[string]string{"error": message})
}

// writeStoreError maps storage errors onto status codes.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, r, notFound, http.StatusNotFound)
	case errors.Is(err, storage.ErrConflict):
		h.writeError(w, r, "Conflict", http.StatusConflict)
	default:
		slog.Error("Storage failure", "path", r.URL.Path, "err", err)
		h.writeError(w, r, "Internal server error", http.StatusInternalServerError)
	}
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", fe.Field())
		case "oneof":
			return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
		case "email", "url", "uuid":
			return fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag())
		case "min", "max":
			return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
	return "Invalid request"
}

func queryInt(r *http.Request, key string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// Session helpers

// loadSession fetches the session in the URL and checks the caller may see
// it. Sessions owned by a user are visible to that user or to a caller
// holding the session token; anonymous sessions are visible by id unless
// strict is set, in which case the token is required.
func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request, strict bool) (*models.ScanSession, bool) {
	id := chi.URLParam(r, "id")
	session, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err, "Session not found")
		return nil, false
	}
	if !h.canAccess(r, session, strict) {
		h.writeError(w, r, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func (h *Handler) canAccess(r *http.Request, session *models.ScanSession, strict bool) bool {
	if userID, ok := auth.UserID(r.Context()); ok && session.UserID != nil && *session.UserID == userID {
		return true
	}
	if tok := r.Header.Get(SessionTokenHeader); tok != "" && h.sealer != nil && h.sealer.Verify(tok, session.ID) {
		return true
	}
	return session.UserID == nil && !strict
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			h.metrics.HTTPRequest(r.Method, route, status, elapsed)
			slog.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", elapsed,
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
