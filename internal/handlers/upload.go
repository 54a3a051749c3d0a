package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/shelfscan/internal/auth"
	"github.com/lehigh-university-libraries/shelfscan/internal/images"
	"github.com/lehigh-university-libraries/shelfscan/internal/pipeline"
)

// HandleUpload accepts a multipart image (field image, file or files) or a
// JSON body {"image_url": "..."} and starts a scan.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	var (
		data   []byte
		source string
		ok     bool
	)
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		data, ok = h.readURLUpload(w, r)
		source = "url"
	} else {
		data, ok = h.readFileUpload(w, r)
		source = "upload"
	}
	if !ok {
		return
	}

	up := pipeline.Upload{Image: data, Source: source}
	if userID, ok := auth.UserID(r.Context()); ok {
		up.UserID = &userID
	}

	ticket, err := h.pipeline.StartScan(r.Context(), up)
	if err != nil {
		h.writeImageError(w, r, err)
		return
	}

	w.Header().Set("Location", "/scan/"+ticket.SessionID)
	h.writeJSON(w, http.StatusAccepted, ticket)
}

func (h *Handler) readURLUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var request struct {
		ImageURL string `json:"image_url" validate:"required,url"`
	}
	if !h.decode(w, r, &request) {
		return nil, false
	}

	data, err := h.fetcher.Fetch(r.Context(), request.ImageURL, h.maxUpload)
	if err != nil {
		if errors.Is(err, images.ErrPayloadTooLarge) || errors.Is(err, images.ErrInvalidImage) {
			h.writeImageError(w, r, err)
			return nil, false
		}
		h.writeError(w, r, "Failed to fetch image_url", http.StatusBadGateway)
		return nil, false
	}
	return data, true
}

func (h *Handler) readFileUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	// room for the multipart envelope around the image
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)

	var (
		file multipart.File
		err  error
	)
	for _, field := range []string{"image", "file", "files"} {
		file, _, err = r.FormFile(field)
		if err == nil {
			break
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeImageError(w, r, images.ErrPayloadTooLarge)
			return nil, false
		}
	}
	if err != nil {
		h.writeError(w, r, "Failed to read file: image is required", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	data, err := images.Read(file, h.maxUpload)
	if err != nil {
		h.writeImageError(w, r, err)
		return nil, false
	}
	return data, true
}

func (h *Handler) writeImageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, images.ErrPayloadTooLarge):
		h.writeError(w, r, "Image exceeds the maximum upload size", http.StatusRequestEntityTooLarge)
	case errors.Is(err, images.ErrInvalidImage):
		h.writeError(w, r, err.Error(), http.StatusBadRequest)
	default:
		h.writeStoreError(w, r, err, "Session not found")
	}
}
