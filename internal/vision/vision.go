// Package vision turns a bookshelf photograph into candidate books using a
// vision-capable language model.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lehigh-university-libraries/shelfscan/internal/providers"
)

var (
	// ErrExternalService wraps network, auth and upstream failures.
	ErrExternalService = errors.New("vision service error")
	// ErrMalformedResponse is returned when the model output is not the expected JSON shape.
	ErrMalformedResponse = errors.New("malformed vision response")
)

// Book is one candidate read off a spine. Confidence is passed through as reported.
type Book struct {
	Title      string  `json:"title"`
	Author     string  `json:"author,omitempty"`
	ISBN       string  `json:"isbn,omitempty"`
	Confidence float64 `json:"confidence"`
	Position   string  `json:"position,omitempty"`
}

// Detector calls the vision model.
type Detector struct {
	provider    providers.Provider
	model       string
	temperature float64
}

func NewDetector(provider providers.Provider, model string, temperature float64) *Detector {
	return &Detector{provider: provider, model: model, temperature: temperature}
}

// Detect asks the model for every book visible in image.
func (d *Detector) Detect(ctx context.Context, image []byte, mimeType string) ([]Book, error) {
	response, err := d.provider.ExtractText(ctx, providers.Config{
		Model:       d.model,
		Temperature: d.temperature,
		Prompt:      detectionPrompt,
		Images:      []providers.Image{{Data: image, MIMEType: mimeType}},
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalService, err)
	}

	books, err := ParseBooks(response)
	if err != nil {
		slog.Warn("Unable to parse vision response", "model", d.model, "err", err)
		return nil, err
	}

	slog.Debug("Vision model returned books", "model", d.model, "count", len(books))
	return books, nil
}

// ParseBooks decodes {"books":[...]} or a bare array of books.
func ParseBooks(response string) ([]Book, error) {
	cleaned := providers.CleanJSON(response)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	var books []Book
	if strings.HasPrefix(cleaned, "[") {
		if err := json.Unmarshal([]byte(cleaned), &books); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
	} else {
		var envelope struct {
			Books *[]Book `json:"books"`
		}
		if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		if envelope.Books == nil {
			return nil, fmt.Errorf("%w: missing books field", ErrMalformedResponse)
		}
		books = *envelope.Books
	}

	for i := range books {
		books[i].Title = strings.TrimSpace(books[i].Title)
		books[i].Author = strings.TrimSpace(books[i].Author)
		books[i].ISBN = strings.TrimSpace(books[i].ISBN)
	}
	return books, nil
}

const detectionPrompt = `You are looking at a photograph of a bookshelf. Identify every book whose spine or cover is legible.

For each book report:
- title: the title as printed (required)
- author: the author's name if visible, otherwise ""
- isbn: only if an ISBN is printed and legible, otherwise ""
- confidence: a number between 0 and 1 for how sure you are of the title
- position: a short hint such as "top shelf, 3rd from left"

List the books in reading order: top shelf first, left to right.
Do not guess titles you cannot read. If no book is legible return an empty list.

Respond with ONLY a JSON object:

{"books": [{"title": "...", "author": "...", "isbn": "", "confidence": 0.9, "position": "..."}]}`
