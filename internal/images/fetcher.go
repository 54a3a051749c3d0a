package images

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Fetcher downloads shelf photographs submitted by URL.
type Fetcher struct {
	HTTPClient *http.Client
}

// NewFetcher creates a new image fetcher
func NewFetcher() *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Fetch downloads rawURL, enforcing the same size limit as direct uploads.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, max int64) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: image_url must be an absolute http(s) URL", ErrInvalidImage)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %w", err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: image URL returned status %d", ErrInvalidImage, resp.StatusCode)
	}
	if resp.ContentLength > max {
		return nil, ErrPayloadTooLarge
	}

	data, err := Read(resp.Body, max)
	if err != nil {
		return nil, err
	}
	slog.Debug("Fetched image", "url", u.Redacted(), "bytes", len(data))
	return data, nil
}
