// Package catalog looks up descriptive book metadata in public book-search services.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lehigh-university-libraries/shelfscan/internal/cache"
	"github.com/lehigh-university-libraries/shelfscan/internal/metrics"
	"github.com/lehigh-university-libraries/shelfscan/internal/models"
)

// ErrNotFound is returned when no source knows the book.
var ErrNotFound = errors.New("book metadata not found")

// Query identifies a book. ISBN wins over title and author when present.
type Query struct {
	Title  string
	Author string
	ISBN   string
}

type Options struct {
	GoogleBooksURL    string
	GoogleBooksAPIKey string
	OpenLibraryURL    string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxAttempts       int
	RetryDelay        time.Duration
	Cache             cache.Cache
	CacheTTL          time.Duration
	Metrics           *metrics.Metrics
}

// Client is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	googleBooksURL string
	googleKey      string
	openLibraryURL string
	limiter        *rate.Limiter
	attempts       int
	retryDelay     time.Duration
	cache          cache.Cache
	cacheTTL       time.Duration
	metrics        *metrics.Metrics
}

func New(opts Options) *Client {
	if opts.GoogleBooksURL == "" {
		opts.GoogleBooksURL = "https://www.googleapis.com/books/v1"
	}
	if opts.OpenLibraryURL == "" {
		opts.OpenLibraryURL = "https://openlibrary.org"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		googleBooksURL: strings.TrimRight(opts.GoogleBooksURL, "/"),
		googleKey:      opts.GoogleBooksAPIKey,
		openLibraryURL: strings.TrimRight(opts.OpenLibraryURL, "/"),
		limiter:        rate.NewLimiter(limit, 1),
		attempts:       opts.MaxAttempts,
		retryDelay:     opts.RetryDelay,
		cache:          opts.Cache,
		cacheTTL:       opts.CacheTTL,
		metrics:        opts.Metrics,
	}
}

// Lookup resolves metadata for q, consulting the cache first.
func (c *Client) Lookup(ctx context.Context, q Query) (models.BookMetadata, error) {
	q.Title = strings.TrimSpace(q.Title)
	q.Author = strings.TrimSpace(q.Author)
	q.ISBN = CleanISBN(q.ISBN)
	if q.Title == "" && q.ISBN == "" {
		return models.BookMetadata{}, ErrNotFound
	}

	key := CacheKey(q)
	if md, ok := c.cached(ctx, key); ok {
		return md, nil
	}

	md, err := c.googleBooks(ctx, q)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.metrics.ExternalError("google_books")
			slog.Warn("Google Books lookup failed, trying Open Library", "title", q.Title, "isbn", q.ISBN, "err", err)
		}
		var olErr error
		md, olErr = c.openLibrary(ctx, q)
		if olErr != nil {
			if !errors.Is(olErr, ErrNotFound) {
				c.metrics.ExternalError("open_library")
			}
			if errors.Is(err, ErrNotFound) && errors.Is(olErr, ErrNotFound) {
				return models.BookMetadata{}, ErrNotFound
			}
			return models.BookMetadata{}, errors.Join(err, olErr)
		}
	}

	c.store(ctx, key, md)
	return md, nil
}

// CacheKey normalizes q into the key its metadata is cached under.
func CacheKey(q Query) string {
	if isbn := CleanISBN(q.ISBN); isbn != "" {
		return "isbn:" + isbn
	}
	return "title:" + models.NormalizeTitle(q.Title) + "|" + models.NormalizeTitle(q.Author)
}

// CleanISBN strips separators and anything that cannot be part of an ISBN.
func CleanISBN(isbn string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(isbn) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		}
	}
	s := b.String()
	if len(s) != 10 && len(s) != 13 {
		return ""
	}
	return s
}

func (c *Client) cached(ctx context.Context, key string) (models.BookMetadata, bool) {
	if c.cache == nil {
		return models.BookMetadata{}, false
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("Metadata cache read failed", "key", key, "err", err)
		c.metrics.CacheMiss()
		return models.BookMetadata{}, false
	}
	if !ok {
		c.metrics.CacheMiss()
		return models.BookMetadata{}, false
	}
	var md models.BookMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		c.metrics.CacheMiss()
		return models.BookMetadata{}, false
	}
	c.metrics.CacheHit()
	return md, true
}

func (c *Client) store(ctx context.Context, key string, md models.BookMetadata) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cacheTTL); err != nil {
		slog.Warn("Metadata cache write failed", "key", key, "err", err)
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("received non-200 status code: %d - %s", e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// getJSON issues a paced GET and decodes the body into dst, retrying
// throttling, server errors and transport failures.
func (c *Client) getJSON(ctx context.Context, endpoint string, dst any) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = c.getOnce(ctx, endpoint, dst); err == nil {
			return nil
		}
		if attempt == c.attempts || !retryable(err) {
			break
		}
		delay := c.retryDelay << (attempt - 1)
		slog.Debug("Retrying metadata request", "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (c *Client) getOnce(ctx context.Context, endpoint string, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("unable to decode response: %w", err)
	}
	return nil
}

func query(base string, params url.Values) string {
	return base + "?" + params.Encode()
}
