// Package pipeline drives a scan session from upload through detection,
// enrichment and recommendation.
//
// A session only moves forward:
//
//	processing -> completed_detection -> completed
//	     \                \
//	      `-> failed       `-> failed
//
// Detection runs in the background after StartScan. Enrichment and
// recommendation run when Recommendations is first called for a session in
// completed_detection, or straight after detection when AutoRecommend is set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/lehigh-university-libraries/shelfscan/internal/catalog"
	"github.com/lehigh-university-libraries/shelfscan/internal/images"
	"github.com/lehigh-university-libraries/shelfscan/internal/metrics"
	"github.com/lehigh-university-libraries/shelfscan/internal/models"
	"github.com/lehigh-university-libraries/shelfscan/internal/recommend"
	"github.com/lehigh-university-libraries/shelfscan/internal/storage"
	"github.com/lehigh-university-libraries/shelfscan/internal/vision"
)

var (
	// ErrNotReady is returned while detection is still running.
	ErrNotReady = errors.New("session is still processing")
	// ErrSessionFailed wraps the stored error message of a failed session.
	ErrSessionFailed = errors.New("session failed")
)

// FailedError carries the stored message of a failed session.
type FailedError struct {
	Message string
}

func (e *FailedError) Error() string { return ErrSessionFailed.Error() + ": " + e.Message }

func (e *FailedError) Is(target error) bool { return target == ErrSessionFailed }

// Messages stored on failed sessions.
const (
	MsgNoBooks          = "No books detected in image"
	MsgDetectionFailed  = "Book detection service is unavailable"
	MsgMalformed        = "Book detection returned an unreadable response"
	MsgDetectionTimeout = "Book detection timed out"
	MsgSaveFailed       = "Failed to save scan results"
	MsgInternal         = "Unexpected error while processing scan"
	MsgStale            = "Processing timed out"
)

type Detector interface {
	Detect(ctx context.Context, image []byte, mimeType string) ([]vision.Book, error)
}

type Enricher interface {
	Lookup(ctx context.Context, q catalog.Query) (models.BookMetadata, error)
}

type Recommender interface {
	Recommend(ctx context.Context, seeds []recommend.Seed, prefs recommend.Preferences, history []recommend.HistoryItem) []recommend.Suggestion
}

// TokenSealer issues the opaque token returned with a new session.
type TokenSealer interface {
	Seal(sessionID string, expiresAt time.Time) (string, error)
}

// writeTimeout bounds writes that run after a phase deadline has passed.
const writeTimeout = 5 * time.Second

type Options struct {
	MaxUploadBytes    int64
	PhaseTimeout      time.Duration
	EnrichmentTimeout time.Duration
	EnrichConcurrency int
	SessionTTL        time.Duration
	StaleAfter        time.Duration
	AutoRecommend     bool

	// RecommendationTimeout bounds the recommendation call. It must end
	// before PhaseTimeout; by default it leaves a quarter of the phase, at
	// most writeTimeout, for persisting results.
	RecommendationTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 10 << 20
	}
	if o.PhaseTimeout <= 0 {
		o.PhaseTimeout = 60 * time.Second
	}
	if o.RecommendationTimeout <= 0 || o.RecommendationTimeout >= o.PhaseTimeout {
		o.RecommendationTimeout = o.PhaseTimeout - min(o.PhaseTimeout/4, writeTimeout)
	}
	if o.EnrichmentTimeout <= 0 {
		o.EnrichmentTimeout = 3 * time.Second
	}
	if o.EnrichConcurrency <= 0 {
		o.EnrichConcurrency = 4
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 24 * time.Hour
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 10 * time.Minute
	}
}

type Orchestrator struct {
	store       *storage.Store
	detector    Detector
	enricher    Enricher
	recommender Recommender
	sealer      TokenSealer
	metrics     *metrics.Metrics
	opts        Options

	phase2 singleflight.Group
	wg     sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

func New(store *storage.Store, detector Detector, enricher Enricher, recommender Recommender, sealer TokenSealer, m *metrics.Metrics, opts Options) *Orchestrator {
	opts.setDefaults()
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:       store,
		detector:    detector,
		enricher:    enricher,
		recommender: recommender,
		sealer:      sealer,
		metrics:     m,
		opts:        opts,
		base:        base,
		cancel:      cancel,
		now:         time.Now,
	}
}

// Upload is an image submitted for scanning.
type Upload struct {
	Image  []byte
	Source string
	UserID *string
}

// Ticket is handed back to the caller of StartScan.
type Ticket struct {
	SessionID    string        `json:"session_id"`
	Status       models.Status `json:"status"`
	SessionToken string        `json:"session_token,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// StartScan validates the image, creates the session and starts detection in
// the background. Invalid or oversized images never create a session.
func (o *Orchestrator) StartScan(ctx context.Context, up Upload) (*Ticket, error) {
	if int64(len(up.Image)) > o.opts.MaxUploadBytes {
		return nil, images.ErrPayloadTooLarge
	}
	info, err := images.Inspect(up.Image)
	if err != nil {
		return nil, err
	}
	if up.Source == "" {
		up.Source = "upload"
	}

	now := o.now()
	session := &models.ScanSession{
		ID:     uuid.NewString(),
		UserID: up.UserID,
		Status: models.StatusProcessing,
		Metadata: datatypes.JSONMap{
			"sha256":       info.SHA256,
			"size_bytes":   info.Size,
			"content_type": info.MIMEType,
			"width":        info.Width,
			"height":       info.Height,
			"source":       up.Source,
		},
		ExpiresAt: now.Add(o.opts.SessionTTL),
	}
	if o.sealer != nil {
		token, err := o.sealer.Seal(session.ID, session.ExpiresAt)
		if err != nil {
			return nil, err
		}
		session.SessionToken = token
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	o.metrics.ScanStarted()
	slog.Info("Scan session created", "session_id", session.ID, "bytes", info.Size, "content_type", info.MIMEType)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runBackground(session.ID, up.Image, info.MIMEType)
	}()

	return &Ticket{
		SessionID:    session.ID,
		Status:       session.Status,
		SessionToken: session.SessionToken,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

func (o *Orchestrator) runBackground(sessionID string, image []byte, mimeType string) {
	ctx, cancel := context.WithTimeout(o.base, o.opts.PhaseTimeout)
	err := o.RunDetectionPhase(ctx, sessionID, image, mimeType)
	cancel()
	if err != nil || !o.opts.AutoRecommend {
		return
	}
	// the recommendation phase gets its own deadline
	if _, err := o.Recommendations(o.base, sessionID); err != nil {
		slog.Error("Automatic recommendation phase failed", "session_id", sessionID, "err", err)
	}
}

// RunDetectionPhase calls the vision model once and persists the books.
// Any failure, including an empty result, leaves the session failed.
func (o *Orchestrator) RunDetectionPhase(ctx context.Context, sessionID string, image []byte, mimeType string) (err error) {
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic during detection", "session_id", sessionID, "panic", r)
			o.fail(ctx, sessionID, MsgInternal)
			err = fmt.Errorf("panic during detection: %v", r)
		}
		outcome := "success"
		if err != nil {
			outcome = "failed"
		}
		o.metrics.Phase("detection", outcome, o.now().Sub(start))
	}()

	found, err := o.detector.Detect(ctx, image, mimeType)
	if err != nil {
		o.metrics.ExternalError("vision")
		slog.Error("Detection failed", "session_id", sessionID, "err", err)
		o.fail(ctx, sessionID, detectionMessage(err))
		return err
	}

	books := toDetectedBooks(found)
	if len(books) == 0 {
		slog.Info("No books detected", "session_id", sessionID, "candidates", len(found))
		o.fail(ctx, sessionID, MsgNoBooks)
		return errors.New(MsgNoBooks)
	}

	if err := o.store.SaveDetections(ctx, sessionID, books); err != nil {
		slog.Error("Failed to save detections", "session_id", sessionID, "err", err)
		if !errors.Is(err, storage.ErrInvalidTransition) {
			o.fail(ctx, sessionID, MsgSaveFailed)
		}
		return err
	}

	o.metrics.Detected(len(books))
	slog.Info("Detection complete", "session_id", sessionID, "books", len(books))
	return nil
}

func detectionMessage(err error) string {
	switch {
	case errors.Is(err, vision.ErrMalformedResponse):
		return MsgMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return MsgDetectionTimeout
	}
	return MsgDetectionFailed
}

// toDetectedBooks trims titles, drops untitled candidates and clamps confidence.
// Detection order is kept.
func toDetectedBooks(found []vision.Book) []models.DetectedBook {
	books := make([]models.DetectedBook, 0, len(found))
	for _, b := range found {
		if b.Title == "" {
			continue
		}
		books = append(books, models.DetectedBook{
			Title:      b.Title,
			Author:     b.Author,
			ISBN:       catalog.CleanISBN(b.ISBN),
			Confidence: models.Clamp01(b.Confidence),
			Position:   b.Position,
		})
	}
	return books
}

// fail moves the session to failed. It runs on a detached context so a
// cancelled or expired phase can still record why it stopped.
func (o *Orchestrator) fail(ctx context.Context, sessionID, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := o.store.TransitionStatus(ctx, sessionID, models.StatusFailed, message); err != nil {
		slog.Warn("Unable to mark session failed", "session_id", sessionID, "err", err)
	}
}

// Shutdown waits for background phases. When ctx ends first the phases are
// cancelled and their sessions fail.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}
