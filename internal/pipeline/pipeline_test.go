package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/lehigh-university-libraries/shelfscan/internal/auth"
	"github.com/lehigh-university-libraries/shelfscan/internal/catalog"
	"github.com/lehigh-university-libraries/shelfscan/internal/images"
	"github.com/lehigh-university-libraries/shelfscan/internal/metrics"
	"github.com/lehigh-university-libraries/shelfscan/internal/models"
	"github.com/lehigh-university-libraries/shelfscan/internal/recommend"
	"github.com/lehigh-university-libraries/shelfscan/internal/storage"
	"github.com/lehigh-university-libraries/shelfscan/internal/storage/storagetest"
	"github.com/lehigh-university-libraries/shelfscan/internal/vision"
)

type fakeDetector struct {
	books []vision.Book
	err   error
	panic bool
	block bool

	mu    sync.Mutex
	calls int
}

func (f *fakeDetector) Detect(ctx context.Context, _ []byte, _ string) ([]vision.Book, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panic {
		panic("vision exploded")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.books, f.err
}

func (f *fakeDetector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEnricher struct {
	byTitle map[string]models.BookMetadata
	err     error
	block   bool
}

func (f *fakeEnricher) Lookup(ctx context.Context, q catalog.Query) (models.BookMetadata, error) {
	if f.block {
		<-ctx.Done()
		return models.BookMetadata{}, ctx.Err()
	}
	if f.err != nil {
		return models.BookMetadata{}, f.err
	}
	if md, ok := f.byTitle[q.Title]; ok {
		return md, nil
	}
	return models.BookMetadata{}, catalog.ErrNotFound
}

type fakeRecommender struct {
	suggestions []recommend.Suggestion
	panic       bool
	delay       time.Duration
	block       bool // waits for ctx, then degrades like the real generator

	mu    sync.Mutex
	calls int
	seeds []recommend.Seed
	prefs recommend.Preferences
	hist  []recommend.HistoryItem
}

func (f *fakeRecommender) Recommend(ctx context.Context, seeds []recommend.Seed, prefs recommend.Preferences, history []recommend.HistoryItem) []recommend.Suggestion {
	f.mu.Lock()
	f.calls++
	f.seeds, f.prefs, f.hist = seeds, prefs, history
	f.mu.Unlock()
	if f.panic {
		panic("recommender exploded")
	}
	if f.block {
		<-ctx.Done()
		return []recommend.Suggestion{}
	}
	time.Sleep(f.delay)
	return f.suggestions
}

func (f *fakeRecommender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil))
	return buf.Bytes()
}

func fiveSuggestions() []recommend.Suggestion {
	return []recommend.Suggestion{
		{Title: "Hyperion", Author: "Dan Simmons", Score: 0.9, Reasoning: "Space opera", BasedOn: "Dune"},
		{Title: "Foundation", Author: "Isaac Asimov", Score: 0.85, Reasoning: "Galactic empire"},
		{Title: "Children of Time", Author: "Adrian Tchaikovsky", Score: 0.8, Reasoning: "Ecology"},
		{Title: "The Left Hand of Darkness", Author: "Ursula K. Le Guin", Score: 0.75, Reasoning: "Worldbuilding"},
		{Title: "Solaris", Author: "Stanislaw Lem", Score: 0.7, Reasoning: "Alien minds"},
	}
}

type harness struct {
	orch        *Orchestrator
	store       *storage.Store
	detector    *fakeDetector
	enricher    *fakeEnricher
	recommender *fakeRecommender
	metrics     *metrics.Metrics
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	sealer, err := auth.NewSealer("test-secret")
	require.NoError(t, err)

	h := &harness{
		store: storagetest.New(t),
		detector: &fakeDetector{books: []vision.Book{
			{Title: "Dune", Author: "Frank Herbert", Confidence: 0.95},
		}},
		enricher:    &fakeEnricher{byTitle: map[string]models.BookMetadata{}},
		recommender: &fakeRecommender{suggestions: fiveSuggestions()},
		metrics:     metrics.New(prometheus.NewRegistry()),
	}
	h.orch = New(h.store, h.detector, h.enricher, h.recommender, sealer, h.metrics, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

// scan starts a session and waits for its background phases.
func (h *harness) scan(t *testing.T, userID *string) string {
	t.Helper()
	ticket, err := h.orch.StartScan(context.Background(), Upload{Image: testJPEG(t), UserID: userID})
	require.NoError(t, err)
	require.NoError(t, h.orch.Shutdown(context.Background()))
	return ticket.SessionID
}

func TestStartScanReturnsTicket(t *testing.T) {
	h := newHarness(t, Options{})
	h.detector.block = true

	ticket, err := h.orch.StartScan(context.Background(), Upload{Image: testJPEG(t)})
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.SessionID)
	assert.Equal(t, models.StatusProcessing, ticket.Status)
	assert.NotEmpty(t, ticket.SessionToken)
	assert.True(t, ticket.ExpiresAt.After(time.Now()))

	st, err := h.orch.GetSessionStatus(context.Background(), ticket.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, st.Session.Status)
	assert.Empty(t, st.DetectedBooks)
	assert.Empty(t, st.Recommendations)
	assert.Equal(t, "image/jpeg", st.Session.Metadata["content_type"])
	assert.Equal(t, "upload", st.Session.Metadata["source"])
}

func TestStartScanRejectsBadImages(t *testing.T) {
	h := newHarness(t, Options{MaxUploadBytes: 1024})

	_, err := h.orch.StartScan(context.Background(), Upload{Image: bytes.Repeat([]byte{0xff}, 2048)})
	assert.ErrorIs(t, err, images.ErrPayloadTooLarge)

	_, err = h.orch.StartScan(context.Background(), Upload{Image: []byte("not an image")})
	assert.ErrorIs(t, err, images.ErrInvalidImage)

	require.NoError(t, h.orch.Shutdown(context.Background()))
	assert.Equal(t, 0, h.detector.Calls())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ScansStarted))
}

func TestDetectionPersistsBooks(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.scan(t, nil)

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompletedDetection, st.Session.Status)
	require.Len(t, st.DetectedBooks, 1)
	assert.Equal(t, "Dune", st.DetectedBooks[0].Title)
	assert.Equal(t, "Frank Herbert", st.DetectedBooks[0].Author)
	assert.Equal(t, 0.95, st.DetectedBooks[0].Confidence)
	assert.Empty(t, st.Recommendations)
}

func TestDetectionDropsUntitledAndClamps(t *testing.T) {
	h := newHarness(t, Options{})
	h.detector.books = []vision.Book{
		{Title: "Dune", Confidence: 1.5},
		{Title: "", Author: "Unknown", Confidence: 0.4},
		{Title: "Emma", Author: "Jane Austen", Confidence: -0.3},
	}
	id := h.scan(t, nil)

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, st.DetectedBooks, 2)
	assert.Equal(t, "Dune", st.DetectedBooks[0].Title)
	assert.Equal(t, 1.0, st.DetectedBooks[0].Confidence)
	assert.Equal(t, "Emma", st.DetectedBooks[1].Title)
	assert.Equal(t, 0.0, st.DetectedBooks[1].Confidence)
}

func TestDetectionFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeDetector)
		message string
	}{
		{
			name:    "network error",
			setup:   func(d *fakeDetector) { d.err = errors.New("dial tcp: connection refused") },
			message: MsgDetectionFailed,
		},
		{
			name:    "malformed response",
			setup:   func(d *fakeDetector) { d.err = vision.ErrMalformedResponse },
			message: MsgMalformed,
		},
		{
			name:    "no books",
			setup:   func(d *fakeDetector) { d.books = nil },
			message: MsgNoBooks,
		},
		{
			name:    "only untitled books",
			setup:   func(d *fakeDetector) { d.books = []vision.Book{{Author: "Someone", Confidence: 0.9}} },
			message: MsgNoBooks,
		},
		{
			name:    "panic",
			setup:   func(d *fakeDetector) { d.panic = true },
			message: MsgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			tt.setup(h.detector)
			id := h.scan(t, nil)

			st, err := h.orch.GetSessionStatus(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, models.StatusFailed, st.Session.Status)
			assert.Equal(t, tt.message, st.Session.ErrorMessage)

			books, err := h.store.ListDetectedBooks(context.Background(), id)
			require.NoError(t, err)
			assert.Empty(t, books)
		})
	}
}

func TestDetectionTimeout(t *testing.T) {
	h := newHarness(t, Options{PhaseTimeout: 20 * time.Millisecond})
	h.detector.block = true
	id := h.scan(t, nil)

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, st.Session.Status)
	assert.Equal(t, MsgDetectionTimeout, st.Session.ErrorMessage)
}

func TestRecommendationsCompleteSession(t *testing.T) {
	h := newHarness(t, Options{})
	h.enricher.byTitle["Dune"] = models.BookMetadata{ISBN: "9780441013593", Publisher: "Ace", Source: "google_books"}
	h.enricher.byTitle["Hyperion"] = models.BookMetadata{Publisher: "Bantam", Source: "google_books"}
	id := h.scan(t, nil)

	recs, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for i, r := range recs {
		assert.Equal(t, i+1, r.Rank)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	assert.Equal(t, "Hyperion", recs[0].Title)
	assert.Equal(t, "Bantam", recs[0].Metadata.Data().Publisher)
	assert.True(t, recs[1].Metadata.Data().IsEmpty())

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Session.Status)
	require.Len(t, st.DetectedBooks, 1)
	assert.Equal(t, "Ace", st.DetectedBooks[0].Metadata.Data().Publisher)
	require.NotNil(t, recs[0].DetectedBookID)
	assert.Equal(t, st.DetectedBooks[0].ID, *recs[0].DetectedBookID)
	assert.Nil(t, recs[1].DetectedBookID)
}

func TestRecommendationsAreIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.scan(t, nil)

	first, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)
	second, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, 1, h.recommender.Calls())
	assert.Equal(t, first, second)
}

func TestRecommendationsConcurrentCallsShareOneRun(t *testing.T) {
	h := newHarness(t, Options{})
	h.recommender.delay = 50 * time.Millisecond
	id := h.scan(t, nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.orch.Recommendations(context.Background(), id)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, h.recommender.Calls())
}

func TestRecommendationsScoreClamping(t *testing.T) {
	h := newHarness(t, Options{})
	h.recommender.suggestions = []recommend.Suggestion{
		{Title: "Hyperion", Score: -0.2},
		{Title: "Foundation", Score: 1.5},
	}
	id := h.scan(t, nil)

	recs, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 0.0, recs[0].Score)
	assert.Equal(t, 1.0, recs[1].Score)
}

func TestRecommendationsNotReady(t *testing.T) {
	h := newHarness(t, Options{})
	h.detector.block = true

	ticket, err := h.orch.StartScan(context.Background(), Upload{Image: testJPEG(t)})
	require.NoError(t, err)

	_, err = h.orch.Recommendations(context.Background(), ticket.SessionID)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRecommendationsOnFailedSession(t *testing.T) {
	h := newHarness(t, Options{})
	h.detector.books = nil
	id := h.scan(t, nil)

	_, err := h.orch.Recommendations(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionFailed)
	assert.Contains(t, err.Error(), MsgNoBooks)
	assert.Equal(t, 0, h.recommender.Calls())
}

func TestRecommendationsUnknownSession(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.orch.Recommendations(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEnrichmentFailureDegrades(t *testing.T) {
	h := newHarness(t, Options{})
	h.enricher.err = errors.New("metadata service down")
	h.detector.books = []vision.Book{
		{Title: "Dune", Confidence: 0.9},
		{Title: "Emma", Confidence: 0.8},
	}
	id := h.scan(t, nil)

	_, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Session.Status)
	require.Len(t, st.DetectedBooks, 2)
	for _, b := range st.DetectedBooks {
		assert.True(t, b.Metadata.Data().IsEmpty(), "book %s should have empty metadata", b.Title)
	}
}

func TestEnrichmentWindowIsBounded(t *testing.T) {
	h := newHarness(t, Options{EnrichmentTimeout: 30 * time.Millisecond})
	h.enricher.block = true
	id := h.scan(t, nil)

	start := time.Now()
	recs, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, recs, 5)
	assert.Less(t, time.Since(start), 2*time.Second)

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Session.Status)
}

func TestRecommenderReturnsNothing(t *testing.T) {
	h := newHarness(t, Options{})
	h.recommender.suggestions = []recommend.Suggestion{}
	id := h.scan(t, nil)

	recs, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, recs)

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Session.Status)
}

func TestSlowRecommenderStillCompletes(t *testing.T) {
	h := newHarness(t, Options{PhaseTimeout: 200 * time.Millisecond})
	h.recommender.block = true
	id := h.scan(t, nil)

	recs, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, recs)

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Session.Status)
	assert.Empty(t, st.Session.ErrorMessage)
	assert.Len(t, st.DetectedBooks, 1)
}

func TestSlowRecommenderWithAutoRecommend(t *testing.T) {
	h := newHarness(t, Options{PhaseTimeout: 200 * time.Millisecond, AutoRecommend: true})
	h.recommender.block = true
	id := h.scan(t, nil)

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Session.Status)
	assert.Empty(t, st.Recommendations)
}

func TestRecommendationTimeoutEndsBeforePhase(t *testing.T) {
	h := newHarness(t, Options{PhaseTimeout: 5 * time.Second, RecommendationTimeout: 50 * time.Millisecond})
	h.recommender.block = true
	id := h.scan(t, nil)

	start := time.Now()
	recs, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRecommendationTimeoutDefaults(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		expected time.Duration
	}{
		{"derived from short phase", Options{PhaseTimeout: 200 * time.Millisecond}, 150 * time.Millisecond},
		{"margin capped", Options{PhaseTimeout: time.Minute}, 55 * time.Second},
		{"explicit", Options{PhaseTimeout: time.Minute, RecommendationTimeout: 20 * time.Second}, 20 * time.Second},
		{"longer than phase", Options{PhaseTimeout: 10 * time.Second, RecommendationTimeout: 30 * time.Second}, 7500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.setDefaults()
			assert.Equal(t, tt.expected, tt.opts.RecommendationTimeout)
		})
	}
}

func TestRecommenderPanicFailsSession(t *testing.T) {
	h := newHarness(t, Options{})
	h.recommender.panic = true
	id := h.scan(t, nil)

	_, err := h.orch.Recommendations(context.Background(), id)
	require.Error(t, err)

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, st.Session.Status)
	assert.Equal(t, MsgInternal, st.Session.ErrorMessage)
}

func TestSeedsCappedAtFive(t *testing.T) {
	h := newHarness(t, Options{})
	h.detector.books = nil
	for _, title := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		h.detector.books = append(h.detector.books, vision.Book{Title: title, Confidence: 0.5})
	}
	// confidence order must not matter
	h.detector.books[6].Confidence = 1
	id := h.scan(t, nil)

	_, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)

	require.Len(t, h.recommender.seeds, 5)
	assert.Equal(t, "A", h.recommender.seeds[0].Title)
	assert.Equal(t, "E", h.recommender.seeds[4].Title)
}

func TestReaderContextForUser(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	user := &models.User{Email: "reader@example.com", PasswordHash: "x"}
	require.NoError(t, h.store.CreateUser(ctx, user))
	require.NoError(t, h.store.UpsertPreferences(ctx, &models.UserPreferences{
		UserID:         user.ID,
		FavoriteGenres: datatypes.NewJSONType([]string{"science fiction"}),
		ReadingGoal:    "more classics",
	}))
	for i := 0; i < 12; i++ {
		require.NoError(t, h.store.AddReadingHistory(ctx, &models.ReadingHistoryEntry{UserID: user.ID, Title: "Book"}))
	}

	id := h.scan(t, &user.ID)
	recs, err := h.orch.Recommendations(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, []string{"science fiction"}, h.recommender.prefs.Genres)
	assert.Equal(t, "more classics", h.recommender.prefs.Goal)
	assert.Len(t, h.recommender.hist, 10)
	require.NotEmpty(t, recs)
	require.NotNil(t, recs[0].UserID)
	assert.Equal(t, user.ID, *recs[0].UserID)
}

func TestAutoRecommend(t *testing.T) {
	h := newHarness(t, Options{AutoRecommend: true})
	id := h.scan(t, nil)

	st, err := h.orch.GetSessionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Session.Status)
	assert.Len(t, st.Recommendations, 5)
}

func TestGetSessionStatusIsPureAndStable(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.scan(t, nil)
	_, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)

	encode := func() []byte {
		st, err := h.orch.GetSessionStatus(context.Background(), id)
		require.NoError(t, err)
		b, err := json.Marshal(struct {
			Books []models.DetectedBook
			Recs  []models.Recommendation
		}{st.DetectedBooks, st.Recommendations})
		require.NoError(t, err)
		return b
	}

	first := encode()
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, encode())
	}
}

func TestSubmitFeedback(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.scan(t, nil)
	ctx := context.Background()

	correct := false
	require.NoError(t, h.orch.SubmitFeedback(ctx, &models.UserFeedback{
		SessionID:      id,
		FeedbackType:   "correction",
		IsCorrect:      &correct,
		CorrectedTitle: "Dune Messiah",
	}))

	st, err := h.orch.GetSessionStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompletedDetection, st.Session.Status)

	err = h.orch.SubmitFeedback(ctx, &models.UserFeedback{SessionID: "does-not-exist", FeedbackType: "rating"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	fb, err := h.store.ListFeedback(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, fb)
}

func TestSweep(t *testing.T) {
	h := newHarness(t, Options{StaleAfter: 10 * time.Minute})
	h.detector.block = true

	ticket, err := h.orch.StartScan(context.Background(), Upload{Image: testJPEG(t)})
	require.NoError(t, err)

	res, err := h.orch.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Failed)

	h.orch.now = func() time.Time { return time.Now().Add(time.Hour) }
	res, err = h.orch.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Failed)

	st, err := h.orch.GetSessionStatus(context.Background(), ticket.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, st.Session.Status)
	assert.Equal(t, MsgStale, st.Session.ErrorMessage)

	h.orch.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	res, err = h.orch.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted)

	_, err = h.orch.GetSessionStatus(context.Background(), ticket.SessionID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.scan(t, nil)

	require.NoError(t, h.orch.DeleteSession(context.Background(), id))
	assert.ErrorIs(t, h.orch.DeleteSession(context.Background(), id), storage.ErrNotFound)
}

func TestPhaseMetrics(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.scan(t, nil)
	_, err := h.orch.Recommendations(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ScansStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PhaseOutcomes.WithLabelValues("detection", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PhaseOutcomes.WithLabelValues("recommendation", "success")))
}
