package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/lehigh-university-libraries/shelfscan/internal/catalog"
	"github.com/lehigh-university-libraries/shelfscan/internal/models"
	"github.com/lehigh-university-libraries/shelfscan/internal/recommend"
	"github.com/lehigh-university-libraries/shelfscan/internal/storage"
)

// Recommendations returns the session's recommendations, running the
// enrichment and recommendation phase first when detection has finished
// but the phase has not. Concurrent callers for one session share a run.
func (o *Orchestrator) Recommendations(ctx context.Context, sessionID string) ([]models.Recommendation, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case models.StatusProcessing:
		return nil, ErrNotReady
	case models.StatusFailed:
		return nil, &FailedError{Message: session.ErrorMessage}
	case models.StatusCompletedDetection:
		_, err, shared := o.phase2.Do(sessionID, func() (any, error) {
			runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.PhaseTimeout)
			defer cancel()
			return nil, o.RunEnrichmentAndRecommendationPhase(runCtx, sessionID)
		})
		if shared {
			slog.Debug("Joined in-flight recommendation phase", "session_id", sessionID)
		}
		// lost a race with another process
		if err != nil && !errors.Is(err, storage.ErrInvalidTransition) {
			return nil, err
		}
	}

	return o.store.ListRecommendations(ctx, sessionID)
}

// RunEnrichmentAndRecommendationPhase enriches the detected books and asks
// for recommendations concurrently, then persists both and completes the
// session. Enrichment and recommendation failures degrade to empty metadata
// and zero recommendations.
func (o *Orchestrator) RunEnrichmentAndRecommendationPhase(ctx context.Context, sessionID string) (err error) {
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic during recommendation phase", "session_id", sessionID, "panic", r)
			o.fail(ctx, sessionID, MsgInternal)
			err = fmt.Errorf("panic during recommendation phase: %v", r)
		}
		outcome := "success"
		if err != nil {
			outcome = "failed"
		}
		o.metrics.Phase("recommendation", outcome, o.now().Sub(start))
	}()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.StatusCompletedDetection {
		return fmt.Errorf("%w: %s to %s", storage.ErrInvalidTransition, session.Status, models.StatusCompleted)
	}
	books, err := o.store.ListDetectedBooks(ctx, sessionID)
	if err != nil {
		return err
	}
	prefs, history := o.readerContext(ctx, session.UserID)

	seeds := make([]recommend.Seed, 0, recommend.MaxSeeds)
	for _, b := range books {
		if len(seeds) == recommend.MaxSeeds {
			break
		}
		seeds = append(seeds, recommend.Seed{Title: b.Title, Author: b.Author})
	}

	var (
		bookMeta    []models.BookMetadata
		suggestions []recommend.Suggestion
		g           errgroup.Group
	)
	recCtx, cancelRec := context.WithTimeout(ctx, o.opts.RecommendationTimeout)
	defer cancelRec()
	g.Go(func() error {
		queries := make([]catalog.Query, len(books))
		for i, b := range books {
			queries[i] = catalog.Query{Title: b.Title, Author: b.Author, ISBN: b.ISBN}
		}
		bookMeta = o.enrich(ctx, queries)
		return nil
	})
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("recommender panic: %v", r)
			}
		}()
		suggestions = o.recommender.Recommend(recCtx, seeds, prefs, history)
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Error("Recommendation phase aborted", "session_id", sessionID, "err", err)
		o.fail(ctx, sessionID, MsgInternal)
		return err
	}

	// A slow recommender may have used up the phase deadline. What follows
	// must still run so the session completes.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), o.opts.EnrichmentTimeout+writeTimeout)
	defer cancelPersist()

	queries := make([]catalog.Query, len(suggestions))
	for i, s := range suggestions {
		queries[i] = catalog.Query{Title: s.Title, Author: s.Author}
	}
	recMeta := o.enrich(persistCtx, queries)

	metadata := make(map[string]models.BookMetadata, len(books))
	byTitle := make(map[string]string, len(books))
	for i, b := range books {
		if !bookMeta[i].IsEmpty() {
			metadata[b.ID] = bookMeta[i]
		}
		key := models.NormalizeTitle(b.Title)
		if _, ok := byTitle[key]; !ok {
			byTitle[key] = b.ID
		}
	}

	recs := make([]models.Recommendation, 0, len(suggestions))
	for i, s := range suggestions {
		rec := models.Recommendation{
			UserID:    session.UserID,
			Title:     s.Title,
			Author:    s.Author,
			Score:     models.Clamp01(s.Score),
			Reasoning: s.Reasoning,
			Metadata:  datatypes.NewJSONType(recMeta[i]),
		}
		if id, ok := byTitle[models.NormalizeTitle(s.BasedOn)]; ok && s.BasedOn != "" {
			rec.DetectedBookID = &id
		}
		recs = append(recs, rec)
	}

	if err := o.store.CompleteSession(persistCtx, sessionID, metadata, recs); err != nil {
		slog.Error("Failed to complete session", "session_id", sessionID, "err", err)
		if !errors.Is(err, storage.ErrInvalidTransition) {
			o.fail(ctx, sessionID, MsgSaveFailed)
		}
		return err
	}

	o.metrics.Recommended(len(recs))
	slog.Info("Session complete", "session_id", sessionID,
		"books", len(books), "enriched", len(metadata), "recommendations", len(recs))
	return nil
}

// readerContext loads preferences and recent history. Anonymous sessions
// and missing rows yield empty values.
func (o *Orchestrator) readerContext(ctx context.Context, userID *string) (recommend.Preferences, []recommend.HistoryItem) {
	var prefs recommend.Preferences
	if userID == nil {
		return prefs, nil
	}

	p, err := o.store.GetPreferences(ctx, *userID)
	switch {
	case err == nil:
		prefs.Genres = p.FavoriteGenres.Data()
		prefs.Authors = p.FavoriteAuthors.Data()
		prefs.Goal = p.ReadingGoal
	case !errors.Is(err, storage.ErrNotFound):
		slog.Warn("Unable to load preferences", "user_id", *userID, "err", err)
	}

	entries, err := o.store.ListReadingHistory(ctx, *userID, recommend.MaxHistory)
	if err != nil {
		slog.Warn("Unable to load reading history", "user_id", *userID, "err", err)
		return prefs, nil
	}
	history := make([]recommend.HistoryItem, len(entries))
	for i, e := range entries {
		history[i] = recommend.HistoryItem{Title: e.Title, Author: e.Author, Rating: e.Rating, Status: e.Status}
	}
	return prefs, history
}

// enrich looks up every query with bounded parallelism inside the enrichment
// window. Results line up with queries; anything unresolved when the window
// closes, or that failed, stays empty.
func (o *Orchestrator) enrich(ctx context.Context, queries []catalog.Query) []models.BookMetadata {
	out := make([]models.BookMetadata, len(queries))
	if len(queries) == 0 {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.EnrichmentTimeout)
	defer cancel()

	type result struct {
		i  int
		md models.BookMetadata
	}
	results := make(chan result, len(queries))

	go func() {
		var g errgroup.Group
		g.SetLimit(o.opts.EnrichConcurrency)
		for i, q := range queries {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("Metadata lookup panicked", "title", q.Title, "panic", r)
					}
				}()
				md, err := o.enricher.Lookup(ctx, q)
				if err != nil {
					if !errors.Is(err, catalog.ErrNotFound) {
						slog.Warn("Metadata lookup failed", "title", q.Title, "err", err)
					}
					return nil
				}
				results <- result{i: i, md: md}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for {
		select {
		case r, ok := <-results:
			if !ok {
				return out
			}
			out[r.i] = r.md
		case <-ctx.Done():
			slog.Warn("Enrichment window closed with lookups outstanding", "timeout", o.opts.EnrichmentTimeout)
			return out
		}
	}
}
