package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/lehigh-university-libraries/shelfscan/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionSummary is a history row with child counts.
type SessionSummary struct {
	models.ScanSession
	BookCount           int64 `json:"book_count"`
	RecommendationCount int64 `json:"recommendation_count"`
}

func (s *Store) CreateSession(ctx context.Context, session *models.ScanSession) error {
	if session.Status == "" {
		session.Status = models.StatusProcessing
	}
	if session.Status != models.StatusProcessing {
		return fmt.Errorf("%w: sessions start in %s", ErrInvalidTransition, models.StatusProcessing)
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", translate(err))
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.ScanSession, error) {
	var session models.ScanSession
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

// TransitionStatus moves a session forward. The update only matches rows whose
// current status is a legal predecessor of to.
func (s *Store) TransitionStatus(ctx context.Context, id string, to models.Status, message string) error {
	return transition(s.db.WithContext(ctx), id, to, message)
}

func transition(tx *gorm.DB, id string, to models.Status, message string) error {
	from := models.Predecessors(to)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %s", ErrInvalidTransition, to)
	}

	res := tx.Model(&models.ScanSession{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{"status": to, "error_message": message})
	if res.Error != nil {
		return fmt.Errorf("failed to update session status: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var current models.ScanSession
	if err := tx.Select("status").Where("id = ?", id).First(&current).Error; err != nil {
		return translate(err)
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, to)
}

// SaveDetections persists the detected books and advances the session to
// completed_detection in one transaction.
func (s *Store) SaveDetections(ctx context.Context, sessionID string, books []models.DetectedBook) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transition(tx, sessionID, models.StatusCompletedDetection, ""); err != nil {
			return err
		}
		for i := range books {
			books[i].SessionID = sessionID
			books[i].Ordinal = i
		}
		if len(books) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(books, 100).Error; err != nil {
			return fmt.Errorf("failed to insert detected books: %w", translate(err))
		}
		return nil
	})
}

// CompleteSession writes enrichment metadata, inserts the ranked recommendations
// and marks the session completed in one transaction. Ranks are assigned 1..N in
// slice order.
func (s *Store) CompleteSession(ctx context.Context, sessionID string, metadata map[string]models.BookMetadata, recs []models.Recommendation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for bookID, md := range metadata {
			err := tx.Model(&models.DetectedBook{}).
				Where("id = ? AND session_id = ?", bookID, sessionID).
				Update("metadata", datatypes.NewJSONType(md)).Error
			if err != nil {
				return fmt.Errorf("failed to update book metadata: %w", err)
			}
		}

		for i := range recs {
			recs[i].SessionID = sessionID
			recs[i].Rank = i + 1
			recs[i].Score = models.Clamp01(recs[i].Score)
		}
		if len(recs) > 0 {
			if err := tx.Create(&recs).Error; err != nil {
				return fmt.Errorf("failed to insert recommendations: %w", translate(err))
			}
		}

		return transition(tx, sessionID, models.StatusCompleted, "")
	})
}

func (s *Store) ListDetectedBooks(ctx context.Context, sessionID string) ([]models.DetectedBook, error) {
	books := []models.DetectedBook{}
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("ordinal asc").
		Find(&books).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list detected books: %w", err)
	}
	return books, nil
}

func (s *Store) GetDetectedBook(ctx context.Context, sessionID, bookID string) (*models.DetectedBook, error) {
	var book models.DetectedBook
	err := s.db.WithContext(ctx).Where("id = ? AND session_id = ?", bookID, sessionID).First(&book).Error
	if err != nil {
		return nil, translate(err)
	}
	return &book, nil
}

func (s *Store) ListRecommendations(ctx context.Context, sessionID string) ([]models.Recommendation, error) {
	recs := []models.Recommendation{}
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "rank"}}).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	return recs, nil
}

// CreateFeedback stores feedback after checking that the session and the
// optional detected book exist together.
func (s *Store) CreateFeedback(ctx context.Context, fb *models.UserFeedback) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.ScanSession{}).Where("id = ?", fb.SessionID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("session %s: %w", fb.SessionID, ErrNotFound)
		}
		if fb.DetectedBookID != nil {
			err := tx.Model(&models.DetectedBook{}).
				Where("id = ? AND session_id = ?", *fb.DetectedBookID, fb.SessionID).
				Count(&n).Error
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("detected book %s: %w", *fb.DetectedBookID, ErrNotFound)
			}
		}
		if err := tx.Create(fb).Error; err != nil {
			return fmt.Errorf("failed to insert feedback: %w", translate(err))
		}
		return nil
	})
}

func (s *Store) ListFeedback(ctx context.Context, sessionID string) ([]models.UserFeedback, error) {
	out := []models.UserFeedback{}
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at asc").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return out, nil
}

// ListSessionsByUser returns a user's sessions, newest first.
func (s *Store) ListSessionsByUser(ctx context.Context, userID string, limit, offset int) ([]SessionSummary, error) {
	var sessions []models.ScanSession
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]SessionSummary, 0, len(sessions))
	if len(sessions) == 0 {
		return out, nil
	}

	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	books, err := s.countBySession(ctx, &models.DetectedBook{}, ids)
	if err != nil {
		return nil, err
	}
	recs, err := s.countBySession(ctx, &models.Recommendation{}, ids)
	if err != nil {
		return nil, err
	}

	for _, sess := range sessions {
		out = append(out, SessionSummary{
			ScanSession:         sess,
			BookCount:           books[sess.ID],
			RecommendationCount: recs[sess.ID],
		})
	}
	return out, nil
}

func (s *Store) countBySession(ctx context.Context, model any, ids []string) (map[string]int64, error) {
	var rows []struct {
		SessionID string
		N         int64
	}
	err := s.db.WithContext(ctx).Model(model).
		Select("session_id, count(*) as n").
		Where("session_id IN ?", ids).
		Group("session_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.SessionID] = r.N
	}
	return counts, nil
}

// DeleteSession removes a session; its books, recommendations and feedback cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ScanSession{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStaleFailed fails sessions that have been processing since before cutoff.
func (s *Store) MarkStaleFailed(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.ScanSession{}).
		Where("status = ? AND created_at < ?", models.StatusProcessing, cutoff).
		Updates(map[string]any{"status": models.StatusFailed, "error_message": message})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark stale sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteExpired removes sessions whose expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.ScanSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
