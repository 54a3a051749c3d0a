package pipeline

import (
	"context"
	"log/slog"

	"github.com/lehigh-university-libraries/shelfscan/internal/models"
)

// SessionStatus is the poll view of a session.
type SessionStatus struct {
	Session         *models.ScanSession
	DetectedBooks   []models.DetectedBook
	Recommendations []models.Recommendation
}

// GetSessionStatus reads a session and its children. It never mutates
// state. Sessions still processing report no books.
func (o *Orchestrator) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st := &SessionStatus{
		Session:         session,
		DetectedBooks:   []models.DetectedBook{},
		Recommendations: []models.Recommendation{},
	}
	if session.Status == models.StatusProcessing {
		return st, nil
	}

	if st.DetectedBooks, err = o.store.ListDetectedBooks(ctx, sessionID); err != nil {
		return nil, err
	}
	if st.Recommendations, err = o.store.ListRecommendations(ctx, sessionID); err != nil {
		return nil, err
	}
	return st, nil
}

// SubmitFeedback records feedback without touching the session status.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, fb *models.UserFeedback) error {
	return o.store.CreateFeedback(ctx, fb)
}

func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	return o.store.DeleteSession(ctx, sessionID)
}

type SweepResult struct {
	Failed  int64 `json:"failed"`
	Deleted int64 `json:"deleted"`
}

// Sweep fails sessions stuck in processing past StaleAfter and deletes
// expired sessions.
func (o *Orchestrator) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := o.now()

	failed, err := o.store.MarkStaleFailed(ctx, now.Add(-o.opts.StaleAfter), MsgStale)
	if err != nil {
		return res, err
	}
	res.Failed = failed

	deleted, err := o.store.DeleteExpired(ctx, now)
	if err != nil {
		return res, err
	}
	res.Deleted = deleted

	o.metrics.Swept(res.Failed, res.Deleted)
	if res.Failed > 0 || res.Deleted > 0 {
		slog.Info("Swept sessions", "failed", res.Failed, "deleted", res.Deleted)
	}
	return res, nil
}
