package db

import (
	"context"
	"fmt"
	"time"

	"smartdelay/internal/types"
)

// OutcomeStore commits the writes of one trip evaluation atomically.
//
// The notified branch touches three tables (the notification row, the
// trip's last_alert_at and next_check_at, and the token's last_used_at);
// either all of them land or none do.
type OutcomeStore struct {
	pool TxBeginner
}

// NewOutcomeStore creates an OutcomeStore. *pgxpool.Pool satisfies TxBeginner.
func NewOutcomeStore(pool TxBeginner) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// NotifiedOutcome is everything persisted after a successful delivery.
type NotifiedOutcome struct {
	Notification *types.SmartDelayNotification
	Token        string
	NextCheckAt  time.Time
}

// CommitNotified records a delivered alert and reschedules the trip in one
// transaction. It returns the notification id.
func (s *OutcomeStore) CommitNotified(ctx context.Context, o NotifiedOutcome) (string, error) {
	n := o.Notification

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to begin outcome transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	id, err := NewNotificationRepository(tx).RecordNotification(ctx, n)
	if err != nil {
		return "", fmt.Errorf("recording notification for trip %s: %w", n.TripID, err)
	}

	trips := NewTripRepository(tx)
	if err := trips.SetLastAlert(ctx, n.TripID, n.SentAt); err != nil {
		return "", fmt.Errorf("setting last alert for trip %s: %w", n.TripID, err)
	}
	if _, err := trips.SetNextCheck(ctx, n.TripID, o.NextCheckAt); err != nil {
		return "", fmt.Errorf("rescheduling trip %s: %w", n.TripID, err)
	}

	if o.Token != "" {
		if err := NewPushTokenRepository(tx).TouchLastUsed(ctx, n.UserID, o.Token, n.SentAt); err != nil {
			return "", fmt.Errorf("touching push token for user %s: %w", n.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to commit outcome", err)
	}
	return id, nil
}
