package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"smartdelay/internal/types"
)

// SubscriptionRepo reads and writes the local subscriptions table.
//
// Upsert applies optimistic ordering on updated_at so an out-of-order
// billing event can never roll a user back to an older state.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// GetSubscription returns the user's subscription, or nil when the user has
// never subscribed.
func (r *SubscriptionRepo) GetSubscription(ctx context.Context, userID string) (*types.Subscription, error) {
	var s types.Subscription
	err := r.db.QueryRow(ctx,
		`SELECT user_id, plan, status, current_period_end, updated_at
		 FROM subscriptions
		 WHERE user_id = $1`,
		userID,
	).Scan(&s.UserID, &s.Plan, &s.Status, &s.CurrentPeriodEnd, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get subscription", err)
	}
	return &s, nil
}

// Upsert stores the subscription state carried by a billing event. Events
// older than the stored row are ignored.
func (r *SubscriptionRepo) Upsert(ctx context.Context, s *types.Subscription, eventAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (user_id, plan, status, current_period_end, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		   SET plan = EXCLUDED.plan,
		       status = EXCLUDED.status,
		       current_period_end = EXCLUDED.current_period_end,
		       updated_at = EXCLUDED.updated_at
		   WHERE subscriptions.updated_at < EXCLUDED.updated_at`,
		s.UserID,
		s.Plan,
		s.Status,
		s.CurrentPeriodEnd,
		eventAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Info("stale subscription event ignored",
			slog.String("user_id", s.UserID),
			slog.Time("event_at", eventAt),
		)
	}
	return nil
}
