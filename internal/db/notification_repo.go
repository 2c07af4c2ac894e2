package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"smartdelay/internal/types"
)

// NotificationRepository provides data access for the append-only
// smart_delay_notifications table. Rows are never updated or deleted; the
// cooldown check reads them back by (user_id, trip_id, sent_at).
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new NotificationRepository backed by
// the given database connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// NewNotificationID generates a notification id with the sdn_ prefix.
func NewNotificationID() string {
	return "sdn_" + uuid.NewString()
}

// HasRecentNotification reports whether an alert for (userID, tripID) was
// sent at or after since.
func (r *NotificationRepository) HasRecentNotification(ctx context.Context, userID, tripID string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM smart_delay_notifications
		   WHERE user_id = $1 AND trip_id = $2 AND sent_at >= $3
		 )`,
		userID,
		tripID,
		since,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check recent notifications", err)
	}
	return exists, nil
}

// RecordNotification appends n and returns its id. An empty NotificationID
// is generated; an empty AlertType defaults to smart_delay.
func (r *NotificationRepository) RecordNotification(ctx context.Context, n *types.SmartDelayNotification) (string, error) {
	if n.NotificationID == "" {
		n.NotificationID = NewNotificationID()
	}
	if n.AlertType == "" {
		n.AlertType = types.AlertTypeSmartDelay
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO smart_delay_notifications
		   (notification_id, user_id, trip_id, alert_type, title, body,
		    delay_hours, improvement_pct, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.NotificationID,
		n.UserID,
		n.TripID,
		n.AlertType,
		n.Title,
		n.Body,
		n.DelayHours,
		n.ImprovementPct,
		n.SentAt,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to record notification", err)
	}
	return n.NotificationID, nil
}

// ListForTrip returns the alert history for a trip, newest first.
func (r *NotificationRepository) ListForTrip(ctx context.Context, tripID string, limit int) ([]types.SmartDelayNotification, error) {
	rows, err := r.db.Query(ctx,
		`SELECT notification_id, user_id, trip_id, alert_type, title, body,
		        delay_hours, improvement_pct, sent_at
		 FROM smart_delay_notifications
		 WHERE trip_id = $1
		 ORDER BY sent_at DESC
		 LIMIT $2`,
		tripID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifications", err)
	}
	defer rows.Close()

	var out []types.SmartDelayNotification
	for rows.Next() {
		var n types.SmartDelayNotification
		if err := rows.Scan(
			&n.NotificationID,
			&n.UserID,
			&n.TripID,
			&n.AlertType,
			&n.Title,
			&n.Body,
			&n.DelayHours,
			&n.ImprovementPct,
			&n.SentAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notifications", err)
	}
	return out, nil
}
