package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"smartdelay/internal/types"
)

// PushTokenRepository provides data access for the push_tokens table.
// A user may hold several tokens (one per device); delivery uses only the
// most recently registered.
type PushTokenRepository struct {
	db DBTX
}

// NewPushTokenRepository creates a new PushTokenRepository backed by the
// given database connection (pool or transaction).
func NewPushTokenRepository(db DBTX) *PushTokenRepository {
	return &PushTokenRepository{db: db}
}

// Register upserts a device token. Re-registering an existing token moves
// it to the front by refreshing registered_at.
func (r *PushTokenRepository) Register(ctx context.Context, token *types.PushToken, now time.Time) error {
	if err := token.Validate(); err != nil {
		return err
	}
	token.RegisteredAt = now

	_, err := r.db.Exec(ctx,
		`INSERT INTO push_tokens (user_id, token, device_id, registered_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, token) DO UPDATE
		   SET device_id = EXCLUDED.device_id,
		       registered_at = EXCLUDED.registered_at`,
		token.UserID,
		token.Token,
		token.DeviceID,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to register push token", err)
	}
	return nil
}

// LatestTokenFor returns the most recently registered token for the user.
// The boolean is false when the user has no token.
func (r *PushTokenRepository) LatestTokenFor(ctx context.Context, userID string) (string, bool, error) {
	var token string
	err := r.db.QueryRow(ctx,
		`SELECT token
		 FROM push_tokens
		 WHERE user_id = $1
		 ORDER BY registered_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, types.NewAppError(types.ErrCodeInternalDB, "failed to look up push token", err)
	}
	return token, true, nil
}

// TouchLastUsed stamps last_used_at after a successful delivery. A token
// that was removed in the meantime is not an error.
func (r *PushTokenRepository) TouchLastUsed(ctx context.Context, userID, token string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE push_tokens SET last_used_at = $3 WHERE user_id = $1 AND token = $2`,
		userID,
		token,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update push token usage", err)
	}
	return nil
}
