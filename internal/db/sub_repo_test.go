package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"smartdelay/internal/types"
)

func TestSubscriptionRepo_GetSubscription(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"user-1"}).Return(&mockRow{scanFn: func(dest ...any) error {
		return assignAll([]any{"user-1", "plus", "past_due", &end, updated}, dest...)
	}})

	sub, err := NewSubscriptionRepo(db, nil).GetSubscription(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanPlus, sub.Plan)
	assert.Equal(t, types.SubscriptionPastDue, sub.Status)
	assert.Equal(t, end, *sub.CurrentPeriodEnd)
}

func TestSubscriptionRepo_GetSubscription_None(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	sub, err := NewSubscriptionRepo(db, nil).GetSubscription(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestSubscriptionRepo_Upsert_StaleEventIsNoOp(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "subscriptions.updated_at < EXCLUDED.updated_at")
	}), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	err := NewSubscriptionRepo(db, nil).Upsert(context.Background(),
		&types.Subscription{UserID: "user-1", Plan: types.PlanPro, Status: types.SubscriptionActive},
		time.Now())
	assert.NoError(t, err)
	db.AssertExpectations(t)
}
