package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWithRetryRerunsTransientConflicts(t *testing.T) {
	forsøk := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		forsøk++
		if forsøk < 3 {
			return fmt.Errorf("commit: %w", &pgconn.PgError{Code: kodeSerializationFailure})
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, forsøk)
}

func TestWithRetryGivesUp(t *testing.T) {
	forsøk := 0
	err := WithRetry(context.Background(), 2, time.Millisecond, func() error {
		forsøk++
		return &pgconn.PgError{Code: kodeDeadlockDetected}
	})
	assert.True(t, isRetriable(err))
	assert.Equal(t, 3, forsøk, "first attempt plus two retries")
}

func TestWithRetryStopsOnOtherErrors(t *testing.T) {
	forsøk := 0
	unik := &pgconn.PgError{Code: kodeUniqueViolation}
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		forsøk++
		return unik
	})
	assert.ErrorIs(t, err, unik)
	assert.True(t, isUniqueViolation(err))
	assert.Equal(t, 1, forsøk)
}

func TestWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, 3, time.Hour, func() error {
		return &pgconn.PgError{Code: kodeSerializationFailure}
	})
	assert.True(t, errors.Is(err, context.Canceled))
}
