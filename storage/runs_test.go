package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iproperty-etl/models"
)

func steppingClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Minute)
	}
}

func TestRunLedgerRecordsRuns(t *testing.T) {
	ctx := context.Background()
	ledger := NewRunLedger(newTestDB(t)).WithClock(steppingClock(loadTime))
	require.NoError(t, ledger.EnsureTable(ctx))

	first, err := ledger.Start(ctx, "load")
	require.NoError(t, err)
	require.NoError(t, ledger.Finish(ctx, first, models.LoadStats{Inserted: 3, Unchanged: 1}, nil))

	second, err := ledger.Start(ctx, "load")
	require.NoError(t, err)
	require.NoError(t, ledger.Finish(ctx, second, models.LoadStats{}, errors.New("staging: nothing imported")))

	last, err := ledger.Last(ctx, "load")
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
	assert.Equal(t, models.RunFailed, last.Status)
	assert.Equal(t, "staging: nothing imported", last.Message)
	require.NotNil(t, last.FinishedAt)
	assert.True(t, last.FinishedAt.After(last.StartedAt))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRunLedgerKeepsCounts(t *testing.T) {
	ctx := context.Background()
	ledger := NewRunLedger(newTestDB(t)).WithClock(steppingClock(loadTime))
	require.NoError(t, ledger.EnsureTable(ctx))

	run, err := ledger.Start(ctx, "transform")
	require.NoError(t, err)
	require.NoError(t, ledger.Finish(ctx, run, models.LoadStats{Inserted: 3, Updated: 2, Unchanged: 1}, nil))

	last, err := ledger.Last(ctx, "transform")
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, last.Status)
	assert.Equal(t, 3, last.Inserted)
	assert.Equal(t, 2, last.Updated)
	assert.Equal(t, 1, last.Unchanged)
	assert.Empty(t, last.Message)
}

func TestRunLedgerNoRuns(t *testing.T) {
	ctx := context.Background()
	ledger := NewRunLedger(newTestDB(t))
	require.NoError(t, ledger.EnsureTable(ctx))

	_, err := ledger.Last(ctx, "extract")
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	lock := NewTableLock(newTestDB(t))

	release, err := lock.Acquire(ctx, "staging_iproperty")
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "staging_iproperty")
	assert.ErrorIs(t, err, ErrTableLocked)

	other, err := lock.Acquire(ctx, "raw_iproperty")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := lock.Acquire(ctx, "staging_iproperty")
	require.NoError(t, err)
	again()
}
