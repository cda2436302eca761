package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInTxCommitsWithoutUndo(t *testing.T) {
	uow := NewJournalUnitOfWork()
	var undone bool

	err := uow.RunInTx(context.Background(), func(ctx context.Context) error {
		require.True(t, Active(ctx))
		OnRollback(ctx, func(context.Context) error {
			undone = true
			return nil
		})
		return nil
	})

	require.NoError(t, err)
	assert.False(t, undone)
}

func TestRunInTxRollsBackInReverseOrder(t *testing.T) {
	uow := NewJournalUnitOfWork()
	var order []int
	boom := errors.New("boom")

	err := uow.RunInTx(context.Background(), func(ctx context.Context) error {
		for i := 1; i <= 3; i++ {
			i := i
			OnRollback(ctx, func(context.Context) error {
				order = append(order, i)
				return nil
			})
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestRunInTxNestedJoinsOuter(t *testing.T) {
	uow := NewJournalUnitOfWork()
	var undone int
	boom := errors.New("outer failure")

	err := uow.RunInTx(context.Background(), func(ctx context.Context) error {
		inner := uow.RunInTx(ctx, func(ctx context.Context) error {
			OnRollback(ctx, func(context.Context) error {
				undone++
				return nil
			})
			return nil
		})
		require.NoError(t, inner)
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, undone)
}

func TestRunInTxReportsCompensationFailure(t *testing.T) {
	var logged string
	uow := NewJournalUnitOfWork(WithLogger(func(_ context.Context, event string, _ map[string]any) {
		logged = event
	}))
	boom := errors.New("boom")
	undoErr := errors.New("undo failed")

	err := uow.RunInTx(context.Background(), func(ctx context.Context) error {
		OnRollback(ctx, func(context.Context) error { return undoErr })
		return boom
	})

	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, undoErr)
	assert.Equal(t, "txn.rollback.failed", logged)
}

func TestRollbackRunsAfterCancellation(t *testing.T) {
	uow := NewJournalUnitOfWork()
	ctx, cancel := context.WithCancel(context.Background())
	var ctxErr error

	_ = uow.RunInTx(ctx, func(txCtx context.Context) error {
		OnRollback(txCtx, func(undoCtx context.Context) error {
			ctxErr = undoCtx.Err()
			return nil
		})
		cancel()
		return txCtx.Err()
	})

	assert.NoError(t, ctxErr)
}

func TestOnRollbackOutsideUnitIsNoop(t *testing.T) {
	assert.False(t, Active(context.Background()))
	OnRollback(context.Background(), func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})
}

func TestAfterCommitRunsOnlyOnCommit(t *testing.T) {
	uow := NewJournalUnitOfWork()
	var ran []string

	err := uow.RunInTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func(context.Context) { ran = append(ran, "committed") })
		assert.Empty(t, ran)
		return nil
	})
	require.NoError(t, err)

	failure := errors.New("boom")
	err = uow.RunInTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func(context.Context) { ran = append(ran, "rolled back") })
		return failure
	})
	require.ErrorIs(t, err, failure)

	AfterCommit(context.Background(), func(context.Context) { ran = append(ran, "immediate") })
	assert.Equal(t, []string{"committed", "immediate"}, ran)
}
