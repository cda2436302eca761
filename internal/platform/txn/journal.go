// Package txn provides a compensation journal for stores that cannot span one transaction
// across several repositories.
//
// Each repository mutation stays individually atomic. Callers register the inverse of every
// successful mutation with OnRollback; when the unit of work fails the inverses run in
// reverse registration order.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type journalKey struct{}

// UndoFunc reverses one previously applied mutation.
type UndoFunc func(ctx context.Context) error

// Journal records undo steps for the active unit of work.
type Journal struct {
	mu    sync.Mutex
	steps []UndoFunc
}

// OnRollback registers undo against the unit of work carried by ctx.
// Outside a unit of work it is a no-op.
func OnRollback(ctx context.Context, undo UndoFunc) {
	if undo == nil {
		return
	}
	j := journalFrom(ctx)
	if j == nil {
		return
	}
	j.mu.Lock()
	j.steps = append(j.steps, undo)
	j.mu.Unlock()
}

// Active reports whether ctx belongs to a running unit of work.
func Active(ctx context.Context) bool {
	return journalFrom(ctx) != nil
}

// Len returns the number of registered undo steps.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.steps)
}

func (j *Journal) rollback(ctx context.Context) error {
	j.mu.Lock()
	steps := j.steps
	j.steps = nil
	j.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func journalFrom(ctx context.Context) *Journal {
	if ctx == nil {
		return nil
	}
	j, _ := ctx.Value(journalKey{}).(*Journal)
	return j
}

// Option customises the journal unit of work.
type Option func(*JournalUnitOfWork)

// WithLogger installs a hook invoked when compensation fails.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(u *JournalUnitOfWork) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// JournalUnitOfWork implements repositories.UnitOfWork by compensation.
type JournalUnitOfWork struct {
	logger func(context.Context, string, map[string]any)
}

// NewJournalUnitOfWork constructs a compensation based unit of work.
func NewJournalUnitOfWork(opts ...Option) *JournalUnitOfWork {
	u := &JournalUnitOfWork{
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

// RunInTx executes fn inside a unit of work. Nested calls join the outer unit.
func (u *JournalUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return errors.New("txn: function is required")
	}
	if Active(ctx) {
		return fn(ctx)
	}

	j := &Journal{}
	txCtx, runHooks := WithCommitHooks(context.WithValue(ctx, journalKey{}, j))

	defer func() {
		if r := recover(); r != nil {
			_ = u.compensate(ctx, j)
			panic(r)
		}
	}()

	if err = fn(txCtx); err != nil {
		if rbErr := u.compensate(ctx, j); rbErr != nil {
			return errors.Join(err, fmt.Errorf("txn: rollback: %w", rbErr))
		}
		return err
	}
	runHooks(ctx)
	return nil
}

func (u *JournalUnitOfWork) compensate(ctx context.Context, j *Journal) error {
	steps := j.Len()
	err := j.rollback(context.WithoutCancel(ctx))
	if err != nil {
		u.logger(ctx, "txn.rollback.failed", map[string]any{
			"steps": steps,
			"error": err.Error(),
		})
	}
	return err
}
