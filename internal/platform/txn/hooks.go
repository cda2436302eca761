package txn

import (
	"context"
	"sync"
)

type hooksKey struct{}

type commitHooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

// AfterCommit defers fn until the unit of work carried by ctx commits. Hooks of a rolled back
// unit never run. Outside a unit of work fn runs immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	h, _ := ctx.Value(hooksKey{}).(*commitHooks)
	if h == nil {
		fn(ctx)
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// WithCommitHooks attaches a hook list to ctx. Unit of work implementations call the returned
// function after a successful commit.
func WithCommitHooks(ctx context.Context) (context.Context, func(context.Context)) {
	h := &commitHooks{}
	return context.WithValue(ctx, hooksKey{}, h), func(runCtx context.Context) {
		h.mu.Lock()
		fns := h.fns
		h.fns = nil
		h.mu.Unlock()
		for _, fn := range fns {
			fn(runCtx)
		}
	}
}
