// Package uow declares the transaction boundary used by the domain services.
package uow

import (
	"context"
	"sync"
)

// UnitOfWork runs a function inside a storage transaction. The transaction is
// carried by the context passed to fn; repositories called with that context
// join it. A nil error from fn commits, anything else rolls back.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	// RunReadOnly runs fn against a consistent read snapshot.
	RunReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}

type hooksKey struct{}

// Hooks collects callbacks registered with AfterCommit during one
// transaction.
type Hooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

// WithHooks returns a context that collects AfterCommit callbacks. Storage
// implementations call it when they open the outermost transaction and call
// Run once the commit succeeded.
func WithHooks(ctx context.Context) (context.Context, *Hooks) {
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// AfterCommit defers fn until the transaction carried by ctx commits. It is
// dropped if the transaction rolls back. Outside a transaction fn runs
// immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	h, ok := ctx.Value(hooksKey{}).(*Hooks)
	if !ok {
		fn(ctx)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

// Run calls the collected callbacks in registration order. The context is
// detached from cancellation since the transaction deadline no longer applies.
func (h *Hooks) Run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for _, fn := range fns {
		fn(ctx)
	}
}
