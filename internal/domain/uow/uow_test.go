package uow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAfterCommit(t *testing.T) {
	t.Run("outside transaction runs now", func(t *testing.T) {
		var ran bool
		AfterCommit(context.Background(), func(context.Context) { ran = true })
		assert.True(t, ran)
	})

	t.Run("deferred until Run", func(t *testing.T) {
		ctx, hooks := WithHooks(context.Background())
		var order []int
		AfterCommit(ctx, func(context.Context) { order = append(order, 1) })
		AfterCommit(ctx, func(context.Context) { order = append(order, 2) })
		assert.Empty(t, order)

		hooks.Run(ctx)
		assert.Equal(t, []int{1, 2}, order)

		hooks.Run(ctx)
		assert.Equal(t, []int{1, 2}, order, "callbacks run once")
	})

	t.Run("run ignores cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ctx, hooks := WithHooks(ctx)
		var err error
		AfterCommit(ctx, func(ctx context.Context) { err = ctx.Err() })
		cancel()

		hooks.Run(ctx)
		assert.NoError(t, err)
	})
}
