package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// MaxGoroutines fails once the process runs more than limit goroutines,
// which in this service means leaked request or worker goroutines.
func MaxGoroutines(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines, limit %d", n, limit)
		}
		return nil
	}
}

// MaxAge fails when the age reported by oldest exceeds limit. The outbox
// uses it: a stuck publisher shows up as an ever older pending message.
func MaxAge(oldest func(ctx context.Context) (time.Duration, error), limit time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		age, err := oldest(ctx)
		if err != nil {
			return errors.Wrap(err, "oldest age")
		}
		if age > limit {
			return errors.Errorf("oldest pending %s, limit %s", age.Round(time.Second), limit)
		}
		return nil
	}
}
