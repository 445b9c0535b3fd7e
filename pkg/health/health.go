// Package health serves the /livez and /readyz endpoints of the API.
//
// Checks run in the background and the endpoints only report the last
// observed state, so a slow dependency never slows down the kubelet.
package health

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc reports a problem with a dependency as an error.
type CheckFunc func(ctx context.Context) error

// Kind selects the endpoint a check contributes to.
type Kind uint8

const (
	// Liveness checks fail /livez; the process should be restarted.
	Liveness Kind = iota
	// Readiness checks fail /readyz; traffic should go elsewhere.
	Readiness
)

const (
	defaultTimeout  = 5 * time.Second
	defaultFailures = 3
)

// Check is a named background check.
type Check struct {
	Name string
	Kind Kind
	// Timeout bounds a single run. Defaults to 5s.
	Timeout time.Duration
	// Failures is the number of consecutive failed runs that mark the check
	// down. One success marks it up again. Defaults to 3.
	Failures int
	Run      CheckFunc
}

type tracked struct {
	Check

	mu      sync.Mutex
	streak  int
	down    bool
	lastErr error
}

func (t *tracked) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()
	err := t.Run(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = err
	if err == nil {
		t.streak = 0
		t.down = false
		return
	}
	t.streak++
	if t.streak >= t.Failures {
		t.down = true
	}
}

// state returns "ok" or the error that took the check down.
func (t *tracked) state() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case !t.down:
		return "ok", true
	case t.lastErr != nil:
		return t.lastErr.Error(), false
	default:
		return "down", false
	}
}

// Health owns the registered checks and the manual readiness gate.
type Health struct {
	ready atomic.Bool

	mu     sync.Mutex
	checks []*tracked
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers c. Checks start up and are expected to be added before Start.
func (h *Health) Add(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Failures <= 0 {
		c.Failures = defaultFailures
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, &tracked{Check: c})
}

func (h *Health) snapshot(kind Kind) []*tracked {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*tracked
	for _, c := range h.checks {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// RunOnce runs every check once and waits for all of them.
func (h *Health) RunOnce(ctx context.Context) {
	h.mu.Lock()
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Go(func() { c.run(ctx) })
	}
	wg.Wait()
}

// Start runs every check immediately and then once per interval until Stop
// or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			h.RunOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the background runs. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate, closed during startup and
// graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness check is up.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(Readiness) {
		if _, ok := c.state(); !ok {
			return false
		}
	}
	return true
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, newReport(h.snapshot(Liveness), nil))
}

// ReadyEndpoint serves /readyz. The manual gate is reported as the "ready"
// field.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	ready := h.ready.Load()
	writeReport(w, newReport(h.snapshot(Readiness), &ready))
}

type checkState struct {
	name  string
	state string
}

// report is {"status":"ok|unhealthy","ready":bool,"checks":{name:state}}
// with checks sorted by name.
type report struct {
	healthy bool
	ready   *bool
	checks  []checkState
}

func newReport(checks []*tracked, ready *bool) report {
	r := report{healthy: ready == nil || *ready, ready: ready}
	for _, c := range checks {
		state, ok := c.state()
		if !ok {
			r.healthy = false
		}
		r.checks = append(r.checks, checkState{name: c.Name, state: state})
	}
	slices.SortFunc(r.checks, func(a, b checkState) int { return cmp.Compare(a.name, b.name) })
	return r
}

func (r report) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) {
			if r.healthy {
				e.Str("ok")
				return
			}
			e.Str("unhealthy")
		})
		if r.ready != nil {
			e.Field("ready", func(e *jx.Encoder) { e.Bool(*r.ready) })
		}
		if len(r.checks) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, c := range r.checks {
					e.Field(c.name, func(e *jx.Encoder) { e.Str(c.state) })
				}
			})
		})
	})
}

func writeReport(w http.ResponseWriter, r report) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	r.Encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if r.healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write(e.Bytes())
}
