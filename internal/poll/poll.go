// Package poll provides a bounded-time predicate poller. It replaces fixed
// sleeps when waiting on state that another goroutine (or another process)
// mutates, so the wait ends as soon as the state converges.
package poll

import (
	"context"
	"time"

	"github.com/wondertwin-ai/hubverify/internal/failure"
)

// Condition reports whether the awaited state has been reached. It must be
// free of side effects; it is called once per tick.
type Condition func() bool

// Options tunes Wait.
type Options struct {
	// Interval between evaluations. Default: 500ms.
	Interval time.Duration
	// Timeout bounds the whole wait. Default: 60s.
	Timeout time.Duration
	// Contract names what the timeout violates. Default: delivery_count.
	Contract string
	// Observe, when set, is called once on timeout to describe the last
	// state the condition saw (e.g. captured vs expected counts).
	Observe func() map[string]any
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.Contract == "" {
		o.Contract = failure.ContractDeliveryCount
	}
}

// Wait evaluates cond immediately and then once per interval until it
// returns true, the timeout elapses, or ctx is done. A timeout yields a
// failure.CodeTimeout error. The last sleep is clipped to the deadline, so
// an always-false condition returns after at least Timeout and before
// Timeout+Interval.
func Wait(ctx context.Context, cond Condition, opts Options) error {
	opts.defaults()

	start := time.Now()
	deadline := start.Add(opts.Timeout)

	timer := time.NewTimer(opts.Interval)
	timer.Stop()
	defer timer.Stop()

	for {
		if cond() {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			var observed map[string]any
			if opts.Observe != nil {
				observed = opts.Observe()
			}
			return failure.Timeout(opts.Contract, time.Since(start), observed)
		}

		timer.Reset(min(opts.Interval, remaining))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
