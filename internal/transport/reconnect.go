package transport

import (
	"context"
	"sync"
	"time"

	logx "streamhub/pkg/logx"
)

// Reconnector schedules connection attempts. At most one attempt is pending
// or running; scheduling again while one is pending supersedes it. connect
// may block for the lifetime of the session; a non-nil return schedules the
// next attempt.
type Reconnector struct {
	delay    time.Duration
	maxDelay time.Duration
	log      logx.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	failures int
}

func NewReconnector(delay, maxDelay time.Duration, log logx.Logger) *Reconnector {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	if maxDelay < delay {
		maxDelay = delay
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconnector{delay: delay, maxDelay: maxDelay, log: log}
}

// Schedule runs connect after NextDelay unless cancelled or superseded. It
// reports false if an attempt is already running.
func (r *Reconnector) Schedule(ctx context.Context, connect func(context.Context) error) bool {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return false
	}
	if r.cancel != nil {
		r.cancel()
	}
	actx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	wait := r.delayLocked()
	r.mu.Unlock()

	go func() {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-actx.Done():
			return
		case <-t.C:
		}

		r.mu.Lock()
		if actx.Err() != nil || r.running {
			r.mu.Unlock()
			return
		}
		r.running = true
		r.mu.Unlock()

		started := time.Now()
		err := connect(actx)

		r.mu.Lock()
		r.running = false
		switch {
		case err == nil:
			r.failures = 0
		case time.Since(started) > r.maxDelay:
			// A long session that dropped starts the backoff over.
			r.failures = 1
		default:
			r.failures++
		}
		r.mu.Unlock()
		cancel()

		if err != nil && ctx.Err() == nil {
			r.log.Warn("reconnect failed", logx.Err(err))
			r.Schedule(ctx, connect)
		}
	}()
	return true
}

// Cancel drops any pending attempt.
func (r *Reconnector) Cancel() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
}

// Reset clears the failure count.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()
}

// NextDelay is the wait before the next scheduled attempt.
func (r *Reconnector) NextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delayLocked()
}

// The first attempt is immediate; after n consecutive failures the delay is
// delay*2^(n-1), capped at maxDelay.
func (r *Reconnector) delayLocked() time.Duration {
	if r.failures == 0 {
		return 0
	}
	d := r.delay
	for i := 1; i < r.failures; i++ {
		d *= 2
		if d >= r.maxDelay {
			return r.maxDelay
		}
	}
	return d
}
