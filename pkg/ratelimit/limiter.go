package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dredge/pkg/logger"
)

// Options configures a Limiter.
type Options struct {
	// Window is the rolling window size the caps apply to.
	Window time.Duration
	// DefaultCap is the maximum number of calls per window for any
	// resource key without an override.
	DefaultCap int
	// KeyCaps overrides the cap for specific resource keys.
	KeyCaps map[string]int
	// BackoffBase is the delay after the first consecutive failure of a
	// key; each further failure doubles it.
	BackoffBase time.Duration
	// BackoffCeiling caps the backoff delay.
	BackoffCeiling time.Duration
	// PaceInterval spaces any two outbound calls, across all keys.
	// Zero disables pacing.
	PaceInterval time.Duration
}

// DefaultOptions returns limiter options matching the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		Window:         time.Hour,
		DefaultCap:     120,
		BackoffBase:    time.Second,
		BackoffCeiling: 5 * time.Minute,
		PaceInterval:   time.Second,
	}
}

// window tracks recent calls and the failure backoff gate for one key.
type window struct {
	calls     []time.Time
	failures  int
	notBefore time.Time
}

// Limiter enforces a per-resource-key rolling window cap, a failure backoff
// gate per key, and a steady pace between all outbound calls. State is
// process-local; a restart clears the window.
type Limiter struct {
	opts   Options
	pacer  *rate.Limiter
	logger logger.Logger

	mu   sync.Mutex
	keys map[string]*window
}

// New creates a Limiter from the given options.
func New(opts Options, log logger.Logger) *Limiter {
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	if opts.DefaultCap <= 0 {
		opts.DefaultCap = 1
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	l := &Limiter{
		opts:   opts,
		logger: log,
		keys:   make(map[string]*window),
	}
	if opts.PaceInterval > 0 {
		l.pacer = rate.NewLimiter(rate.Every(opts.PaceInterval), 1)
	}
	return l
}

// Acquire blocks until issuing one call for the key would stay within the
// window cap, the key's backoff gate has passed, and the pacer admits.
// The admitted call is counted immediately, so the aggregate rate across
// concurrent workers respects the cap.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	if l.pacer != nil {
		if err := l.pacer.Wait(ctx); err != nil {
			return err
		}
	}

	for {
		l.mu.Lock()
		w := l.windowFor(key)
		now := time.Now()

		if delay := w.notBefore.Sub(now); delay > 0 {
			l.mu.Unlock()
			l.logger.WithFields(map[string]interface{}{
				"resource": key,
				"wait":     delay,
			}).Debug("Backoff gate active, waiting")
			if err := wait(ctx, delay); err != nil {
				return err
			}
			continue
		}

		w.trim(now, l.opts.Window)
		if len(w.calls) < l.capFor(key) {
			w.calls = append(w.calls, now)
			l.mu.Unlock()
			return nil
		}

		// Window is full: wait until the oldest call falls out of it.
		delay := w.calls[0].Add(l.opts.Window).Sub(now)
		l.mu.Unlock()
		if delay <= 0 {
			delay = 10 * time.Millisecond
		}
		l.logger.WithFields(map[string]interface{}{
			"resource": key,
			"wait":     delay,
			"cap":      l.capFor(key),
		}).Warn("Rate limit reached, backing off")
		if err := wait(ctx, delay); err != nil {
			return err
		}
	}
}

// RecordFailure notes a failed call for the key. Each consecutive failure
// doubles the backoff delay from the base up to the ceiling, and the key's
// next Acquire blocks until the delay has passed. Returns the delay.
func (l *Limiter) RecordFailure(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windowFor(key)
	w.failures++

	delay := float64(l.opts.BackoffBase) * math.Pow(2, float64(w.failures-1))
	if ceiling := float64(l.opts.BackoffCeiling); ceiling > 0 && delay > ceiling {
		delay = ceiling
	}

	d := time.Duration(delay)
	w.notBefore = time.Now().Add(d)
	return d
}

// RecordSuccess resets the consecutive failure count for the key.
func (l *Limiter) RecordSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windowFor(key)
	w.failures = 0
	w.notBefore = time.Time{}
}

// Failures returns the current consecutive failure count for the key.
func (l *Limiter) Failures(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windowFor(key).failures
}

// Reset clears all window and backoff state.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = make(map[string]*window)
}

// windowFor returns the window for a key, creating it lazily.
// Caller must hold l.mu.
func (l *Limiter) windowFor(key string) *window {
	w, ok := l.keys[key]
	if !ok {
		w = &window{}
		l.keys[key] = w
	}
	return w
}

// capFor returns the window cap for a key.
func (l *Limiter) capFor(key string) int {
	if cap, ok := l.opts.KeyCaps[key]; ok && cap > 0 {
		return cap
	}
	return l.opts.DefaultCap
}

// trim removes calls that have left the rolling window.
func (w *window) trim(now time.Time, windowSize time.Duration) {
	cutoff := now.Add(-windowSize)

	i := 0
	for i < len(w.calls) && w.calls[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(w.calls, w.calls[i:])
		w.calls = w.calls[:len(w.calls)-i]
	}
}

// wait sleeps for the delay or until the context is cancelled.
func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
