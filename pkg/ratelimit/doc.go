// Package ratelimit paces outbound calls to remote hosts.
//
// A Limiter combines three gates that every call must pass:
//
//   - a rolling window cap per resource key (default 120 calls per hour),
//   - an exponential backoff gate per key, armed by RecordFailure and
//     cleared by RecordSuccess,
//   - a steady pace between any two calls across all keys.
//
// Acquire blocks until all three admit, or the context is cancelled.
// Admitted calls are counted the moment Acquire returns, so concurrent
// workers sharing one Limiter never exceed the cap in aggregate.
//
// Usage:
//
//	lim := ratelimit.New(ratelimit.Options{
//		Window:         time.Hour,
//		DefaultCap:     120,
//		KeyCaps:        map[string]int{"media": 600},
//		BackoffBase:    time.Second,
//		BackoffCeiling: 5 * time.Minute,
//		PaceInterval:   time.Second,
//	}, log)
//
//	if err := lim.Acquire(ctx, "listing"); err != nil {
//		return err
//	}
//	resp, err := doCall()
//	if err != nil {
//		lim.RecordFailure("listing")
//	} else {
//		lim.RecordSuccess("listing")
//	}
//
// State is held in memory only. A restarted process starts with an empty
// window, which errs on the permissive side after a crash.
package ratelimit
