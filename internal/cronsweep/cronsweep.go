// Package cronsweep drives the TTL sweepers of C2/C4/C11 from a cron
// expression instead of a fixed time.Duration, so the "at most once
// per minute" cadence named throughout §4 is an operator-configurable
// schedule rather than a hardcoded constant. Grounded on
// adhocore/gronx's cron-expression evaluator, wrapped in a
// time.Ticker-shaped type so existing sweep call sites (built around
// ticker.C / ticker.Stop()) need no reshaping beyond swapping the
// constructor.
package cronsweep

import (
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Ticker fires C on every tick of a cron expression, mimicking
// time.Ticker's shape so sweep loops written against
// time.NewTicker(interval) keep their select/Stop structure unchanged.
type Ticker struct {
	C chan time.Time

	done chan struct{}
}

// NewTicker starts a Ticker that fires according to expr (standard
// five-field cron syntax, e.g. "* * * * *" for once a minute). An
// invalid expression falls back to firing every minute on the wall
// clock, logged once, rather than failing the sweeper's owning
// goroutine outright — a malformed schedule must never stop the TTL
// sweep it drives.
func NewTicker(expr string) *Ticker {
	if !gronx.IsValid(expr) {
		slog.Warn("cronsweep.invalid_expression", "expr", expr, "fallback", "* * * * *")
		expr = "* * * * *"
	}

	t := &Ticker{
		C:    make(chan time.Time, 1),
		done: make(chan struct{}),
	}
	go t.run(expr)
	return t
}

func (t *Ticker) run(expr string) {
	for {
		now := time.Now()
		next, err := gronx.NextTickAfter(expr, now, false)
		if err != nil {
			slog.Warn("cronsweep.next_tick_failed", "expr", expr, "error", err)
			next = now.Add(time.Minute)
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-t.done:
			timer.Stop()
			return
		case fired := <-timer.C:
			select {
			case t.C <- fired:
			default: // a slow consumer never backs up the cron scheduler
			}
		}
	}
}

// Stop ends the Ticker's goroutine. Safe to call once; matches
// time.Ticker.Stop()'s signature so call sites need no special-casing.
func (t *Ticker) Stop() {
	close(t.done)
}
