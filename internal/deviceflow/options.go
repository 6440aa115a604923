package deviceflow

import "time"

// Option configures the poller
type Option func(*Poller)

// WithSlowDownIncrement sets the amount added to the poll interval on each
// slow_down response. RFC 8628 section 3.5 recommends 5 seconds, which is
// the default.
func WithSlowDownIncrement(d time.Duration) Option {
	return func(p *Poller) {
		p.increment = d
	}
}

// WithClock replaces the wall clock used for interval sleeps and deadline
// tracking. Intended for tests.
func WithClock(c Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}
