package deviceflow

import (
	"context"
	"time"
)

// Clock abstracts time for the poller so tests can drive the polling loop
// without real sleeps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until the context is cancelled, returning the
	// context error in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// systemClock implements Clock on the real time package.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
