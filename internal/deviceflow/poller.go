package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TokenEndpoint exchanges a device code for tokens. Implementations report
// the RFC 8628 polling conditions via the package sentinel errors
// (ErrAuthorizationPending, ErrSlowDown, ErrExpiredCode, ErrAccessDenied) and
// everything else as a *ProtocolError or transport error.
type TokenEndpoint interface {
	Token(ctx context.Context, deviceCode string) (*TokenResponse, error)
}

// Poller drives the token endpoint polling loop per RFC 8628 section 3.4.
// A Poller is stateless across attempts; all per-attempt state is local to
// a single Poll call, so one Poller may serve concurrent login attempts.
type Poller struct {
	endpoint  TokenEndpoint
	increment time.Duration
	clock     Clock
}

// NewPoller creates a poller for the given token endpoint.
func NewPoller(endpoint TokenEndpoint, opts ...Option) *Poller {
	p := &Poller{
		endpoint:  endpoint,
		increment: SlowDownIncrement,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll blocks until the device authorization reaches a terminal outcome:
// a token (nil error), ErrExpiredCode, ErrAccessDenied, a *ProtocolError,
// or the context error if cancelled.
//
// The loop sleeps for the current interval before every request, the first
// included; the server's interval is a minimum spacing, never a suggestion.
// The interval only grows (slow_down adds the configured increment), and the
// client enforces the expires_in deadline itself: once it passes, polling
// stops even if the server never reports expired_token.
func (p *Poller) Poll(ctx context.Context, auth *DeviceAuthorization) (*TokenResponse, error) {
	if auth == nil || auth.DeviceCode == "" {
		return nil, fmt.Errorf("%w: missing device code", ErrDeviceRequestFailed)
	}

	interval := auth.IntervalDuration()
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := p.clock.Now().Add(auth.ExpiryDuration())

	for {
		if err := p.clock.Sleep(ctx, interval); err != nil {
			return nil, err
		}

		// Client-side expiry check happens before the request so that no
		// call is ever issued past the deadline.
		if !p.clock.Now().Before(deadline) {
			return nil, ErrExpiredCode
		}

		token, err := p.endpoint.Token(ctx, auth.DeviceCode)
		switch {
		case err == nil:
			return token, nil

		case errors.Is(err, ErrAuthorizationPending):
			// Keep waiting at the current interval.

		case errors.Is(err, ErrSlowDown):
			interval += p.increment

		case errors.Is(err, ErrExpiredCode), errors.Is(err, ErrAccessDenied):
			return nil, err

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err

		default:
			// Transport failures and unrecognized error codes are terminal;
			// the protocol only sanctions retrying pending and slow_down.
			return nil, err
		}
	}
}
