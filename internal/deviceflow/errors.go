package deviceflow

import (
	"errors"
	"fmt"
)

// Common errors surfaced by the device authorization flow. The token
// endpoint's error vocabulary (RFC 8628 section 3.5) is decoded exactly once,
// at the HTTP boundary, into these values; the poller never matches strings.
var (
	// ErrDeviceRequestFailed indicates the initial device authorization
	// request was rejected or returned an unusable response
	ErrDeviceRequestFailed = errors.New("device authorization request failed")

	// ErrAuthorizationPending indicates user authorization is not yet
	// complete; the client keeps polling
	ErrAuthorizationPending = errors.New("authorization pending")

	// ErrSlowDown indicates the client is polling too frequently per
	// RFC 8628 section 3.5; the poll interval must be increased
	ErrSlowDown = errors.New("polling too frequently")

	// ErrExpiredCode indicates the device code has expired, whether
	// reported by the server or enforced by the client-side deadline
	ErrExpiredCode = errors.New("device code expired")

	// ErrAccessDenied indicates the user refused the authorization request
	ErrAccessDenied = errors.New("access denied by user")
)

// ProtocolError is a token endpoint failure outside the RFC 8628 polling
// vocabulary: an unrecognized error code, an HTTP-level failure, or a
// malformed response. It is terminal for the attempt and carries the raw
// code and description for operator-facing logs.
type ProtocolError struct {
	Code        string
	Description string
}

func (e *ProtocolError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token endpoint error %q: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("token endpoint error %q", e.Code)
}
