// Package identity binds an authenticated OAuth principal to the specific
// local account being logged into. OAuth proves that *a* user approved the
// request; the username check here is what stops any valid user from
// assuming any local identity.
package identity

import (
	"errors"
	"fmt"
)

// Identity holds the claims of a verified principal.
type Identity struct {
	// Subject is the stable unique identifier per OpenID Connect.
	Subject string

	// PreferredUsername may be absent; Username falls back to Subject.
	PreferredUsername string

	Email string
	Name  string
}

// Username returns the claim used for account binding: preferred_username
// when present, otherwise the subject.
func (id Identity) Username() string {
	if id.PreferredUsername != "" {
		return id.PreferredUsername
	}
	return id.Subject
}

// Verification failures
var (
	// ErrUserinfoUnavailable indicates the userinfo endpoint could not be
	// reached or rejected the access token
	ErrUserinfoUnavailable = errors.New("userinfo unavailable")

	// ErrNoUsernameClaim indicates the userinfo response carried neither
	// preferred_username nor sub
	ErrNoUsernameClaim = errors.New("userinfo response carries no username claim")
)

// MismatchError reports an authenticated principal that does not match the
// asserted local account. It is a deliberate refusal, not a transport fault.
type MismatchError struct {
	Expected string // the asserted login username
	Actual   string // the username claim the provider returned
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("username mismatch: asserted %q, authenticated %q", e.Expected, e.Actual)
}
