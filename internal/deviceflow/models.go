// Package deviceflow implements the client side of the OAuth 2.0 Device
// Authorization Grant per RFC 8628: requesting a device/user code pair and
// polling the token endpoint until the user approves or the code dies.
package deviceflow

import (
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultCodeExpiry is applied when the authorization server omits
	// expires_in from the device authorization response. Server-provided
	// values always take precedence.
	DefaultCodeExpiry = 5 * time.Minute

	// DefaultPollInterval is applied when the server omits interval,
	// per RFC 8628 section 3.2 ("If no value is provided, clients MUST
	// use 5 as the default").
	DefaultPollInterval = 5 * time.Second

	// SlowDownIncrement is the fixed amount added to the poll interval on
	// every slow_down response, per RFC 8628 section 3.5.
	SlowDownIncrement = 5 * time.Second
)

// DeviceAuthorization is the device authorization response per RFC 8628
// section 3.2. It is immutable and scoped to a single login attempt.
type DeviceAuthorization struct {
	// Required fields per RFC 8628 section 3.2. DeviceCode is opaque and
	// only ever sent back to the token endpoint; UserCode is what the
	// human enters at the verification URI.
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"` // Code lifetime in seconds
	Interval        int    `json:"interval"`   // Minimum poll spacing in seconds

	// Optional verification_uri_complete per RFC 8628 section 3.3.1,
	// with the user code pre-filled.
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
}

// ExpiryDuration returns the code lifetime as a duration.
func (d *DeviceAuthorization) ExpiryDuration() time.Duration {
	return time.Duration(d.ExpiresIn) * time.Second
}

// IntervalDuration returns the minimum poll spacing as a duration.
func (d *DeviceAuthorization) IntervalDuration() time.Duration {
	return time.Duration(d.Interval) * time.Second
}

// TokenResponse is the successful token endpoint response per RFC 8628
// section 3.5 and RFC 6749 section 5.1.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token converts the response into an oauth2.Token with a calculated expiry.
// The ID token, when present, is carried in the token extras under "id_token"
// as golang.org/x/oauth2 does for the authorization code grant.
func (t *TokenResponse) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	if t.IDToken != "" {
		tok = tok.WithExtra(map[string]interface{}{"id_token": t.IDToken})
	}
	return tok
}
