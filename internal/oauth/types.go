// Package oauth provides the Keycloak-facing OAuth2/OIDC client used for
// device flow login: device authorization, token polling, userinfo, and
// ID token validation against the realm JWKS.
package oauth

import (
	"context"
	"errors"

	"github.com/wrale/pam-oauth2-device/internal/deviceflow"
)

// Common errors returned by providers
var (
	// ErrProviderUnavailable indicates the authorization server is
	// unreachable or failing its discovery endpoint
	ErrProviderUnavailable = errors.New("oauth provider unavailable")

	// ErrUserinfoFailed indicates the userinfo endpoint rejected the
	// request or returned an unusable response
	ErrUserinfoFailed = errors.New("userinfo request failed")

	// ErrInvalidIDToken indicates the ID token failed signature, issuer,
	// audience, or lifetime validation
	ErrInvalidIDToken = errors.New("invalid id token")
)

// UserinfoClaims holds the OpenID Connect claims returned by the userinfo
// endpoint that matter for login: the stable subject plus the human-facing
// profile claims.
type UserinfoClaims struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
}

// Provider defines the authorization server operations the login flow needs.
type Provider interface {
	// DeviceAuthorize requests a device/user code pair per RFC 8628
	// section 3.1.
	DeviceAuthorize(ctx context.Context, scope string) (*deviceflow.DeviceAuthorization, error)

	// Token performs one device grant poll per RFC 8628 section 3.4,
	// reporting polling conditions via the deviceflow sentinel errors.
	Token(ctx context.Context, deviceCode string) (*deviceflow.TokenResponse, error)

	// Userinfo fetches the OIDC claims for an access token.
	Userinfo(ctx context.Context, accessToken string) (*UserinfoClaims, error)

	// VerifyIDToken validates an ID token against the realm JWKS.
	VerifyIDToken(ctx context.Context, rawToken string) error

	// CheckHealth verifies the provider is accessible.
	CheckHealth(ctx context.Context) error
}
