package identity

import (
	"context"
	"fmt"

	"github.com/wrale/pam-oauth2-device/internal/oauth"
)

// UserinfoSource fetches OIDC claims for an access token.
type UserinfoSource interface {
	Userinfo(ctx context.Context, accessToken string) (*oauth.UserinfoClaims, error)
}

// Verifier checks the authenticated principal against an asserted username.
type Verifier struct {
	source UserinfoSource
}

// NewVerifier creates a verifier backed by the given userinfo source.
func NewVerifier(source UserinfoSource) *Verifier {
	return &Verifier{source: source}
}

// Verify resolves the claims for accessToken and requires an exact,
// case-sensitive match between the resolved username claim and
// assertedUsername. On success it returns the populated Identity; it never
// mutates local state.
func (v *Verifier) Verify(ctx context.Context, accessToken, assertedUsername string) (*Identity, error) {
	claims, err := v.source.Userinfo(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserinfoUnavailable, err)
	}

	id := Identity{
		Subject:           claims.Subject,
		PreferredUsername: claims.PreferredUsername,
		Email:             claims.Email,
		Name:              claims.Name,
	}

	actual := id.Username()
	if actual == "" {
		return nil, ErrNoUsernameClaim
	}
	if actual != assertedUsername {
		return nil, &MismatchError{Expected: assertedUsername, Actual: actual}
	}

	return &id, nil
}
