// Package integration exercises the full login path against an in-process
// fake identity provider: device authorization, polling, and identity
// verification through the real HTTP client code.
package integration

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wrale/pam-oauth2-device/internal/deviceflow"
	"github.com/wrale/pam-oauth2-device/internal/oauth"
	"github.com/wrale/pam-oauth2-device/internal/pam"
)

// instantClock keeps the poll loop from waiting on the wall clock.
type instantClock struct {
	now time.Time
}

func (c *instantClock) Now() time.Time { return c.now }

func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

func newProvider(t *testing.T, idp *fakeIdP) *oauth.KeycloakProvider {
	t.Helper()

	provider, err := oauth.NewKeycloakProvider(oauth.KeycloakConfig{
		BaseURL:  idp.URL(),
		Realm:    "test",
		ClientID: "ssh-login",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewKeycloakProvider failed: %v", err)
	}
	return provider
}

func newBridge(provider *oauth.KeycloakProvider, prompt io.Writer) *pam.Bridge {
	return pam.New(provider,
		pam.WithPrompt(prompt),
		pam.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		pam.WithPollerOptions(deviceflow.WithClock(&instantClock{now: time.Now()})),
	)
}

func TestDeviceLoginGranted(t *testing.T) {
	idp := newFakeIdP(t, 2, false, "alice", "abc123")
	provider := newProvider(t, idp)

	var prompt bytes.Buffer
	result := newBridge(provider, &prompt).Authenticate(context.Background(), "alice")

	if result.Decision != pam.DecisionGranted {
		t.Fatalf("got decision %v (reason %q, err %v), want granted", result.Decision, result.Reason, result.Err)
	}
	if result.Identity.Subject != "abc123" {
		t.Errorf("got subject %q, want %q", result.Identity.Subject, "abc123")
	}
	if result.ExitCode() != pam.ExitGranted {
		t.Errorf("got exit code %d, want %d", result.ExitCode(), pam.ExitGranted)
	}

	// Two pending answers plus the grant.
	if got := idp.polls(); got != 3 {
		t.Errorf("got %d token polls, want 3", got)
	}

	out := prompt.String()
	if !bytes.Contains([]byte(out), []byte("WXYZ-9876")) {
		t.Errorf("prompt does not show the user code: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte(idp.URL()+"/device")) {
		t.Errorf("prompt does not show the verification URI: %q", out)
	}
}

func TestDeviceLoginDeniedByUser(t *testing.T) {
	idp := newFakeIdP(t, 1, true, "alice", "abc123")
	provider := newProvider(t, idp)

	var prompt bytes.Buffer
	result := newBridge(provider, &prompt).Authenticate(context.Background(), "alice")

	if result.Decision != pam.DecisionDenied {
		t.Fatalf("got decision %v, want denied", result.Decision)
	}
	if result.ExitCode() != pam.ExitDenied {
		t.Errorf("got exit code %d, want %d", result.ExitCode(), pam.ExitDenied)
	}
}

func TestDeviceLoginWrongAccount(t *testing.T) {
	// bob authenticates at the IdP while the SSH attempt asserts alice.
	idp := newFakeIdP(t, 0, false, "bob", "def456")
	provider := newProvider(t, idp)

	var prompt bytes.Buffer
	result := newBridge(provider, &prompt).Authenticate(context.Background(), "alice")

	if result.Decision != pam.DecisionDenied {
		t.Fatalf("got decision %v, want denied", result.Decision)
	}
	if result.Identity != nil {
		t.Error("denied result must not carry an identity")
	}
}

func TestProviderHealthCheck(t *testing.T) {
	idp := newFakeIdP(t, 0, false, "alice", "abc123")
	provider := newProvider(t, idp)

	if err := provider.CheckHealth(context.Background()); err != nil {
		t.Errorf("CheckHealth failed: %v", err)
	}
}
