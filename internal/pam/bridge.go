// Package pam adapts the device flow login to the pam_exec contract: stdout
// carries the human-facing instructions and verdict, the exit code carries
// the pass/fail decision, and signals from the PAM stack cancel the attempt.
package pam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/wrale/pam-oauth2-device/internal/deviceflow"
	"github.com/wrale/pam-oauth2-device/internal/identity"
	"github.com/wrale/pam-oauth2-device/internal/oauth"
)

// Decision is the bridge's verdict on one login attempt.
type Decision int

const (
	// DecisionGranted means the user authenticated and matched the
	// asserted account.
	DecisionGranted Decision = iota

	// DecisionDenied means the attempt ran to a verdict and the answer is
	// no: refused, expired, cancelled, or bound to the wrong account.
	DecisionDenied

	// DecisionError means the attempt could not run to a verdict.
	DecisionError
)

// Exit codes for the pam_exec process contract. Any nonzero status fails the
// PAM conversation; the error code lets operators tell infrastructure
// problems apart from a user-level denial.
const (
	ExitGranted = 0
	ExitDenied  = 1
	ExitError   = 2
)

// Result is the outcome handed back to the calling framework.
type Result struct {
	Decision Decision

	// Identity is set only when the decision is DecisionGranted.
	Identity *identity.Identity

	// Token is the granted token set; never printed or logged.
	Token *oauth2.Token

	// Reason is the human-facing terminal message. It names the outcome
	// (denied, expired, mismatch) without leaking token material.
	Reason string

	// Err carries the operator-facing detail for logs.
	Err error
}

// ExitCode maps the result onto the pam_exec process contract.
func (r Result) ExitCode() int {
	switch r.Decision {
	case DecisionGranted:
		return ExitGranted
	case DecisionDenied:
		return ExitDenied
	default:
		return ExitError
	}
}

// Provider is the slice of the authorization server the bridge needs.
type Provider interface {
	DeviceAuthorize(ctx context.Context, scope string) (*deviceflow.DeviceAuthorization, error)
	Token(ctx context.Context, deviceCode string) (*deviceflow.TokenResponse, error)
	Userinfo(ctx context.Context, accessToken string) (*oauth.UserinfoClaims, error)
	VerifyIDToken(ctx context.Context, rawToken string) error
}

// Provisioner is invoked by the bridge after a grant, before the verdict is
// returned. Implementations must be idempotent and key local account
// creation on the identity subject. Authentication itself never provisions.
type Provisioner interface {
	Provision(ctx context.Context, id identity.Identity) error
}

// Bridge orchestrates one login attempt: device authorization, user
// instructions, token polling, and identity verification. A Bridge holds no
// per-attempt state and may serve concurrent attempts.
type Bridge struct {
	provider       Provider
	poller         *deviceflow.Poller
	verifier       *identity.Verifier
	prompt         io.Writer
	logger         *slog.Logger
	scope          string
	requireIDToken bool
	provisioner    Provisioner
}

// Option configures the bridge
type Option func(*Bridge)

// WithPrompt sets the writer for human-facing instructions; defaults to
// stdout, which pam_exec relays to the user's terminal.
func WithPrompt(w io.Writer) Option {
	return func(b *Bridge) { b.prompt = w }
}

// WithLogger sets the structured logger for operator-facing detail.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithScope sets the OAuth scope requested during device authorization.
func WithScope(scope string) Option {
	return func(b *Bridge) { b.scope = scope }
}

// WithRequireIDToken makes a missing or invalid ID token fatal for the
// attempt. Off by default because Keycloak only issues an ID token when the
// openid scope is granted.
func WithRequireIDToken(require bool) Option {
	return func(b *Bridge) { b.requireIDToken = require }
}

// WithProvisioner registers a post-grant account provisioning hook.
func WithProvisioner(p Provisioner) Option {
	return func(b *Bridge) { b.provisioner = p }
}

// WithPollerOptions forwards options to the token poller.
func WithPollerOptions(opts ...deviceflow.Option) Option {
	return func(b *Bridge) { b.poller = deviceflow.NewPoller(b.provider, opts...) }
}

// New creates a bridge around the given provider.
func New(provider Provider, opts ...Option) *Bridge {
	b := &Bridge{
		provider: provider,
		poller:   deviceflow.NewPoller(provider),
		prompt:   os.Stdout,
		logger:   slog.Default(),
		scope:    "openid profile",
	}
	for _, opt := range opts {
		opt(b)
	}
	b.verifier = identity.NewVerifier(provider)
	return b
}

// Authenticate runs one login attempt for the asserted username. All state
// is local to the call; cancelling the context aborts the attempt at the
// next blocking point with no further network calls.
func (b *Bridge) Authenticate(ctx context.Context, username string) Result {
	if username == "" {
		return Result{
			Decision: DecisionError,
			Reason:   "login failed",
			Err:      errors.New("no username asserted"),
		}
	}

	log := b.logger.With("attempt", uuid.NewString(), "user", username)

	auth, err := b.provider.DeviceAuthorize(ctx, b.scope)
	if err != nil {
		log.Error("device authorization failed", "error", err)
		return Result{Decision: DecisionError, Reason: "authentication service unavailable", Err: err}
	}

	// Instructions must reach the user before the first poll; the code and
	// URI have no other channel to the human.
	b.showInstructions(auth)
	log.Info("device authorization issued",
		"expires_in", auth.ExpiresIn,
		"interval", auth.Interval)

	resp, err := b.poller.Poll(ctx, auth)
	if err != nil {
		return b.pollFailure(log, err)
	}

	if resp.IDToken != "" {
		if err := b.provider.VerifyIDToken(ctx, resp.IDToken); err != nil {
			log.Error("id token rejected", "error", err)
			return Result{Decision: DecisionDenied, Reason: "login denied", Err: err}
		}
	} else if b.requireIDToken {
		log.Error("token response carried no id token")
		return Result{Decision: DecisionError, Reason: "login failed", Err: errors.New("id token required but absent")}
	}

	id, err := b.verifier.Verify(ctx, resp.AccessToken, username)
	if err != nil {
		return b.verifyFailure(log, err)
	}

	if b.provisioner != nil {
		if err := b.provisioner.Provision(ctx, *id); err != nil {
			log.Error("account provisioning failed", "subject", id.Subject, "error", err)
			return Result{Decision: DecisionError, Reason: "login failed", Err: fmt.Errorf("provisioning account: %w", err)}
		}
	}

	log.Info("login granted", "subject", id.Subject)
	return Result{Decision: DecisionGranted, Identity: id, Token: resp.Token()}
}

func (b *Bridge) showInstructions(auth *deviceflow.DeviceAuthorization) {
	fmt.Fprintf(b.prompt, "\nTo sign in, open %s and enter the code:\n\n\t%s\n\n", auth.VerificationURI, auth.UserCode)
	if auth.VerificationURIComplete != "" {
		fmt.Fprintf(b.prompt, "Or open this link directly:\n\n\t%s\n\n", auth.VerificationURIComplete)
	}
	fmt.Fprintf(b.prompt, "Waiting for approval...\n")
}

// pollFailure maps a terminal poll outcome onto the bridge vocabulary.
func (b *Bridge) pollFailure(log *slog.Logger, err error) Result {
	switch {
	case errors.Is(err, deviceflow.ErrAccessDenied):
		log.Warn("authorization denied by user")
		return Result{Decision: DecisionDenied, Reason: "authorization denied", Err: err}

	case errors.Is(err, deviceflow.ErrExpiredCode):
		log.Warn("device code expired before approval")
		return Result{Decision: DecisionDenied, Reason: "authorization timed out", Err: err}

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Info("login attempt cancelled")
		return Result{Decision: DecisionDenied, Reason: "login cancelled", Err: err}
	}

	var protoErr *deviceflow.ProtocolError
	if errors.As(err, &protoErr) {
		log.Error("token endpoint protocol error",
			"code", protoErr.Code,
			"description", protoErr.Description)
	} else {
		log.Error("token polling failed", "error", err)
	}
	return Result{Decision: DecisionError, Reason: "login failed", Err: err}
}

// verifyFailure maps a verification failure onto the bridge vocabulary.
func (b *Bridge) verifyFailure(log *slog.Logger, err error) Result {
	var mismatch *identity.MismatchError
	switch {
	case errors.As(err, &mismatch):
		log.Warn("authenticated user does not match asserted account",
			"asserted", mismatch.Expected,
			"authenticated", mismatch.Actual)
		return Result{Decision: DecisionDenied, Reason: "account mismatch", Err: err}

	case errors.Is(err, identity.ErrNoUsernameClaim):
		log.Error("userinfo response carried no usable username claim")
		return Result{Decision: DecisionDenied, Reason: "login denied", Err: err}

	default:
		log.Error("identity verification failed", "error", err)
		return Result{Decision: DecisionError, Reason: "login failed", Err: err}
	}
}
