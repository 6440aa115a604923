// Command pam-oauth2-device authenticates an SSH login through the OAuth 2.0
// Device Authorization Grant (RFC 8628). It is designed to run under
// pam_exec: the asserted account comes from PAM_USER, the verification URL
// and user code are printed to stdout for the user's terminal, and the exit
// code carries the verdict.
//
// Usage:
//
//	pam-oauth2-device [-env-file path] [-user name] [-check]
//
// With -check the binary only probes the realm's discovery endpoint and
// exits, which is how deployments monitor provider reachability.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wrale/pam-oauth2-device/internal/oauth"
	"github.com/wrale/pam-oauth2-device/internal/pam"
)

// Version is set by the build process
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		envFile = flag.String("env-file", defaultEnvFile, "environment file loaded before the process environment")
		user    = flag.String("user", "", "asserted username (defaults to PAM_USER)")
		check   = flag.Bool("check", false, "probe the authorization server and exit")
	)
	flag.Parse()

	cfg, err := loadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pam-oauth2-device: %v\n", err)
		return pam.ExitError
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.slogLevel(),
	})).With("version", Version)

	provider, err := oauth.NewKeycloakProvider(oauth.KeycloakConfig{
		BaseURL:              cfg.IssuerURL,
		Realm:                cfg.Realm,
		ClientID:             cfg.ClientID,
		ClientSecret:         cfg.ClientSecret,
		Timeout:              cfg.HTTPTimeout,
		FallbackCodeExpiry:   cfg.CodeExpiry,
		FallbackPollInterval: cfg.PollInterval,
	})
	if err != nil {
		logger.Error("invalid provider configuration", "error", err)
		return pam.ExitError
	}

	// PAM tearing the session down delivers SIGTERM; treat it like a user
	// interrupt and abort the attempt cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *check {
		if err := provider.CheckHealth(ctx); err != nil {
			logger.Error("provider health check failed", "error", err)
			return pam.ExitDenied
		}
		fmt.Println("authorization server reachable")
		return pam.ExitGranted
	}

	username := *user
	if username == "" {
		username = os.Getenv("PAM_USER")
	}
	if username == "" {
		fmt.Fprintln(os.Stderr, "pam-oauth2-device: no username: set PAM_USER or pass -user")
		return pam.ExitError
	}

	bridge := pam.New(provider,
		pam.WithLogger(logger),
		pam.WithScope(cfg.Scope),
		pam.WithRequireIDToken(cfg.RequireIDToken),
		pam.WithPrompt(os.Stdout),
	)

	result := bridge.Authenticate(ctx, username)
	switch result.Decision {
	case pam.DecisionGranted:
		fmt.Printf("Login approved for %s.\n", result.Identity.Username())
	default:
		// The terminal reason is deliberately generic; operator detail
		// stays in the structured log.
		fmt.Printf("Login not approved: %s.\n", result.Reason)
	}
	return result.ExitCode()
}
