package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wrale/pam-oauth2-device/internal/deviceflow"
)

const (
	// Keycloak endpoint paths
	deviceAuthPath  = "/protocol/openid-connect/auth/device"
	tokenPath       = "/protocol/openid-connect/token"
	userinfoPath    = "/protocol/openid-connect/userinfo"
	certsPath       = "/protocol/openid-connect/certs"
	healthCheckPath = "/.well-known/openid-configuration"

	// HTTP request timeouts
	defaultTimeout = 10 * time.Second

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// KeycloakProvider implements the Provider interface for Keycloak
type KeycloakProvider struct {
	client           *http.Client
	clientID         string
	clientSecret     string
	issuer           string
	deviceAuthURL    string
	tokenURL         string
	userinfoURL      string
	jwksURL          string
	healthURL        string
	fallbackExpiry   time.Duration
	fallbackInterval time.Duration

	keys *keyCache
}

// KeycloakConfig holds the settings needed to talk to a Keycloak realm
type KeycloakConfig struct {
	// BaseURL is the Keycloak root, e.g. https://sso.example.com
	BaseURL string
	// Realm is the Keycloak realm name
	Realm string
	// ClientID identifies the device flow client
	ClientID string
	// ClientSecret is sent when the client is confidential; empty for
	// public clients
	ClientSecret string
	// Timeout bounds every HTTP request; defaults to 10s
	Timeout time.Duration
	// FallbackCodeExpiry and FallbackPollInterval are used only when the
	// server omits expires_in or interval from the device authorization
	// response. Explicit server values are never overridden.
	FallbackCodeExpiry   time.Duration
	FallbackPollInterval time.Duration
}

// NewKeycloakProvider creates a new Keycloak provider
func NewKeycloakProvider(cfg KeycloakConfig) (*KeycloakProvider, error) {
	// Validate required fields
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Realm == "" {
		return nil, fmt.Errorf("realm is required")
	}

	// Clean and validate base URL
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	fallbackExpiry := cfg.FallbackCodeExpiry
	if fallbackExpiry <= 0 {
		fallbackExpiry = deviceflow.DefaultCodeExpiry
	}
	fallbackInterval := cfg.FallbackPollInterval
	if fallbackInterval <= 0 {
		fallbackInterval = deviceflow.DefaultPollInterval
	}

	// Build realm URL; the realm URL doubles as the token issuer
	realmURL := fmt.Sprintf("%s/realms/%s", baseURL, cfg.Realm)

	return &KeycloakProvider{
		client:           &http.Client{Timeout: timeout},
		clientID:         cfg.ClientID,
		clientSecret:     cfg.ClientSecret,
		issuer:           realmURL,
		deviceAuthURL:    realmURL + deviceAuthPath,
		tokenURL:         realmURL + tokenPath,
		userinfoURL:      realmURL + userinfoPath,
		jwksURL:          realmURL + certsPath,
		healthURL:        realmURL + healthCheckPath,
		fallbackExpiry:   fallbackExpiry,
		fallbackInterval: fallbackInterval,
		keys:             &keyCache{},
	}, nil
}

// errorResponse is the OAuth2 error envelope per RFC 6749 section 5.2
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// DeviceAuthorize requests a device/user code pair per RFC 8628 section 3.1.
// Missing interval and expires_in values fall back to the configured
// defaults; explicit server values always win.
func (p *KeycloakProvider) DeviceAuthorize(ctx context.Context, scope string) (*deviceflow.DeviceAuthorization, error) {
	data := url.Values{
		"client_id": {p.clientID},
	}
	if p.clientSecret != "" {
		data.Set("client_secret", p.clientSecret)
	}
	if scope != "" {
		data.Set("scope", scope)
	}

	body, status, err := p.postForm(ctx, p.deviceAuthURL, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deviceflow.ErrDeviceRequestFailed, err)
	}

	if status != http.StatusOK {
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
			return nil, fmt.Errorf("%w: unexpected status %d", deviceflow.ErrDeviceRequestFailed, status)
		}
		return nil, fmt.Errorf("%w: %s: %s", deviceflow.ErrDeviceRequestFailed, errResp.Error, errResp.ErrorDescription)
	}

	var auth deviceflow.DeviceAuthorization
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", deviceflow.ErrDeviceRequestFailed, err)
	}

	// Required fields per RFC 8628 section 3.2
	if auth.DeviceCode == "" || auth.UserCode == "" || auth.VerificationURI == "" {
		return nil, fmt.Errorf("%w: response missing device_code, user_code, or verification_uri", deviceflow.ErrDeviceRequestFailed)
	}

	if auth.ExpiresIn <= 0 {
		auth.ExpiresIn = int(p.fallbackExpiry.Seconds())
	}
	if auth.Interval <= 0 {
		auth.Interval = int(p.fallbackInterval.Seconds())
	}

	return &auth, nil
}

// Token performs one device grant poll per RFC 8628 section 3.4. The error
// envelope is decoded here, once, into the deviceflow sentinel errors; any
// unrecognized code becomes a *deviceflow.ProtocolError.
func (p *KeycloakProvider) Token(ctx context.Context, deviceCode string) (*deviceflow.TokenResponse, error) {
	data := url.Values{
		"grant_type":  {deviceGrantType},
		"device_code": {deviceCode},
		"client_id":   {p.clientID},
	}
	if p.clientSecret != "" {
		data.Set("client_secret", p.clientSecret)
	}

	body, status, err := p.postForm(ctx, p.tokenURL, data)
	if err != nil {
		return nil, fmt.Errorf("sending token request: %w", err)
	}

	// Keycloak reports polling conditions with a 400 status, but the error
	// field is authoritative regardless of status code.
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		switch errResp.Error {
		case "authorization_pending":
			return nil, deviceflow.ErrAuthorizationPending
		case "slow_down":
			return nil, deviceflow.ErrSlowDown
		case "expired_token":
			return nil, deviceflow.ErrExpiredCode
		case "access_denied":
			return nil, deviceflow.ErrAccessDenied
		default:
			return nil, &deviceflow.ProtocolError{Code: errResp.Error, Description: errResp.ErrorDescription}
		}
	}

	if status != http.StatusOK {
		return nil, &deviceflow.ProtocolError{Code: fmt.Sprintf("http_%d", status)}
	}

	var token deviceflow.TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, &deviceflow.ProtocolError{Code: "invalid_response", Description: "token response missing access_token"}
	}

	return &token, nil
}

// Userinfo fetches the OIDC claims for an access token
func (p *KeycloakProvider) Userinfo(ctx context.Context, accessToken string) (*UserinfoClaims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUserinfoFailed, resp.StatusCode)
	}

	var claims UserinfoClaims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrUserinfoFailed, err)
	}

	return &claims, nil
}

// CheckHealth verifies the provider is accessible
func (p *KeycloakProvider) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrProviderUnavailable
	}

	return nil
}

// postForm issues a form-encoded POST and returns the body and status.
// Transport errors are returned as-is so callers can classify them.
func (p *KeycloakProvider) postForm(ctx context.Context, endpoint string, data url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}

	return body, resp.StatusCode, nil
}
