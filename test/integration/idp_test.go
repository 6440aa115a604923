package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// fakeIdP is an in-process Keycloak stand-in serving the realm endpoints the
// login flow touches. Approval is scripted: the token endpoint answers
// authorization_pending for pendingPolls requests, then either issues a
// token or denies.
type fakeIdP struct {
	mu           sync.Mutex
	pendingPolls int
	deny         bool
	username     string
	subject      string

	tokenPolls int

	server *httptest.Server
}

func newFakeIdP(t *testing.T, pendingPolls int, deny bool, username, subject string) *fakeIdP {
	t.Helper()

	idp := &fakeIdP{
		pendingPolls: pendingPolls,
		deny:         deny,
		username:     username,
		subject:      subject,
	}

	r := chi.NewRouter()
	r.Get("/realms/{realm}/.well-known/openid-configuration", idp.handleDiscovery)
	r.Post("/realms/{realm}/protocol/openid-connect/auth/device", idp.handleDeviceAuth)
	r.Post("/realms/{realm}/protocol/openid-connect/token", idp.handleToken)
	r.Get("/realms/{realm}/protocol/openid-connect/userinfo", idp.handleUserinfo)

	idp.server = httptest.NewServer(r)
	t.Cleanup(idp.server.Close)
	return idp
}

func (idp *fakeIdP) URL() string { return idp.server.URL }

func (idp *fakeIdP) polls() int {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	return idp.tokenPolls
}

func (idp *fakeIdP) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	issuer := fmt.Sprintf("%s/realms/%s", idp.server.URL, chi.URLParam(r, "realm"))
	writeJSON(w, http.StatusOK, map[string]string{"issuer": issuer})
}

func (idp *fakeIdP) handleDeviceAuth(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("client_id") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_code":      "integration-device-code",
		"user_code":        "WXYZ-9876",
		"verification_uri": idp.server.URL + "/device",
		"expires_in":       60,
		"interval":         1,
	})
}

func (idp *fakeIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	idp.mu.Lock()
	defer idp.mu.Unlock()

	if err := r.ParseForm(); err != nil || r.PostForm.Get("device_code") != "integration-device-code" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	idp.tokenPolls++
	switch {
	case idp.tokenPolls <= idp.pendingPolls:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "authorization_pending"})
	case idp.deny:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "access_denied"})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "integration-access-token",
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	}
}

func (idp *fakeIdP) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer integration-access-token" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sub":                idp.subject,
		"preferred_username": idp.username,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
