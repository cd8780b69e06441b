package http

import (
	"bytes"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaychat/relaychat/internal/auth"
	"github.com/relaychat/relaychat/internal/config"
	"github.com/relaychat/relaychat/internal/core"
	"github.com/relaychat/relaychat/internal/log"
	"github.com/relaychat/relaychat/internal/store/sqlite"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := log.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "relaychat-test",
		Audience: "relaychat-test",
		TTL:      time.Hour,
	})
	hub := core.NewHub(authService, st, logger)

	server := NewServer(hub, authService, st, config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}, logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*stdhttp.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := stdhttp.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp, raw
}

// register creates an account over REST and returns its id and token.
func register(t *testing.T, ts *httptest.Server, username string) (userID, token string) {
	t.Helper()

	resp, raw := doJSON(t, ts, stdhttp.MethodPost, "/api/auth/register", "",
		CredentialsRequest{Username: username, Password: "password123"})
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, resp.StatusCode, raw)
	}
	var tr TokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return tr.User.ID, tr.Token
}
