package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func writeCredentials(t *testing.T, dir, redirect string) {
	t.Helper()
	creds := `{"installed":{"client_id":"id","client_secret":"secret",` +
		`"auth_uri":"https://accounts.google.com/o/oauth2/auth",` +
		`"token_uri":"https://oauth2.googleapis.com/token",` +
		`"redirect_uris":["` + redirect + `"]}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ClientSecretsFile), []byte(creds), 0o600))
}

func TestFlowConfig_Redirect(t *testing.T) {
	tests := []struct {
		redirect string
		want     string
	}{
		{"http://localhost", "http://localhost:6789"},
		{"http://localhost:9999/cb", "http://localhost:6789/cb"},
		{"http://127.0.0.1/cb", "http://127.0.0.1:6789/cb"},
		{"urn:ietf:wg:oauth:2.0:oob", "http://localhost:6789/oauth2callback"},
		{"https://example.com/cb", "https://example.com/cb"},
	}

	for _, tt := range tests {
		t.Run(tt.redirect, func(t *testing.T) {
			dir := t.TempDir()
			writeCredentials(t, dir, tt.redirect)

			f := &Flow{Dir: dir, Log: zerolog.Nop()}
			cfg, err := f.Config(Scopes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.RedirectURL)
			assert.Equal(t, Scopes, cfg.Scopes)
		})
	}
}

func TestFlowConfig_MissingCredentials(t *testing.T) {
	f := &Flow{Dir: t.TempDir(), Log: zerolog.Nop()}
	_, err := f.Config(Scopes)
	assert.ErrorContains(t, err, "unable to read client secret file")
}

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", TokenFile)
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}

	require.NoError(t, saveToken(path, tok))
	got, err := tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestClient_UsesCachedToken(t *testing.T) {
	dir := t.TempDir()
	writeCredentials(t, dir, "http://localhost")

	f := &Flow{Dir: dir, Log: zerolog.Nop()}
	require.NoError(t, saveToken(f.TokenPath(), &oauth2.Token{
		AccessToken: "cached",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))

	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer ts.Close()

	client, err := f.Client(context.Background(), Scopes)
	require.NoError(t, err)

	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer cached", gotAuth)
}

func TestReset(t *testing.T) {
	f := &Flow{Dir: t.TempDir(), Log: zerolog.Nop()}
	require.NoError(t, f.Reset(), "missing token is fine")

	require.NoError(t, saveToken(f.TokenPath(), &oauth2.Token{AccessToken: "x"}))
	require.NoError(t, f.Reset())
	_, err := os.Stat(f.TokenPath())
	assert.True(t, os.IsNotExist(err))
}
