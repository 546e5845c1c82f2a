package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIFailuresCarryTag(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "proposal_not_approved"})
	}))
	defer ts.Close()

	oldAddr, oldToken := apiAddr, apiToken
	apiAddr, apiToken = ts.URL, "tok"
	defer func() { apiAddr, apiToken = oldAddr, oldToken }()

	_, err := apiPost("/proposals/p1/apply", nil)
	require.Error(t, err)
	assert.Equal(t, "API error (409): proposal_not_approved", err.Error())
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestLoadConfigLayersEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: 127.0.0.1:1111\nlog:\n  level: debug\n"), 0o600))

	oldPath := configPath
	configPath = path
	defer func() { configPath = oldPath }()

	t.Setenv("GUARDIAN_LISTEN", "127.0.0.1:2222")
	t.Setenv("GUARDIAN_AUTH_SECRET", "from-env")

	flags := daemonCmd.Flags()
	require.NoError(t, flags.Set("data-dir", filepath.Join(dir, "state")))
	require.NoError(t, flags.Set("root", "/srv/agent"))
	defer func() {
		flags.Lookup("data-dir").Changed = false
		flags.Lookup("root").Changed = false
		dataDir, roots = "", nil
	}()

	cfg, err := loadConfig(daemonCmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2222", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, filepath.Join(dir, "state", "guardian.db"), cfg.DBPath)
	assert.Equal(t, []string{"/srv/agent"}, cfg.Guardian.Roots)
}
