// ABOUTME: Tests for configuration loading
// ABOUTME: Covers YAML parsing, env var expansion, durations, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "/tmp/relay.db"
auth:
  jwt_secret: "test-secret"
relay:
  challenge_ttl: "15s"
  request_timeout: "45s"
  upload_token_ttl: "2m"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/relay.db", cfg.Database.Path)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 15*time.Second, cfg.Relay.ChallengeTTL)
	assert.Equal(t, 45*time.Second, cfg.Relay.RequestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Relay.UploadTokenTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/relay.db"
auth:
  jwt_secret: "test-secret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultChallengeTTL, cfg.Relay.ChallengeTTL)
	assert.Equal(t, DefaultRequestTimeout, cfg.Relay.RequestTimeout)
	assert.Equal(t, DefaultUploadTokenTTL, cfg.Relay.UploadTokenTTL)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("RELAY_TEST_SECRET", "from-env")

	path := writeConfig(t, `
database:
  path: "/tmp/relay.db"
auth:
  jwt_secret: "${RELAY_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/relay.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/relay.db"
auth:
  jwt_secret: "test-secret"
relay:
  challenge_ttl: "not-a-duration"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "challenge_ttl")
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "test-secret"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "database.path")
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/relay.db"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "jwt_secret")
}
