package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, DefaultAbsoluteTimeout, cfg.Session.AbsoluteTimeout)
	assert.Equal(t, DefaultPINLength, cfg.PIN.Length)
	assert.Equal(t, DefaultPINTTL, cfg.PIN.TTL)
	assert.Equal(t, int64(DefaultClipboardMaxBytes), cfg.Clipboard.MaxBytes)
	assert.Equal(t, int64(DefaultChunkSize), cfg.Transfer.ChunkSize)
	assert.Equal(t, "memory", cfg.Transfer.Store)
	assert.Equal(t, 100, cfg.Clipboard.History)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "remotedesk.yaml")
	body := []byte(`
address: ":9090"
pin:
  ttl: 5m
transfer:
  chunk_size: 131072
  allowed_extensions: ["TXT", ".pdf"]
clipboard:
  interval: 250ms
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("REMOTEDESK_SESSION_ABSOLUTE_TIMEOUT", "2h")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, 5*time.Minute, cfg.PIN.TTL)
	assert.Equal(t, int64(131072), cfg.Transfer.ChunkSize)
	assert.Equal(t, []string{".txt", ".pdf"}, cfg.Transfer.AllowedExtensions)
	assert.Equal(t, 250*time.Millisecond, cfg.Clipboard.Interval)
	assert.Equal(t, 2*time.Hour, cfg.Session.AbsoluteTimeout)
}

func TestClampRestoresDefaults(t *testing.T) {
	cfg := Config{
		PIN:      PIN{Length: 2, TTL: 3 * time.Hour},
		Transfer: Transfer{ChunkSize: 10, Store: "s3"},
	}.Clamp()

	assert.Equal(t, DefaultPINLength, cfg.PIN.Length)
	assert.Equal(t, DefaultPINTTL, cfg.PIN.TTL)
	assert.Equal(t, int64(DefaultChunkSize), cfg.Transfer.ChunkSize)
	assert.Equal(t, "memory", cfg.Transfer.Store)
}

func TestSecretDecoding(t *testing.T) {
	assert.Nil(t, Config{}.Secret())
	assert.Equal(t, []byte("hello"), Config{SecretB64: "aGVsbG8"}.Secret())
	assert.Equal(t, []byte("hello"), Config{SecretB64: "aGVsbG8="}.Secret())
}

func TestLoadExpandsHomeInDataDir(t *testing.T) {
	home, err := homedir.Dir()
	require.NoError(t, err)
	t.Setenv("REMOTEDESK_DATA_DIR", "~/remotedesk")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "remotedesk"), cfg.DataDir)
	assert.Equal(t, int64(DefaultSessionsPerDay), cfg.Session.PerDay)
}
