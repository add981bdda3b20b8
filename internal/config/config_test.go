package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "default", cfg.Domain)
	assert.Equal(t, "utf8", cfg.Encoding)
	assert.Equal(t, "/tmp", cfg.SocketDir)
	assert.False(t, cfg.Verbose)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.yaml")
	content := "domain: staging\nverbose: true\nhandlers:\n  - ping\n  - echo\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Domain)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, []string{"ping", "echo"}, cfg.Handlers)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, "utf8", cfg.Encoding)
	assert.Equal(t, "/tmp", cfg.SocketDir)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("domain: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
