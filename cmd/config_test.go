package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommand(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  version: v9\n"), 0o600))

	var out bytes.Buffer
	root := RootCommand("test")
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", path})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "version: v9")
	assert.Contains(t, out.String(), "cache_backend: memory")
}

func TestConfigCommand_MissingFile(t *testing.T) {
	t.Parallel()

	root := RootCommand("test")
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"config", "--config", filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, root.Execute())
}
