package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestKeygenThenIdentity(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("router:\n  network_id: 2\n"), 0o600))
	idFile := filepath.Join(dir, "router.yaml")

	out, err := execute(t, cfg, "keygen", "-o", idFile)
	require.NoError(t, err)
	var hash string
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "hash "); ok {
			hash = strings.TrimSpace(rest)
		}
	}
	require.Len(t, hash, 64)

	out, err = execute(t, cfg, "identity", "-i", idFile)
	require.NoError(t, err)
	assert.Contains(t, out, hash)

	_, err = execute(t, cfg, "keygen", "-o", idFile)
	assert.Error(t, err)
	_, err = execute(t, cfg, "keygen", "-o", idFile, "--force")
	assert.NoError(t, err)
}
