package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/serialrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintConfig(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-print-config"}, &out))
	assert.Contains(t, out.String(), "max_buffered_line_bytes")

	path := filepath.Join(t.TempDir(), "printed.toml")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o600))
	_, err := config.Load(path)
	assert.NoError(t, err)
}

func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serialrelay.toml")
	require.NoError(t, run([]string{"-write-config", path}, &bytes.Buffer{}))
	assert.Error(t, run([]string{"-write-config", path}, &bytes.Buffer{}))
	require.NoError(t, run([]string{"-write-config", path, "-force"}, &bytes.Buffer{}))
}

func TestMissingConfig(t *testing.T) {
	err := run([]string{"-config", filepath.Join(t.TempDir(), "none.toml")}, &bytes.Buffer{})
	assert.Error(t, err)
}
