package tools

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadSpecs_EmptyPathReturnsDefaults(t *testing.T) {
	specs, err := LoadSpecs("")
	require.NoError(t, err)
	require.Equal(t, DefaultSpecs, specs)
}

func TestLoadSpecs_ParsesYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	content := `
- name: weather.get
  description: Look up weather for a city.
  args_schema:
    city: string
  ttl_seconds: 90
- name: custom.tool
  description: A tool only this override knows about.
  args_schema:
    foo: string
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	specs, err := LoadSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, "weather.get", specs[0].Name)
	require.Equal(t, 90*time.Second, specs[0].TTL)
	require.Equal(t, "custom.tool", specs[1].Name)
	require.Zero(t, specs[1].TTL)
}

func TestLoadSpecs_MissingFileReturnsError(t *testing.T) {
	_, err := LoadSpecs(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
