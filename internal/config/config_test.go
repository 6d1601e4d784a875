package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at an empty directory so no user config file is read
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 64, cfg.Population)
	assert.Equal(t, "fanout", cfg.Topology)
	assert.Equal(t, 100*time.Millisecond, cfg.Tick)
	assert.Equal(t, time.Duration(0), cfg.Duration)
	assert.Zero(t, cfg.MaxPIDs)
	assert.Zero(t, cfg.MaxCPUSeconds)
	assert.Zero(t, cfg.MaxFDs)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.LogFormat)
	assert.False(t, cfg.JournalEnabled)
	assert.Contains(t, cfg.JournalFile, filepath.Join(".schedprobe", "journal.log"))
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvVarOverride(t *testing.T) {
	isolate(t)
	t.Setenv("SCHEDPROBE_POPULATION", "3")
	t.Setenv("SCHEDPROBE_TOPOLOGY", "Chain")
	t.Setenv("SCHEDPROBE_TICK", "250ms")
	t.Setenv("SCHEDPROBE_LOG_LEVEL", "debug")
	t.Setenv("SCHEDPROBE_MAX_PIDS", "128")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Population)
	assert.Equal(t, "chain", cfg.Topology)
	assert.Equal(t, 250*time.Millisecond, cfg.Tick)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 128, cfg.MaxPIDs)
}

func TestLoad_DefaultConfigFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".schedprobe")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
population: 8
duration: 30s
journal_enabled: true
journal_file: ~/runs/journal.log
`), 0o600))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Population)
	assert.Equal(t, 30*time.Second, cfg.Duration)
	assert.True(t, cfg.JournalEnabled)
	assert.Equal(t, filepath.Join(home, "runs", "journal.log"), cfg.JournalFile)
}

func TestLoad_ExplicitConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "stress.yaml")
	require.NoError(t, os.WriteFile(path, []byte("population: 0\ntopology: chain\nmax_fds: 64\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Population)
	assert.Equal(t, "chain", cfg.Topology)
	assert.Equal(t, 64, cfg.MaxFDs)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
	}{
		{
			name:     "expand tilde",
			input:    "~/.schedprobe/config",
			contains: ".schedprobe/config",
		},
		{
			name:     "absolute path unchanged",
			input:    "/etc/schedprobe/config",
			contains: "/etc/schedprobe/config",
		},
		{
			name:     "empty path",
			input:    "",
			contains: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if tt.input == "" {
				assert.Equal(t, tt.contains, result)
			} else {
				assert.Contains(t, result, tt.contains)
			}
		})
	}
}
