package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
harts: 4
init: /bin/init
init_args: [init, -v]
files:
  - path: /bin/init
    source: init.s
  - path: /etc/motd
    content: "hello\n"
  - path: /tmp
    dir: true
mounts:
  - path: /host
    source: ./rootfs
    read_only: true
log:
  level: debug
  structured: true
limits:
  max_files: 64
trace_syscalls: true
`

func TestParseKeepsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse([]byte(sample), cfg))

	want := Default()
	want.Harts = 4
	want.Init = "/bin/init"
	want.InitArgs = []string{"init", "-v"}
	want.Files = []File{
		{Path: "/bin/init", Source: "init.s"},
		{Path: "/etc/motd", Content: "hello\n"},
		{Path: "/tmp", Dir: true},
	}
	want.Mounts = []Mount{{Path: "/host", Source: "./rootfs", ReadOnly: true}}
	want.Log = Log{Level: "debug", Structured: true}
	want.Limits.MaxFiles = 64
	want.TraceSyscalls = true
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvHarts:    "3",
		EnvInit:     "/sbin/init",
		EnvLogLevel: "warn",
		EnvTrace:    "on",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, 3, cfg.Harts)
	assert.Equal(t, "/sbin/init", cfg.Init)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.TraceSyscalls)

	env[EnvHarts] = "many"
	assert.ErrorIs(t, cfg.ApplyEnv(func(k string) string { return env[k] }), ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero harts", func(c *Config) { c.Harts = 0 }},
		{"few files", func(c *Config) { c.Limits.MaxFiles = 2 }},
		{"no processes", func(c *Config) { c.Limits.MaxProcesses = 0 }},
		{"no pages", func(c *Config) { c.Limits.MaxPages = 0 }},
		{"relative init", func(c *Config) { c.Init = "init" }},
		{"relative file", func(c *Config) { c.Files = []File{{Path: "x"}} }},
		{"mount at root", func(c *Config) { c.Mounts = []Mount{{Path: "/", Source: "/srv"}} }},
		{"mount without source", func(c *Config) { c.Mounts = []Mount{{Path: "/mnt"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	t.Setenv(EnvHarts, "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Harts)
	assert.Equal(t, "/bin/init", cfg.Init)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("harts: [1"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
