// Package config loads the kernel's boot configuration from YAML and the
// RVOS_* environment variables.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvHarts    = "RVOS_HARTS"
	EnvInit     = "RVOS_INIT"
	EnvLogLevel = "RVOS_LOG_LEVEL"
	EnvTrace    = "RVOS_TRACE"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// File is a host file preloaded into the dentry cache at boot.
type File struct {
	// Path is the absolute path inside the kernel.
	Path string `yaml:"path"`
	// Source is the host path to read. Files ending in .s are assembled.
	Source string `yaml:"source"`
	// Inline content, used instead of Source when set.
	Content string `yaml:"content"`
	// Dir creates an empty directory instead of a file.
	Dir bool `yaml:"dir"`
}

// Mount exposes a host directory at Path inside the kernel.
type Mount struct {
	Path     string `yaml:"path"`
	Source   string `yaml:"source"`
	ReadOnly bool   `yaml:"read_only"`
}

// Log configures klog.
type Log struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
	Caller     bool   `yaml:"caller"`
}

// Limits bounds per-process and kernel-wide resources.
type Limits struct {
	MaxFiles     int `yaml:"max_files"`
	MaxProcesses int `yaml:"max_processes"`
	// MaxPages bounds the pages a single address space may map.
	MaxPages int `yaml:"max_pages"`
}

// Shell names the interpreter exec uses for *.sh paths.
type Shell struct {
	Interpreter string `yaml:"interpreter"`
}

// Config is the boot configuration.
type Config struct {
	Harts         int      `yaml:"harts"`
	Init          string   `yaml:"init"`
	InitArgs      []string `yaml:"init_args"`
	Cwd           string   `yaml:"cwd"`
	Files         []File   `yaml:"files"`
	Mounts        []Mount  `yaml:"mounts"`
	Log           Log      `yaml:"log"`
	Limits        Limits   `yaml:"limits"`
	TraceSyscalls bool     `yaml:"trace_syscalls"`
	Shell         Shell    `yaml:"shell"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Harts: 1,
		Init:  "/init",
		Cwd:   "/",
		Log:   Log{Level: "info"},
		Limits: Limits{
			MaxFiles:     1024,
			MaxProcesses: 512,
			MaxPages:     16384,
		},
		Shell: Shell{Interpreter: "/busybox"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "config: reading %s", path)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "config: %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping fields the document omits.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, "parsing yaml")
	}
	return nil
}

// ApplyEnv overrides fields from the RVOS_* variables returned by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvHarts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(ErrInvalid, "%s=%q", EnvHarts, v)
		}
		c.Harts = n
	}
	if v := getenv(EnvInit); v != "" {
		c.Init = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvTrace); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.TraceSyscalls = true
		default:
			c.TraceSyscalls = false
		}
	}
	return nil
}

// Validate rejects configurations the kernel cannot boot with.
func (c *Config) Validate() error {
	switch {
	case c.Harts < 1:
		return errors.Wrapf(ErrInvalid, "harts must be positive, got %d", c.Harts)
	case c.Limits.MaxFiles < 3:
		return errors.Wrapf(ErrInvalid, "limits.max_files must be at least 3, got %d", c.Limits.MaxFiles)
	case c.Limits.MaxProcesses < 1:
		return errors.Wrapf(ErrInvalid, "limits.max_processes must be positive, got %d", c.Limits.MaxProcesses)
	case c.Limits.MaxPages < 1:
		return errors.Wrapf(ErrInvalid, "limits.max_pages must be positive, got %d", c.Limits.MaxPages)
	case !strings.HasPrefix(c.Init, "/"):
		return errors.Wrapf(ErrInvalid, "init must be an absolute path, got %q", c.Init)
	case c.Cwd != "" && !strings.HasPrefix(c.Cwd, "/"):
		return errors.Wrapf(ErrInvalid, "cwd must be an absolute path, got %q", c.Cwd)
	}
	for i, f := range c.Files {
		if !strings.HasPrefix(f.Path, "/") {
			return errors.Wrapf(ErrInvalid, "files[%d].path must be absolute, got %q", i, f.Path)
		}
	}
	for i, m := range c.Mounts {
		switch {
		case !strings.HasPrefix(m.Path, "/") || m.Path == "/":
			return errors.Wrapf(ErrInvalid, "mounts[%d].path must be an absolute path below /, got %q", i, m.Path)
		case m.Source == "":
			return errors.Wrapf(ErrInvalid, "mounts[%d].source is empty", i)
		}
	}
	return nil
}
