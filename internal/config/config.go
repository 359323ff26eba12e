package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/viper"
)

const (
	homeDirName = ".mcpx"
	fileName    = "config"
	fileType    = "yaml"
	envPrefix   = "MCPX"
)

// Settings holds every tunable of the engine. One instance is built by
// Load and passed down; components never read viper directly, so tests
// can construct Settings literals.
type Settings struct {
	// RegistryBaseURL is the root of the package registry API.
	RegistryBaseURL string

	// CacheRoot is the on-disk cache directory.
	CacheRoot string

	// MaxCacheSize bounds the total cache size in bytes.
	MaxCacheSize int64

	// MaxCacheAge is the validity ceiling for a cache entry.
	MaxCacheAge time.Duration

	// CleanupInterval is the period of the background eviction task.
	CleanupInterval time.Duration

	// IntegrityChecks enables checksum recomputation on cache reads.
	IntegrityChecks bool

	// PreCacheScan enables the lightweight security scan before caching.
	PreCacheScan bool

	// MaxCPUTime is the hard deadline for non-server subprocesses.
	MaxCPUTime time.Duration

	// MaxMemory bounds subprocess resident memory in bytes.
	MaxMemory int64

	// MaxOutputBytes caps captured stdout/stderr per stream.
	MaxOutputBytes int64

	// AllowedWorkRoots, when non-empty, restricts sandbox working
	// directories to descendants of these paths.
	AllowedWorkRoots []string

	// InstallTimeout bounds one package-manager install invocation.
	InstallTimeout time.Duration

	// MaxRetries and RetryBaseDelay drive the install retry policy.
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Defaults mirrors what a fresh installation uses.
var defaults = map[string]any{
	"registry.base_url":    "https://www.e14z.com",
	"cache.root":           "", // resolved to ~/.mcpx/cache at load time
	"cache.max_size":       "10GB",
	"cache.max_age":        "720h",
	"cache.cleanup_every":  "1h",
	"cache.integrity":      true,
	"cache.prescan":        true,
	"sandbox.max_cpu_time": "5m",
	"sandbox.max_memory":   "512MB",
	"sandbox.max_output":   "1MB",
	"install.timeout":      "10m",
	"retry.max_attempts":   3,
	"retry.base_delay":     "500ms",
}

// Dir returns the engine's home directory (~/.mcpx).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", homeDirName)
	}
	return filepath.Join(home, homeDirName)
}

// FilePath returns the full path to the config file (~/.mcpx/config.yaml).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// Load reads the config file (if present) and environment overrides and
// resolves them into Settings.
func Load() (*Settings, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetConfigFile(FilePath())
	v.SetConfigType(fileType)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	// Missing config file is fine; defaults and env carry it.
	_ = v.ReadInConfig()

	return resolve(v)
}

func resolve(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		RegistryBaseURL:  v.GetString("registry.base_url"),
		CacheRoot:        v.GetString("cache.root"),
		IntegrityChecks:  v.GetBool("cache.integrity"),
		PreCacheScan:     v.GetBool("cache.prescan"),
		AllowedWorkRoots: v.GetStringSlice("sandbox.allowed_roots"),
		MaxRetries:       v.GetInt("retry.max_attempts"),
	}

	if s.CacheRoot == "" {
		s.CacheRoot = filepath.Join(Dir(), "cache")
	}

	var err error
	if s.MaxCacheSize, err = units.RAMInBytes(v.GetString("cache.max_size")); err != nil {
		return nil, fmt.Errorf("parsing cache.max_size: %w", err)
	}
	if s.MaxMemory, err = units.RAMInBytes(v.GetString("sandbox.max_memory")); err != nil {
		return nil, fmt.Errorf("parsing sandbox.max_memory: %w", err)
	}
	if s.MaxOutputBytes, err = units.RAMInBytes(v.GetString("sandbox.max_output")); err != nil {
		return nil, fmt.Errorf("parsing sandbox.max_output: %w", err)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"cache.max_age", &s.MaxCacheAge},
		{"cache.cleanup_every", &s.CleanupInterval},
		{"sandbox.max_cpu_time", &s.MaxCPUTime},
		{"install.timeout", &s.InstallTimeout},
		{"retry.base_delay", &s.RetryBaseDelay},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(v.GetString(d.key)); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
	}

	return s, nil
}

// TestSettings returns Settings suitable for tests: everything rooted
// under dir, short timeouts, integrity checks on.
func TestSettings(dir string) *Settings {
	return &Settings{
		RegistryBaseURL: "http://127.0.0.1:0",
		CacheRoot:       filepath.Join(dir, "cache"),
		MaxCacheSize:    1 << 30,
		MaxCacheAge:     time.Hour,
		CleanupInterval: time.Minute,
		IntegrityChecks: true,
		PreCacheScan:    true,
		MaxCPUTime:      10 * time.Second,
		MaxMemory:       256 << 20,
		MaxOutputBytes:  1 << 20,
		InstallTimeout:  30 * time.Second,
		MaxRetries:      2,
		RetryBaseDelay:  time.Millisecond,
	}
}
