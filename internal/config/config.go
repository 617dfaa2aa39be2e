// Package config loads xpinstall settings from defaults, a TOML file and
// XPINSTALL_* environment variables, in that order of precedence
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml/v2"
	"golang.org/x/text/encoding"

	"github.com/bnema/xpinstall/internal/archive"
)

const (
	appName   = "xpinstall"
	fileName  = "config.toml"
	envPrefix = "XPINSTALL_"
)

var (
	ErrConfigExists  = errors.New("config file already exists")
	ErrConfigMissing = errors.New("config file not found")
	ErrInvalid       = errors.New("invalid configuration")
)

// Duration is a time.Duration written as "5m" in TOML
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the full set of user settings
type Config struct {
	XPlane  XPlane  `koanf:"xplane" toml:"xplane"`
	Install Install `koanf:"install" toml:"install"`
	Limits  Limits  `koanf:"limits" toml:"limits"`
	Backup  Backup  `koanf:"backup" toml:"backup"`
	Archive Archive `koanf:"archive" toml:"archive"`
	Cache   Cache   `koanf:"cache" toml:"cache"`
}

type XPlane struct {
	Root string `koanf:"root" toml:"root"`
}

type Install struct {
	// Workers bounds parallel file writes; 0 picks from CPU count and disk type
	Workers           int  `koanf:"workers" toml:"workers"`
	VerifyArchives    bool `koanf:"verify_archives" toml:"verify_archives"`
	VerifyDirectories bool `koanf:"verify_directories" toml:"verify_directories"`
	DeleteSource      bool `koanf:"delete_source" toml:"delete_source"`
	AllOrNothing      bool `koanf:"all_or_nothing" toml:"all_or_nothing"`
	// Atomic makes atomic the default mode for tasks replacing a target
	Atomic bool `koanf:"atomic" toml:"atomic"`
}

type Limits struct {
	MaxExtractBytes       int64   `koanf:"max_extract_bytes" toml:"max_extract_bytes"`
	MaxCompressionRatio   float64 `koanf:"max_compression_ratio" toml:"max_compression_ratio"`
	RatioFloorBytes       int64   `koanf:"ratio_floor_bytes" toml:"ratio_floor_bytes"`
	MinFreeBytes          int64   `koanf:"min_free_bytes" toml:"min_free_bytes"`
	MaxInMemoryLayerBytes int64   `koanf:"max_in_memory_layer_bytes" toml:"max_in_memory_layer_bytes"`
	SizeWarningBytes      int64   `koanf:"size_warning_bytes" toml:"size_warning_bytes"`
	ScanMaxDepth          int     `koanf:"scan_max_depth" toml:"scan_max_depth"`
	ArchiveMaxDepth       int     `koanf:"archive_max_depth" toml:"archive_max_depth"`
}

type Backup struct {
	Liveries       bool     `koanf:"liveries" toml:"liveries"`
	ConfigPatterns []string `koanf:"config_patterns" toml:"config_patterns"`
}

type Archive struct {
	// FilenameEncoding decodes legacy ZIP names without the UTF-8 flag
	FilenameEncoding string `koanf:"filename_encoding" toml:"filename_encoding"`
}

type Cache struct {
	TTL        Duration `koanf:"ttl" toml:"ttl"`
	DirTTL     Duration `koanf:"dir_ttl" toml:"dir_ttl"`
	MaxEntries int      `koanf:"max_entries" toml:"max_entries"`
}

// defaults is the base layer every load starts from
var defaults = map[string]any{
	"xplane.root":                      "",
	"install.workers":                  0,
	"install.verify_archives":          true,
	"install.verify_directories":       false,
	"install.delete_source":            false,
	"install.all_or_nothing":           false,
	"install.atomic":                   false,
	"limits.max_extract_bytes":         int64(20 << 30),
	"limits.max_compression_ratio":     100.0,
	"limits.ratio_floor_bytes":         int64(64 << 10),
	"limits.min_free_bytes":            int64(1 << 30),
	"limits.max_in_memory_layer_bytes": int64(256 << 20),
	"limits.size_warning_bytes":        int64(5 << 30),
	"limits.scan_max_depth":            16,
	"limits.archive_max_depth":         4,
	"backup.liveries":                  true,
	"backup.config_patterns":           []string{"*_prefs.txt", "**/*.prf"},
	"archive.filename_encoding":        "cp437",
	"cache.ttl":                        "5m",
	"cache.dir_ttl":                    "30s",
	"cache.max_entries":                1024,
}

// DefaultPath returns the config file location under the XDG config home
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, fileName)
}

// Default returns the built-in settings
func Default() *Config {
	cfg, err := load("", false)
	if err != nil {
		// The defaults map is static; failing to decode it is a programming error
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads settings. An empty path uses DefaultPath and tolerates a
// missing file; an explicit path must exist
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if explicit {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		path = ""
	}
	return load(path, true)
}

func load(path string, withEnv bool) (*Config, error) {
	k := koanf.New(".")

	// 1. Built-in defaults
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	// 3. Environment, XPINSTALL_LIMITS_MAX_EXTRACT_BYTES -> limits.max_extract_bytes
	if withEnv {
		if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("failed to load env vars: %w", err)
		}
	}

	// 4. Unmarshal
	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable onto a config key. Section names hold
// no underscore, so only the first one separates section from key
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// Validate checks limits that would make every install fail
func (c *Config) Validate() error {
	var errs []error
	if c.Limits.MaxExtractBytes <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_extract_bytes must be positive"))
	}
	if c.Limits.MaxCompressionRatio <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_compression_ratio must be positive"))
	}
	if c.Limits.ScanMaxDepth <= 0 || c.Limits.ArchiveMaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("limits.scan_max_depth and limits.archive_max_depth must be positive"))
	}
	if c.Install.Workers < 0 {
		errs = append(errs, fmt.Errorf("install.workers must not be negative"))
	}
	if _, err := c.NameEncoding(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// NameEncoding resolves archive.filename_encoding
func (c *Config) NameEncoding() (encoding.Encoding, error) {
	return archive.LookupNameEncoding(c.Archive.FilenameEncoding)
}

// Marshal renders the config as TOML
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := gotoml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the built-in settings to path, refusing to replace an
// existing file unless force is set
func WriteDefault(path string, force bool) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	data, err := Default().Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	header := []byte("# xpinstall configuration\n# Environment variables override these, e.g. XPINSTALL_XPLANE_ROOT.\n\n")
	return os.WriteFile(path, append(header, data...), 0644)
}
