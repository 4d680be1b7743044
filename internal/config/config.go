// Package config loads codegraph settings from a YAML file, a .env file and
// CODEGRAPH_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/codegraph/internal/indexer"
	"github.com/dshills/codegraph/internal/resolution"
	"github.com/dshills/codegraph/pkg/types"
)

// Environment variables that override the file
const (
	EnvConfigPath  = "CODEGRAPH_CONFIG"
	EnvDBPath      = "CODEGRAPH_DB_PATH"
	EnvWorkers     = "CODEGRAPH_WORKERS"
	EnvBatchSize   = "CODEGRAPH_BATCH_SIZE"
	EnvQueueSize   = "CODEGRAPH_QUEUE_SIZE"
	EnvMaxFileSize = "CODEGRAPH_MAX_FILE_SIZE"
	EnvExclude     = "CODEGRAPH_EXCLUDE"
	EnvThreshold   = "CODEGRAPH_THRESHOLD"
	EnvCacheSize   = "CODEGRAPH_CACHE_SIZE"
	EnvLogLevel    = "CODEGRAPH_LOG_LEVEL"
	EnvLogFormat   = "CODEGRAPH_LOG_FORMAT"
)

// DefaultDBPath is used when no storage path is configured
const DefaultDBPath = ".codegraph/graph.db"

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of the settings file
type Config struct {
	Index      IndexConfig      `yaml:"index"`
	Resolution ResolutionConfig `yaml:"resolution"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
}

// IndexConfig controls discovery and the indexing pipeline
type IndexConfig struct {
	Workers     int      `yaml:"workers"`
	BatchSize   int      `yaml:"batch_size"`
	QueueSize   int      `yaml:"queue_size"`
	MaxFileSize int64    `yaml:"max_file_size"`
	Include     []string `yaml:"include"`
	Exclude     []string `yaml:"exclude"`
}

// PolicyConfig holds the confidence weight of each resolution tier
type PolicyConfig struct {
	SameFile      float64 `yaml:"same_file"`
	SameModule    float64 `yaml:"same_module"`
	Global        float64 `yaml:"global"`
	Fuzzy         float64 `yaml:"fuzzy"`
	Semantic      float64 `yaml:"semantic"`
	SuffixPenalty float64 `yaml:"suffix_penalty"`
}

// ResolutionConfig controls the resolution engine
type ResolutionConfig struct {
	Threshold   float64      `yaml:"threshold"`
	CacheSize   int          `yaml:"cache_size"`
	Call        PolicyConfig `yaml:"call"`
	Import      PolicyConfig `yaml:"import"`
	CommonNames []string     `yaml:"common_names"`
}

// StorageConfig locates the database
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Workers:     runtime.NumCPU(),
			BatchSize:   20,
			QueueSize:   2 * runtime.NumCPU(),
			MaxFileSize: 2 << 20,
		},
		Resolution: ResolutionConfig{
			Threshold: types.DefaultCertaintyThreshold,
			CacheSize: 16,
			Call:      fromPolicy(resolution.DefaultCallPolicy),
			Import:    fromPolicy(resolution.DefaultImportPolicy),
		},
		Storage: StorageConfig{Path: DefaultDBPath},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path falls back to $CODEGRAPH_CONFIG; when neither is
// set only defaults and environment apply. A .env file in the working
// directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv(EnvExclude); v != "" {
		for _, pattern := range strings.Split(v, ",") {
			if pattern = strings.TrimSpace(pattern); pattern != "" {
				c.Index.Exclude = append(c.Index.Exclude, pattern)
			}
		}
	}

	ints := []struct {
		env string
		dst *int
	}{
		{EnvWorkers, &c.Index.Workers},
		{EnvBatchSize, &c.Index.BatchSize},
		{EnvQueueSize, &c.Index.QueueSize},
		{EnvCacheSize, &c.Resolution.CacheSize},
	}
	for _, o := range ints {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, o.env, v)
		}
		*o.dst = n
	}

	if v := os.Getenv(EnvMaxFileSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, EnvMaxFileSize, v)
		}
		c.Index.MaxFileSize = n
	}
	if v := os.Getenv(EnvThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, EnvThreshold, v)
		}
		c.Resolution.Threshold = f
	}
	return nil
}

// Validate reports the first setting out of range
func (c *Config) Validate() error {
	switch {
	case c.Index.Workers < 1:
		return fmt.Errorf("%w: index.workers must be positive, got %d", ErrInvalidConfig, c.Index.Workers)
	case c.Index.BatchSize < 1:
		return fmt.Errorf("%w: index.batch_size must be positive, got %d", ErrInvalidConfig, c.Index.BatchSize)
	case c.Index.QueueSize < 0:
		return fmt.Errorf("%w: index.queue_size must not be negative, got %d", ErrInvalidConfig, c.Index.QueueSize)
	case c.Index.MaxFileSize < 0:
		return fmt.Errorf("%w: index.max_file_size must not be negative, got %d", ErrInvalidConfig, c.Index.MaxFileSize)
	case c.Resolution.Threshold <= 0 || c.Resolution.Threshold > 1:
		return fmt.Errorf("%w: resolution.threshold must be in (0, 1], got %v", ErrInvalidConfig, c.Resolution.Threshold)
	case c.Resolution.CacheSize < 1:
		return fmt.Errorf("%w: resolution.cache_size must be positive, got %d", ErrInvalidConfig, c.Resolution.CacheSize)
	case c.Storage.Path == "":
		return fmt.Errorf("%w: storage.path is required", ErrInvalidConfig)
	}
	for name, p := range map[string]PolicyConfig{"call": c.Resolution.Call, "import": c.Resolution.Import} {
		if err := p.validate(); err != nil {
			return fmt.Errorf("%w: resolution.%s: %v", ErrInvalidConfig, name, err)
		}
	}
	for _, pattern := range append(append([]string{}, c.Index.Include...), c.Index.Exclude...) {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("%w: bad glob %q: %v", ErrInvalidConfig, pattern, err)
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log.format must be json or text, got %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

func (p PolicyConfig) validate() error {
	for name, w := range map[string]float64{
		"same_file":      p.SameFile,
		"same_module":    p.SameModule,
		"global":         p.Global,
		"fuzzy":          p.Fuzzy,
		"semantic":       p.Semantic,
		"suffix_penalty": p.SuffixPenalty,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s weight must be in [0, 1], got %v", name, w)
		}
	}
	return nil
}

func fromPolicy(p resolution.Policy) PolicyConfig {
	return PolicyConfig{
		SameFile:      p.SameFile,
		SameModule:    p.SameModule,
		Global:        p.Global,
		Fuzzy:         p.Fuzzy,
		Semantic:      p.Semantic,
		SuffixPenalty: p.SuffixPenalty,
	}
}

func (p PolicyConfig) policy() resolution.Policy {
	return resolution.Policy{
		SameFile:      p.SameFile,
		SameModule:    p.SameModule,
		Global:        p.Global,
		Fuzzy:         p.Fuzzy,
		Semantic:      p.Semantic,
		SuffixPenalty: p.SuffixPenalty,
	}
}

// EngineConfig builds the resolution engine settings
func (c *Config) EngineConfig(logger *slog.Logger) resolution.Config {
	return resolution.Config{
		Threshold: c.Resolution.Threshold,
		CacheSize: c.Resolution.CacheSize,
		Workers:   c.Index.Workers,
		Strategies: []resolution.Strategy{
			resolution.NewCallStrategy(c.Resolution.Call.policy(), c.Resolution.CommonNames),
			resolution.NewImportStrategy(c.Resolution.Import.policy()),
		},
		Logger: logger,
	}
}

// IndexerConfig builds the indexer settings for a workspace root
func (c *Config) IndexerConfig(root string, logger *slog.Logger) indexer.Config {
	return indexer.Config{
		Root:        root,
		Workers:     c.Index.Workers,
		BatchSize:   c.Index.BatchSize,
		QueueSize:   c.Index.QueueSize,
		MaxFileSize: c.Index.MaxFileSize,
		Resolution:  c.EngineConfig(logger),
		Logger:      logger,
	}
}

// NewLogger builds the slog logger described by the log section
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q: %v", ErrInvalidConfig, s, err)
	}
	return level, nil
}
