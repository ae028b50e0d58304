// Package config holds the analyzer's configuration surface: the engine
// binary, search defaults, pool sizing, and the outer HTTP/CLI settings.
//
// Values are layered: built-in defaults, then an optional HCL file, then
// environment variables (a .env file in the working directory is loaded on
// import). Binaries apply their command-line flags last.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/zclconf/go-cty/cty"
)

// Defaults.
const (
	DefaultEnginePath      = "/usr/games/stockfish"
	DefaultDepth           = 15
	DefaultTimeout         = 10 * time.Second
	DefaultShutdownGrace   = 500 * time.Millisecond
	DefaultAddr            = ":8007"
	DefaultGamesDir        = "/root/chess-api/games"
	DefaultCacheMaxEntries = 100000
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
)

// Config is the full configuration.
type Config struct {
	Engine EngineConfig
	Server ServerConfig
	Games  GamesConfig
	Cache  CacheConfig
	Log    LogConfig
}

// EngineConfig configures engine processes and per-request defaults.
type EngineConfig struct {
	Path             string
	Depth            int           // default search depth
	Timeout          time.Duration // default per-request budget
	HandshakeTimeout time.Duration // 0 = half of the request budget
	ShutdownGrace    time.Duration
	PoolSize         int // 0 = one process per request
	Threads          int // 0 = engine default
	HashMB           int // 0 = engine default
	RequireUCIOK     bool
	Options          map[string]string // extra setoption values
}

type ServerConfig struct {
	Addr string
}

type GamesConfig struct {
	Dir    string
	ECODir string // directory of opening TSV files; empty disables classification
}

type CacheConfig struct {
	File       string // empty = in-memory only
	MaxEntries int
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // console or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Path:          DefaultEnginePath,
			Depth:         DefaultDepth,
			Timeout:       DefaultTimeout,
			ShutdownGrace: DefaultShutdownGrace,
		},
		Server: ServerConfig{Addr: DefaultAddr},
		Games:  GamesConfig{Dir: DefaultGamesDir},
		Cache:  CacheConfig{MaxEntries: DefaultCacheMaxEntries},
		Log:    LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// Load builds a Config from defaults, the HCL file at path (skipped when
// path is empty) and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EngineOptions returns the setoption values to send during the handshake.
func (c EngineConfig) EngineOptions() map[string]string {
	opts := make(map[string]string, len(c.Options)+2)
	for k, v := range c.Options {
		opts[k] = v
	}
	if c.Threads > 0 {
		opts["Threads"] = strconv.Itoa(c.Threads)
	}
	if c.HashMB > 0 {
		opts["Hash"] = strconv.Itoa(c.HashMB)
	}
	return opts
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.Engine.Depth <= 0 {
		return fmt.Errorf("engine depth must be positive, got %d", c.Engine.Depth)
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine timeout must be positive, got %s", c.Engine.Timeout)
	}
	if c.Engine.HandshakeTimeout < 0 {
		return fmt.Errorf("engine handshake timeout must not be negative, got %s", c.Engine.HandshakeTimeout)
	}
	if c.Engine.PoolSize < 0 {
		return fmt.Errorf("engine pool size must not be negative, got %d", c.Engine.PoolSize)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max entries must not be negative, got %d", c.Cache.MaxEntries)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// fileRoot mirrors the HCL file. Every block and attribute is optional.
type fileRoot struct {
	Engine *engineBlock `hcl:"engine,block"`
	Server *serverBlock `hcl:"server,block"`
	Games  *gamesBlock  `hcl:"games,block"`
	Cache  *cacheBlock  `hcl:"cache,block"`
	Log    *logBlock    `hcl:"log,block"`
}

type engineBlock struct {
	Path             *string           `hcl:"path,optional"`
	Depth            *int              `hcl:"depth,optional"`
	Timeout          *string           `hcl:"timeout,optional"`
	HandshakeTimeout *string           `hcl:"handshake_timeout,optional"`
	ShutdownGrace    *string           `hcl:"shutdown_grace,optional"`
	PoolSize         *int              `hcl:"pool_size,optional"`
	Threads          *int              `hcl:"threads,optional"`
	HashMB           *int              `hcl:"hash_mb,optional"`
	RequireUCIOK     *bool             `hcl:"require_uciok,optional"`
	Options          map[string]string `hcl:"options,optional"`
}

type serverBlock struct {
	Addr *string `hcl:"addr,optional"`
}

type gamesBlock struct {
	Dir    *string `hcl:"dir,optional"`
	ECODir *string `hcl:"eco_dir,optional"`
}

type cacheBlock struct {
	File       *string `hcl:"file,optional"`
	MaxEntries *int    `hcl:"max_entries,optional"`
}

type logBlock struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

// ApplyFile overlays the settings present in an HCL file. Expressions may
// reference environment variables as env.NAME.
func (c *Config) ApplyFile(path string) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, envContext(os.Environ()), &root)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}

	if b := root.Engine; b != nil {
		setString(&c.Engine.Path, b.Path)
		setInt(&c.Engine.Depth, b.Depth)
		setInt(&c.Engine.PoolSize, b.PoolSize)
		setInt(&c.Engine.Threads, b.Threads)
		setInt(&c.Engine.HashMB, b.HashMB)
		if b.RequireUCIOK != nil {
			c.Engine.RequireUCIOK = *b.RequireUCIOK
		}
		for _, d := range []struct {
			name string
			src  *string
			dst  *time.Duration
		}{
			{"timeout", b.Timeout, &c.Engine.Timeout},
			{"handshake_timeout", b.HandshakeTimeout, &c.Engine.HandshakeTimeout},
			{"shutdown_grace", b.ShutdownGrace, &c.Engine.ShutdownGrace},
		} {
			if d.src == nil {
				continue
			}
			v, err := ParseDuration(*d.src)
			if err != nil {
				return fmt.Errorf("config file %s: engine.%s: %w", path, d.name, err)
			}
			*d.dst = v
		}
		if len(b.Options) > 0 {
			if c.Engine.Options == nil {
				c.Engine.Options = make(map[string]string, len(b.Options))
			}
			for k, v := range b.Options {
				c.Engine.Options[k] = v
			}
		}
	}
	if b := root.Server; b != nil {
		setString(&c.Server.Addr, b.Addr)
	}
	if b := root.Games; b != nil {
		setString(&c.Games.Dir, b.Dir)
		setString(&c.Games.ECODir, b.ECODir)
	}
	if b := root.Cache; b != nil {
		setString(&c.Cache.File, b.File)
		setInt(&c.Cache.MaxEntries, b.MaxEntries)
	}
	if b := root.Log; b != nil {
		setString(&c.Log.Level, b.Level)
		setString(&c.Log.Format, b.Format)
	}
	return nil
}

// envContext exposes the environment to config expressions as env.NAME.
func envContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || !utf8.ValidString(k) || !utf8.ValidString(v) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}

// ApplyEnv overlays settings from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("STOCKFISH_PATH", &c.Engine.Path)
	str("GAMES_DIR", &c.Games.Dir)
	str("ECO_DIR", &c.Games.ECODir)
	str("EVAL_CACHE_FILE", &c.Cache.File)
	str("ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	for _, f := range []func() error{
		func() error { return num("ENGINE_DEPTH", &c.Engine.Depth) },
		func() error { return num("ENGINE_POOL_SIZE", &c.Engine.PoolSize) },
		func() error { return num("ENGINE_THREADS", &c.Engine.Threads) },
		func() error { return num("ENGINE_HASH_MB", &c.Engine.HashMB) },
		func() error { return num("EVAL_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries) },
		func() error { return dur("ENGINE_TIMEOUT", &c.Engine.Timeout) },
		func() error { return dur("ENGINE_HANDSHAKE_TIMEOUT", &c.Engine.HandshakeTimeout) },
		func() error { return dur("ENGINE_SHUTDOWN_GRACE", &c.Engine.ShutdownGrace) },
	} {
		if err := f(); err != nil {
			return err
		}
	}

	if v, ok := lookup("ENGINE_REQUIRE_UCIOK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENGINE_REQUIRE_UCIOK: %w", err)
		}
		c.Engine.RequireUCIOK = b
	}
	return nil
}

// ParseDuration accepts Go durations ("1500ms", "10s") and bare integers,
// which are read as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
