// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads and validates gatehouse configuration from
// defaults, a YAML file, GATEHOUSE_* environment variables, and command
// line flags, in that order of precedence.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gatehouse/gatehouse/internal/xdg"
)

const envPrefix = "GATEHOUSE_"

// Config is the root configuration tree. YAML keys, environment
// variables, and flag names all map onto the koanf paths: the key
// upstream.url is GATEHOUSE_UPSTREAM_URL in the environment and
// --upstream-url on the command line.
type Config struct {
	Server   Server   `koanf:"server" json:"server,omitempty"`
	Metrics  Metrics  `koanf:"metrics" json:"metrics,omitempty"`
	Log      Log      `koanf:"log" json:"log,omitempty"`
	Upstream Upstream `koanf:"upstream" json:"upstream,omitempty"`
	Routes   Routes   `koanf:"routes" json:"routes,omitempty"`
	Persist  Persist  `koanf:"persist" json:"persist,omitempty"`
}

// Server configures the gateway HTTP listener.
type Server struct {
	Addr string `koanf:"addr" json:"addr,omitempty" jsonschema:"description=gateway HTTP listen address"`
}

// Metrics configures the observability listener. An empty address
// disables it.
type Metrics struct {
	Addr string `koanf:"addr" json:"addr,omitempty" jsonschema:"description=metrics/health HTTP address; empty disables"`
}

// Log configures the default logger.
type Log struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
}

// Upstream configures the identity endpoint sign-ins are verified
// against.
type Upstream struct {
	URL     string        `koanf:"url" json:"url,omitempty" jsonschema:"description=base URL of the upstream identity service"`
	Signin  string        `koanf:"signin" json:"signin,omitempty" jsonschema:"description=sign-in path on the upstream service"`
	Timeout time.Duration `koanf:"timeout" json:"timeout,omitempty" jsonschema:"oneof_type=string;integer,description=request timeout (e.g. 10s)"`
}

// Routes configures the guard: which paths are public and where
// unauthenticated requests are redirected.
type Routes struct {
	Public   []string `koanf:"public" json:"public,omitempty" jsonschema:"description=glob patterns that bypass the guard"`
	Fallback string   `koanf:"fallback" json:"fallback,omitempty" jsonschema:"description=redirect target for unauthenticated requests"`
}

// Persist selects and configures the state engine.
type Persist struct {
	Engine     string         `koanf:"engine" json:"engine,omitempty" jsonschema:"enum=file,enum=sqlite,enum=redis,enum=postgres"`
	Key        string         `koanf:"key" json:"key,omitempty" jsonschema:"description=storage key for the persisted snapshot"`
	Passphrase string         `koanf:"passphrase" json:"passphrase,omitempty" jsonschema:"description=enables sealed snapshots when set"`
	File       FileEngine     `koanf:"file" json:"file,omitempty"`
	SQLite     SQLiteEngine   `koanf:"sqlite" json:"sqlite,omitempty"`
	Redis      RedisEngine    `koanf:"redis" json:"redis,omitempty"`
	Postgres   PostgresEngine `koanf:"postgres" json:"postgres,omitempty"`
}

// FileEngine configures the file engine.
type FileEngine struct {
	Dir string `koanf:"dir" json:"dir,omitempty" jsonschema:"description=snapshot directory; default XDG state dir"`
}

// SQLiteEngine configures the sqlite engine.
type SQLiteEngine struct {
	Path string `koanf:"path" json:"path,omitempty" jsonschema:"description=database file; default XDG data dir"`
}

// RedisEngine configures the redis engine.
type RedisEngine struct {
	Addr     string `koanf:"addr" json:"addr,omitempty"`
	Password string `koanf:"password" json:"password,omitempty"`
	DB       int    `koanf:"db" json:"db,omitempty"`
}

// PostgresEngine configures the postgres engine.
type PostgresEngine struct {
	URL string `koanf:"url" json:"url,omitempty" jsonschema:"description=postgres:// connection string"`
}

// Default returns the configuration before any file, environment, or
// flag input.
func Default() *Config {
	return &Config{
		Server:  Server{Addr: "127.0.0.1:8080"},
		Metrics: Metrics{Addr: "127.0.0.1:9100"},
		Log:     Log{Format: "json"},
		Upstream: Upstream{
			Signin:  "/users/signin",
			Timeout: 10 * time.Second,
		},
		Routes: Routes{
			// The error-clear action is public: the login page posts it
			// before the user is signed in.
			Public:   []string{"/login", "/error/clear", "/static/*"},
			Fallback: "/login",
		},
		Persist: Persist{
			Engine: "file",
			Key:    "gatehouse:root",
		},
	}
}

// DefaultPath returns the default config file location under the XDG
// config dir.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigDir(), "config.yaml")
}

// Load builds the configuration. path may be empty, in which case the
// default location is used when present and silently skipped otherwise;
// an explicitly given path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	if data, err := os.ReadFile(path); err == nil {
		// Schema validation catches typos and type mistakes with a
		// better message than a mapstructure failure would.
		if err := ValidateSchema(data); err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("path", path).
				Errorf("%s", FormatSchemaError(err))
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	} else if explicit {
		return nil, oops.Code("CONFIG_FILE_NOT_FOUND").With("path", path).Wrap(err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "."), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envToKey maps GATEHOUSE_UPSTREAM_URL to upstream.url.
func envToKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
}

// Validate checks the configuration for values Load cannot catch through
// the schema: cross-field requirements and patterns that must compile.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("field", "server.addr").Errorf("server.addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").With("field", "log.format").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}

	if c.Upstream.URL != "" {
		if u, err := url.Parse(c.Upstream.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return oops.Code("CONFIG_INVALID").With("field", "upstream.url").
				Errorf("upstream.url must be an http(s) URL, got %q", c.Upstream.URL)
		}
	}
	if c.Upstream.Timeout <= 0 {
		return oops.Code("CONFIG_INVALID").With("field", "upstream.timeout").
			Errorf("upstream.timeout must be positive, got %s", c.Upstream.Timeout)
	}

	if !strings.HasPrefix(c.Routes.Fallback, "/") {
		return oops.Code("CONFIG_INVALID").With("field", "routes.fallback").
			Errorf("routes.fallback must be an absolute path, got %q", c.Routes.Fallback)
	}
	for _, pattern := range c.Routes.Public {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return oops.Code("CONFIG_INVALID").With("field", "routes.public").
				With("pattern", pattern).
				Errorf("invalid public route pattern %q: %v", pattern, err)
		}
	}

	switch c.Persist.Engine {
	case "file", "sqlite", "redis":
	case "postgres":
		if c.Persist.Postgres.URL == "" {
			return oops.Code("CONFIG_INVALID").With("field", "persist.postgres.url").
				Errorf("persist.postgres.url is required for the postgres engine")
		}
	default:
		return oops.Code("CONFIG_INVALID").With("field", "persist.engine").
			Errorf("persist.engine must be one of file, sqlite, redis, postgres; got %q", c.Persist.Engine)
	}
	if c.Persist.Key == "" {
		return oops.Code("CONFIG_INVALID").With("field", "persist.key").
			Errorf("persist.key is required")
	}

	return nil
}

// ValidateUpstream checks that an upstream endpoint is configured.
// Commands that only touch storage skip this; serve and login require it.
func (c *Config) ValidateUpstream() error {
	if c.Upstream.URL == "" {
		return oops.Code("CONFIG_INVALID").With("field", "upstream.url").
			Errorf("upstream.url is required (set GATEHOUSE_UPSTREAM_URL)")
	}
	return nil
}
