package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X .../pkg/config.Version=...".
var Version = "dev"

// DefaultURL is the PostgREST endpoint used when none is configured.
const DefaultURL = "http://localhost:3000"

// Config holds application-wide configuration
type Config struct {
	REST    RESTConfig    `mapstructure:"rest"`
	Log     LogConfig     `mapstructure:"log"`
	Serve   ServeConfig   `mapstructure:"serve"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// RESTConfig configures the client side.
type RESTConfig struct {
	URL     string            `mapstructure:"url"`
	APIKey  string            `mapstructure:"apikey"`
	Token   string            `mapstructure:"token"`
	Schema  string            `mapstructure:"schema"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Retries int               `mapstructure:"retries"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ServeConfig configures the in-memory fixture server.
type ServeConfig struct {
	ListenAddr string `mapstructure:"listenAddr"`
	// BasePath mounts the fixture below a prefix such as /rest/v1.
	BasePath string `mapstructure:"basePath"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("rest.url", DefaultURL)
	v.SetDefault("rest.apikey", "")
	v.SetDefault("rest.token", "")
	v.SetDefault("rest.schema", "")
	v.SetDefault("rest.timeout", 30*time.Second)
	v.SetDefault("rest.retries", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("serve.listenAddr", ":3000")
	v.SetDefault("serve.basePath", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")
}

// BindEnv binds PGREST_* variables to their keys, plus the REST_URL and
// APIKEY variables used by integration environments.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("PGREST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"rest.url":    {"PGREST_REST_URL", "REST_URL"},
		"rest.apikey": {"PGREST_REST_APIKEY", "APIKEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Load reads config from file or environment. An empty cfgFile searches
// $HOME/.config/pgrest.yaml and ./pgrest.yaml; a missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	return LoadWith(viper.New(), cfgFile)
}

// LoadWith is Load on a caller-supplied viper, so command flags bound to v
// take part in resolution.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgrest")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

// RequestHeaders returns the default headers implied by the config: apikey,
// a bearer token and any extra headers.
func (c RESTConfig) RequestHeaders() map[string]string {
	h := make(map[string]string, len(c.Headers)+2)
	for k, v := range c.Headers {
		h[k] = v
	}
	if c.APIKey != "" {
		h["apikey"] = c.APIKey
		if c.Token == "" {
			h["Authorization"] = "Bearer " + c.APIKey
		}
	}
	if c.Token != "" {
		h["Authorization"] = "Bearer " + c.Token
	}
	return h
}
