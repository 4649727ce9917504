package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultBaseURL       = "http://localhost:8080"
	DefaultPort          = 3000
	DefaultRenderTimeout = 1500 * time.Millisecond
	DefaultCacheTTL      = 10 * time.Minute

	// BaseURLEnv overrides backend.base_url. The name is kept from the browser build
	// so both frontends can share one deployment environment.
	BaseURLEnv = "REACT_APP_BASE_URL"
)

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type ConfigSchema struct {
	Backend struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"backend"`
	Web struct {
		Host          string        `yaml:"host"`
		Port          int           `yaml:"port"`
		RenderTimeout time.Duration `yaml:"render_timeout"`
		// ShowErrors renders a failed posts query as an error message instead of
		// the loading state.
		ShowErrors bool `yaml:"show_errors"`
	} `yaml:"web"`
	Cache struct {
		Driver string        `yaml:"driver"` // memory, redis
		TTL    time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Redis RedisConfig `yaml:"redis"`
	Feed  struct {
		Subscribe bool   `yaml:"subscribe"`
		RabbitURL string `yaml:"rabbitmq_url"`
		Exchange  string `yaml:"exchange"`
	} `yaml:"feed"`
	Logs struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json, console
	} `yaml:"logs"`
}

// LoadConfig reads the YAML file at filePath, falls back to defaults when the
// file does not exist and applies environment overrides on top.
func LoadConfig(filePath string) (*ConfigSchema, error) {
	conf := Default()
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, conf); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", filePath, err)
			}
		}
	}
	if err := conf.applyEnv(); err != nil {
		return nil, err
	}
	conf.fillDefaults()
	return conf, nil
}

func Default() *ConfigSchema {
	conf := &ConfigSchema{}
	conf.fillDefaults()
	return conf
}

func (c *ConfigSchema) fillDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBaseURL
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Web.Port == 0 {
		c.Web.Port = DefaultPort
	}
	if c.Web.RenderTimeout <= 0 {
		c.Web.RenderTimeout = DefaultRenderTimeout
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Feed.Exchange == "" {
		c.Feed.Exchange = "feed_events"
	}
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
	if c.Logs.Format == "" {
		c.Logs.Format = "console"
	}
}

func (c *ConfigSchema) applyEnv() error {
	if v := os.Getenv(BaseURLEnv); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		c.Feed.RabbitURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logs.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Web.Port = port
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("invalid REDIS_ADDR %q: %w", v, err)
			}
			c.Redis.Port = p
		}
	}
	return nil
}

func (c *ConfigSchema) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// QueryEndpoint is the GraphQL endpoint every query is sent to.
func (c *ConfigSchema) QueryEndpoint() string {
	return QueryEndpoint(c.Backend.BaseURL)
}

// SubscriptionEndpoint is QueryEndpoint with a ws/wss scheme.
func (c *ConfigSchema) SubscriptionEndpoint() string {
	return SubscriptionEndpoint(c.Backend.BaseURL)
}

func QueryEndpoint(baseURL string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/query"
}

func SubscriptionEndpoint(baseURL string) string {
	endpoint := QueryEndpoint(baseURL)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}
