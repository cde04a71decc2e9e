package infra

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Values resolve in three layers:
// built-in defaults, then the optional YAML file named by CONFIG_FILE, then
// environment variables.
type Config struct {
	AppEnv   string `yaml:"app_env"`
	LogLevel string `yaml:"log_level"`

	Server ServerConfig `yaml:"server"`
	Queue  QueueConfig  `yaml:"queue"`
	Model  ModelConfig  `yaml:"model"`
	Image  ImageConfig  `yaml:"image"`
	Jobs   JobsConfig   `yaml:"jobs"`

	OutputDir string `yaml:"output_dir"`
}

type ServerConfig struct {
	BindHost              string   `yaml:"bind_host"`
	HTTPPort              int      `yaml:"http_port"`
	RPCPort               int      `yaml:"rpc_port"`
	MaxConcurrentRequests int      `yaml:"max_concurrent_requests"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
	RateLimitPerMin       int      `yaml:"rate_limit_per_min"`
	AllowedOrigins        []string `yaml:"allowed_origins"`
	ShutdownGraceSeconds  int      `yaml:"shutdown_grace_seconds"`
}

type QueueConfig struct {
	Backend  string `yaml:"backend"`
	Capacity int    `yaml:"capacity"`
	Workers  int    `yaml:"workers"`
}

type ModelConfig struct {
	Backend   string `yaml:"backend"`
	Name      string `yaml:"name"`
	Path      string `yaml:"path"`
	Device    string `yaml:"device"`
	Precision string `yaml:"precision"`
	RemoteURL string `yaml:"remote_url"`
	Warmup    bool   `yaml:"warmup"`
}

type ImageConfig struct {
	DefaultSteps    int     `yaml:"default_steps"`
	MaxSteps        int     `yaml:"max_steps"`
	DefaultGuidance float64 `yaml:"default_guidance"`
	DefaultWidth    int     `yaml:"default_width"`
	DefaultHeight   int     `yaml:"default_height"`
	MaxWidth        int     `yaml:"max_width"`
	MaxHeight       int     `yaml:"max_height"`
	MinSize         int     `yaml:"min_size"`
	SizeAlignment   int     `yaml:"size_alignment"`
}

type JobsConfig struct {
	RetentionSeconds     int `yaml:"retention_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

func defaultConfig() *Config {
	return &Config{
		AppEnv:   "development",
		LogLevel: "info",
		Server: ServerConfig{
			BindHost:              "0.0.0.0",
			HTTPPort:              8080,
			RPCPort:               50051,
			MaxConcurrentRequests: 10,
			RequestTimeoutSeconds: 300,
			RateLimitPerMin:       0,
			ShutdownGraceSeconds:  30,
		},
		Queue: QueueConfig{
			Backend:  "memory",
			Capacity: 1000,
			Workers:  2,
		},
		Model: ModelConfig{
			Backend:   "local",
			Name:      "stable-diffusion-v1-5",
			Path:      "./models/stable-diffusion-v1-5",
			Device:    "cpu",
			Precision: "fp16",
			Warmup:    false,
		},
		Image: ImageConfig{
			DefaultSteps:    50,
			MaxSteps:        150,
			DefaultGuidance: 7.5,
			DefaultWidth:    512,
			DefaultHeight:   512,
			MaxWidth:        1024,
			MaxHeight:       1024,
			MinSize:         64,
			SizeAlignment:   8,
		},
		Jobs: JobsConfig{
			RetentionSeconds:     3600,
			SweepIntervalSeconds: 60,
		},
	}
}

// LoadConfig resolves the configuration and validates it.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.AppEnv = getEnv("APP_ENV", c.AppEnv)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Server.BindHost = getEnv("BIND_HOST", c.Server.BindHost)
	c.Server.HTTPPort = getEnvInt("HTTP_PORT", c.Server.HTTPPort)
	c.Server.RPCPort = getEnvInt("RPC_PORT", c.Server.RPCPort)
	c.Server.MaxConcurrentRequests = getEnvInt("MAX_CONCURRENT_REQUESTS", c.Server.MaxConcurrentRequests)
	c.Server.RequestTimeoutSeconds = getEnvInt("REQUEST_TIMEOUT_SECONDS", c.Server.RequestTimeoutSeconds)
	c.Server.RateLimitPerMin = getEnvInt("RATE_LIMIT_PER_MIN", c.Server.RateLimitPerMin)
	c.Server.ShutdownGraceSeconds = getEnvInt("SHUTDOWN_GRACE_SECONDS", c.Server.ShutdownGraceSeconds)
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = splitTrim(origins)
	}

	c.Queue.Backend = getEnv("QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.Capacity = getEnvInt("QUEUE_CAPACITY", c.Queue.Capacity)
	c.Queue.Workers = getEnvInt("WORKERS", c.Queue.Workers)

	c.Model.Backend = getEnv("MODEL_BACKEND", c.Model.Backend)
	c.Model.Name = getEnv("MODEL_NAME", c.Model.Name)
	c.Model.Path = getEnv("MODEL_PATH", c.Model.Path)
	c.Model.Device = getEnv("MODEL_DEVICE", c.Model.Device)
	c.Model.Precision = getEnv("MODEL_PRECISION", c.Model.Precision)
	c.Model.RemoteURL = getEnv("MODEL_REMOTE_URL", c.Model.RemoteURL)
	c.Model.Warmup = getEnvBool("MODEL_WARMUP", c.Model.Warmup)

	c.Image.DefaultSteps = getEnvInt("DEFAULT_STEPS", c.Image.DefaultSteps)
	c.Image.MaxSteps = getEnvInt("MAX_STEPS", c.Image.MaxSteps)
	c.Image.DefaultGuidance = getEnvFloat("DEFAULT_GUIDANCE", c.Image.DefaultGuidance)
	c.Image.DefaultWidth = getEnvInt("DEFAULT_WIDTH", c.Image.DefaultWidth)
	c.Image.DefaultHeight = getEnvInt("DEFAULT_HEIGHT", c.Image.DefaultHeight)
	c.Image.MaxWidth = getEnvInt("MAX_WIDTH", c.Image.MaxWidth)
	c.Image.MaxHeight = getEnvInt("MAX_HEIGHT", c.Image.MaxHeight)
	c.Image.MinSize = getEnvInt("MIN_IMAGE_SIZE", c.Image.MinSize)
	c.Image.SizeAlignment = getEnvInt("SIZE_ALIGNMENT", c.Image.SizeAlignment)

	c.Jobs.RetentionSeconds = getEnvInt("RETENTION_SECONDS", c.Jobs.RetentionSeconds)
	c.Jobs.SweepIntervalSeconds = getEnvInt("SWEEP_INTERVAL_SECONDS", c.Jobs.SweepIntervalSeconds)

	c.OutputDir = getEnv("OUTPUT_DIR", c.OutputDir)
}

// Validate rejects configurations the server cannot run with. Violations are
// fatal at boot.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: unsupported log level %q", c.LogLevel)
	}

	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("config: http port %d out of range", c.Server.HTTPPort)
	}
	if c.Server.RPCPort < 1 || c.Server.RPCPort > 65535 {
		return fmt.Errorf("config: rpc port %d out of range", c.Server.RPCPort)
	}
	if c.Server.HTTPPort == c.Server.RPCPort {
		return fmt.Errorf("config: http and rpc ports must differ")
	}
	if c.Server.MaxConcurrentRequests < 0 {
		return fmt.Errorf("config: max concurrent requests must not be negative")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("config: request timeout must be positive")
	}
	if c.Server.RateLimitPerMin < 0 {
		return fmt.Errorf("config: rate limit must not be negative")
	}
	if c.Server.ShutdownGraceSeconds <= 0 {
		return fmt.Errorf("config: shutdown grace must be positive")
	}

	if c.Queue.Backend != "memory" {
		return fmt.Errorf("config: queue backend %q is not supported", c.Queue.Backend)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("config: queue capacity must be positive")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive")
	}

	switch c.Model.Backend {
	case "local":
	case "remote":
		if c.Model.RemoteURL == "" {
			return fmt.Errorf("config: MODEL_REMOTE_URL is required for the remote backend")
		}
		u, err := url.Parse(c.Model.RemoteURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: remote url %q is not a valid http(s) url", c.Model.RemoteURL)
		}
	default:
		return fmt.Errorf("config: model backend %q is not supported", c.Model.Backend)
	}
	if c.Model.Device != "cpu" && c.Model.Device != "cuda" {
		return fmt.Errorf("config: model device %q is not supported", c.Model.Device)
	}
	if c.Model.Precision != "fp16" && c.Model.Precision != "fp32" {
		return fmt.Errorf("config: model precision %q is not supported", c.Model.Precision)
	}

	if err := c.Image.validate(); err != nil {
		return err
	}

	if c.Jobs.RetentionSeconds < 0 {
		return fmt.Errorf("config: retention must not be negative")
	}
	if c.Jobs.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("config: sweep interval must be positive")
	}
	return nil
}

func (c *ImageConfig) validate() error {
	if c.MinSize <= 0 {
		return fmt.Errorf("config: min image size must be positive")
	}
	if c.SizeAlignment <= 0 {
		return fmt.Errorf("config: size alignment must be positive")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("config: max steps must be positive")
	}
	if c.DefaultSteps <= 0 || c.DefaultSteps > c.MaxSteps {
		return fmt.Errorf("config: default steps %d outside [1, %d]", c.DefaultSteps, c.MaxSteps)
	}
	if c.DefaultGuidance <= 0 || math.IsNaN(c.DefaultGuidance) || math.IsInf(c.DefaultGuidance, 0) {
		return fmt.Errorf("config: default guidance %v must be a positive finite number", c.DefaultGuidance)
	}
	for _, dim := range []struct {
		name     string
		min, max int
	}{
		{"width", c.DefaultWidth, c.MaxWidth},
		{"height", c.DefaultHeight, c.MaxHeight},
	} {
		if dim.max < c.MinSize {
			return fmt.Errorf("config: max %s %d below min image size %d", dim.name, dim.max, c.MinSize)
		}
		if dim.max%c.SizeAlignment != 0 {
			return fmt.Errorf("config: max %s %d not a multiple of %d", dim.name, dim.max, c.SizeAlignment)
		}
		if dim.min < c.MinSize || dim.min > dim.max {
			return fmt.Errorf("config: default %s %d outside [%d, %d]", dim.name, dim.min, c.MinSize, dim.max)
		}
		if dim.min%c.SizeAlignment != 0 {
			return fmt.Errorf("config: default %s %d not a multiple of %d", dim.name, dim.min, c.SizeAlignment)
		}
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.Server.BindHost, strconv.Itoa(c.Server.HTTPPort))
}

func (c *Config) RPCAddr() string {
	return net.JoinHostPort(c.Server.BindHost, strconv.Itoa(c.Server.RPCPort))
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceSeconds) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.Jobs.RetentionSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Jobs.SweepIntervalSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
