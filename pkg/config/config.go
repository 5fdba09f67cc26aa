package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerBaseURL string `yaml:"serverBaseUrl"`
	ChannelURL    string `yaml:"channelUrl"`
	AuthToken     string `yaml:"authToken"`
	Timezone      string `yaml:"timezone"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	AllowedMimeTypes []string `yaml:"allowedMimeTypes"`
	MaxFileSizeBytes int64    `yaml:"maxFileSizeBytes"`
	MaxFilesPerBatch int      `yaml:"maxFilesPerBatch"`

	ReconnectPolicy          string `yaml:"reconnectPolicy"`
	ReconnectIntervalSeconds int    `yaml:"reconnectIntervalSeconds"`
	ReconnectMaxAttempts     int    `yaml:"reconnectMaxAttempts"`
	PollIntervalSeconds      int    `yaml:"pollIntervalSeconds"`
	CompletedTaskTTLSeconds  int    `yaml:"completedTaskTtlSeconds"`

	AgentPort     int    `yaml:"agentPort"`
	CacheProvider string `yaml:"cacheProvider"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	TracingEnabled     bool    `yaml:"tracingEnabled"`
	TracingEndpoint    string  `yaml:"tracingEndpoint"`
	TracingSampleRatio float64 `yaml:"tracingSampleRatio"`
	TracingInsecure    bool    `yaml:"tracingInsecure"`
}

// DefaultAllowedMimeTypes mirrors the document service's server-side
// allow-list so rejections happen before any bytes leave the client.
var DefaultAllowedMimeTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/tiff",
	"text/plain",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// LoadConfig reads an optional YAML file, applies DOCSYNC_* env overrides and
// then defaults. An empty filePath skips the file and starts from defaults.
func LoadConfig(filePath string) (*Config, error) {
	var c Config
	if filePath = strings.TrimSpace(filePath); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &c); err != nil {
				return nil, err
			}
		}
	}
	if v := os.Getenv("DOCSYNC_SERVER_URL"); v != "" {
		c.ServerBaseURL = v
	}
	if v := os.Getenv("DOCSYNC_CHANNEL_URL"); v != "" {
		c.ChannelURL = v
	}
	if v := os.Getenv("DOCSYNC_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv("DOCSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DOCSYNC_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("DOCSYNC_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("DOCSYNC_ALLOWED_MIME_TYPES"); v != "" {
		parts := strings.Split(v, ",")
		c.AllowedMimeTypes = c.AllowedMimeTypes[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				c.AllowedMimeTypes = append(c.AllowedMimeTypes, p)
			}
		}
	}
	if v := os.Getenv("DOCSYNC_MAX_FILE_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxFileSizeBytes = n
		}
	}
	if v := os.Getenv("DOCSYNC_MAX_FILES_PER_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxFilesPerBatch = n
		}
	}
	if v := os.Getenv("DOCSYNC_RECONNECT_POLICY"); v != "" {
		c.ReconnectPolicy = v
	}
	if v := os.Getenv("DOCSYNC_RECONNECT_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ReconnectIntervalSeconds = n
		}
	}
	if v := os.Getenv("DOCSYNC_RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ReconnectMaxAttempts = n
		}
	}
	if v := os.Getenv("DOCSYNC_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("DOCSYNC_COMPLETED_TASK_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CompletedTaskTTLSeconds = n
		}
	}
	if v := os.Getenv("DOCSYNC_AGENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AgentPort = n
		}
	}
	if v := os.Getenv("DOCSYNC_CACHE_PROVIDER"); v != "" {
		c.CacheProvider = v
	}
	if v := os.Getenv("DOCSYNC_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("DOCSYNC_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("DOCSYNC_TRACING_ENABLED"); v != "" {
		c.TracingEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("DOCSYNC_TRACING_ENDPOINT"); v != "" {
		c.TracingEndpoint = v
	}

	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if len(c.AllowedMimeTypes) == 0 {
		c.AllowedMimeTypes = append([]string(nil), DefaultAllowedMimeTypes...)
	}
	if c.MaxFileSizeBytes <= 0 {
		c.MaxFileSizeBytes = 100 << 20
	}
	if c.MaxFilesPerBatch <= 0 {
		c.MaxFilesPerBatch = 20
	}
	if c.ReconnectPolicy == "" {
		c.ReconnectPolicy = "fixed"
	}
	if c.ReconnectIntervalSeconds <= 0 {
		c.ReconnectIntervalSeconds = 5
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 10
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 2
	}
	if c.CompletedTaskTTLSeconds <= 0 {
		c.CompletedTaskTTLSeconds = 30
	}
	if c.AgentPort == 0 {
		c.AgentPort = 8080
	}
	if c.CacheProvider == "" {
		c.CacheProvider = "memory"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.TracingSampleRatio <= 0 {
		c.TracingSampleRatio = 1.0
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.ServerBaseURL == "" {
		errs = append(errs, "serverBaseUrl is required")
	} else {
		u, err := url.Parse(c.ServerBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "serverBaseUrl must be a valid http(s) URL")
		}
	}
	if c.ChannelURL != "" {
		u, err := url.Parse(c.ChannelURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, "channelUrl must be a valid ws(s) URL")
		}
	}
	switch c.ReconnectPolicy {
	case "fixed", "linear", "exponential", "exp_equal_jitter", "exp_full_jitter":
	default:
		errs = append(errs, fmt.Sprintf("unknown reconnectPolicy %q", c.ReconnectPolicy))
	}
	if c.CacheProvider == "redis" && c.RedisAddr == "" {
		errs = append(errs, "redisAddr is required when cacheProvider is redis")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ResolveChannelURL returns the explicit channel URL or derives one from the
// server base URL by swapping the scheme and appending the events path.
func (c *Config) ResolveChannelURL() string {
	if c.ChannelURL != "" {
		return c.ChannelURL
	}
	u, err := url.Parse(c.ServerBaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/events"
	return u.String()
}
