package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultDirName       = ".httpsnap"
	defaultConfigRelPath = ".httpsnap/config.yaml"
)

// Encode error policies for the viewer.
const (
	OnEncodeErrorDrop  = "drop"
	OnEncodeErrorPlain = "plain"
)

type ViewerConfig struct {
	BaseURL       string `yaml:"base_url"`
	OnEncodeError string `yaml:"on_encode_error"`
}

type CaptureConfig struct {
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type FilterConfig struct {
	IgnoreExtensions []string `yaml:"ignore_extensions"`
	IgnorePaths      []string `yaml:"ignore_paths"`
	// IgnoreContentTypes only applies where the response is already known,
	// i.e. HAR import.
	IgnoreContentTypes []string `yaml:"ignore_content_types"`
}

type SanitizeConfig struct {
	Headers     []string `yaml:"headers"`
	BodyFields  []string `yaml:"body_fields"`
	Replacement string   `yaml:"replacement"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// MaxPayloadBytes caps how far a viewer payload may inflate when decoded.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type Config struct {
	Viewer   ViewerConfig   `yaml:"viewer"`
	Capture  CaptureConfig  `yaml:"capture"`
	Filter   FilterConfig   `yaml:"filter"`
	Sanitize SanitizeConfig `yaml:"sanitize"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
}

// Dir returns ~/.httpsnap.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, defaultDirName), nil
}

// Load loads YAML config, then applies env overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 4280
	}
	if c.Server.MaxPayloadBytes == 0 {
		c.Server.MaxPayloadBytes = 8 << 20
	}
	if c.Viewer.BaseURL == "" {
		c.Viewer.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Viewer.OnEncodeError == "" {
		c.Viewer.OnEncodeError = OnEncodeErrorDrop
	}
	if c.Capture.MaxBodyBytes == 0 {
		c.Capture.MaxBodyBytes = 1 << 20
	}
	if len(c.Filter.IgnoreExtensions) == 0 {
		c.Filter.IgnoreExtensions = []string{".js", ".css", ".png", ".jpg", ".gif", ".svg", ".woff", ".woff2", ".ico", ".map"}
	}
	if len(c.Filter.IgnorePaths) == 0 {
		c.Filter.IgnorePaths = []string{"/static/", "/assets/", "/favicon"}
	}
	if len(c.Filter.IgnoreContentTypes) == 0 {
		c.Filter.IgnoreContentTypes = []string{"text/css", "image/*", "font/*", "application/javascript"}
	}
	if len(c.Sanitize.Headers) == 0 {
		c.Sanitize.Headers = []string{"Authorization", "Cookie", "Set-Cookie", "X-Api-Key", "X-Auth-Token", "Proxy-Authorization"}
	}
	if len(c.Sanitize.BodyFields) == 0 {
		c.Sanitize.BodyFields = []string{"password", "secret", "token", "api_key", "access_token", "refresh_token", "credential"}
	}
	if c.Sanitize.Replacement == "" {
		c.Sanitize.Replacement = "***REDACTED***"
	}
	if c.Store.Path == "" {
		if dir, err := Dir(); err == nil {
			c.Store.Path = filepath.Join(dir, "httpsnap.db")
		} else {
			c.Store.Path = "httpsnap.db"
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Viewer.BaseURL)
	if err != nil {
		return fmt.Errorf("viewer.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("viewer.base_url must be an absolute http(s) url, got %q", c.Viewer.BaseURL)
	}
	switch c.Viewer.OnEncodeError {
	case OnEncodeErrorDrop, OnEncodeErrorPlain:
	default:
		return fmt.Errorf("viewer.on_encode_error must be %q or %q, got %q", OnEncodeErrorDrop, OnEncodeErrorPlain, c.Viewer.OnEncodeError)
	}
	if c.Capture.MaxBodyBytes < 0 {
		return errors.New("capture.max_body_bytes cannot be negative")
	}
	if c.Server.MaxPayloadBytes < 0 {
		return errors.New("server.max_payload_bytes cannot be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// ValidateStore additionally checks that the database directory is writable.
func (c *Config) ValidateStore() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path cannot be empty")
	}
	if err := ensureWritableDir(filepath.Dir(c.Store.Path)); err != nil {
		return fmt.Errorf("store.path not writable: %w", err)
	}
	return nil
}

// Addr returns host:port for the viewer server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func applyEnvOverrides(c *Config) {
	setString(&c.Viewer.BaseURL, "HTTPSNAP_VIEWER_BASE_URL")
	setString(&c.Viewer.OnEncodeError, "HTTPSNAP_VIEWER_ON_ENCODE_ERROR")
	setInt64(&c.Capture.MaxBodyBytes, "HTTPSNAP_CAPTURE_MAX_BODY_BYTES")
	setString(&c.Server.Host, "HTTPSNAP_SERVER_HOST")
	setInt(&c.Server.Port, "HTTPSNAP_SERVER_PORT")
	setInt64(&c.Server.MaxPayloadBytes, "HTTPSNAP_SERVER_MAX_PAYLOAD_BYTES")
	setString(&c.Store.Path, "HTTPSNAP_STORE_PATH")
	setString(&c.Log.Level, "HTTPSNAP_LOG_LEVEL")
	setString(&c.Log.Format, "HTTPSNAP_LOG_FORMAT")
	setString(&c.Log.File, "HTTPSNAP_LOG_FILE")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
