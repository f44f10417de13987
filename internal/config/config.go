// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chatmark/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatmark configuration.
type Config struct {
	Render  RenderConfig  `toml:"render" json:"render"`
	Backend BackendConfig `toml:"backend" json:"backend"`
	Session SessionConfig `toml:"session" json:"session"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// RenderConfig controls how parsed blocks are drawn.
type RenderConfig struct {
	// Format is the default renderer: terminal, html, json or glamour.
	Format string `toml:"format" json:"format"`

	// Width wraps terminal output; 0 means use the terminal width.
	Width int `toml:"width" json:"width"`

	// CodeStyle is the chroma style name used for code blocks.
	CodeStyle string `toml:"code_style" json:"code_style"`

	// Theme is "dark", "light" or "auto".
	Theme string `toml:"theme" json:"theme"`

	// CacheSize bounds the parsed-block cache (messages).
	CacheSize int `toml:"cache_size" json:"cache_size"`
}

// BackendConfig points at an OpenAI-compatible chat completions endpoint.
type BackendConfig struct {
	URL         string  `toml:"url" json:"url"`
	APIKey      string  `toml:"api_key" json:"api_key"`
	Model       string  `toml:"model" json:"model"`
	TimeoutSecs int     `toml:"timeout_secs" json:"timeout_secs"`
	RatePerSec  float64 `toml:"rate_per_sec" json:"rate_per_sec"`
	MaxRetries  int     `toml:"max_retries" json:"max_retries"`
}

// SessionConfig holds the single-user credentials for the web surface.
type SessionConfig struct {
	// PasswordHash is a bcrypt hash; empty disables login.
	PasswordHash string `toml:"password_hash" json:"password_hash"`

	// TOTPSecret enables a second factor when set.
	TOTPSecret string `toml:"totp_secret" json:"totp_secret"`

	TimeoutMins int `toml:"timeout_mins" json:"timeout_mins"`
}

// StorageConfig locates the conversation database.
type StorageConfig struct {
	Path string `toml:"path" json:"path"`
}

// ServerConfig configures `chatmark serve`.
type ServerConfig struct {
	Port           int      `toml:"port" json:"port"`
	RatePerMin     int      `toml:"rate_per_min" json:"rate_per_min"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
}

// LogConfig controls the process-wide logger.
type LogConfig struct {
	File    string `toml:"file" json:"file"`
	Verbose bool   `toml:"verbose" json:"verbose"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Render: RenderConfig{
			Format:    "terminal",
			Width:     0,
			CodeStyle: "monokai",
			Theme:     "auto",
			CacheSize: 512,
		},
		Backend: BackendConfig{
			URL:         "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			TimeoutSecs: 120,
			RatePerSec:  2,
			MaxRetries:  3,
		},
		Session: SessionConfig{
			TimeoutMins: 30,
		},
		Server: ServerConfig{
			Port:       8787,
			RatePerMin: 120,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatmark configuration directory. CHATMARK_HOME
// overrides the default of ~/.chatmark.
func ConfigDir() (string, error) {
	if dir := os.Getenv("CHATMARK_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatmark"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// DatabasePath returns the storage path, defaulting to history.db in the
// config directory.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// ensureSecurePermissions tightens config files to 0600; they can hold an
// API key and a TOTP secret.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads config.toml, falling back to config.json, then to defaults.
// Environment overrides are applied last. A file that fails to decode is
// reported alongside the default config so callers can warn and continue.
func Load() (*Config, error) {
	var loadErr error

	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		if loadErr == nil {
			loadErr = err
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Default(), fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loadErr
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads a specific file with defaults, env overrides and
// validation applied. Files ending in .json are read as JSON, anything
// else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML path.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	err := util.AtomicWrite(path, 0600, func(w io.Writer) error {
		io.WriteString(w, "# chatmark configuration file\n# Generated by chatmark - edit with care\n\n")
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	err := util.AtomicWrite(path, 0600, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validFormats = []string{"terminal", "html", "json", "glamour"}

// Validate checks every section and returns ValidateErrors listing all
// problems found, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Render
	if !contains(validFormats, strings.ToLower(c.Render.Format)) {
		add("render.format", "invalid format '%s', must be one of: %s", c.Render.Format, strings.Join(validFormats, ", "))
	}
	if c.Render.Width < 0 || c.Render.Width > 1000 {
		add("render.width", "must be between 0 and 1000, got %d", c.Render.Width)
	}
	switch strings.ToLower(c.Render.Theme) {
	case "auto", "dark", "light":
	default:
		add("render.theme", "invalid theme '%s', must be one of: auto, dark, light", c.Render.Theme)
	}
	if c.Render.CacheSize < 0 {
		add("render.cache_size", "must not be negative, got %d", c.Render.CacheSize)
	}

	// Backend
	if c.Backend.URL != "" {
		u, err := url.Parse(c.Backend.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("backend.url", "must be an http or https URL, got '%s'", c.Backend.URL)
		}
	}
	if c.Backend.TimeoutSecs < 0 || c.Backend.TimeoutSecs > 3600 {
		add("backend.timeout_secs", "must be between 0 and 3600, got %d", c.Backend.TimeoutSecs)
	}
	if c.Backend.RatePerSec < 0 {
		add("backend.rate_per_sec", "must not be negative, got %g", c.Backend.RatePerSec)
	}
	if c.Backend.MaxRetries < 0 || c.Backend.MaxRetries > 10 {
		add("backend.max_retries", "must be between 0 and 10, got %d", c.Backend.MaxRetries)
	}

	// Session
	if c.Session.PasswordHash != "" && !strings.HasPrefix(c.Session.PasswordHash, "$2") {
		add("session.password_hash", "must be a bcrypt hash (run `chatmark passwd`)")
	}
	if c.Session.TimeoutMins < 1 || c.Session.TimeoutMins > 24*60 {
		add("session.timeout_mins", "must be between 1 and 1440, got %d", c.Session.TimeoutMins)
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RatePerMin < 0 {
		add("server.rate_per_min", "must not be negative, got %d", c.Server.RatePerMin)
	}
	for i, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			add(fmt.Sprintf("server.allowed_origins[%d]", i), "invalid origin '%s'", origin)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values that have no meaningful zero setting.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Render.Format == "" {
		c.Render.Format = d.Render.Format
	}
	c.Render.Format = strings.ToLower(c.Render.Format)
	if c.Render.CodeStyle == "" {
		c.Render.CodeStyle = d.Render.CodeStyle
	}
	if c.Render.Theme == "" {
		c.Render.Theme = d.Render.Theme
	}
	if c.Render.CacheSize == 0 {
		c.Render.CacheSize = d.Render.CacheSize
	}

	if c.Backend.TimeoutSecs == 0 {
		c.Backend.TimeoutSecs = d.Backend.TimeoutSecs
	}
	if c.Backend.Model == "" {
		c.Backend.Model = d.Backend.Model
	}

	if c.Session.TimeoutMins == 0 {
		c.Session.TimeoutMins = d.Session.TimeoutMins
	}

	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies CHATMARK_* environment variables:
//   - CHATMARK_FORMAT: render.format
//   - CHATMARK_WIDTH: render.width
//   - CHATMARK_CODE_STYLE: render.code_style
//   - CHATMARK_BACKEND_URL: backend.url
//   - CHATMARK_API_KEY: backend.api_key
//   - CHATMARK_MODEL: backend.model
//   - CHATMARK_DB: storage.path
//   - CHATMARK_PORT: server.port
//   - CHATMARK_LOG_FILE: log.file
//   - CHATMARK_VERBOSE: log.verbose
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATMARK_FORMAT"); v != "" {
		c.Render.Format = v
	}
	if v := os.Getenv("CHATMARK_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Render.Width = n
		}
	}
	if v := os.Getenv("CHATMARK_CODE_STYLE"); v != "" {
		c.Render.CodeStyle = v
	}
	if v := os.Getenv("CHATMARK_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("CHATMARK_API_KEY"); v != "" {
		c.Backend.APIKey = v
	}
	if v := os.Getenv("CHATMARK_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("CHATMARK_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CHATMARK_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("CHATMARK_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("CHATMARK_VERBOSE"); v != "" {
		c.Log.Verbose = parseBool(v)
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g. "render.width").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts snake_case or kebab-case to a Go field name.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(f)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns every configuration key in dot notation, sorted.
func GetAllKeys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes"
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

const redacted = "[REDACTED]"

// String returns the config as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Backend.APIKey != "" {
		safe.Backend.APIKey = redacted
	}
	if safe.Session.PasswordHash != "" {
		safe.Session.PasswordHash = redacted
	}
	if safe.Session.TOTPSecret != "" {
		safe.Session.TOTPSecret = redacted
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first use.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal replaces the global configuration.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the global config so the next Global call
// reloads it. Tests only.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
