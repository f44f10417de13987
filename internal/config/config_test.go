// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate points the config directory at a temp dir so tests never read
// the developer's real config.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CHATMARK_HOME", dir)
	for _, k := range []string{"CHATMARK_FORMAT", "CHATMARK_WIDTH", "CHATMARK_API_KEY", "CHATMARK_MODEL", "CHATMARK_PORT", "CHATMARK_DB"} {
		t.Setenv(k, "")
	}
	return dir
}

// TestConfig_ConcurrentAccess tests that Global and SetGlobal can be called
// concurrently.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := Default()
			c.Render.Format = "html"
			SetGlobal(c)
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

// TestConfig_ConcurrentReload tests concurrent ReloadGlobal and Global calls.
func TestConfig_ConcurrentReload(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()
	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ReloadGlobal()
		}()
	}
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_SetGlobalBeforeFirstUse(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	c := Default()
	c.Render.Width = 42
	SetGlobal(c)

	require.Equal(t, 42, Global().Render.Width)
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	require.Equal(t, "terminal", cfg.Render.Format)
	require.Equal(t, "monokai", cfg.Render.CodeStyle)
	require.Equal(t, 512, cfg.Render.CacheSize)
	require.NotEmpty(t, cfg.Backend.URL)
	require.Equal(t, 30, cfg.Session.TimeoutMins)
	require.Equal(t, 8787, cfg.Server.Port)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{name: "valid default config", mutate: func(c *Config) {}},
		{name: "unknown format", mutate: func(c *Config) { c.Render.Format = "pdf" }, field: "render.format"},
		{name: "negative width", mutate: func(c *Config) { c.Render.Width = -1 }, field: "render.width"},
		{name: "unknown theme", mutate: func(c *Config) { c.Render.Theme = "neon" }, field: "render.theme"},
		{name: "bad backend url", mutate: func(c *Config) { c.Backend.URL = "ftp://x" }, field: "backend.url"},
		{name: "empty backend url allowed", mutate: func(c *Config) { c.Backend.URL = "" }},
		{name: "too many retries", mutate: func(c *Config) { c.Backend.MaxRetries = 11 }, field: "backend.max_retries"},
		{name: "plain password", mutate: func(c *Config) { c.Session.PasswordHash = "hunter2" }, field: "session.password_hash"},
		{name: "bcrypt hash accepted", mutate: func(c *Config) { c.Session.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv" }},
		{name: "zero session timeout", mutate: func(c *Config) { c.Session.TimeoutMins = 0 }, field: "session.timeout_mins"},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, field: "server.port"},
		{name: "wildcard origin", mutate: func(c *Config) { c.Server.AllowedOrigins = []string{"*"} }},
		{name: "bad origin", mutate: func(c *Config) { c.Server.AllowedOrigins = []string{"localhost"} }, field: "server.allowed_origins[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "expected ValidateErrors, got %v", err)
			require.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	c := Default()
	c.Render.Format = "pdf"
	c.Server.Port = 0

	err := c.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
	require.Contains(t, err.Error(), "render.format")
	require.Contains(t, err.Error(), "server.port")
}

func TestConfig_LoadDefaultsWhenNoFile(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Default().Render, cfg.Render)
}

func TestConfig_LoadTOML(t *testing.T) {
	dir := isolate(t)
	content := `
[render]
format = "html"
width = 100

[backend]
model = "local-model"

[server]
allowed_origins = ["https://chat.example.com"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "html", cfg.Render.Format)
	require.Equal(t, 100, cfg.Render.Width)
	require.Equal(t, "local-model", cfg.Backend.Model)
	require.Equal(t, "monokai", cfg.Render.CodeStyle, "unset keys keep defaults")
	require.Equal(t, []string{"https://chat.example.com"}, cfg.Server.AllowedOrigins)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(dir, "config.toml"))
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestConfig_LoadJSONFallback(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"render":{"format":"json"}}`), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "json", cfg.Render.Format)
}

func TestConfig_LoadInvalidFileFallsBack(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`[render]
format = "pdf"
`), 0600))

	cfg, err := Load()
	require.Error(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, "terminal", cfg.Render.Format)
}

func TestConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CHATMARK_FORMAT", "glamour")
	t.Setenv("CHATMARK_WIDTH", "72")
	t.Setenv("CHATMARK_API_KEY", "sk-env")
	t.Setenv("CHATMARK_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "glamour", cfg.Render.Format)
	require.Equal(t, 72, cfg.Render.Width)
	require.Equal(t, "sk-env", cfg.Backend.APIKey)
	require.Equal(t, 8787, cfg.Server.Port, "unparsable port is ignored")
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	cfg.Render.Width = 64
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	require.NoError(t, Save(cfg))

	loaded, err := LoadFromPath(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, SaveJSON(cfg, jsonPath))
	loaded, err = LoadFromPath(jsonPath)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	val, err := cfg.Get("render.format")
	require.NoError(t, err)
	require.Equal(t, "terminal", val)

	require.NoError(t, cfg.Set("render.width", "120"))
	require.Equal(t, 120, cfg.Render.Width)

	require.NoError(t, cfg.Set("backend.api_key", "sk-test"))
	require.Equal(t, "sk-test", cfg.Backend.APIKey)

	require.NoError(t, cfg.Set("backend.rate_per_sec", "0.5"))
	require.Equal(t, 0.5, cfg.Backend.RatePerSec)

	require.NoError(t, cfg.Set("log.verbose", "yes"))
	require.True(t, cfg.Log.Verbose)

	require.NoError(t, cfg.Set("server.allowed_origins", "http://a.test, http://b.test"))
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)

	_, err = cfg.Get("invalid.key")
	require.Error(t, err)
	_, err = cfg.Get("render.width.deeper")
	require.Error(t, err)
	require.Error(t, cfg.Set("render.width", "wide"))
}

func TestConfig_GetAllKeysResolve(t *testing.T) {
	cfg := Default()
	keys := GetAllKeys()
	require.Contains(t, keys, "render.code_style")
	require.Contains(t, keys, "session.totp_secret")
	for _, k := range keys {
		_, err := cfg.Get(k)
		require.NoError(t, err, k)
	}
}

func TestConfig_Clone(t *testing.T) {
	original := Default()
	original.Server.AllowedOrigins = []string{"http://a.test"}

	clone := original.Clone()
	clone.Render.Format = "html"
	clone.Server.AllowedOrigins[0] = "http://changed.test"

	require.Equal(t, "terminal", original.Render.Format)
	require.Equal(t, "http://a.test", original.Server.AllowedOrigins[0])
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Backend.APIKey = "sk-very-secret"
	cfg.Session.PasswordHash = "$2a$10$hash"
	cfg.Session.TOTPSecret = "JBSWY3DPEHPK3PXP"

	out := cfg.String()
	for _, secret := range []string{"sk-very-secret", "$2a$10$hash", "JBSWY3DPEHPK3PXP"} {
		require.False(t, strings.Contains(out, secret), "String() leaked %q", secret)
	}
	require.Contains(t, out, redacted)
	require.Equal(t, "sk-very-secret", cfg.Backend.APIKey, "String must not mutate the config")
}

func TestConfig_DatabasePath(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	path, err := cfg.DatabasePath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "history.db"), path)

	cfg.Storage.Path = "/tmp/other.db"
	path, err = cfg.DatabasePath()
	require.NoError(t, err)
	require.Equal(t, "/tmp/other.db", path)
}
