package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/km-arc/go-inject/framework/config"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func setEnv(t *testing.T, key, val string) {
	t.Helper()
	t.Setenv(key, val) // automatically restored after test
}

// unsetAfter removes keys a .env file may have added to the process
// environment.
func unsetAfter(t *testing.T, keys ...string) {
	t.Helper()
	t.Cleanup(func() {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	})
}

// ── Load ─────────────────────────────────────────────────────────────────────

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load("testdata/empty.env")

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"App.Name", cfg.App.Name, "GoInject"},
		{"App.Env", cfg.App.Env, "local"},
		{"App.Debug", cfg.App.Debug, false},
		{"Log.Level", cfg.Log.Level, "info"},
		{"Log.Format", cfg.Log.Format, "text"},
		{"Log.Trace", cfg.Log.Trace, false},
		{"Inspect.Enabled", cfg.Inspect.Enabled, false},
		{"Inspect.Addr", cfg.Inspect.Addr, ":8090"},
		{"Inspect.EventBuffer", cfg.Inspect.EventBuffer, 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	setEnv(t, "APP_NAME", "MyApp")
	setEnv(t, "APP_ENV", "production")
	setEnv(t, "INJECT_LOG_LEVEL", "debug")
	setEnv(t, "INJECT_LOG_FORMAT", "json")
	setEnv(t, "INJECT_TRACE", "true")

	cfg := config.Load("testdata/empty.env")

	assert.Equal(t, "MyApp", cfg.App.Name)
	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Log.Trace)
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	unsetAfter(t, "INJECT_INSPECT_ENABLED", "INJECT_INSPECT_ADDR", "INJECT_EVENT_BUFFER")

	cfg := config.Load("testdata/inspect.env")

	assert.True(t, cfg.Inspect.Enabled)
	assert.Equal(t, "127.0.0.1:9911", cfg.Inspect.Addr)
	assert.Equal(t, 64, cfg.Inspect.EventBuffer)
}

func TestLoad_EnvWinsOverEnvFile(t *testing.T) {
	unsetAfter(t, "INJECT_INSPECT_ENABLED", "INJECT_INSPECT_ADDR")
	setEnv(t, "INJECT_EVENT_BUFFER", "8")

	cfg := config.Load("testdata/inspect.env")

	assert.Equal(t, 8, cfg.Inspect.EventBuffer)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	cfg := config.Load("testdata/does-not-exist.env")
	assert.NotNil(t, cfg)
}

// ── Get / GetInt / GetBool ───────────────────────────────────────────────────

func TestGet_ReturnsValue(t *testing.T) {
	setEnv(t, "CUSTOM_KEY", "hello")
	assert.Equal(t, "hello", config.Get("CUSTOM_KEY", "default"))
}

func TestGet_ReturnsFallback(t *testing.T) {
	os.Unsetenv("MISSING_KEY")
	assert.Equal(t, "fallback", config.Get("MISSING_KEY", "fallback"))
}

func TestGetInt_ReturnsInt(t *testing.T) {
	setEnv(t, "SOME_INT", "42")
	assert.Equal(t, 42, config.GetInt("SOME_INT", 0))
}

func TestGetInt_ReturnsFallbackOnInvalid(t *testing.T) {
	setEnv(t, "SOME_INT", "notanint")
	assert.Equal(t, 99, config.GetInt("SOME_INT", 99))
}

func TestGetBool_True(t *testing.T) {
	for _, val := range []string{"true", "1", "True", "TRUE"} {
		setEnv(t, "BOOL_KEY", val)
		assert.True(t, config.GetBool("BOOL_KEY", false), "value %q", val)
	}
}

func TestGetBool_ReturnsFallbackOnInvalid(t *testing.T) {
	setEnv(t, "BOOL_KEY", "notabool")
	assert.True(t, config.GetBool("BOOL_KEY", true))
}
