package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D4NGK4/CHEDFC/internal/approval"
)

func noEnv(string) (string, bool) { return "", false }

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fields(errs []ValidationError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

// ============================================================================
// Loading
// ============================================================================

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.Empty(t, Validate(cfg))

	phase, err := cfg.Phase()
	require.NoError(t, err)
	assert.Equal(t, approval.PhaseSignature, phase)
	assert.True(t, cfg.HasVariant(VariantDocuments))
	assert.True(t, cfg.HasVariant(VariantQueue))
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := LoadWith("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "stampq.yaml", `
store:
  path: /var/lib/stampq/rows.db
docsvc:
  url: https://docs.example.com/api
  timeout: 5s
lock:
  backend: redis
  redis_url: redis://localhost:6379/0
engine:
  max_dispatches_per_run: 25
  queue_phase: initial
  variants: [queue]
batch:
  batch_delimiter: "|"
`)
	cfg, err := LoadWith(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/stampq/rows.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Second, cfg.DocSvc.Timeout)
	assert.Equal(t, BackendRedis, cfg.Lock.Backend)
	assert.Equal(t, 10*time.Second, cfg.Lock.Timeout, "untouched keys keep defaults")
	assert.Equal(t, 25, cfg.Engine.MaxDispatchesPerRun)
	assert.False(t, cfg.HasVariant(VariantDocuments))
	assert.Equal(t, ",", cfg.Batch.RecipientDelimiter)

	codec, err := cfg.Codec()
	require.NoError(t, err)
	assert.Equal(t, "|", codec.BatchSeparator)

	phase, err := cfg.Phase()
	require.NoError(t, err)
	assert.Equal(t, approval.PhaseInitial, phase)

	assert.Empty(t, Validate(cfg))
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "stampq.yaml", "engine:\n  max_dispatch: 3\n")
	_, err := LoadWith(path, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_dispatch")
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "stampq.yaml", "")
	cfg, err := LoadWith(path, noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadWith(filepath.Join(t.TempDir(), "absent.yaml"), noEnv)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "stampq.yaml", "store:\n  path: from-file.db\n")
	cfg, err := LoadWith(path, envOf(map[string]string{
		"STAMPQ_STORE_PATH":             "from-env.db",
		"STAMPQ_LOCK_TIMEOUT":           "2s",
		"STAMPQ_MAX_DISPATCHES_PER_RUN": "7",
		"STAMPQ_VARIANTS":               " documents , ",
		"STAMPQ_DOCSVC_TOKEN":           "secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.Store.Path)
	assert.Equal(t, 2*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 7, cfg.Engine.MaxDispatchesPerRun)
	assert.Equal(t, []string{VariantDocuments}, cfg.Engine.Variants)
	assert.Equal(t, "secret", cfg.DocSvc.Token)
}

func TestLoad_BadEnvValue(t *testing.T) {
	_, err := LoadWith("", envOf(map[string]string{"STAMPQ_WATCH_INTERVAL": "often"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STAMPQ_WATCH_INTERVAL")
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := writeFile(t, ".env", "STAMPQ_TEST_DOTENV_KEY=from-dotenv\n")
	t.Setenv("STAMPQ_TEST_DOTENV_KEY", "")
	os.Unsetenv("STAMPQ_TEST_DOTENV_KEY")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-dotenv", os.Getenv("STAMPQ_TEST_DOTENV_KEY"))
}

// ============================================================================
// Validation
// ============================================================================

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"unknown backend", func(c *Config) { c.Lock.Backend = "etcd" }, "lock.backend"},
		{"redis without url", func(c *Config) { c.Lock.Backend = BackendRedis }, "lock.redis_url"},
		{"postgres without url", func(c *Config) { c.Lock.Backend = BackendPostgres }, "lock.postgres_url"},
		{"zero lock timeout", func(c *Config) { c.Lock.Timeout = 0 }, "lock.timeout"},
		{"negative budget", func(c *Config) { c.Engine.MaxDispatchesPerRun = -1 }, "engine.max_dispatches_per_run"},
		{"unknown phase", func(c *Config) { c.Engine.QueuePhase = "final" }, "engine.queue_phase"},
		{"same delimiters", func(c *Config) { c.Batch.RecipientDelimiter = ";" }, "batch.recipient_delimiter"},
		{"non-http url", func(c *Config) { c.DocSvc.URL = "ftp://docs" }, "docsvc.url"},
		{"empty serve addr", func(c *Config) { c.Serve.Addr = "" }, "serve.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			errs := Validate(cfg)
			require.NotEmpty(t, errs)
			assert.Contains(t, fields(errs), tt.field)
			assert.Equal(t, ErrCodeSchema, errs[0].Code)
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = ""
	cfg.Serve.Addr = ""

	got := fields(Validate(cfg))
	assert.Contains(t, got, "store.path")
	assert.Contains(t, got, "serve.addr")
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "CFG001: store.path: empty", ValidationError{Field: "store.path", Message: "empty", Code: ErrCodeSchema}.Error())
	assert.Equal(t, "CFG900: broken", ValidationError{Message: "broken", Code: ErrCodeSchemaLoad}.Error())
}
