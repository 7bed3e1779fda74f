// Package config loads the stampq configuration.
//
// Sources, lowest precedence first: built-in defaults, the YAML file, then
// STAMPQ_* environment variables (optionally seeded from a .env file). The
// merged result is checked against an embedded CUE schema by Validate.
//
// A Config is built once at startup and passed by value; nothing reads
// configuration from globals.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/batch"
)

// Lock backends.
const (
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
)

// Variant names selectable in engine.variants.
const (
	VariantDocuments = "documents"
	VariantQueue     = "queue"
)

// Config is the complete stampq configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	DocSvc DocSvcConfig `yaml:"docsvc"`
	Lock   LockConfig   `yaml:"lock"`
	Engine EngineConfig `yaml:"engine"`
	Batch  BatchConfig  `yaml:"batch"`
	Watch  WatchConfig  `yaml:"watch"`
	Serve  ServeConfig  `yaml:"serve"`
}

// StoreConfig locates the row store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DocSvcConfig configures the Document Service client.
type DocSvcConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// LockConfig selects the row lock.
type LockConfig struct {
	Backend     string        `yaml:"backend"`
	Timeout     time.Duration `yaml:"timeout"`
	TTL         time.Duration `yaml:"ttl"`
	RedisURL    string        `yaml:"redis_url"`
	PostgresURL string        `yaml:"postgres_url"`
}

// EngineConfig bounds each reconciliation pass.
type EngineConfig struct {
	// MaxDispatchesPerRun caps stamp requests per pass. Zero means unlimited.
	MaxDispatchesPerRun int      `yaml:"max_dispatches_per_run"`
	QueuePhase          string   `yaml:"queue_phase"`
	Variants            []string `yaml:"variants"`
}

// BatchConfig sets the queue row text encoding.
type BatchConfig struct {
	BatchDelimiter     string `yaml:"batch_delimiter"`
	RecipientDelimiter string `yaml:"recipient_delimiter"`
}

// WatchConfig schedules passes for stampq watch.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ServeConfig configures stampq serve.
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store:  StoreConfig{Path: "stampq.db"},
		DocSvc: DocSvcConfig{Timeout: 30 * time.Second},
		Lock: LockConfig{
			Backend: BackendSQLite,
			Timeout: 10 * time.Second,
			TTL:     30 * time.Second,
		},
		Engine: EngineConfig{
			QueuePhase: approval.PhaseSignature.String(),
			Variants:   []string{VariantDocuments, VariantQueue},
		},
		Batch: BatchConfig{
			BatchDelimiter:     batch.DefaultBatchSeparator,
			RecipientDelimiter: batch.DefaultRecipientSeparator,
		},
		Watch: WatchConfig{Interval: 5 * time.Minute},
		Serve: ServeConfig{Addr: ":8080"},
	}
}

// Load reads path over the defaults and applies the process environment.
// An empty path skips the file.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode strictly decodes YAML into cfg: unknown keys are errors. Keys absent
// from data keep their current values.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadDotEnv seeds the process environment from path without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// envBinding maps one STAMPQ_* variable onto a field.
type envBinding struct {
	name string
	set  func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"STAMPQ_STORE_PATH", func(c *Config, v string) error { c.Store.Path = v; return nil }},
	{"STAMPQ_DOCSVC_URL", func(c *Config, v string) error { c.DocSvc.URL = v; return nil }},
	{"STAMPQ_DOCSVC_TOKEN", func(c *Config, v string) error { c.DocSvc.Token = v; return nil }},
	{"STAMPQ_DOCSVC_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.DocSvc.Timeout, v) }},
	{"STAMPQ_LOCK_BACKEND", func(c *Config, v string) error { c.Lock.Backend = v; return nil }},
	{"STAMPQ_LOCK_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Lock.Timeout, v) }},
	{"STAMPQ_LOCK_TTL", func(c *Config, v string) error { return setDuration(&c.Lock.TTL, v) }},
	{"STAMPQ_REDIS_URL", func(c *Config, v string) error { c.Lock.RedisURL = v; return nil }},
	{"STAMPQ_POSTGRES_URL", func(c *Config, v string) error { c.Lock.PostgresURL = v; return nil }},
	{"STAMPQ_MAX_DISPATCHES_PER_RUN", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Engine.MaxDispatchesPerRun = n
		return nil
	}},
	{"STAMPQ_QUEUE_PHASE", func(c *Config, v string) error { c.Engine.QueuePhase = v; return nil }},
	{"STAMPQ_VARIANTS", func(c *Config, v string) error {
		c.Engine.Variants = nil
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				c.Engine.Variants = append(c.Engine.Variants, part)
			}
		}
		return nil
	}},
	{"STAMPQ_WATCH_INTERVAL", func(c *Config, v string) error { return setDuration(&c.Watch.Interval, v) }},
	{"STAMPQ_SERVE_ADDR", func(c *Config, v string) error { c.Serve.Addr = v; return nil }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(b.name)
		if !ok {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// Codec returns the batch codec for the configured delimiters.
func (c Config) Codec() (batch.Codec, error) {
	return batch.NewCodec(c.Batch.BatchDelimiter, c.Batch.RecipientDelimiter)
}

// Phase returns the phase queue rows are dispatched for.
func (c Config) Phase() (approval.Phase, error) {
	return approval.ParsePhase(c.Engine.QueuePhase)
}

// HasVariant reports whether name is enabled in engine.variants.
func (c Config) HasVariant(name string) bool {
	for _, v := range c.Engine.Variants {
		if v == name {
			return true
		}
	}
	return false
}
