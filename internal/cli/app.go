package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/D4NGK4/CHEDFC/internal/approval"
	"github.com/D4NGK4/CHEDFC/internal/batch"
	"github.com/D4NGK4/CHEDFC/internal/config"
	"github.com/D4NGK4/CHEDFC/internal/docsvc"
	"github.com/D4NGK4/CHEDFC/internal/engine"
	"github.com/D4NGK4/CHEDFC/internal/lock"
	"github.com/D4NGK4/CHEDFC/internal/registry"
	"github.com/D4NGK4/CHEDFC/internal/store"
)

// redisLockPrefix namespaces lock keys in a shared Redis.
const redisLockPrefix = "stampq:lock:"

// app is the wiring shared by every command that touches the store.
type app struct {
	cfg    config.Config
	store  *store.Store
	svc    docsvc.Service
	locker lock.Locker
	codec  batch.Codec
	phase  approval.Phase
	logger *slog.Logger
	opts   *RootOptions

	closers []func() error
}

// newLogger configures slog the way every command logs: text on w, debug
// when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// loadConfig applies the env file, reads the config and validates it.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.EnvFile != "" {
		if err := config.LoadDotEnv(opts.EnvFile); err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load env file", err)
		}
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return config.Config{}, NewExitError(ExitCommandError, "invalid config: "+strings.Join(msgs, "; "))
	}
	return cfg, nil
}

// openApp loads configuration and opens the store, lock and Document
// Service. The caller must Close the app.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*app, error) {
	logger := newLogger(opts, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	codec, err := cfg.Codec()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid batch delimiters", err)
	}
	phase, err := cfg.Phase()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid queue phase", err)
	}

	a := &app{cfg: cfg, codec: codec, phase: phase, logger: logger, opts: opts}

	a.svc = opts.Service
	if a.svc == nil {
		if cfg.DocSvc.URL == "" {
			return nil, NewExitError(ExitCommandError, "docsvc.url is not configured (set STAMPQ_DOCSVC_URL)")
		}
		a.svc = docsvc.NewClient(cfg.DocSvc.URL, cfg.DocSvc.Token, cfg.DocSvc.Timeout)
	}

	logger.Debug("opening store", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	if err := a.openLocker(ctx); err != nil {
		_ = a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open lock backend", err)
	}
	logger.Debug("app ready", "lock", cfg.Lock.Backend, "variants", cfg.Engine.Variants, "queue_phase", phase.String())
	return a, nil
}

func (a *app) openLocker(ctx context.Context) error {
	lc := a.cfg.Lock
	switch lc.Backend {
	case config.BackendSQLite:
		a.locker = store.NewLocker(a.store, lc.TTL, lc.Timeout)
	case config.BackendLocal:
		a.locker = lock.NewLocal(lc.Timeout)
	case config.BackendRedis:
		client, err := lock.DialRedis(ctx, lc.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.locker = lock.NewRedis(client, redisLockPrefix, lc.TTL, lc.Timeout)
	case config.BackendPostgres:
		db, err := lock.OpenPostgres(ctx, lc.PostgresURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.locker = lock.NewPostgres(db, lc.Timeout)
	default:
		return fmt.Errorf("unknown lock backend %q", lc.Backend)
	}
	return nil
}

// driver builds a reconciliation driver from the app's configuration.
func (a *app) driver() *engine.Driver {
	opts := []engine.DriverOption{
		engine.WithLocker(a.locker),
		engine.WithCodec(a.codec),
		engine.WithLogger(a.logger),
		engine.WithQueuePhase(a.phase),
		engine.WithMaxDispatches(a.cfg.Engine.MaxDispatchesPerRun),
		engine.WithVariants(a.cfg.HasVariant(config.VariantDocuments), a.cfg.HasVariant(config.VariantQueue)),
	}
	if a.opts.RunIDs != nil {
		opts = append(opts, engine.WithRunIDs(a.opts.RunIDs))
	}
	if a.opts.Clock != nil {
		opts = append(opts, engine.WithClock(a.opts.Clock))
	}
	return engine.NewDriver(a.store, a.svc, opts...)
}

// registrar builds a registrar sharing the driver's lock and codec.
func (a *app) registrar() *registry.Registrar {
	opts := []registry.Option{
		registry.WithLocker(a.locker),
		registry.WithCodec(a.codec),
		registry.WithLogger(a.logger),
	}
	if a.opts.Clock != nil {
		opts = append(opts, registry.WithClock(a.opts.Clock))
	}
	return registry.New(a.store, a.svc, opts...)
}

// Close releases everything openApp acquired, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// commandContext returns cmd's context, or Background when run outside
// Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// newFormatter builds the output formatter for cmd.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// resolveDocumentRef accepts a document ID or URL.
func resolveDocumentRef(ref string) (string, error) {
	id, ok := docsvc.ExtractDocumentID(ref)
	if !ok {
		return "", NewExitError(ExitCommandError, fmt.Sprintf("no document id in %q", ref))
	}
	return id, nil
}
