package cli

import (
	"fmt"
	"log/slog"

	"github.com/roach88/relance/internal/catalog"
	"github.com/roach88/relance/internal/config"
	"github.com/roach88/relance/internal/engine"
	"github.com/roach88/relance/internal/store"
)

// env is the wiring shared by the commands that touch the database.
type env struct {
	cfg   *config.Config
	store *store.Store
	rec   *engine.Reconciler
}

// loadConfig reads --config, or returns the defaults when it is unset.
// --db overrides the configured DSN.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Store.DSN = opts.Database
	}
	return cfg, nil
}

// loadCatalog returns the built-in catalog, or the CUE rules in dir.
func loadCatalog(dir string) (*catalog.Catalog, error) {
	if dir == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadDir(dir)
}

// openEnv loads the configuration, opens the store and builds a
// Reconciler. src, when set, replaces --config. Failures are reported
// through out and returned as ExitCommandError.
func openEnv(out *OutputFormatter, opts *RootOptions, src config.Source, extra ...engine.Option) (*env, error) {
	var cfg *config.Config
	if src != nil {
		cfg = src.Current()
		if opts.Database != "" {
			cfg = cfg.Clone()
			cfg.Store.DSN = opts.Database
		}
	} else {
		loaded, err := loadConfig(opts)
		if err != nil {
			return nil, out.Fail(ExitCommandError, ErrCodeConfig, err)
		}
		cfg = loaded
		src = config.NewStatic(cfg)
	}

	cat, err := loadCatalog(cfg.RulesDir)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeRules, err)
	}

	slog.Debug("opening database", "driver", cfg.Store.Driver, "dsn", cfg.Store.DSN)
	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeStore, err)
	}

	engineOpts := append([]engine.Option{
		engine.WithConfig(src),
		engine.WithCatalog(cat),
		engine.WithLinker(st),
	}, extra...)

	return &env{
		cfg:   cfg,
		store: st,
		rec:   engine.New(st, st, engineOpts...),
	}, nil
}

// Close releases the store.
func (e *env) Close() error {
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
