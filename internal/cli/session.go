package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/pagegraph/internal/artifact"
	"github.com/roach88/pagegraph/internal/datastore"
	"github.com/roach88/pagegraph/internal/engine"
	"github.com/roach88/pagegraph/internal/extract"
	"github.com/roach88/pagegraph/internal/runner"
	"github.com/roach88/pagegraph/internal/schema"
	"github.com/roach88/pagegraph/internal/store"
)

// EngineOverrides are command-line values that replace config settings.
// Zero values keep the config.
type EngineOverrides struct {
	Concurrency int
	OutputDir   string
}

// session is an engine wired to a project's data store, output directory
// and state database, with the site sourced and declared.
type session struct {
	project  *Project
	data     *datastore.Store
	state    *store.Store
	out      *artifact.Dir
	engine   *engine.Engine
	restored bool
	unwatch  func()
}

// openSession restores the last checkpoint, then sources and declares the
// site. The engine is subscribed to the data store before sourcing so that
// every node is diffed against the checkpoint.
func openSession(ctx context.Context, p *Project, mode runner.Mode, ov EngineOverrides, logger *slog.Logger, extra ...engine.Option) (*session, error) {
	cfg := p.Config
	if ov.Concurrency > 0 {
		cfg.Concurrency = ov.Concurrency
	}
	if ov.OutputDir != "" {
		cfg.OutputDir = ov.OutputDir
	}
	longRunning, err := cfg.LongRunning()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfigInvalid, Message: err.Error()}
	}

	dbPath := p.Path(cfg.Database)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, &LoadError{Code: ErrCodeStoreFailed, Message: fmt.Sprintf("create state directory: %v", err)}
	}
	state, err := store.Open(dbPath)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeStoreFailed, Message: err.Error(), File: dbPath}
	}

	out, err := artifact.NewDir(p.Path(cfg.OutputDir))
	if err != nil {
		state.Close()
		return nil, &LoadError{Code: ErrCodeWriteFailed, Message: err.Error()}
	}

	data := datastore.New(datastore.WithLogger(logger))
	exec := schema.New(data)
	opts := []engine.Option{
		engine.WithMode(mode),
		engine.WithExtractor(extract.New(p.Site.Root, exec)),
		engine.WithCheckpointer(state),
		engine.WithLogger(logger),
		engine.WithConcurrency(cfg.Concurrency),
		engine.WithLongRunningThreshold(longRunning),
		engine.WithAlwaysRun(cfg.Develop.AlwaysRun...),
	}
	eng := engine.New(exec, out, append(opts, extra...)...)

	s := &session{project: p, data: data, state: state, out: out, engine: eng}
	s.restored, err = eng.Restore(ctx)
	if err != nil {
		state.Close()
		return nil, &LoadError{Code: ErrCodeStoreFailed, Message: err.Error(), File: dbPath}
	}
	s.unwatch = eng.Watch(data)

	if err := p.Site.Source(data); err != nil {
		s.Close()
		return nil, &LoadError{Code: ErrCodeSiteInvalid, Message: err.Error()}
	}
	p.Site.Declare(eng)

	logger.Debug("session ready",
		"root", p.Root,
		"mode", mode,
		"restored", s.restored,
		"nodes", data.Len(),
		"pages", len(p.Site.Pages),
	)
	return s, nil
}

// Close detaches the engine from the data store and closes the database.
func (s *session) Close() error {
	if s.unwatch != nil {
		s.unwatch()
	}
	return s.state.Close()
}
