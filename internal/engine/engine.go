// Package engine runs cellset programs. Each invocation gets a call frame that walks the
// cells of one cellset in row-major order; control directives move the frame's program
// counter, call pushes a child frame and fork hands the block body to the fork manager.
package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"gocell/internal/cellset"
	"gocell/internal/config"
	"gocell/internal/eval"
	"gocell/internal/fork"
	"gocell/internal/lang"
	"gocell/internal/log"
	"gocell/internal/storage"
	"gocell/internal/value"
)

// Engine is the program interpreter.
type Engine struct {
	started bool
	cfg     config.Config
	log     log.Logger
	conns   *storage.Registry
	fork    *fork.Manager
	now     func() time.Time
	extra   map[string]storage.Connector
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is log.Root.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithConnector registers a connector in addition to the configured ones.
func WithConnector(name string, c storage.Connector) Option {
	return func(e *Engine) { e.extra[name] = c }
}

// WithClock replaces the clock behind now().
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine for cfg. Zero settings fall back to the config defaults.
func New(cfg config.Config, opts ...Option) *Engine {
	def := config.Default()
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = def.MaxCallDepth
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = def.BlockSize
	}
	e := &Engine{
		cfg:   cfg,
		log:   log.Root,
		conns: storage.NewRegistry(),
		extra: make(map[string]storage.Connector),
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = log.Discard{}
	}
	e.fork = fork.New(cfg.Workers, cfg.BlockSize, e.log)
	return e
}

// Start opens the configured connectors.
func (e *Engine) Start() error {
	if e.started {
		return errors.New("engine already started")
	}

	names := make([]string, 0, len(e.cfg.Connectors))
	for name := range e.cfg.Connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c, err := openConnector(context.Background(), name, e.cfg.Connectors[name], e.log)
		if err != nil {
			_ = e.conns.Shutdown()
			return errors.Wrapf(err, "connector %s", name)
		}
		if err := e.conns.Register(name, c); err != nil {
			_ = e.conns.Shutdown()
			return errors.Wrapf(err, "connector %s", name)
		}
	}
	for name, c := range e.extra {
		if err := e.conns.Register(name, c); err != nil {
			_ = e.conns.Shutdown()
			return errors.Wrapf(err, "connector %s", name)
		}
	}

	e.started = true
	e.log.Info("engine started", "workers", e.cfg.Workers, "connectors", strings.Join(e.conns.Names(), ","))
	return nil
}

// Shutdown releases every connector.
func (e *Engine) Shutdown() error {
	if !e.started {
		return nil
	}
	e.started = false
	return e.conns.Shutdown()
}

// Connectors returns the connector registry.
func (e *Engine) Connectors() *storage.Registry { return e.conns }

// Load parses a program and reports its reference cycles.
func (e *Engine) Load(name, src string) (*cellset.Program, error) {
	prog, err := cellset.Load(name, src)
	if err != nil {
		return nil, err
	}
	for _, n := range prog.Names() {
		cs, _ := prog.Cellset(n)
		for _, cycle := range cs.Cycles() {
			cells := make([]string, len(cycle))
			for i, c := range cycle {
				cells[i] = c.String()
			}
			e.log.Info("reference cycle", "cellset", n, "cells", strings.Join(cells, ","))
		}
	}
	return prog, nil
}

// Invoke runs the named cellset of prog with args bound to its parameters in order. An
// empty name means the main cellset. The result is the value of the first return, or of
// the last value-producing cell when execution falls off the end.
func (e *Engine) Invoke(ctx context.Context, prog *cellset.Program, name string, args []value.Value) (value.Value, error) {
	return e.invoke(ctx, prog, name, args, false)
}

// Collect runs the named cellset in collect mode: every return appends its value and
// execution continues. The result is the sequence of collected values.
func (e *Engine) Collect(ctx context.Context, prog *cellset.Program, name string, args []value.Value) (value.Value, error) {
	return e.invoke(ctx, prog, name, args, true)
}

func (e *Engine) invoke(ctx context.Context, prog *cellset.Program, name string, args []value.Value, collect bool) (value.Value, error) {
	if !e.started {
		return value.Null(), errors.New("engine not started")
	}

	cs := prog.Main()
	if name != "" {
		var ok bool
		if cs, ok = prog.Cellset(name); !ok {
			return value.Null(), errors.Errorf("invoke: unknown cellset %q", name)
		}
	}
	params := cs.Params()
	if len(args) > len(params) {
		return value.Null(), errors.Errorf("invoke %s: %d arguments for %d parameters", cs.Name, len(args), len(params))
	}
	bound := make([]value.Value, len(params))
	copy(bound, args)

	f := e.newFrame(prog, cs, bound, 0, collect)
	v, err := e.run(ctx, f)
	if err != nil {
		return value.Null(), errors.Wrapf(err, "invoke %s", cs.Name)
	}
	return v, nil
}

// Eval evaluates one expression outside any program against env, the way the REPL does.
func (e *Engine) Eval(ctx context.Context, env eval.Env, n lang.Node) (value.Value, error) {
	if !e.started {
		return value.Null(), errors.New("engine not started")
	}
	return eval.Eval(e.evalContext(ctx, e.log), env, n)
}

func (e *Engine) evalContext(ctx context.Context, logger log.Logger) *eval.Context {
	return &eval.Context{
		Ctx:       ctx,
		Conns:     e.conns,
		Fork:      e.fork,
		Log:       logger,
		Now:       e.now,
		BlockSize: e.cfg.BlockSize,
		TempDir:   e.cfg.TempDir,
	}
}
