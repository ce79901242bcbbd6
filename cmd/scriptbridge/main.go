// Package main is the entry point for the scriptbridge command, which runs
// Lua scripts against a demonstration native object model.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dshills/scriptbridge/internal/config"
	"github.com/dshills/scriptbridge/internal/host"
	"github.com/dshills/scriptbridge/internal/logging"
	"github.com/dshills/scriptbridge/internal/script/lua"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options holds the parsed command line.
type options struct {
	ConfigPath  string
	LogLevel    string
	Exprs       []string
	Files       []string
	JSON        bool
	Interactive bool
	Watch       bool
	Schema      bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	if opts.Schema {
		schema, err := config.Schema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(schema))
		return 0
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return 1
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	log, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Name:   "scriptbridge",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newSession(cfg, log, opts.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	// Ensure cleanup on all exit paths
	defer s.close()
	go s.run(ctx)

	if cfg.Engine.GCInterval > 0 {
		go s.collectEvery(ctx, cfg.Engine.GCInterval.Std())
	}

	status := 0
	for _, expr := range opts.Exprs {
		if err := s.evaluate(ctx, expr); err != nil {
			reportError(err)
			status = 1
		}
	}
	for _, path := range opts.Files {
		if err := s.runFile(ctx, path); err != nil {
			reportError(err)
			status = 1
		}
	}

	switch {
	case opts.Watch:
		if err := s.watch(ctx, opts.Files); err != nil && !errors.Is(err, context.Canceled) {
			reportError(err)
			return 1
		}
		return 0
	case opts.Interactive || (len(opts.Exprs) == 0 && len(opts.Files) == 0):
		if err := s.repl(ctx, os.Stdin, os.Stdout); err != nil {
			reportError(err)
			return 1
		}
		return 0
	}
	return status
}

func reportError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// exprList collects repeated -e flags.
type exprList []string

func (l *exprList) String() string { return strings.Join(*l, "; ") }

func (l *exprList) Set(s string) error {
	*l = append(*l, s)
	return nil
}

func parseFlags() options {
	var opts options
	var exprs exprList
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (.toml, .yaml)")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.Var(&exprs, "e", "Evaluate an expression and print its value (repeatable)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.JSON, "json", false, "Print results as JSON")
	flag.BoolVar(&opts.Interactive, "i", false, "Start the interactive prompt after running scripts")
	flag.BoolVar(&opts.Watch, "watch", false, "Re-run scripts when they change")
	flag.BoolVar(&opts.Watch, "w", false, "Re-run scripts when they change (shorthand)")
	flag.BoolVar(&opts.Schema, "schema", false, "Print the configuration JSON Schema and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "scriptbridge - run Lua scripts against native objects\n\n")
		fmt.Fprintf(os.Stderr, "Usage: scriptbridge [options] [scripts...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  scriptbridge                        Start the interactive prompt\n")
		fmt.Fprintf(os.Stderr, "  scriptbridge demo.lua               Run a script\n")
		fmt.Fprintf(os.Stderr, "  scriptbridge -e 'Point(3, 4):length()'\n")
		fmt.Fprintf(os.Stderr, "  scriptbridge -w demo.lua            Re-run demo.lua on every save\n")
		fmt.Fprintf(os.Stderr, "  scriptbridge -schema > schema.json  Export the config schema\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("scriptbridge %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if opts.LogLevel != "" && !logging.ValidLevel(opts.LogLevel) {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.LogLevel)
		os.Exit(1)
	}

	opts.Exprs = exprs
	opts.Files = flag.Args()

	if opts.Watch && len(opts.Files) == 0 {
		fmt.Fprintf(os.Stderr, "Error: -watch needs at least one script\n")
		os.Exit(1)
	}

	return opts
}

// session owns the script context and the executor serializing access to
// it.
type session struct {
	ctx     *lua.Context
	exec    *lua.Executor
	host    *host.Host
	log     *zap.Logger
	json    bool
	stopped chan struct{}
}

func newSession(cfg *config.Config, log *zap.Logger, asJSON bool) (*session, error) {
	c, err := lua.New(cfg.ContextOptions(
		lua.WithLogger(log),
		lua.WithBlockedHook(func(label string, line int) bool {
			log.Warn("script exceeded its time ceiling, aborting",
				zap.String("label", label), zap.Int("line", line))
			return false
		}),
	)...)
	if err != nil {
		return nil, err
	}

	h := host.New(os.Stdout, version)
	h.Console.SetColor(term.IsTerminal(int(os.Stdout.Fd())))
	if err := h.Install(c); err != nil {
		_ = c.Close()
		return nil, err
	}

	return &session{
		ctx:     c,
		exec:    lua.NewExecutor(c, 0),
		host:    h,
		log:     log,
		json:    asJSON,
		stopped: make(chan struct{}),
	}, nil
}

// run processes executor calls until ctx is done or the session closes.
func (s *session) run(ctx context.Context) {
	defer close(s.stopped)
	s.exec.Run(ctx)
}

// close stops the executor, waits for it and closes the context.
func (s *session) close() {
	s.exec.Close()
	<-s.stopped
	if err := s.ctx.Close(); err != nil {
		s.log.Warn("closing script context", zap.Error(err))
	}
}

// collectEvery requests a collection every interval.
func (s *session) collectEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.exec.ExecuteAsync(func(c *lua.Context) error {
				c.CollectGarbage()
				return nil
			})
			if errors.Is(err, lua.ErrExecutorClosed) {
				return
			}
		}
	}
}

// runFile executes the script at path.
func (s *session) runFile(ctx context.Context, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.exec.Execute(ctx, func(c *lua.Context) error {
		return c.Execute(string(source), path, 1)
	})
}

// evaluate evaluates expr and prints a non-void result.
func (s *session) evaluate(ctx context.Context, expr string) error {
	return s.exec.Execute(ctx, func(c *lua.Context) error {
		v, err := c.Evaluate(nil, expr)
		if err != nil {
			return err
		}
		defer v.Release()
		if v.IsVoid() {
			return nil
		}
		if !s.json {
			return s.host.Console.Println(host.Format(v))
		}
		lv, err := c.ToScript(v)
		if err != nil {
			return err
		}
		text, err := c.EncodeJSON(lv)
		if err != nil {
			return err
		}
		return s.host.Console.JSON(text)
	})
}
