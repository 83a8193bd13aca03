// Package cli implements the librarian command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"librarian/config"
	"librarian/inmemory"
	"librarian/library"
)

// app carries state shared by every command of one invocation, and by every
// line of a shell session.
type app struct {
	version string
	env     map[string]string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer

	// global flags
	dbPath     string
	configPath string
	logLevel   string
	storeKind  string
	jsonOut    bool

	root    *cobra.Command
	cfg     *config.Config
	logger  *slog.Logger
	mgr     *library.LibraryManager
	inShell bool
}

// Execute runs librarian with args and returns the process exit code.
func Execute(ctx context.Context, version string, args []string, stdin io.Reader, stdout, stderr io.Writer, env map[string]string) int {
	a := &app{
		version: version,
		env:     env,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}
	defer a.close()

	if err := a.run(ctx, args); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) run(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	a.root = root
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "librarian",
		Short:         "Track a small library's books, members and loans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.dbPath, "db", "", "SQLite database file (env "+config.EnvDB+")")
	pf.StringVar(&a.configPath, "config", "", "explicit config file (env "+config.EnvConfig+")")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&a.storeKind, "store", "", "storage backend: sqlite or memory")
	pf.BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		a.bookCommand(),
		a.memberCommand(),
		a.loanCommand(),
		a.statusCommand(),
		a.configCommand(),
		a.shellCommand(),
		a.versionCommand(),
	)
	return root
}

// config resolves the configuration once per process. Only flags the user
// actually set override the files.
func (a *app) config() (config.Config, error) {
	if a.cfg != nil {
		return *a.cfg, nil
	}

	var overrides config.Config
	pf := a.root.PersistentFlags()
	if pf.Changed("db") {
		overrides.DBPath = a.dbPath
	}
	if pf.Changed("log-level") {
		overrides.LogLevel = a.logLevel
	}
	if pf.Changed("store") {
		overrides.Store = a.storeKind
	}

	cfg, err := config.Load(config.LoadInput{
		ConfigPath: a.configPath,
		Env:        a.env,
		Overrides:  overrides,
	})
	if err != nil {
		return config.Config{}, err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level})).
		With("run_id", uuid.NewString())
	a.cfg = &cfg
	return cfg, nil
}

// manager opens the configured store on first use.
func (a *app) manager(ctx context.Context) (*library.LibraryManager, error) {
	if a.mgr != nil {
		return a.mgr, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}

	var store library.Store
	switch cfg.Store {
	case config.StoreMemory:
		store, err = inmemory.NewStore()
	default:
		store, err = library.NewDatabase(ctx, cfg.DBPath, library.WithDatabaseLogger(a.logger))
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	a.logger.Debug("store opened", "store", cfg.Store, "path", cfg.DBPath)

	a.mgr = library.NewLibraryManager(store,
		library.WithLogger(a.logger),
		library.WithLoanDays(cfg.LoanDays))
	return a.mgr, nil
}

func (a *app) close() {
	if a.mgr == nil {
		return
	}
	if err := a.mgr.Close(); err != nil {
		a.logger.Error("close store", "error", err)
	}
	a.mgr = nil
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": a.version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "librarian %s\n", a.version)
			return nil
		},
	}
}
