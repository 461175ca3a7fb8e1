package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/commit"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/config"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/registry"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/rules"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/server"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/store"
)

const (
	version = "0.1.0"
	// cliUser owns sessions created from the command line
	cliUser = "cli"
)

// app holds the state shared by all subcommands
type app struct {
	configPath string
	dbPath     string
	logLevel   string
	verbose    bool

	cfg config.Config
	log zerolog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     "stmtimport",
		Short:   "Import bank statements (OFX, CSV, XLSX, XLS) into an account",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file")
	flags.StringVar(&a.dbPath, "db", "", "SQLite database file (overrides store settings)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "show debug logs")

	rootCmd.AddCommand(
		newStageCommand(a),
		newImportCommand(a),
		newScanCommand(a),
		newServeCommand(a),
		newCategoriesCommand(a),
		newVersionCommand(),
	)
	return rootCmd
}

// init loads configuration and the logger before any subcommand runs
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.SQLitePath = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: logger.Format(cfg.Log.Format),
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logger.WithContext(ctx, log))
	return nil
}

// importer bundles a pipeline with the store it writes to
type importer struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	close    func() error
}

// newImporter opens the configured store and builds the pipeline over it
func (a *app) newImporter(ctx context.Context) (*importer, error) {
	st, closeStore, err := server.OpenStore(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	if closeStore == nil {
		closeStore = func() error { return nil }
	}

	engine, err := rules.Load(a.cfg.Rules.File)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("failed to load category rules: %w", err)
	}
	committer, err := commit.NewService(st, commit.WithOptions(a.cfg.CommitOptions()))
	if err != nil {
		closeStore()
		return nil, err
	}

	opts := []pipeline.PipelineOption{pipeline.WithMaxFileSize(a.cfg.Import.MaxFileSize)}
	if a.cfg.Archive.Bucket != "" {
		archiver, closeArchiver, err := server.OpenArchiver(ctx, a.cfg)
		if err != nil {
			closeStore()
			return nil, err
		}
		opts = append(opts, pipeline.WithArchiver(archiver))
		prev := closeStore
		closeStore = func() error {
			closeArchiver()
			return prev()
		}
	}

	return &importer{
		pipeline: pipeline.NewPipeline(engine, st, committer, opts...),
		store:    st,
		close:    closeStore,
	}, nil
}

// stageFile runs one statement file through the pipeline
func (imp *importer) stageFile(ctx context.Context, path, accountID string) (*pipeline.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return imp.pipeline.Stage(ctx, pipeline.Upload{
		Name:      filepath.Base(path),
		Size:      info.Size(),
		Body:      f,
		AccountID: accountID,
		UserID:    cliUser,
	})
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stmtimport version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "formats: %s\n", strings.Join(registry.New().ListParsers(), ", "))
		},
	}
}

func newCategoriesCommand(a *app) *cobra.Command {
	var asJSON bool
	var keywords bool

	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List categories in classification priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := rules.Load(a.cfg.Rules.File)
			if err != nil {
				return fmt.Errorf("failed to load category rules: %w", err)
			}
			if keywords {
				if asJSON {
					return writeJSON(cmd, engine.GetRules())
				}
				for i, rule := range engine.GetRules() {
					fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s: %s\n", i+1, rule.Name, strings.Join(rule.Keywords, ", "))
				}
				return nil
			}
			if asJSON {
				return writeJSON(cmd, engine.Categories())
			}
			for i, c := range engine.Categories() {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s\n", i+1, c)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&keywords, "keywords", false, "show the keywords of each category")
	return cmd
}

func newServeCommand(a *app) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the import HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if port != "" {
				cfg.Server.Port = port
			}
			srv, err := server.New(cmd.Context(), cfg, a.log)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides config)")
	return cmd
}
