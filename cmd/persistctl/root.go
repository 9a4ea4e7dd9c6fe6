package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/syssam/persist/config"
	"github.com/syssam/persist/dialect"
	persistsql "github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/schema"
)

// app holds what the root command loads for its subcommands.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: slog.New(slog.DiscardHandler)}
	root := &cobra.Command{
		Use:   "persistctl",
		Short: "Operate persist databases and entity manifests",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(a.cfgFile, config.WithFlags(cmd.Root().PersistentFlags()))
			if err != nil {
				return err
			}
			logger, err := cfg.Log.Logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	pf.String("driver", "", "database/sql driver name (postgres, pgx, mysql, sqlite)")
	pf.String("dsn", "", "data source name")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")

	root.AddCommand(newPingCmd(a), newSchemaCmd(a), newRenderCmd(a))
	return root
}

// dialectFor returns the dialect named by flag, falling back to the
// configured driver.
func (a *app) dialectFor(name string) (*dialect.Dialect, error) {
	if name == "" {
		name = a.cfg.Database.Driver
	}
	if name == "" {
		return nil, fmt.Errorf("no dialect: set --dialect or database.driver")
	}
	return dialect.Lookup(name)
}

// open opens the configured database.
func (a *app) open() (*persistsql.Driver, error) {
	db := a.cfg.Database
	if db.Driver == "" || db.DSN == "" {
		return nil, fmt.Errorf("database.driver and database.dsn are required")
	}
	return persistsql.Open(db.Driver, db.DSN, persistsql.WithPool(a.cfg.Pool), persistsql.WithLogger(a.logger))
}

// loadManifest builds a sealed registry from a manifest file.
func loadManifest(path string) (*schema.Registry, error) {
	if path == "" {
		return nil, fmt.Errorf("--manifest is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	reg := schema.NewRegistry()
	if err := schema.Initialize(reg, schema.ManifestProducer(f, nil)); err != nil {
		return nil, err
	}
	return reg, nil
}
