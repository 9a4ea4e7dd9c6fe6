package main

import (
	"fmt"

	atlas "ariga.io/atlas/sql/schema"
	"github.com/spf13/cobra"

	sqlschema "github.com/syssam/persist/dialect/sql/schema"
)

func newSchemaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Plan schema changes for an entity manifest",
	}
	cmd.AddCommand(newSchemaPlanCmd(a))
	return cmd
}

func newSchemaPlanCmd(a *app) *cobra.Command {
	var (
		manifest  string
		dialectFl string
		live      bool
		name      string
		allowDrop bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the DDL that brings a database to the manifest",
		Long: `Print the DDL that brings a database to the manifest.

Without --live the plan starts from an empty schema. With --live the
configured database is inspected and only the difference is planned; drops
and NULL to NOT NULL changes are refused unless --allow-drop is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			reg, err := loadManifest(manifest)
			if err != nil {
				return err
			}
			var current *atlas.Schema
			if live {
				drv, err := a.open()
				if err != nil {
					return err
				}
				defer drv.Close()
				if dialectFl == "" {
					dialectFl = drv.Dialect().Name
				}
				if current, err = sqlschema.Inspect(ctx, drv.DB(), drv.Dialect(), name); err != nil {
					return err
				}
			}
			d, err := a.dialectFor(dialectFl)
			if err != nil {
				return err
			}
			tables, err := sqlschema.Tables(reg, d)
			if err != nil {
				return err
			}
			if res := sqlschema.Check(tables); res.HasErrors() {
				return fmt.Errorf("invalid manifest:\n%s", res)
			}
			changes, err := sqlschema.Diff(d, current, tables)
			if err != nil {
				return err
			}
			var opts []sqlschema.ValidateOption
			if allowDrop {
				opts = append(opts, sqlschema.AllowDropTable(), sqlschema.AllowDropColumn(), sqlschema.AllowDropIndex(), sqlschema.AllowNullToNotNull())
			}
			res := sqlschema.Validate(changes, opts...)
			if res.HasErrors() {
				return fmt.Errorf("unsafe changes:\n%s", res)
			}
			for _, w := range res.Warnings {
				a.logger.Warn("schema change", "table", w.Table, "column", w.Column, "message", w.Message)
			}
			stmts, err := sqlschema.PlanChanges(ctx, d, changes)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(stmts) == 0 {
				fmt.Fprintln(out, "-- schema is up to date")
				return nil
			}
			for _, s := range stmts {
				fmt.Fprintf(out, "%s;\n", s)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&manifest, "manifest", "", "entity manifest (YAML)")
	f.StringVar(&dialectFl, "dialect", "", "target dialect (defaults to the configured driver)")
	f.BoolVar(&live, "live", false, "diff against the configured database")
	f.StringVar(&name, "schema", "", "database schema to inspect with --live")
	f.BoolVar(&allowDrop, "allow-drop", false, "allow destructive changes")
	return cmd
}
