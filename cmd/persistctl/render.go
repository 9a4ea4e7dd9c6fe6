package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/query"
	"github.com/syssam/persist/schema"
)

func newRenderCmd(a *app) *cobra.Command {
	var (
		manifest  string
		entity    string
		dialectFl string
		where     []string
		order     []string
		limit     int64
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the select of a manifest entity",
		Example: `  persistctl render --manifest m.yaml --entity User --dialect postgres \
    --where email=ann@example.com --order -id --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := loadManifest(manifest)
			if err != nil {
				return err
			}
			desc, err := reg.LookupName(entity)
			if err != nil {
				return err
			}
			d, err := a.dialectFor(dialectFl)
			if err != nil {
				return err
			}
			sel, err := entitySelect(desc, where, order, limit)
			if err != nil {
				return err
			}
			stmt, args, err := query.Render(sel, d)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, stmt)
			for i, v := range args {
				fmt.Fprintf(out, "-- $%d = %s\n", i+1, v)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&manifest, "manifest", "", "entity manifest (YAML)")
	f.StringVar(&entity, "entity", "", "entity name")
	f.StringVar(&dialectFl, "dialect", "", "target dialect (defaults to the configured driver)")
	f.StringArrayVar(&where, "where", nil, "equality filter field=value, repeatable")
	f.StringArrayVar(&order, "order", nil, "order by field, prefix with - for descending, repeatable")
	f.Int64Var(&limit, "limit", 0, "row limit")
	return cmd
}

// entitySelect builds the select of desc's columns with equality filters
// on fields, coerced to the field kinds.
func entitySelect(desc *schema.EntityDescriptor, where, order []string, limit int64) (*query.Select, error) {
	root := query.T(desc.Table).As("t0")
	sel := query.SelectFrom(root)
	for _, c := range desc.Columns {
		sel = sel.Columns(root.C(c.Name))
	}
	var preds []query.Predicate
	for _, w := range where {
		field, raw, ok := strings.Cut(w, "=")
		if !ok {
			return nil, fmt.Errorf("--where %q: expected field=value", w)
		}
		col, err := column(desc, field)
		if err != nil {
			return nil, err
		}
		if raw == "null" {
			preds = append(preds, query.Null(root.C(col.Name)))
			continue
		}
		v, err := dialect.Coerce(dialect.Text(raw), col.Kind)
		if err != nil {
			return nil, fmt.Errorf("--where %s: %w", field, err)
		}
		preds = append(preds, query.EQ(root.C(col.Name), query.Arg(v)))
	}
	if len(preds) > 0 {
		sel = sel.Where(query.AndOf(preds...))
	}
	for _, o := range order {
		field, descending := strings.CutPrefix(o, "-")
		col, err := column(desc, field)
		if err != nil {
			return nil, err
		}
		if descending {
			sel = sel.OrderBy(query.Desc(root.C(col.Name)))
		} else {
			sel = sel.OrderBy(query.Asc(root.C(col.Name)))
		}
	}
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	return sel, nil
}

// column resolves a Go field or column name.
func column(desc *schema.EntityDescriptor, name string) (*schema.ColumnDescriptor, error) {
	if c, ok := desc.Column(name); ok {
		return c, nil
	}
	if c, ok := desc.ColumnByName(name); ok {
		return c, nil
	}
	return nil, fmt.Errorf("entity %s has no field %q", desc.Name, name)
}
