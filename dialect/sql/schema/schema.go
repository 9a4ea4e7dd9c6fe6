// Package schema converts entity descriptors into relational tables and
// plans the DDL that moves a database to them. Inspection, diffing and
// statement generation are delegated to atlas.
package schema

import (
	"context"
	"fmt"
	"slices"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	persistschema "github.com/syssam/persist/schema"
)

// mysqlTextSize is the varchar size of text columns on MySQL. Unbounded
// text cannot be indexed there.
const mysqlTextSize = 255

// Tables converts the entities of a sealed registry into atlas tables for
// dialect d: one table per entity plus one per many-to-many join table.
// Tables come in registration order, join tables last.
func Tables(reg *persistschema.Registry, d *dialect.Dialect) ([]*schema.Table, error) {
	if !reg.Sealed() {
		return nil, fmt.Errorf("schema: registry is not sealed")
	}
	if _, err := typeMapper(d); err != nil {
		return nil, err
	}
	var (
		entities = reg.Entities()
		tables   = make([]*schema.Table, 0, len(entities))
		byName   = make(map[string]*schema.Table, len(entities))
	)
	for _, e := range entities {
		t := entityTable(d, e)
		tables = append(tables, t)
		byName[e.Table] = t
	}
	for _, e := range entities {
		t := byName[e.Table]
		for _, rel := range e.Relations {
			switch {
			case rel.OwnsForeignKey():
				if err := ownedForeignKey(t, byName[rel.Target.Table], e, rel); err != nil {
					return nil, err
				}
			case rel.Kind == persistschema.ManyToMany:
				if _, ok := byName[rel.Join.Table]; ok {
					continue
				}
				jt, err := joinTable(d, byName, e, rel)
				if err != nil {
					return nil, err
				}
				tables = append(tables, jt)
				byName[jt.Name] = jt
			}
		}
	}
	return tables, nil
}

// Desired returns the tables of reg wrapped in a schema named name.
func Desired(reg *persistschema.Registry, d *dialect.Dialect, name string) (*schema.Schema, error) {
	tables, err := Tables(reg, d)
	if err != nil {
		return nil, err
	}
	return schema.New(name).AddTables(tables...), nil
}

func entityTable(d *dialect.Dialect, e *persistschema.EntityDescriptor) *schema.Table {
	t := schema.NewTable(e.Table)
	var pk []*schema.Column
	for _, c := range e.Columns {
		col := schema.NewColumn(c.Name).
			SetType(columnType(d, c.Kind, c.PrimaryKey && c.Generated)).
			SetNull(c.Nullable && !c.PrimaryKey)
		if c.PrimaryKey && c.Generated && len(e.PrimaryKey) == 1 {
			switch d.Name {
			case dialect.MySQL:
				col.AddAttrs(&mysql.AutoIncrement{})
			case dialect.SQLite:
				col.AddAttrs(&sqlite.AutoIncrement{})
			}
		}
		t.AddColumns(col)
		if c.PrimaryKey {
			pk = append(pk, col)
		}
		if c.Unique && !c.PrimaryKey {
			t.AddIndexes(schema.NewUniqueIndex(e.Table + "_" + c.Name + "_key").AddColumns(col))
		}
	}
	if len(pk) > 0 {
		t.SetPrimaryKey(schema.NewPrimaryKey(pk...))
	}
	return t
}

func ownedForeignKey(t, ref *schema.Table, e *persistschema.EntityDescriptor, rel *persistschema.RelationDescriptor) error {
	col, ok := t.Column(rel.Join.Column)
	if !ok {
		return fmt.Errorf("schema: %s.%s: unknown join column %q", e.Name, rel.Name, rel.Join.Column)
	}
	refCol, ok := ref.Column(rel.Join.RefColumn)
	if !ok {
		return fmt.Errorf("schema: %s.%s: unknown referenced column %q", e.Name, rel.Name, rel.Join.RefColumn)
	}
	t.AddForeignKeys(schema.NewForeignKey(t.Name + "_" + col.Name + "_fkey").
		AddColumns(col).
		SetRefTable(ref).
		AddRefColumns(refCol).
		SetOnDelete(schema.NoAction).
		SetOnUpdate(schema.NoAction))
	if rel.Kind == persistschema.OneToOne && !hasIndexOn(t, col.Name) {
		t.AddIndexes(schema.NewUniqueIndex(t.Name + "_" + col.Name + "_key").AddColumns(col))
	}
	return nil
}

func joinTable(d *dialect.Dialect, byName map[string]*schema.Table, e *persistschema.EntityDescriptor, rel *persistschema.RelationDescriptor) (*schema.Table, error) {
	owner, target := e.PKColumns(), rel.Target.PKColumns()
	if len(owner) != 1 || len(target) != 1 {
		return nil, &persist.UnsupportedFeatureError{Dialect: d.Name, Feature: "many-to-many over composite keys"}
	}
	var (
		jt   = schema.NewTable(rel.Join.Table)
		oc   = schema.NewColumn(rel.Join.Column).SetType(columnType(d, owner[0].Kind, false))
		ic   = schema.NewColumn(rel.Join.InverseColumn).SetType(columnType(d, target[0].Kind, false))
		ot   = byName[e.Table]
		tt   = byName[rel.Target.Table]
		oref = ot.Columns[slices.IndexFunc(ot.Columns, func(c *schema.Column) bool { return c.Name == owner[0].Name })]
		tref = tt.Columns[slices.IndexFunc(tt.Columns, func(c *schema.Column) bool { return c.Name == target[0].Name })]
	)
	jt.AddColumns(oc, ic).
		SetPrimaryKey(schema.NewPrimaryKey(oc, ic)).
		AddForeignKeys(
			schema.NewForeignKey(jt.Name+"_"+oc.Name+"_fkey").
				AddColumns(oc).SetRefTable(ot).AddRefColumns(oref).
				SetOnDelete(schema.Cascade),
			schema.NewForeignKey(jt.Name+"_"+ic.Name+"_fkey").
				AddColumns(ic).SetRefTable(tt).AddRefColumns(tref).
				SetOnDelete(schema.Cascade),
		)
	return jt, nil
}

func hasIndexOn(t *schema.Table, col string) bool {
	for _, idx := range t.Indexes {
		if len(idx.Parts) == 1 && idx.Parts[0].C != nil && idx.Parts[0].C.Name == col {
			return true
		}
	}
	return false
}

type typeFunc func(k dialect.Kind, serial bool) schema.Type

func typeMapper(d *dialect.Dialect) (typeFunc, error) {
	switch d.Name {
	case dialect.Postgres:
		return postgresType, nil
	case dialect.MySQL:
		return mysqlType, nil
	case dialect.SQLite:
		return sqliteType, nil
	}
	return nil, &persist.UnsupportedFeatureError{Dialect: d.Name, Feature: "schema planning"}
}

func columnType(d *dialect.Dialect, k dialect.Kind, serial bool) schema.Type {
	f, err := typeMapper(d)
	if err != nil {
		return &schema.UnsupportedType{T: k.String()}
	}
	return f(k, serial)
}

func postgresType(k dialect.Kind, serial bool) schema.Type {
	switch k {
	case dialect.KindInteger:
		if serial {
			return &postgres.SerialType{T: "bigserial"}
		}
		return &schema.IntegerType{T: "bigint"}
	case dialect.KindFloat:
		return &schema.FloatType{T: "double precision"}
	case dialect.KindBoolean:
		return &schema.BoolType{T: "boolean"}
	case dialect.KindBytes:
		return &schema.BinaryType{T: "bytea"}
	case dialect.KindJSON:
		return &schema.JSONType{T: "jsonb"}
	case dialect.KindDateTime:
		return &schema.TimeType{T: "timestamp with time zone"}
	case dialect.KindDecimal:
		return &schema.DecimalType{T: "numeric", Precision: 38, Scale: 10}
	case dialect.KindIdentifier:
		return &schema.UUIDType{T: "uuid"}
	}
	return &schema.StringType{T: "text"}
}

func mysqlType(k dialect.Kind, _ bool) schema.Type {
	switch k {
	case dialect.KindInteger:
		return &schema.IntegerType{T: "bigint"}
	case dialect.KindFloat:
		return &schema.FloatType{T: "double"}
	case dialect.KindBoolean:
		return &schema.BoolType{T: "bool"}
	case dialect.KindBytes:
		return &schema.BinaryType{T: "blob"}
	case dialect.KindJSON:
		return &schema.JSONType{T: "json"}
	case dialect.KindDateTime:
		return &schema.TimeType{T: "datetime"}
	case dialect.KindDecimal:
		return &schema.DecimalType{T: "decimal", Precision: 38, Scale: 10}
	case dialect.KindIdentifier:
		return &schema.StringType{T: "char", Size: 36}
	}
	return &schema.StringType{T: "varchar", Size: mysqlTextSize}
}

func sqliteType(k dialect.Kind, _ bool) schema.Type {
	switch k {
	case dialect.KindInteger:
		return &schema.IntegerType{T: "integer"}
	case dialect.KindFloat:
		return &schema.FloatType{T: "real"}
	case dialect.KindBoolean:
		return &schema.BoolType{T: "bool"}
	case dialect.KindBytes:
		return &schema.BinaryType{T: "blob"}
	case dialect.KindJSON:
		return &schema.JSONType{T: "json"}
	case dialect.KindDateTime:
		return &schema.TimeType{T: "datetime"}
	case dialect.KindDecimal:
		return &schema.DecimalType{T: "decimal"}
	case dialect.KindIdentifier:
		return &schema.UUIDType{T: "uuid"}
	}
	return &schema.StringType{T: "text"}
}

// Inspect reads the named schema of a live database. An empty name selects
// the connection's current schema (main on SQLite).
func Inspect(ctx context.Context, db schema.ExecQuerier, d *dialect.Dialect, name string) (*schema.Schema, error) {
	drv, err := open(db, d)
	if err != nil {
		return nil, err
	}
	if name == "" && d.Name == dialect.SQLite {
		name = "main"
	}
	s, err := drv.InspectSchema(ctx, name, &schema.InspectOptions{})
	if err != nil {
		return nil, fmt.Errorf("schema: inspect %q: %w", name, err)
	}
	return s, nil
}

func open(db schema.ExecQuerier, d *dialect.Dialect) (migrate.Driver, error) {
	switch d.Name {
	case dialect.Postgres:
		return postgres.Open(db)
	case dialect.MySQL:
		return mysql.Open(db)
	case dialect.SQLite:
		return sqlite.Open(db)
	}
	return nil, &persist.UnsupportedFeatureError{Dialect: d.Name, Feature: "schema inspection"}
}

func planner(d *dialect.Dialect) (schema.Differ, migrate.PlanApplier, error) {
	switch d.Name {
	case dialect.Postgres:
		return postgres.DefaultDiff, postgres.DefaultPlan, nil
	case dialect.MySQL:
		return mysql.DefaultDiff, mysql.DefaultPlan, nil
	case dialect.SQLite:
		return sqlite.DefaultDiff, sqlite.DefaultPlan, nil
	}
	return nil, nil, &persist.UnsupportedFeatureError{Dialect: d.Name, Feature: "schema planning"}
}

// Diff returns the changes that move current to the desired tables. A nil
// current stands for an empty schema.
func Diff(d *dialect.Dialect, current *schema.Schema, desired []*schema.Table) ([]schema.Change, error) {
	differ, _, err := planner(d)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = schema.New("")
	}
	to := schema.New(current.Name).AddTables(desired...)
	changes, err := differ.SchemaDiff(current, to)
	if err != nil {
		return nil, fmt.Errorf("schema: diff: %w", err)
	}
	return changes, nil
}

// Plan returns the DDL statements that move current to the desired tables,
// in execution order.
func Plan(ctx context.Context, d *dialect.Dialect, current *schema.Schema, desired []*schema.Table) ([]string, error) {
	changes, err := Diff(d, current, desired)
	if err != nil {
		return nil, err
	}
	return PlanChanges(ctx, d, changes)
}

// PlanChanges renders changes as DDL statements.
func PlanChanges(ctx context.Context, d *dialect.Dialect, changes []schema.Change) ([]string, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	_, pa, err := planner(d)
	if err != nil {
		return nil, err
	}
	plan, err := pa.PlanChanges(ctx, "persist", changes)
	if err != nil {
		return nil, fmt.Errorf("schema: plan: %w", err)
	}
	stmts := make([]string, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		stmts = append(stmts, c.Cmd)
	}
	return stmts, nil
}
