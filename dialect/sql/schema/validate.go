package schema

import (
	"fmt"
	"strings"

	"ariga.io/atlas/sql/schema"
)

// ValidationError describes one finding of a schema check.
type ValidationError struct {
	Table   string
	Column  string
	Message string
	// Breaking indicates if this is a breaking change.
	Breaking bool
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// HasBreakingChanges returns true if there are any breaking changes.
func (r *ValidationResult) HasBreakingChanges() bool {
	for _, e := range r.Errors {
		if e.Breaking {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Breaking {
			return true
		}
	}
	return false
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	if len(r.Errors) > 0 {
		sb.WriteString("Errors:\n")
		for _, e := range r.Errors {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("Warnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString("  - ")
			sb.WriteString(w.Error())
			if w.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

// ValidateOption configures schema validation.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	allowDropColumn    bool
	allowDropTable     bool
	allowDropIndex     bool
	allowNullToNotNull bool
}

func (c *validateConfig) report(r *ValidationResult, allowed bool, e *ValidationError) {
	if allowed {
		r.Warnings = append(r.Warnings, e)
	} else {
		r.Errors = append(r.Errors, e)
	}
}

// AllowDropColumn allows dropping columns without error.
func AllowDropColumn() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropColumn = true
	}
}

// AllowDropTable allows dropping tables without error.
func AllowDropTable() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropTable = true
	}
}

// AllowDropIndex allows dropping indexes without error.
func AllowDropIndex() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropIndex = true
	}
}

// AllowNullToNotNull allows changing nullable columns to not null.
func AllowNullToNotNull() ValidateOption {
	return func(c *validateConfig) {
		c.allowNullToNotNull = true
	}
}

// Validate inspects planned changes for data loss or statements likely to
// fail on populated tables. Drops and NULL to NOT NULL changes are errors
// unless allowed by an option, in which case they are reported as warnings.
//
//	changes, err := schema.Diff(d, current, desired)
//	...
//	if res := schema.Validate(changes); res.HasErrors() {
//	    return fmt.Errorf("refusing to migrate:\n%s", res)
//	}
func Validate(changes []schema.Change, opts ...ValidateOption) *ValidationResult {
	cfg := &validateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	result := &ValidationResult{}
	for _, c := range changes {
		switch c := c.(type) {
		case *schema.DropTable:
			cfg.report(result, cfg.allowDropTable, &ValidationError{
				Table:    c.T.Name,
				Message:  "table will be dropped",
				Breaking: true,
			})
		case *schema.ModifyTable:
			validateTableChanges(c.T.Name, c.Changes, cfg, result)
		}
	}
	return result
}

func validateTableChanges(table string, changes []schema.Change, cfg *validateConfig, result *ValidationResult) {
	for _, c := range changes {
		switch c := c.(type) {
		case *schema.DropColumn:
			cfg.report(result, cfg.allowDropColumn, &ValidationError{
				Table:    table,
				Column:   c.C.Name,
				Message:  "column will be dropped",
				Breaking: true,
			})
		case *schema.AddColumn:
			if !c.C.Type.Null && c.C.Default == nil {
				result.Warnings = append(result.Warnings, &ValidationError{
					Table:   table,
					Column:  c.C.Name,
					Message: "new NOT NULL column without default value may fail if table has data",
				})
			}
		case *schema.ModifyColumn:
			validateColumnChange(table, c, cfg, result)
		case *schema.DropIndex:
			cfg.report(result, cfg.allowDropIndex, &ValidationError{
				Table:   table,
				Message: fmt.Sprintf("index %q will be dropped", c.I.Name),
			})
		case *schema.AddIndex:
			if c.I.Unique {
				result.Warnings = append(result.Warnings, &ValidationError{
					Table:   table,
					Message: fmt.Sprintf("adding unique index %q may fail if duplicate values exist", c.I.Name),
				})
			}
		}
	}
}

func validateColumnChange(table string, c *schema.ModifyColumn, cfg *validateConfig, result *ValidationResult) {
	from, to := c.From, c.To
	if c.Change.Is(schema.ChangeType) {
		result.Warnings = append(result.Warnings, &ValidationError{
			Table:   table,
			Column:  to.Name,
			Message: fmt.Sprintf("column type changing from %s to %s", typeName(from), typeName(to)),
		})
		fs, ok1 := from.Type.Type.(*schema.StringType)
		ts, ok2 := to.Type.Type.(*schema.StringType)
		if ok1 && ok2 && fs.Size > 0 && ts.Size > 0 && ts.Size < fs.Size {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   table,
				Column:  to.Name,
				Message: fmt.Sprintf("column size reducing from %d to %d may truncate data", fs.Size, ts.Size),
			})
		}
	}
	if c.Change.Is(schema.ChangeNull) && from.Type.Null && !to.Type.Null {
		cfg.report(result, cfg.allowNullToNotNull, &ValidationError{
			Table:    table,
			Column:   to.Name,
			Message:  "column changing from NULL to NOT NULL may fail if column has NULL values",
			Breaking: true,
		})
	}
}

func typeName(c *schema.Column) string {
	if c.Type == nil || c.Type.Type == nil {
		return "unknown"
	}
	if c.Type.Raw != "" {
		return c.Type.Raw
	}
	switch t := c.Type.Type.(type) {
	case *schema.StringType:
		if t.Size > 0 {
			return fmt.Sprintf("%s(%d)", t.T, t.Size)
		}
		return t.T
	case *schema.IntegerType:
		return t.T
	case *schema.FloatType:
		return t.T
	case *schema.BoolType:
		return t.T
	case *schema.TimeType:
		return t.T
	case *schema.DecimalType:
		return t.T
	case *schema.BinaryType:
		return t.T
	case *schema.JSONType:
		return t.T
	case *schema.UUIDType:
		return t.T
	}
	return fmt.Sprintf("%T", c.Type.Type)
}

// Check validates table definitions before they are planned: missing
// primary keys, duplicate names and dangling index or foreign key
// references.
func Check(tables []*schema.Table) *ValidationResult {
	result := &ValidationResult{}
	names := make(map[string]bool, len(tables))
	for _, t := range tables {
		if names[t.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Message: "duplicate table name",
			})
		}
		names[t.Name] = true
		checkTable(t, result)
	}
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == nil || !names[fk.RefTable.Name] {
				ref := "<nil>"
				if fk.RefTable != nil {
					ref = fk.RefTable.Name
				}
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("foreign key %q references non-existent table %q", fk.Symbol, ref),
				})
			}
		}
	}
	return result
}

func checkTable(t *schema.Table, result *ValidationResult) {
	if t.PrimaryKey == nil || len(t.PrimaryKey.Parts) == 0 {
		result.Warnings = append(result.Warnings, &ValidationError{
			Table:   t.Name,
			Message: "table has no primary key",
		})
	}
	cols := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if cols[c.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Column:  c.Name,
				Message: "duplicate column name",
			})
		}
		cols[c.Name] = true
	}
	idxs := make(map[string]bool, len(t.Indexes))
	for _, idx := range t.Indexes {
		if idxs[idx.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Message: fmt.Sprintf("duplicate index name: %s", idx.Name),
			})
		}
		idxs[idx.Name] = true
		for _, p := range idx.Parts {
			if p.C != nil && !cols[p.C.Name] {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("index %q references non-existent column %q", idx.Name, p.C.Name),
				})
			}
		}
	}
	for _, fk := range t.ForeignKeys {
		for _, c := range fk.Columns {
			if !cols[c.Name] {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("foreign key %q references non-existent column %q", fk.Symbol, c.Name),
				})
			}
		}
	}
}
