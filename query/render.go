package query

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
)

// RenderError is returned when a tree cannot be rendered.
type RenderError struct {
	Node string
	Msg  string
	Err  error
}

// Error returns the error string.
func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query: render %s: %s: %v", e.Node, e.Msg, e.Err)
	}
	return fmt.Sprintf("query: render %s: %s", e.Node, e.Msg)
}

// Unwrap returns the underlying error.
func (e *RenderError) Unwrap() error {
	return e.Err
}

var funcNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Render renders n for d. It returns the statement text and the parameters
// in placeholder order. Placeholders are numbered in depth-first,
// left-to-right tree order and parameter values never appear in the text.
// Render has no side effects: the same tree and dialect always produce the
// same output.
func Render(n Node, d *dialect.Dialect) (string, []dialect.Value, error) {
	if d == nil {
		return "", nil, &RenderError{Node: "tree", Msg: "nil dialect"}
	}
	r := &renderer{d: d}
	r.node(n)
	if r.err != nil {
		return "", nil, r.err
	}
	return r.sb.String(), r.args, nil
}

// MustRender is like Render but panics on error.
func MustRender(n Node, d *dialect.Dialect) (string, []dialect.Value) {
	s, args, err := Render(n, d)
	if err != nil {
		panic(err)
	}
	return s, args
}

type renderer struct {
	d    *dialect.Dialect
	sb   strings.Builder
	args []dialect.Value
	err  error
}

func (r *renderer) fail(node, format string, a ...any) {
	if r.err == nil {
		r.err = &RenderError{Node: node, Msg: fmt.Sprintf(format, a...)}
	}
}

func (r *renderer) w(s string) { r.sb.WriteString(s) }

func (r *renderer) ident(name string) { r.w(r.d.QuoteIdent(name)) }

func (r *renderer) bind(v dialect.Value) {
	r.args = append(r.args, v)
	r.w(r.d.Bind(len(r.args)))
}

func (r *renderer) node(n Node) {
	if r.err != nil {
		return
	}
	switch n := n.(type) {
	case *Select:
		r.selectStmt(n)
	case *Insert:
		r.insertStmt(n)
	case *Update:
		r.updateStmt(n)
	case *Delete:
		r.deleteStmt(n)
	case Predicate:
		r.pred(n, false)
	case Expr:
		r.expr(n)
	case *Join:
		r.join(n)
	case *Order:
		r.order(n)
	default:
		r.fail("tree", "unsupported node %T", n)
	}
}

func (r *renderer) expr(e Expr) {
	if r.err != nil {
		return
	}
	switch e := e.(type) {
	case *Column:
		switch {
		case e.Name == "":
			r.fail("column", "empty column name")
			return
		case e.Table != "":
			r.ident(e.Table)
			r.w(".")
		}
		if e.Name == "*" {
			r.w("*")
			return
		}
		r.ident(e.Name)
	case *Param:
		r.bind(e.Value)
	case *Literal:
		kw, ok := r.d.Keyword(e.Keyword)
		if !ok {
			r.err = &RenderError{Node: "literal", Msg: string(e.Keyword), Err: &persist.UnsupportedFeatureError{Dialect: r.d.Name, Feature: "keyword " + string(e.Keyword)}}
			return
		}
		r.w(kw)
	case *Func:
		if !funcNameRe.MatchString(e.Name) {
			r.fail("func", "invalid function name %q", e.Name)
			return
		}
		r.w(e.Name)
		r.w("(")
		if e.Star {
			r.w("*")
		}
		for i, a := range e.Args {
			if i > 0 || e.Star {
				r.w(", ")
			}
			r.expr(a)
		}
		r.w(")")
	case *Subquery:
		if e == nil || e.Select == nil {
			r.fail("subquery", "missing select")
			return
		}
		r.w("(")
		r.selectStmt(e.Select)
		r.w(")")
	default:
		r.fail("expr", "unsupported expression %T", e)
	}
}

// pred renders a predicate. nested reports whether p is an operand of a
// compound predicate, in which case compound predicates are parenthesized.
func (r *renderer) pred(p Predicate, nested bool) {
	if r.err != nil {
		return
	}
	switch p := p.(type) {
	case *Compare:
		if int(p.Op) >= len(compareOps) {
			r.fail("compare", "unknown operator %d", p.Op)
			return
		}
		r.expr(p.Left)
		r.w(" " + p.Op.String() + " ")
		r.expr(p.Right)
	case *And:
		r.compound("and", " AND ", p.Preds, nested)
	case *Or:
		r.compound("or", " OR ", p.Preds, nested)
	case *Not:
		if p.Pred == nil {
			r.fail("not", "missing operand")
			return
		}
		r.w("NOT (")
		r.pred(p.Pred, false)
		r.w(")")
	case *In:
		r.expr(p.Expr)
		if p.Negate {
			r.w(" NOT")
		}
		r.w(" IN ")
		if p.Sub != nil {
			r.expr(p.Sub)
			return
		}
		if len(p.Values) == 0 {
			r.fail("in", "empty value list")
			return
		}
		r.w("(")
		for i, v := range p.Values {
			if i > 0 {
				r.w(", ")
			}
			r.expr(v)
		}
		r.w(")")
	case *IsNull:
		r.expr(p.Expr)
		if p.Negate {
			r.w(" IS NOT NULL")
		} else {
			r.w(" IS NULL")
		}
	case *Like:
		r.expr(p.Expr)
		if p.Negate {
			r.w(" NOT")
		}
		r.w(" LIKE ")
		r.expr(p.Pattern)
	case *Exists:
		if p.Negate {
			r.w("NOT ")
		}
		r.w("EXISTS ")
		r.expr(p.Sub)
	default:
		r.fail("predicate", "unsupported predicate %T", p)
	}
}

func (r *renderer) compound(name, op string, preds []Predicate, nested bool) {
	if len(preds) == 0 {
		r.fail(name, "no operands")
		return
	}
	if nested {
		r.w("(")
	}
	for i, p := range preds {
		if i > 0 {
			r.w(op)
		}
		r.pred(p, true)
	}
	if nested {
		r.w(")")
	}
}

func (r *renderer) table(t Table) {
	if t.Name == "" {
		r.fail("table", "empty table name")
		return
	}
	r.ident(t.Name)
	if t.Alias != "" {
		r.w(" AS ")
		r.ident(t.Alias)
	}
}

func (r *renderer) join(j *Join) {
	switch j.Kind {
	case InnerJoin:
		r.w("JOIN ")
	case LeftJoin:
		r.w("LEFT JOIN ")
	default:
		r.fail("join", "unknown join kind %d", j.Kind)
		return
	}
	r.table(j.Table)
	if j.On == nil {
		r.fail("join", "missing ON condition")
		return
	}
	r.w(" ON ")
	r.pred(j.On, false)
}

func (r *renderer) order(o *Order) {
	r.expr(o.Expr)
	if o.Desc {
		r.w(" DESC")
	}
}

func (r *renderer) where(p Predicate) {
	if p != nil {
		r.w(" WHERE ")
		r.pred(p, false)
	}
}

func (r *renderer) selectStmt(s *Select) {
	r.w("SELECT ")
	if s.distinct {
		r.w("DISTINCT ")
	}
	if len(s.projections) == 0 {
		r.w("*")
	}
	for i, p := range s.projections {
		if i > 0 {
			r.w(", ")
		}
		r.expr(p.Expr)
		if p.Alias != "" {
			r.w(" AS ")
			r.ident(p.Alias)
		}
	}
	r.w(" FROM ")
	r.table(s.from)
	for _, j := range s.joins {
		r.w(" ")
		r.join(j)
	}
	r.where(s.where)
	for i, o := range s.orders {
		if i == 0 {
			r.w(" ORDER BY ")
		} else {
			r.w(", ")
		}
		r.order(o)
	}
	switch {
	case s.limit != nil:
		r.w(" LIMIT ")
		r.bind(dialect.Integer(*s.limit))
	case s.offset != nil && r.d.Name != dialect.Postgres:
		// MySQL and SQLite reject OFFSET without LIMIT.
		r.w(" LIMIT ")
		r.bind(dialect.Integer(math.MaxInt64))
	}
	if s.offset != nil {
		r.w(" OFFSET ")
		r.bind(dialect.Integer(*s.offset))
	}
}

func (r *renderer) insertStmt(i *Insert) {
	r.w("INSERT INTO ")
	r.ident(i.table)
	switch {
	case len(i.columns) == 0 && len(i.rows) == 0:
		if r.d.Name == dialect.MySQL {
			r.w(" () VALUES ()")
		} else {
			r.w(" DEFAULT VALUES")
		}
	case len(i.rows) == 0:
		r.fail("insert", "no values")
		return
	default:
		r.w(" (")
		for j, c := range i.columns {
			if j > 0 {
				r.w(", ")
			}
			r.ident(c)
		}
		r.w(") VALUES ")
		for j, row := range i.rows {
			if len(row) != len(i.columns) {
				r.fail("insert", "row %d has %d values for %d columns", j, len(row), len(i.columns))
				return
			}
			if j > 0 {
				r.w(", ")
			}
			r.w("(")
			for k, v := range row {
				if k > 0 {
					r.w(", ")
				}
				r.expr(v)
			}
			r.w(")")
		}
	}
	if len(i.returning) > 0 {
		if !r.d.Capabilities.Returning {
			r.err = &RenderError{Node: "insert", Msg: "RETURNING", Err: &persist.UnsupportedFeatureError{Dialect: r.d.Name, Feature: "RETURNING"}}
			return
		}
		r.w(" RETURNING ")
		for j, c := range i.returning {
			if j > 0 {
				r.w(", ")
			}
			r.ident(c)
		}
	}
}

func (r *renderer) updateStmt(u *Update) {
	if len(u.set) == 0 {
		r.fail("update", "no assignments")
		return
	}
	r.w("UPDATE ")
	r.ident(u.table)
	r.w(" SET ")
	for i, a := range u.set {
		if i > 0 {
			r.w(", ")
		}
		r.ident(a.Column)
		r.w(" = ")
		r.expr(a.Value)
	}
	r.where(u.where)
}

func (r *renderer) deleteStmt(d *Delete) {
	r.w("DELETE FROM ")
	r.ident(d.table)
	r.where(d.where)
}
