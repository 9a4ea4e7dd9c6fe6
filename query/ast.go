package query

import (
	"slices"
	"strings"

	"github.com/syssam/persist/dialect"
)

// Node is a node of a query tree. The set of nodes is closed: only types of
// this package implement it.
type Node interface {
	node()
}

// Expr is a node that produces a value.
type Expr interface {
	Node
	expr()
}

// Predicate is a node that produces a boolean condition.
type Predicate interface {
	Node
	pred()
}

// Column references a column, optionally qualified by a table or alias.
type Column struct {
	Table string
	Name  string
}

// C returns a column reference. A name of the form "t.col" is qualified by t.
// The name "*" selects all columns.
func C(name string) *Column {
	if t, n, ok := strings.Cut(name, "."); ok {
		return &Column{Table: t, Name: n}
	}
	return &Column{Name: name}
}

// Param is a bound parameter.
type Param struct {
	Value dialect.Value
}

// Arg returns a bound parameter holding v.
func Arg(v dialect.Value) *Param { return &Param{Value: v} }

// Args returns one parameter per value.
func Args(vs ...dialect.Value) []Expr {
	out := make([]Expr, len(vs))
	for i, v := range vs {
		out[i] = Arg(v)
	}
	return out
}

// Literal is a portable keyword rendered through the dialect keyword table.
type Literal struct {
	Keyword dialect.Keyword
}

// Lit returns a keyword literal.
func Lit(k dialect.Keyword) *Literal { return &Literal{Keyword: k} }

// Func is a function call such as COUNT(*) or LOWER(name).
type Func struct {
	Name string
	Args []Expr
	Star bool
}

// Fn returns a function call expression.
func Fn(name string, args ...Expr) *Func { return &Func{Name: name, Args: args} }

// Count returns COUNT(*).
func Count() *Func { return &Func{Name: "COUNT", Star: true} }

// Subquery wraps a select used as an expression.
type Subquery struct {
	Select *Select
}

// Sub returns s as a subquery expression.
func Sub(s *Select) *Subquery { return &Subquery{Select: s} }

// CompareOp is a binary comparison operator.
type CompareOp uint8

// Comparison operators.
const (
	OpEQ CompareOp = iota
	OpNEQ
	OpLT
	OpLTE
	OpGT
	OpGTE
)

var compareOps = [...]string{OpEQ: "=", OpNEQ: "<>", OpLT: "<", OpLTE: "<=", OpGT: ">", OpGTE: ">="}

// String returns the SQL operator.
func (op CompareOp) String() string {
	if int(op) < len(compareOps) {
		return compareOps[op]
	}
	return "?"
}

// Compare is a binary comparison.
type Compare struct {
	Op          CompareOp
	Left, Right Expr
}

// EQ returns l = r.
func EQ(l, r Expr) *Compare { return &Compare{Op: OpEQ, Left: l, Right: r} }

// NEQ returns l <> r.
func NEQ(l, r Expr) *Compare { return &Compare{Op: OpNEQ, Left: l, Right: r} }

// LT returns l < r.
func LT(l, r Expr) *Compare { return &Compare{Op: OpLT, Left: l, Right: r} }

// LTE returns l <= r.
func LTE(l, r Expr) *Compare { return &Compare{Op: OpLTE, Left: l, Right: r} }

// GT returns l > r.
func GT(l, r Expr) *Compare { return &Compare{Op: OpGT, Left: l, Right: r} }

// GTE returns l >= r.
func GTE(l, r Expr) *Compare { return &Compare{Op: OpGTE, Left: l, Right: r} }

// And is a conjunction.
type And struct {
	Preds []Predicate
}

// Or is a disjunction.
type Or struct {
	Preds []Predicate
}

// AndOf returns the conjunction of the non-nil predicates. A single
// predicate is returned as is, and none yields nil.
func AndOf(ps ...Predicate) Predicate {
	ps = compact(ps)
	switch len(ps) {
	case 0:
		return nil
	case 1:
		return ps[0]
	}
	return &And{Preds: ps}
}

// OrOf returns the disjunction of the non-nil predicates.
func OrOf(ps ...Predicate) Predicate {
	ps = compact(ps)
	switch len(ps) {
	case 0:
		return nil
	case 1:
		return ps[0]
	}
	return &Or{Preds: ps}
}

func compact(ps []Predicate) []Predicate {
	return slices.DeleteFunc(slices.Clone(ps), func(p Predicate) bool { return p == nil })
}

// Not negates a predicate.
type Not struct {
	Pred Predicate
}

// NotOf returns NOT p.
func NotOf(p Predicate) *Not { return &Not{Pred: p} }

// In tests membership in a value list or a subquery.
type In struct {
	Expr   Expr
	Values []Expr
	Sub    *Subquery
	Negate bool
}

// InValues returns e IN (vs...).
func InValues(e Expr, vs ...Expr) *In { return &In{Expr: e, Values: vs} }

// NotInValues returns e NOT IN (vs...).
func NotInValues(e Expr, vs ...Expr) *In { return &In{Expr: e, Values: vs, Negate: true} }

// InSelect returns e IN (SELECT ...).
func InSelect(e Expr, s *Select) *In { return &In{Expr: e, Sub: Sub(s)} }

// IsNull tests e IS [NOT] NULL.
type IsNull struct {
	Expr   Expr
	Negate bool
}

// Null returns e IS NULL.
func Null(e Expr) *IsNull { return &IsNull{Expr: e} }

// NotNull returns e IS NOT NULL.
func NotNull(e Expr) *IsNull { return &IsNull{Expr: e, Negate: true} }

// Like is a pattern match.
type Like struct {
	Expr    Expr
	Pattern Expr
	Negate  bool
}

// LikeOf returns e LIKE pattern.
func LikeOf(e, pattern Expr) *Like { return &Like{Expr: e, Pattern: pattern} }

// Exists tests whether a subquery returns rows.
type Exists struct {
	Sub    *Subquery
	Negate bool
}

// ExistsOf returns EXISTS (s).
func ExistsOf(s *Select) *Exists { return &Exists{Sub: Sub(s)} }

// NotExistsOf returns NOT EXISTS (s).
func NotExistsOf(s *Select) *Exists { return &Exists{Sub: Sub(s), Negate: true} }

// Table is a table reference with an optional alias.
type Table struct {
	Name  string
	Alias string
}

// T returns a table reference.
func T(name string) Table { return Table{Name: name} }

// As returns a copy of t with the given alias.
func (t Table) As(alias string) Table {
	t.Alias = alias
	return t
}

// C returns a column of t, qualified by its alias when set.
func (t Table) C(name string) *Column {
	if t.Alias != "" {
		return &Column{Table: t.Alias, Name: name}
	}
	return &Column{Table: t.Name, Name: name}
}

// JoinKind is the join type.
type JoinKind uint8

// Join kinds.
const (
	InnerJoin JoinKind = iota
	LeftJoin
)

// Join is a join clause of a Select.
type Join struct {
	Kind  JoinKind
	Table Table
	On    Predicate
}

// Order is an ORDER BY term.
type Order struct {
	Expr Expr
	Desc bool
}

// Asc returns an ascending order term.
func Asc(e Expr) *Order { return &Order{Expr: e} }

// Desc returns a descending order term.
func Desc(e Expr) *Order { return &Order{Expr: e, Desc: true} }

// Projection is a selected expression with an optional alias.
type Projection struct {
	Expr  Expr
	Alias string
}

// Select is a SELECT statement. Builder methods return modified copies and
// never change the receiver.
type Select struct {
	distinct    bool
	projections []Projection
	from        Table
	joins       []*Join
	where       Predicate
	orders      []*Order
	limit       *int64
	offset      *int64
}

// SelectFrom returns SELECT cols FROM t. No columns selects *.
func SelectFrom(t Table, cols ...Expr) *Select {
	s := &Select{from: t}
	for _, c := range cols {
		s.projections = append(s.projections, Projection{Expr: c})
	}
	return s
}

func (s *Select) clone() *Select {
	c := *s
	c.projections = slices.Clone(s.projections)
	c.joins = slices.Clone(s.joins)
	c.orders = slices.Clone(s.orders)
	return &c
}

// Table returns the FROM table.
func (s *Select) Table() Table { return s.from }

// Distinct returns a copy selecting distinct rows.
func (s *Select) Distinct() *Select {
	c := s.clone()
	c.distinct = true
	return c
}

// Columns returns a copy with the given columns appended to the projection.
func (s *Select) Columns(cols ...Expr) *Select {
	c := s.clone()
	for _, e := range cols {
		c.projections = append(c.projections, Projection{Expr: e})
	}
	return c
}

// ColumnAs returns a copy with e AS alias appended to the projection.
func (s *Select) ColumnAs(e Expr, alias string) *Select {
	c := s.clone()
	c.projections = append(c.projections, Projection{Expr: e, Alias: alias})
	return c
}

// Join returns a copy with an inner join.
func (s *Select) Join(t Table, on Predicate) *Select {
	c := s.clone()
	c.joins = append(c.joins, &Join{Kind: InnerJoin, Table: t, On: on})
	return c
}

// LeftJoin returns a copy with a left outer join.
func (s *Select) LeftJoin(t Table, on Predicate) *Select {
	c := s.clone()
	c.joins = append(c.joins, &Join{Kind: LeftJoin, Table: t, On: on})
	return c
}

// Where returns a copy whose filter is the conjunction of the existing
// filter and p.
func (s *Select) Where(p Predicate) *Select {
	c := s.clone()
	c.where = AndOf(s.where, p)
	return c
}

// OrderBy returns a copy with order terms appended.
func (s *Select) OrderBy(orders ...*Order) *Select {
	c := s.clone()
	c.orders = append(c.orders, orders...)
	return c
}

// Limit returns a copy limited to n rows.
func (s *Select) Limit(n int64) *Select {
	c := s.clone()
	c.limit = &n
	return c
}

// Offset returns a copy skipping n rows.
func (s *Select) Offset(n int64) *Select {
	c := s.clone()
	c.offset = &n
	return c
}

// Counting returns a copy that selects COUNT(*) AS alias over the same
// tables and filter, without order, limit or offset.
func (s *Select) Counting(alias string) *Select {
	c := s.clone()
	c.distinct = false
	c.projections = []Projection{{Expr: Count(), Alias: alias}}
	c.orders, c.limit, c.offset = nil, nil, nil
	return c
}

// Insert is an INSERT statement.
type Insert struct {
	table     string
	columns   []string
	rows      [][]Expr
	returning []string
}

// InsertInto returns an INSERT into table.
func InsertInto(table string) *Insert { return &Insert{table: table} }

func (i *Insert) clone() *Insert {
	c := *i
	c.columns = slices.Clone(i.columns)
	c.rows = slices.Clone(i.rows)
	c.returning = slices.Clone(i.returning)
	return &c
}

// Columns returns a copy with the column list set.
func (i *Insert) Columns(cols ...string) *Insert {
	c := i.clone()
	c.columns = cols
	return c
}

// Values returns a copy with one row of values appended.
func (i *Insert) Values(vs ...Expr) *Insert {
	c := i.clone()
	c.rows = append(c.rows, vs)
	return c
}

// Returning returns a copy with a RETURNING clause.
func (i *Insert) Returning(cols ...string) *Insert {
	c := i.clone()
	c.returning = cols
	return c
}

// Assignment is one SET term of an UPDATE.
type Assignment struct {
	Column string
	Value  Expr
}

// Update is an UPDATE statement.
type Update struct {
	table string
	set   []Assignment
	where Predicate
}

// UpdateTable returns an UPDATE of table.
func UpdateTable(table string) *Update { return &Update{table: table} }

// Set returns a copy with an assignment appended.
func (u *Update) Set(col string, v Expr) *Update {
	c := *u
	c.set = append(slices.Clone(u.set), Assignment{Column: col, Value: v})
	return &c
}

// Where returns a copy with p conjoined to the filter.
func (u *Update) Where(p Predicate) *Update {
	c := *u
	c.where = AndOf(u.where, p)
	return &c
}

// Delete is a DELETE statement.
type Delete struct {
	table string
	where Predicate
}

// DeleteFrom returns a DELETE from table.
func DeleteFrom(table string) *Delete { return &Delete{table: table} }

// Where returns a copy with p conjoined to the filter.
func (d *Delete) Where(p Predicate) *Delete {
	c := *d
	c.where = AndOf(d.where, p)
	return &c
}

func (*Column) node()   {}
func (*Param) node()    {}
func (*Literal) node()  {}
func (*Func) node()     {}
func (*Subquery) node() {}
func (*Compare) node()  {}
func (*And) node()      {}
func (*Or) node()       {}
func (*Not) node()      {}
func (*In) node()       {}
func (*IsNull) node()   {}
func (*Like) node()     {}
func (*Exists) node()   {}
func (*Join) node()     {}
func (*Order) node()    {}
func (*Select) node()   {}
func (*Insert) node()   {}
func (*Update) node()   {}
func (*Delete) node()   {}

func (*Column) expr()   {}
func (*Param) expr()    {}
func (*Literal) expr()  {}
func (*Func) expr()     {}
func (*Subquery) expr() {}

func (*Compare) pred() {}
func (*And) pred()     {}
func (*Or) pred()      {}
func (*Not) pred()     {}
func (*In) pred()      {}
func (*IsNull) pred()  {}
func (*Like) pred()    {}
func (*Exists) pred()  {}
