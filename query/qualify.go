package query

// Qualify returns a copy of p in which every unqualified column is
// qualified by table. Subqueries are left untouched.
func Qualify(p Predicate, table string) Predicate {
	switch p := p.(type) {
	case nil:
		return nil
	case *Compare:
		return &Compare{Op: p.Op, Left: QualifyExpr(p.Left, table), Right: QualifyExpr(p.Right, table)}
	case *And:
		return &And{Preds: qualifyAll(p.Preds, table)}
	case *Or:
		return &Or{Preds: qualifyAll(p.Preds, table)}
	case *Not:
		return &Not{Pred: Qualify(p.Pred, table)}
	case *In:
		c := *p
		c.Expr = QualifyExpr(p.Expr, table)
		c.Values = make([]Expr, len(p.Values))
		for i, v := range p.Values {
			c.Values[i] = QualifyExpr(v, table)
		}
		return &c
	case *IsNull:
		return &IsNull{Expr: QualifyExpr(p.Expr, table), Negate: p.Negate}
	case *Like:
		return &Like{Expr: QualifyExpr(p.Expr, table), Pattern: QualifyExpr(p.Pattern, table), Negate: p.Negate}
	}
	return p
}

// QualifyExpr is Qualify for expressions.
func QualifyExpr(e Expr, table string) Expr {
	switch e := e.(type) {
	case *Column:
		if e.Table != "" {
			return e
		}
		return &Column{Table: table, Name: e.Name}
	case *Func:
		c := *e
		c.Args = make([]Expr, len(e.Args))
		for i, a := range e.Args {
			c.Args[i] = QualifyExpr(a, table)
		}
		return &c
	}
	return e
}

func qualifyAll(ps []Predicate, table string) []Predicate {
	out := make([]Predicate, len(ps))
	for i, p := range ps {
		out[i] = Qualify(p, table)
	}
	return out
}
