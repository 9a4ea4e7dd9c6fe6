package dialect

import (
	"slices"
	"strconv"
	"strings"

	"github.com/syssam/persist"
)

// Backend names.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// PlaceholderStyle selects how bound parameters are written.
type PlaceholderStyle uint8

const (
	// Indexed placeholders are numbered: $1, $2, ...
	Indexed PlaceholderStyle = iota
	// Anonymous placeholders are positional: ?, ?, ...
	Anonymous
)

// Keyword is a portable keyword substituted per dialect.
type Keyword string

// Portable keywords.
const (
	KeywordTrue             Keyword = "TRUE"
	KeywordFalse            Keyword = "FALSE"
	KeywordNull             Keyword = "NULL"
	KeywordCurrentTimestamp Keyword = "CURRENT_TIMESTAMP"
	KeywordDefault          Keyword = "DEFAULT"
)

// IsolationLevel is a transaction isolation level. The zero value selects
// READ COMMITTED on backends that offer it and the backend default otherwise.
type IsolationLevel uint8

// Isolation levels.
const (
	IsolationDefault IsolationLevel = iota
	ReadUncommitted
	ReadCommitted
	RepeatableRead
	Serializable
)

// String returns the SQL name of the level.
func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	}
	return "DEFAULT"
}

// ParseIsolation parses names such as "read_committed" or "REPEATABLE READ".
func ParseIsolation(s string) (IsolationLevel, error) {
	norm := strings.ToUpper(strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(s)))
	for _, l := range []IsolationLevel{IsolationDefault, ReadUncommitted, ReadCommitted, RepeatableRead, Serializable} {
		if l.String() == norm {
			return l, nil
		}
	}
	if norm == "" {
		return IsolationDefault, nil
	}
	return IsolationDefault, &persist.UnsupportedFeatureError{Dialect: "any", Feature: "isolation level " + strconv.Quote(s)}
}

// Capabilities lists optional features of a backend.
type Capabilities struct {
	Savepoints bool
	Returning  bool
	ReadOnly   bool
	Isolations []IsolationLevel
}

// Dialect holds the syntactic rules of one backend. Dialects are stateless
// and shared.
type Dialect struct {
	Name         string
	Placeholder  PlaceholderStyle
	Quote        byte
	Keywords     map[Keyword]string
	Capabilities Capabilities
}

// QuoteIdent quotes a single identifier, doubling embedded quote characters.
func (d *Dialect) QuoteIdent(name string) string {
	q := string(d.Quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// Bind returns the placeholder for the n-th (1-based) parameter.
func (d *Dialect) Bind(n int) string {
	if d.Placeholder == Indexed {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Keyword returns the text for a portable keyword.
func (d *Dialect) Keyword(k Keyword) (string, bool) {
	s, ok := d.Keywords[k]
	return s, ok
}

// SupportsIsolation reports whether the backend accepts the level.
func (d *Dialect) SupportsIsolation(l IsolationLevel) bool {
	return l == IsolationDefault || slices.Contains(d.Capabilities.Isolations, l)
}

// Resolve maps IsolationDefault to the level the backend will use, or reports
// an UnsupportedFeatureError.
func (d *Dialect) Resolve(l IsolationLevel) (IsolationLevel, error) {
	if !d.SupportsIsolation(l) {
		return l, &persist.UnsupportedFeatureError{Dialect: d.Name, Feature: "isolation level " + l.String()}
	}
	if l == IsolationDefault && slices.Contains(d.Capabilities.Isolations, ReadCommitted) {
		return ReadCommitted, nil
	}
	return l, nil
}

var standardKeywords = map[Keyword]string{
	KeywordTrue:             "TRUE",
	KeywordFalse:            "FALSE",
	KeywordNull:             "NULL",
	KeywordCurrentTimestamp: "CURRENT_TIMESTAMP",
	KeywordDefault:          "DEFAULT",
}

var dialects = map[string]*Dialect{
	Postgres: {
		Name:        Postgres,
		Placeholder: Indexed,
		Quote:       '"',
		Keywords:    standardKeywords,
		Capabilities: Capabilities{
			Savepoints: true,
			Returning:  true,
			ReadOnly:   true,
			Isolations: []IsolationLevel{ReadUncommitted, ReadCommitted, RepeatableRead, Serializable},
		},
	},
	MySQL: {
		Name:        MySQL,
		Placeholder: Anonymous,
		Quote:       '`',
		Keywords:    standardKeywords,
		Capabilities: Capabilities{
			Savepoints: true,
			ReadOnly:   true,
			Isolations: []IsolationLevel{ReadUncommitted, ReadCommitted, RepeatableRead, Serializable},
		},
	},
	SQLite: {
		Name:        SQLite,
		Placeholder: Anonymous,
		Quote:       '"',
		Keywords: map[Keyword]string{
			KeywordTrue:             "1",
			KeywordFalse:            "0",
			KeywordNull:             "NULL",
			KeywordCurrentTimestamp: "CURRENT_TIMESTAMP",
		},
		Capabilities: Capabilities{
			Savepoints: true,
			Returning:  true,
			Isolations: []IsolationLevel{Serializable},
		},
	},
}

var aliases = map[string]string{
	"postgresql": Postgres,
	"pgx":        Postgres,
	"sqlite3":    SQLite,
	"mariadb":    MySQL,
}

// Lookup returns the dialect registered for a backend or driver name.
func Lookup(name string) (*Dialect, error) {
	n := strings.ToLower(name)
	if a, ok := aliases[n]; ok {
		n = a
	}
	if d, ok := dialects[n]; ok {
		return d, nil
	}
	return nil, &persist.UnsupportedFeatureError{Dialect: name, Feature: "backend"}
}

// MustLookup is like Lookup but panics for unknown names.
func MustLookup(name string) *Dialect {
	d, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}
