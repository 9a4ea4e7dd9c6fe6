package schema

import (
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NamingStrategy maps a Go field name to a column name. It is applied while
// descriptors are built, never at query time.
type NamingStrategy func(field string) string

var (
	rules = ruleset()
	lower = cases.Lower(language.Und)
)

func ruleset() *inflect.Ruleset {
	rules := inflect.NewDefaultRuleset()
	for _, w := range []string{"ID", "UUID", "URL", "API", "HTTP", "JSON", "SQL"} {
		rules.AddAcronym(w)
	}
	return rules
}

// SnakeCase is the default naming strategy: "UserID" becomes "user_id" and
// "HTTPServer" becomes "http_server".
func SnakeCase(s string) string {
	var (
		j  int
		b  strings.Builder
		rs = []rune(s)
	)
	for i, r := range rs {
		// Put '_' if it is not a start or end of a word, current letter is uppercase,
		// and previous is lowercase (cases like: "UserInfo"), or next letter is also
		// a lowercase and previous letter is not "_".
		if i > 0 && i < len(rs)-1 && unicode.IsUpper(r) {
			if unicode.IsLower(rs[i-1]) ||
				j != i-1 && unicode.IsLower(rs[i+1]) && unicode.IsLetter(rs[i-1]) {
				j = i
				b.WriteString("_")
			}
		}
		b.WriteRune(r)
	}
	return lower.String(b.String())
}

// Verbatim keeps field names unchanged.
func Verbatim(s string) string { return s }

// TableName returns the default table name of an entity type name: the
// pluralized snake case form ("BlogPost" becomes "blog_posts").
func TableName(typeName string) string {
	return rules.Pluralize(SnakeCase(typeName))
}
