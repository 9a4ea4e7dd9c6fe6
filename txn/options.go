package txn

import (
	"fmt"
	"strings"
	"time"

	"github.com/syssam/persist/dialect"
)

// Propagation decides what a scope does with the transaction bound to the
// context it is entered with.
type Propagation uint8

// Propagation modes.
const (
	// Required joins the bound transaction or begins a new one.
	Required Propagation = iota
	// RequiresNew suspends the bound transaction, if any, and begins a new one.
	RequiresNew
	// Supports joins the bound transaction or runs without one.
	Supports
	// Mandatory joins the bound transaction and fails without one.
	Mandatory
	// Nested runs inside a savepoint of the bound transaction, or behaves
	// as Required without one.
	Nested
	// Never runs without a transaction and fails if one is bound.
	Never
	// NotSupported suspends the bound transaction, if any, and runs without one.
	NotSupported
)

var propagationNames = [...]string{
	Required:     "REQUIRED",
	RequiresNew:  "REQUIRES_NEW",
	Supports:     "SUPPORTS",
	Mandatory:    "MANDATORY",
	Nested:       "NESTED",
	Never:        "NEVER",
	NotSupported: "NOT_SUPPORTED",
}

// String returns the name of the mode.
func (p Propagation) String() string {
	if int(p) < len(propagationNames) {
		return propagationNames[p]
	}
	return fmt.Sprintf("Propagation(%d)", p)
}

// ParsePropagation parses names such as "requires_new" or "NESTED".
// The empty string yields Required.
func ParsePropagation(s string) (Propagation, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if norm == "" {
		return Required, nil
	}
	for p, name := range propagationNames {
		if name == norm {
			return Propagation(p), nil
		}
	}
	return Required, fmt.Errorf("txn: unknown propagation %q", s)
}

// Options configures a transactional scope. The zero value is a REQUIRED
// read-write scope at the backend's READ COMMITTED level with no timeout.
type Options struct {
	Isolation   dialect.IsolationLevel
	Propagation Propagation
	ReadOnly    bool
	// Timeout bounds the lifetime of a transaction begun by the scope.
	// It is ignored by scopes that join or run unbound.
	Timeout time.Duration
}

func (o Options) txOptions() dialect.TxOptions {
	return dialect.TxOptions{
		Isolation: o.Isolation,
		ReadOnly:  o.ReadOnly,
		Timeout:   o.Timeout,
	}
}
