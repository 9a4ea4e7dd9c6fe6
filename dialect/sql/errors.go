package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/syssam/persist"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgConstraintClass     = "23"
	pgConnectionClass     = "08"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry   = 1062
	mysqlForeignKeyParent = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild  = 1452 // Cannot add or update a child row
	mysqlBadNull          = 1048 // Column cannot be null
	mysqlCheckViolated    = 3819
)

type constraintKind uint8

const (
	noConstraint constraintKind = iota
	uniqueConstraint
	foreignKeyConstraint
	otherConstraint // NOT NULL, CHECK, exclusion
)

// mapError converts a database/sql or driver error into the persist error
// taxonomy. Context errors pass through unchanged.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sql.ErrTxDone):
		return errors.Join(persist.ErrTxNotActive, err)
	case isConnectionError(err):
		return &persist.ConnectionError{Op: op, Err: err}
	}
	switch kind, name := classify(err); kind {
	case uniqueConstraint:
		return &persist.UniqueConstraintError{Constraint: name, Err: err}
	case foreignKeyConstraint:
		return &persist.ForeignKeyConstraintError{Constraint: name, Err: err}
	case otherConstraint:
		return persist.NewConstraintError(err.Error(), err)
	}
	return &persist.DriverError{Op: op, Err: err}
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	if e, ok := asError[*pgconn.PgError](err); ok {
		return strings.HasPrefix(e.Code, pgConnectionClass)
	}
	if e, ok := asError[*pq.Error](err); ok {
		return strings.HasPrefix(string(e.Code), pgConnectionClass)
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// classify reports the constraint kind and, when available, the constraint name.
func classify(err error) (constraintKind, string) {
	if e, ok := asError[*pgconn.PgError](err); ok {
		switch e.Code {
		case pgUniqueViolation:
			return uniqueConstraint, e.ConstraintName
		case pgForeignKeyViolation:
			return foreignKeyConstraint, e.ConstraintName
		}
		if strings.HasPrefix(e.Code, pgConstraintClass) {
			return otherConstraint, e.ConstraintName
		}
		return noConstraint, ""
	}
	if e, ok := asError[*pq.Error](err); ok {
		switch e.Code {
		case pgUniqueViolation:
			return uniqueConstraint, e.Constraint
		case pgForeignKeyViolation:
			return foreignKeyConstraint, e.Constraint
		}
		if strings.HasPrefix(string(e.Code), pgConstraintClass) {
			return otherConstraint, e.Constraint
		}
		return noConstraint, ""
	}
	if e, ok := asError[*mysql.MySQLError](err); ok {
		switch e.Number {
		case mysqlDuplicateEntry:
			return uniqueConstraint, mysqlKeyName(e.Message)
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return foreignKeyConstraint, mysqlFKName(e.Message)
		case mysqlBadNull, mysqlCheckViolated:
			return otherConstraint, ""
		}
		return noConstraint, ""
	}
	if e, ok := asError[*sqlite.Error](err); ok {
		switch e.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return uniqueConstraint, sqliteConstraintName(e.Error())
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return foreignKeyConstraint, ""
		}
		if e.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return otherConstraint, ""
		}
		return noConstraint, ""
	}
	// Fallback to string matching for drivers that don't expose typed errors.
	msg := err.Error()
	switch {
	case containsAny(msg, "Error 1062", "Duplicate entry"):
		return uniqueConstraint, mysqlKeyName(msg)
	case containsAny(msg, "violates unique constraint"):
		return uniqueConstraint, quotedName(msg)
	case containsAny(msg, "UNIQUE constraint failed"):
		return uniqueConstraint, sqliteConstraintName(msg)
	case containsAny(msg, "Error 1451", "Error 1452"):
		return foreignKeyConstraint, mysqlFKName(msg)
	case containsAny(msg, "violates foreign key constraint"):
		return foreignKeyConstraint, quotedName(msg)
	case containsAny(msg, "FOREIGN KEY constraint failed"):
		return foreignKeyConstraint, ""
	case containsAny(msg, "NOT NULL constraint failed", "CHECK constraint failed", "violates not-null constraint", "violates check constraint"):
		return otherConstraint, quotedName(msg)
	}
	return noConstraint, ""
}

var (
	mysqlKeyRe    = regexp.MustCompile(`for key '([^']+)'`)
	mysqlFKRe     = regexp.MustCompile("CONSTRAINT `([^`]+)`")
	quotedRe      = regexp.MustCompile(`constraint "([^"]+)"`)
	sqliteUniqRe  = regexp.MustCompile(`UNIQUE constraint failed: ([^\s(]+)`)
	lastSegmentFn = func(s string) string {
		if i := strings.LastIndexByte(s, '.'); i >= 0 && i < len(s)-1 {
			return s[i+1:]
		}
		return s
	}
)

// mysqlKeyName extracts the key name from "Duplicate entry 'x' for key 'users.email'".
func mysqlKeyName(msg string) string {
	if m := mysqlKeyRe.FindStringSubmatch(msg); m != nil {
		return lastSegmentFn(m[1])
	}
	return ""
}

func mysqlFKName(msg string) string {
	if m := mysqlFKRe.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

func quotedName(msg string) string {
	if m := quotedRe.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

// sqliteConstraintName returns "users.email" for "UNIQUE constraint failed: users.email".
func sqliteConstraintName(msg string) string {
	if m := sqliteUniqRe.FindStringSubmatch(msg); m != nil {
		return strings.TrimSuffix(m[1], ",")
	}
	return ""
}

// asError attempts to extract an error of type T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
