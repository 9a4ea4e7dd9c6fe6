package persist

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("persist: entity not found")

	// ErrNoActiveTransaction is returned when a MANDATORY scope, or a write,
	// runs without a bound transaction context.
	ErrNoActiveTransaction = errors.New("persist: no active transaction")

	// ErrExistingTransaction is returned when a NEVER scope is entered while
	// a transaction context is bound.
	ErrExistingTransaction = errors.New("persist: existing transaction found")

	// ErrTxNotActive is returned when a statement is issued on a transaction
	// context that is suspended, committed or rolled back.
	ErrTxNotActive = errors.New("persist: transaction context is not active")

	// ErrTransactionTimeout is matched by TransactionTimeoutError.
	ErrTransactionTimeout = errors.New("persist: transaction timed out")

	// ErrUnsupportedFeature is matched by UnsupportedFeatureError.
	ErrUnsupportedFeature = errors.New("persist: unsupported feature")

	// ErrRegistrySealed is returned when registering after initialization completed.
	ErrRegistrySealed = errors.New("persist: registry is sealed")

	// ErrRegistryNotSealed is returned when a lookup precedes initialization completion.
	ErrRegistryNotSealed = errors.New("persist: registry is not initialized")

	// ErrDetachedEntity is matched by DetachedEntityError.
	ErrDetachedEntity = errors.New("persist: entity is detached")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("persist: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("persist: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// ConnectionError reports a failure to reach the database or to obtain a
// pooled connection.
type ConnectionError struct {
	Op  string
	Err error
}

// Error returns the error string.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("persist: connection error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError returns true if the error is a ConnectionError.
func IsConnectionError(err error) bool {
	var e *ConnectionError
	return errors.As(err, &e)
}

// DriverError wraps an opaque backend failure. The wrapped error is kept for
// logging but callers should only rely on the taxonomy types.
type DriverError struct {
	Op  string // exec, query, begin, commit, ...
	Err error
}

// Error returns the error string.
func (e *DriverError) Error() string {
	return fmt.Sprintf("persist: driver error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DriverError) Unwrap() error {
	return e.Err
}

// IsDriverError returns true if the error is a DriverError.
func IsDriverError(err error) bool {
	var e *DriverError
	return errors.As(err, &e)
}

// DeserializationError is returned when a row value cannot be converted to
// (or from) the field it maps to.
type DeserializationError struct {
	Entity string
	Column string
	Err    error
}

// Error returns the error string.
func (e *DeserializationError) Error() string {
	return fmt.Sprintf("persist: cannot deserialize %s.%s: %v", e.Entity, e.Column, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// IsDeserializationError returns true if the error is a DeserializationError.
func IsDeserializationError(err error) bool {
	var e *DeserializationError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("persist: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is any kind of constraint error.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e) || IsUniqueConstraintError(err) || IsForeignKeyConstraintError(err)
}

// UniqueConstraintError is returned when a write violates a unique index.
type UniqueConstraintError struct {
	Constraint string // may be empty when the backend does not report it
	Err        error
}

// Error returns the error string.
func (e *UniqueConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("persist: unique constraint %q violated", e.Constraint)
	}
	return "persist: unique constraint violated"
}

// Unwrap returns the underlying error.
func (e *UniqueConstraintError) Unwrap() error {
	return e.Err
}

// IsUniqueConstraintError returns true if the error is a UniqueConstraintError.
func IsUniqueConstraintError(err error) bool {
	var e *UniqueConstraintError
	return errors.As(err, &e)
}

// ForeignKeyConstraintError is returned when a write violates a foreign key.
type ForeignKeyConstraintError struct {
	Constraint string
	Err        error
}

// Error returns the error string.
func (e *ForeignKeyConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("persist: foreign key constraint %q violated", e.Constraint)
	}
	return "persist: foreign key constraint violated"
}

// Unwrap returns the underlying error.
func (e *ForeignKeyConstraintError) Unwrap() error {
	return e.Err
}

// IsForeignKeyConstraintError returns true if the error is a ForeignKeyConstraintError.
func IsForeignKeyConstraintError(err error) bool {
	var e *ForeignKeyConstraintError
	return errors.As(err, &e)
}

// NoActiveTransactionError is returned by MANDATORY scopes and by writes
// issued outside of any transaction.
type NoActiveTransactionError struct {
	Op string
}

// Error returns the error string.
func (e *NoActiveTransactionError) Error() string {
	return fmt.Sprintf("persist: %s requires an active transaction", e.Op)
}

// Is reports whether the target matches ErrNoActiveTransaction.
func (e *NoActiveTransactionError) Is(err error) bool {
	return err == ErrNoActiveTransaction
}

// ExistingTransactionError is returned by NEVER scopes entered inside a transaction.
type ExistingTransactionError struct {
	Op string
}

// Error returns the error string.
func (e *ExistingTransactionError) Error() string {
	return fmt.Sprintf("persist: %s must not run inside a transaction", e.Op)
}

// Is reports whether the target matches ErrExistingTransaction.
func (e *ExistingTransactionError) Is(err error) bool {
	return err == ErrExistingTransaction
}

// UnsupportedFeatureError names a capability the backend lacks, such as
// savepoints or a requested isolation level.
type UnsupportedFeatureError struct {
	Dialect string
	Feature string
}

// Error returns the error string.
func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("persist: %s does not support %s", e.Dialect, e.Feature)
}

// Is reports whether the target matches ErrUnsupportedFeature.
func (e *UnsupportedFeatureError) Is(err error) bool {
	return err == ErrUnsupportedFeature
}

// TransactionTimeoutError is returned when a transaction outlives its timeout.
// It supersedes any other result of the scope.
type TransactionTimeoutError struct {
	Timeout time.Duration
	Elapsed time.Duration
	Err     error // the result the scope would otherwise have returned
}

// Error returns the error string.
func (e *TransactionTimeoutError) Error() string {
	return fmt.Sprintf("persist: transaction exceeded timeout %s (elapsed %s)", e.Timeout, e.Elapsed.Round(time.Millisecond))
}

// Unwrap returns the superseded error, if any.
func (e *TransactionTimeoutError) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches ErrTransactionTimeout.
func (e *TransactionTimeoutError) Is(err error) bool {
	return err == ErrTransactionTimeout
}

// IsTransactionTimeout returns true if the error is a TransactionTimeoutError.
func IsTransactionTimeout(err error) bool {
	var e *TransactionTimeoutError
	return errors.As(err, &e)
}

// DuplicateRegistrationError is returned when an entity type is registered twice.
type DuplicateRegistrationError struct {
	Entity string
}

// Error returns the error string.
func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("persist: entity %q is already registered", e.Entity)
}

// UnknownEntityError is returned when a type has no registered descriptor.
type UnknownEntityError struct {
	Entity string
}

// Error returns the error string.
func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("persist: unknown entity %q", e.Entity)
}

// IsUnknownEntity returns true if the error is an UnknownEntityError.
func IsUnknownEntity(err error) bool {
	var e *UnknownEntityError
	return errors.As(err, &e)
}

// DetachedEntityError is returned when a lazy relation is resolved from a
// call chain that does not own the unit of work that loaded the entity, or
// after that unit of work ended.
type DetachedEntityError struct {
	Entity   string
	Relation string
}

// Error returns the error string.
func (e *DetachedEntityError) Error() string {
	return fmt.Sprintf("persist: cannot load %s.%s: entity is detached from its unit of work", e.Entity, e.Relation)
}

// Is reports whether the target matches ErrDetachedEntity.
func (e *DetachedEntityError) Is(err error) bool {
	return err == ErrDetachedEntity
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("persist: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "persist: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("persist: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// MutationError wraps a flush failure with the entity and operation that failed.
type MutationError struct {
	Entity string // Entity type being mutated
	Op     string // Operation (e.g., "insert", "update", "delete")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("persist: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: err}
}
