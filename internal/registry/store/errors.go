package store

import "fmt"

// ConflictPairExists is the ConflictError code for a second conversation
// on the same user pair.
const ConflictPairExists = "pair_exists"

// NotFoundError indicates the resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
	Code    string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ServerError wraps a persistence failure.
type ServerError struct {
	Op  string
	Err error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }

// Fail wraps err as a ServerError for op, passing nil and already typed
// store errors through unchanged.
func Fail(op string, err error) error {
	switch err.(type) {
	case nil:
		return nil
	case *NotFoundError, *ValidationError, *ConflictError, *ServerError:
		return err
	}
	return &ServerError{Op: op, Err: err}
}
