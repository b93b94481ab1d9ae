package votes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidArgument is returned for malformed requests, such as a vote
	// value outside of -1, 0 and 1.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthenticated is returned when no user is attached to a request.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound is returned when the voted item does not exist.
	ErrNotFound = errors.New("item not found")

	// ErrLockTimeout is returned when the item lock could not be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for item lock")

	// ErrStaleVote is returned by stores when a vote record changed between
	// the read and the write of a VoteChange.
	ErrStaleVote = errors.New("vote changed concurrently")
)

// ErrorResponder is implemented by errors that know which HTTP response
// they translate to.
type ErrorResponder interface {
	RespondError(w http.ResponseWriter, r *http.Request) bool
}

// A TransientError wraps a failure of the storage layer or of a bounded wait
// inside the critical section. Nothing was committed, so the whole vote can be
// retried.
type TransientError struct {
	Op  string
	Err error
}

func Transient(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) RespondError(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Retry-After", "1")
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	return true
}

// IsTransient reports whether err can be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// UnauthorizedError responds with unauthorized status code.
type UnauthorizedError struct {
	path string
}

func Unauthorized(path string) *UnauthorizedError {
	return &UnauthorizedError{path: path}
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("UnauthorizedError: %v", e.path)
}

func (e *UnauthorizedError) Unwrap() error {
	return ErrUnauthenticated
}

func (e *UnauthorizedError) RespondError(w http.ResponseWriter, r *http.Request) bool {
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	return true
}

// BadRequestError responds with bad request status code
type BadRequestError struct {
	err error
}

func BadRequest(err error) *BadRequestError {
	return &BadRequestError{err: err}
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("BadRequestError: %v", e.err)
}

func (e *BadRequestError) Unwrap() error {
	return e.err
}

func (e *BadRequestError) RespondError(w http.ResponseWriter, r *http.Request) bool {
	http.Error(w, e.err.Error(), http.StatusBadRequest)
	return true
}

// respondError writes the HTTP response matching err. Errors that don't
// implement ErrorResponder are mapped through the sentinel errors of this package.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var responder ErrorResponder
	if errors.As(err, &responder) && responder.RespondError(w, r) {
		return
	}

	switch {
	case errors.Is(err, ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnauthenticated):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		// client went away, nobody is reading
		w.WriteHeader(499)
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
