package xerrors

import (
	"errors"
	iofs "io/fs"
	"os"
)

// Kind classifies blobsvc errors.
type Kind int

const (
	KindInvalid Kind = iota
	KindMalformedURI
	KindInvalidEncoding
	KindNotFound
	KindStorage
)

// Error wraps an underlying error with the operation and blob id it concerns.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Kind.String()
	if e.Op != "" {
		base = e.Op + ": " + base
	}
	if e.ID != "" {
		base += " " + e.ID
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same kind, so callers can
// write errors.Is(err, xerrors.ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.ID == "" && t.Err == nil && t.Kind == e.Kind
}

func (k Kind) String() string {
	switch k {
	case KindMalformedURI:
		return "malformed data uri"
	case KindInvalidEncoding:
		return "invalid encoding"
	case KindNotFound:
		return "not found"
	case KindStorage:
		return "storage error"
	default:
		return "invalid"
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalid         = &Error{Kind: KindInvalid}
	ErrMalformedURI    = &Error{Kind: KindMalformedURI}
	ErrInvalidEncoding = &Error{Kind: KindInvalidEncoding}
	ErrNotFound        = &Error{Kind: KindNotFound}
)

// Wrap annotates err with the given metadata. If err is nil, Wrap returns nil.
func Wrap(kind Kind, op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// E creates a new error with the provided metadata (no underlying error).
func E(kind Kind, op, id string) error {
	return &Error{Kind: kind, Op: op, ID: id}
}

// KindOf extracts the Kind from err, walking wrapped errors as needed.
// Errors that carry no kind are reported as KindStorage.
func KindOf(err error) Kind {
	if err == nil {
		return KindInvalid
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, iofs.ErrNotExist),
		errors.Is(err, os.ErrNotExist):
		return KindNotFound
	case errors.Is(err, iofs.ErrInvalid):
		return KindInvalid
	default:
		return KindStorage
	}
}

// IsNotFound reports whether err classifies as KindNotFound.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}
