// Package errors defines the error taxonomy shared by every capport
// component. Errors carry a Kind, the path of the stage or component that
// raised them, and optionally the record in process when they occurred.
package errors

import (
	"fmt"
)

// Kind classifies an error for propagation policy decisions. The sync
// runner aborts on the first error of any kind; the async runner reports
// the kind per stage and keeps the rest of the graph running.
type Kind string

const (
	ConfigParse     Kind = "CONFIG_PARSE"
	ConfigValidate  Kind = "CONFIG_VALIDATE"
	SchemaMissing   Kind = "SCHEMA_MISSING"
	SchemaType      Kind = "SCHEMA_TYPE"
	SchemaDup       Kind = "SCHEMA_DUP"
	Coercion        Kind = "COERCION"
	TemplateArity   Kind = "TEMPLATE_ARITY"
	SourceFail      Kind = "SOURCE_FAIL"
	SinkFail        Kind = "SINK_FAIL"
	Timeout         Kind = "TIMEOUT"
	Cancelled       Kind = "CANCELLED"
	ModelValidation Kind = "MODEL_VALIDATION"
	Unknown         Kind = "UNKNOWN"
)

// Error is an error that happened while loading configuration or running a
// stage. Errors include the Kind used by the runner's propagation policy, a
// Path locating the failing stage or component, and a reference to the
// Record that was in process when the error occurred.
type Error struct {
	Kind   Kind
	Path   string
	Str    string
	Record interface{}
	Err    error
}

// New creates an Error with the specified kind, path and message.
func New(kind Kind, path, format string, args ...interface{}) Error {
	return Error{Kind: kind, Path: path, Str: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error carrying an underlying cause.
func Wrap(kind Kind, path string, err error) Error {
	if err == nil {
		return Error{Kind: kind, Path: path}
	}
	return Error{Kind: kind, Path: path, Str: err.Error(), Err: err}
}

// WithRecord attaches the in-process record to the error.
func (e Error) WithRecord(record interface{}) Error {
	e.Record = record
	return e
}

// Error returns the error as a string
func (e Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Kind, e.Path, e.Str)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Str)
}

// Unwrap returns the underlying cause, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// KindOf walks the error chain and returns the Kind of the first capport
// Error found, or Unknown.
func KindOf(err error) Kind {
	for err != nil {
		if ce, ok := err.(Error); ok {
			return ce.Kind
		}
		if ce, ok := err.(*Error); ok {
			return ce.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return Unknown
		}
		err = u.Unwrap()
	}
	return Unknown
}

// Is reports whether the error chain contains a capport Error of the given
// kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
