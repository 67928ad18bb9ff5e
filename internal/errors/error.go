package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind categorizes an error. Kind implements error so it can be used as the
// target of errors.Is.
type Kind string

const (
	KindNotReady           Kind = "not_ready"
	KindDisposed           Kind = "disposed"
	KindTimeout            Kind = "timeout"
	KindCommunication      Kind = "communication"
	KindMissingChunk       Kind = "missing_chunk"
	KindIncompleteTransfer Kind = "incomplete_transfer"
	KindChecksumMismatch   Kind = "checksum_mismatch"
	KindInvalidChunk       Kind = "invalid_chunk"
	KindInvalidEnvelope    Kind = "invalid_envelope"
	KindUnsupported        Kind = "unsupported"
	KindConfig             Kind = "config"
)

// Error implements the error interface.
func (k Kind) Error() string {
	return "enginebridge: " + string(k)
}

// Retryable reports whether a caller may reasonably retry an operation that
// failed with this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindNotReady, KindTimeout, KindMissingChunk, KindIncompleteTransfer:
		return true
	}
	return false
}

// Error is the structured error type used throughout the engine bridge.
type Error struct {
	// Code is the registry identifier (e.g. "EB010").
	Code string

	// Kind is the error category.
	Kind Kind

	// Message is a short description.
	Message string

	// Detail is a longer explanation.
	Detail string

	// Target and Method identify the logical message endpoint involved.
	Target string
	Method string

	// EngineType names the embedded engine (unity, unreal, ...).
	EngineType string

	// Suggestion is a hint on how to recover.
	Suggestion string

	// Wrapped is the underlying cause, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)

	var ctx []string
	if e.Target != "" {
		ctx = append(ctx, "target="+e.Target)
	}
	if e.Method != "" {
		ctx = append(ctx, "method="+e.Method)
	}
	if e.EngineType != "" {
		ctx = append(ctx, "engine="+e.EngineType)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches a Kind target against the error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// WithCall records the target and method the error concerns.
func (e *Error) WithCall(target, method string) *Error {
	e.Target = target
	e.Method = method
	return e
}

// WithEngine records the engine type.
func (e *Error) WithEngine(engineType string) *Error {
	e.EngineType = engineType
	return e
}

// WithDetail adds a detailed explanation.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// Detailf adds a formatted explanation.
func (e *Error) Detailf(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithSuggestion adds a recovery hint.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// Wrap records the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// New creates an Error from a registered code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &Error{
		Code:       code,
		Kind:       template.Kind,
		Message:    template.Message,
		Suggestion: template.Suggestion,
	}
}

// Newf creates an Error with a formatted message and no registry code.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// As returns err as an *Error if it is one or wraps one.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	if k, ok := err.(Kind); ok {
		return k
	}
	return ""
}

// Is reports whether any error in err's chain matches target. It forwards to
// the standard library so callers need a single errors import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
