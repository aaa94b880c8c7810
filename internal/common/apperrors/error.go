// Package apperrors provides the error type used across the SDK. It extends
// the standard error interface with message derivation, wrapping of secondary
// errors, and an HTTP status code, while remaining compatible with errors.Is
// and errors.As.
package apperrors

// Error is the interface implemented by all SDK errors. Derivation methods
// return a new Error so sentinel errors can act as templates: a derived error
// matches its template under errors.Is.
type Error interface {
	error
	Unwrap() error

	New(msg string) Error                  // fresh error using current as template
	Msg(msg string) Error                  // new message, wraps the original
	MsgErr(msg string, err ...error) Error // new message, wraps original plus extra errors
	Err(err ...error) Error                // attaches additional errors
	SetStatusCode(int) Error               // associates an HTTP status code
	StatusCode() int
	UnwrapAll() []error // all wrapped errors
}
