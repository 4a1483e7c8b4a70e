package classify

import "fmt"

// ErrorKind categorizes classification failures for the caller.
type ErrorKind string

const (
	// KindValidation: the service answered but the response failed schema
	// validation. Never retried; no ticket is created.
	KindValidation ErrorKind = "validation"
	// KindExhausted: transient failures persisted through every retry.
	// Treated as a skip, not a crash.
	KindExhausted ErrorKind = "retries-exhausted"
	// KindOverloaded: the classification queue was full and the request was
	// shed rather than accepted unboundedly.
	KindOverloaded ErrorKind = "overloaded"
	// KindCanceled: the pipeline deadline expired mid-classification.
	KindCanceled ErrorKind = "canceled"
)

// Error is a typed classification failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Raw  string // raw service response, kept for diagnosis on validation failures
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("classification %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable: validation failures and shed requests never succeed on retry
// within a run; the retry loop has already run for exhausted transients.
func (e *Error) Retryable() bool { return false }

func validationError(msg, raw string) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Raw: raw}
}

// IsKind reports whether err is a classification Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	cerr, ok := err.(*Error)
	return ok && cerr.Kind == kind
}
