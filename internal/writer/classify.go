package writer

import (
	"errors"
	"fmt"
)

// StatusError wraps an HTTP response status and body turbopuffer
// returned, so Target implementations can report transport-level
// outcomes uniformly to the classification table.
type StatusError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("turbopuffer: http %d: %s", e.Status, e.Body)
}

// ClassifyError maps an error returned by Target.Apply to a Class
// (spec.md 4.8's table). A *StatusError is classified by its HTTP
// status; anything else (connection reset, timeout, DNS failure) is
// treated as Transient, matching the table's "network reset" row.
func ClassifyError(err error) Class {
	var se *StatusError
	if errors.As(err, &se) {
		return ClassifyHTTPStatus(se.Status)
	}
	return ClassTransient
}

// ClassifyHTTPStatus maps a turbopuffer HTTP status code to a Class
// (spec.md 4.8).
func ClassifyHTTPStatus(status int) Class {
	switch {
	case status == 429 || status == 408 || status >= 500:
		return ClassTransient
	case status == 401 || status == 403 || status == 404:
		return ClassPermanent
	case status >= 400:
		return ClassValidation
	default:
		return ClassTransient
	}
}
