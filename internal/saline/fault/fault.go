// Package fault defines the error taxonomy shared by the saline components.
//
// Callers branch on the category of a failure (reject vs. fall back vs.
// recover vs. surface), so each category is a distinct type matched with
// errors.As. Wrapping with fmt.Errorf("...: %w", err) preserves the category
// across package boundaries.
package fault

import (
	"errors"
	"fmt"
)

// ValidationError reports rejected user input, such as an invalid persona id.
// It is surfaced to the user with the reason and is never fatal.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing resource (session, persona, context file).
// Callers decide the fallback, e.g. substituting the default persona.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// CorruptDataError reports a persisted file that exists but cannot be parsed.
// It is recoverable: callers treat the resource as absent/empty and log a
// warning instead of failing the request.
type CorruptDataError struct {
	Path string
	Err  error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt data in %s: %v", e.Path, e.Err)
}

func (e *CorruptDataError) Unwrap() error { return e.Err }

// ProtectedResourceError reports an attempt to delete or rename a reserved
// resource, such as the default persona.
type ProtectedResourceError struct {
	Resource string
	ID       string
}

func (e *ProtectedResourceError) Error() string {
	return fmt.Sprintf("%s %q is protected and cannot be modified", e.Resource, e.ID)
}

// GatewayError reports a failed exchange with the LLM gateway: a transport
// failure, a non-2xx status, or an exhausted-retry empty response.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsCorruptData reports whether err is (or wraps) a CorruptDataError.
func IsCorruptData(err error) bool {
	var c *CorruptDataError
	return errors.As(err, &c)
}

// IsProtected reports whether err is (or wraps) a ProtectedResourceError.
func IsProtected(err error) bool {
	var p *ProtectedResourceError
	return errors.As(err, &p)
}

// IsGateway reports whether err is (or wraps) a GatewayError.
func IsGateway(err error) bool {
	var g *GatewayError
	return errors.As(err, &g)
}
