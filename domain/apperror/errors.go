// Package apperror holds the error taxonomy shared by adapters, use cases and tasks.
package apperror

import (
	"errors"
	"fmt"

	"post-mirror/domain/model"
)

// TransientPlatformError is a retryable platform failure (rate limit, timeout).
type TransientPlatformError struct {
	Platform model.PlatformID
	Err      error
}

func (e *TransientPlatformError) Error() string {
	return fmt.Sprintf("transient %s error: %v", e.Platform, e.Err)
}

func (e *TransientPlatformError) Unwrap() error { return e.Err }

// FatalPlatformError is a permanent platform failure (bad credentials, rejected payload).
type FatalPlatformError struct {
	Platform model.PlatformID
	Err      error
}

func (e *FatalPlatformError) Error() string {
	return fmt.Sprintf("fatal %s error: %v", e.Platform, e.Err)
}

func (e *FatalPlatformError) Unwrap() error { return e.Err }

// ParseError is a failure of the external semantic parser.
type ParseError struct {
	PostID string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse post %s: %v", e.PostID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// AuthorizationError rejects an action by a user who does not own the resource.
type AuthorizationError struct {
	UserID   string
	Resource string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not authorized on %s", e.UserID, e.Resource)
}

// NotFoundError reports a missing document.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func Transient(platform model.PlatformID, err error) error {
	return &TransientPlatformError{Platform: platform, Err: err}
}

func Fatal(platform model.PlatformID, err error) error {
	return &FatalPlatformError{Platform: platform, Err: err}
}

func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func IsTransient(err error) bool {
	var target *TransientPlatformError
	return errors.As(err, &target)
}

func IsFatal(err error) bool {
	var target *FatalPlatformError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

// ErrUnsupported is wrapped by adapters for operations a platform does not offer.
var ErrUnsupported = errors.New("operation not supported by platform")
