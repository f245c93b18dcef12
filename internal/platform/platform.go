package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/dwizi/boost-runtime/internal/quota"
)

// ErrNoExecutor signals that no execution client is wired in. Treated as a
// fatal execution failure: retrying cannot help until the process restarts
// with a configured client.
var ErrNoExecutor = errors.New("execution client not configured")

type ErrorClass string

const (
	ErrorThrottled     ErrorClass = "throttled"
	ErrorUnauthorized  ErrorClass = "unauthorized"
	ErrorInvalidTarget ErrorClass = "invalid_target"
	ErrorTransient     ErrorClass = "transient"
)

// Error is the classified failure surface every execution client must map
// its wire-level errors onto.
type Error struct {
	Class   ErrorClass
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func NewError(class ErrorClass, message string) *Error {
	return &Error{Class: class, Message: message}
}

// Classify maps an execution error onto the taxonomy. Unknown errors count
// as transient so they go through the bounded retry path instead of being
// dropped.
func Classify(err error) ErrorClass {
	var platformErr *Error
	if errors.As(err, &platformErr) {
		return platformErr.Class
	}
	return ErrorTransient
}

// IsFatal reports whether the failure should never be retried.
func IsFatal(err error) bool {
	if errors.Is(err, ErrNoExecutor) {
		return true
	}
	return Classify(err) == ErrorInvalidTarget
}

type AccountInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// AccountSource lists the currently connected agent accounts.
type AccountSource interface {
	ListActiveAccounts(ctx context.Context) ([]AccountInfo, error)
}

// ContentSource supplies candidate content item IDs to act on.
type ContentSource interface {
	ListCandidates(ctx context.Context, limit int) ([]string, error)
}

// Executor performs one action against the remote platform. Network timeouts
// are its responsibility; the engine only classifies what comes back.
type Executor interface {
	Execute(ctx context.Context, accountID string, kind quota.Kind, contentID, payload string) error
}
