package chat

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotAuthenticated is returned when an operation is attempted without a
// viewer identity. Transports should treat it as a redirect to login.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrValidation is the cause of every local precondition failure. These are
// raised before any gateway call.
var ErrValidation = errors.New("validation failed")

// GatewayError reports a failed persistence, realtime or blob store call. It is
// never retried by this package.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// GatewayFailure wraps err from a collaborator call made outside this package
// and counts it.
func GatewayFailure(op string, err error) error {
	return gatewayFailure(op, err)
}

func gatewayFailure(op string, err error) error {
	gatewayFailures.WithLabelValues(op).Inc()
	return &GatewayError{Op: op, Err: err}
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// IsGatewayFailure reports whether err came from a collaborator call.
func IsGatewayFailure(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr)
}

// IsValidation reports whether err is a local precondition failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
