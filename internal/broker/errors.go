package broker

import (
	"errors"
	"fmt"
)

// Sentinel errors for the connector layer. Callers match with errors.Is;
// broker-side rejections carry code and description via OrderError.
var (
	ErrAuthentication = errors.New("broker: authentication failed")
	ErrConnection     = errors.New("broker: connection down")
	ErrTimeout        = errors.New("broker: request timed out")
	ErrRateLimit      = errors.New("broker: rate limit exceeded")
	ErrSymbolNotFound = errors.New("broker: symbol not found")
	ErrShutdown       = errors.New("broker: shutting down")
)

// OrderError is a broker-side order rejection with the protocol error code.
type OrderError struct {
	Code string
	Desc string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("broker: order rejected: %s (%s)", e.Code, e.Desc)
}
