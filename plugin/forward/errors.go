package forward

import (
	"errors"

	"go.uber.org/zap"
)

// Error kinds this package raises or wraps. Malformed queries never
// reach Forward at all — the dispatcher rejects them before the chain
// runs.
var (
	ErrTimeout          = errors.New("forward: upstream timeout")
	ErrTransport        = errors.New("forward: transport error")
	ErrTLS              = errors.New("forward: tls error")
	ErrUpstreamProtocol = errors.New("forward: non-compliant upstream response")
	ErrCapacity         = errors.New("forward: admission capacity exceeded")
	ErrAllExhausted     = errors.New("forward: all endpoints and groups exhausted")
)

func zapErr(err error) zap.Field   { return zap.Error(err) }
func zapAddr(addr string) zap.Field { return zap.String("upstream", addr) }
