package broker

import (
	"errors"
	"time"
)

// Broker error taxonomy from the error handling design. Adapters convert
// venue-specific errors into one of these and wrap with fmt.Errorf("...: %w").
var (
	ErrAuthenticationFailed = errors.New("broker: authentication failed")
	ErrOrderRejected        = errors.New("broker: order rejected")
	ErrInsufficientFunds    = errors.New("broker: insufficient funds")
	ErrConnectionLost       = errors.New("broker: connection lost")
	ErrSymbolNotFound       = errors.New("broker: symbol not found")
	ErrDataUnavailable      = errors.New("broker: data unavailable")

	// Simulated-broker / engine errors.
	ErrNoPriceData             = errors.New("broker: no price data")
	ErrPositionShort            = errors.New("broker: position short")
	ErrInvalidOrderParameters   = errors.New("broker: invalid order parameters")
	ErrOrderNotFound            = errors.New("broker: order not found")
)

// RateLimitedError carries the retry-after duration a caller should wait
// before retrying, per the taxonomy's "RateLimited (with retry-after)" entry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return "broker: rate limited, retry after " + e.RetryAfter.String()
}
