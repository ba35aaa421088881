package relay

import (
	"errors"
	"fmt"

	"github.com/danmuck/tendyrelay/internal/protocol/wire"
)

var (
	ErrSinkDelivery      = errors.New("relay: sink delivery failed")
	ErrDeliveryTimeout   = errors.New("relay: delivery timed out")
	ErrSinkClosed        = errors.New("relay: sink closed")
	ErrMalformedInbound  = errors.New("relay: malformed inbound message")
	ErrInvalidTransition = errors.New("relay: invalid state transition")
	ErrInvalidConfig     = errors.New("relay: invalid config")
)

// DeliveryError records which frame the sink refused. It matches both
// ErrSinkDelivery and the underlying cause under errors.Is.
type DeliveryError struct {
	Seq  uint64
	Kind wire.Kind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("relay: deliver %s frame seq=%d: %v", e.Kind, e.Seq, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrSinkDelivery, e.Err}
}
