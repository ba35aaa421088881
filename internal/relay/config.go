package relay

import (
	"fmt"
	"time"

	"github.com/danmuck/tendyrelay/internal/protocol/wire"
	"github.com/danmuck/tendyrelay/internal/tendies"
)

const (
	DefaultChunkSize       = 16384
	DefaultEndpoint        = 1
	DefaultCompleteMessage = "Process finished"
	DefaultSuccessStatus   = "Wallpaper applied"
	ErrorStatusPrefix      = "Error: "
)

// ApplyCommand is the fixed control request that ends a successful transfer.
func ApplyCommand() wire.ControlCommand {
	return wire.ControlCommand{
		RequestType: wire.RequestVendor,
		Recipient:   wire.RecipientDevice,
		Request:     0x40,
		Value:       0x01,
		Index:       0,
	}
}

// Config holds the per-session protocol parameters.
type Config struct {
	ChunkSize       int
	Endpoint        int
	Decode          tendies.DecodeOptions
	Control         wire.ControlCommand
	EmitComplete    bool
	CompleteMessage string
	SuccessStatus   string
	// DeliveryTimeout bounds each Send. Zero disables the per-frame bound.
	DeliveryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:       DefaultChunkSize,
		Endpoint:        DefaultEndpoint,
		Decode:          tendies.DefaultDecodeOptions(),
		Control:         ApplyCommand(),
		EmitComplete:    true,
		CompleteMessage: DefaultCompleteMessage,
		SuccessStatus:   DefaultSuccessStatus,
		DeliveryTimeout: 15 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be > 0, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Endpoint < 0 || c.Endpoint > wire.MaxEndpoint {
		return fmt.Errorf("%w: endpoint must be within 0..%d, got %d", ErrInvalidConfig, wire.MaxEndpoint, c.Endpoint)
	}
	if err := c.Control.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.DeliveryTimeout < 0 {
		return fmt.Errorf("%w: delivery_timeout must be >= 0", ErrInvalidConfig)
	}
	if c.SuccessStatus == "" {
		return fmt.Errorf("%w: success status must not be empty", ErrInvalidConfig)
	}
	return nil
}
