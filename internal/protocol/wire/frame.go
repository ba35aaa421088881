package wire

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidFrame = errors.New("wire: invalid frame")
	ErrMalformed    = errors.New("wire: malformed message")
	ErrUnknownCodec = errors.New("wire: unknown codec")
)

// Kind tags the frame variant.
type Kind string

const (
	KindFile     Kind = "file"
	KindTransfer Kind = "transfer"
	KindControl  Kind = "control"
	KindComplete Kind = "complete"
	KindStatus   Kind = "status"
)

type RequestType string

const (
	RequestVendor   RequestType = "vendor"
	RequestStandard RequestType = "standard"
	RequestClass    RequestType = "class"
)

type Recipient string

const (
	RecipientDevice    Recipient = "device"
	RecipientInterface Recipient = "interface"
	RecipientEndpoint  Recipient = "endpoint"
)

// MaxEndpoint is the largest USB endpoint address a transfer may target.
const MaxEndpoint = 0xFF

// DataChunk is one bulk-transfer segment.
type DataChunk struct {
	Endpoint int
	Data     []byte
}

// ControlCommand mirrors a USB control setup packet without the data stage.
type ControlCommand struct {
	RequestType RequestType
	Recipient   Recipient
	Request     uint8
	Value       uint16
	Index       uint16
}

func (c ControlCommand) Validate() error {
	switch c.RequestType {
	case RequestVendor, RequestStandard, RequestClass:
	default:
		return fmt.Errorf("%w: control request_type %q", ErrInvalidFrame, c.RequestType)
	}
	switch c.Recipient {
	case RecipientDevice, RecipientInterface, RecipientEndpoint:
	default:
		return fmt.Errorf("%w: control recipient %q", ErrInvalidFrame, c.Recipient)
	}
	return nil
}

// BmRequestType packs type and recipient into the host-to-device
// bmRequestType byte (bits 6..5 type, bits 4..0 recipient).
func (c ControlCommand) BmRequestType() uint8 {
	var typ, rcpt uint8
	switch c.RequestType {
	case RequestClass:
		typ = 1
	case RequestVendor:
		typ = 2
	}
	switch c.Recipient {
	case RecipientInterface:
		rcpt = 1
	case RecipientEndpoint:
		rcpt = 2
	}
	return typ<<5 | rcpt
}

type Complete struct {
	Message string
}

type StatusUpdate struct {
	Status string
}

// Frame is one outbound unit. Exactly one payload pointer is set, matching Kind.
type Frame struct {
	Kind     Kind
	Seq      uint64
	Chunk    *DataChunk
	Control  *ControlCommand
	Complete *Complete
	Status   *StatusUpdate
}

func Transfer(endpoint int, data []byte) Frame {
	return Frame{Kind: KindTransfer, Chunk: &DataChunk{Endpoint: endpoint, Data: data}}
}

func Control(cmd ControlCommand) Frame {
	return Frame{Kind: KindControl, Control: &cmd}
}

func Completed(message string) Frame {
	return Frame{Kind: KindComplete, Complete: &Complete{Message: message}}
}

func Status(status string) Frame {
	return Frame{Kind: KindStatus, Status: &StatusUpdate{Status: status}}
}

// IsError reports whether f is a status frame carrying an error report.
func (f Frame) IsError() bool {
	return f.Kind == KindStatus && f.Status != nil && strings.HasPrefix(f.Status.Status, "Error:")
}

func (f Frame) Validate() error {
	switch f.Kind {
	case KindTransfer:
		if f.Chunk == nil {
			return fmt.Errorf("%w: transfer without chunk", ErrInvalidFrame)
		}
		if f.Chunk.Endpoint < 0 || f.Chunk.Endpoint > MaxEndpoint {
			return fmt.Errorf("%w: endpoint %d outside 0..%d", ErrInvalidFrame, f.Chunk.Endpoint, MaxEndpoint)
		}
	case KindControl:
		if f.Control == nil {
			return fmt.Errorf("%w: control without command", ErrInvalidFrame)
		}
		return f.Control.Validate()
	case KindComplete:
		if f.Complete == nil {
			return fmt.Errorf("%w: complete without message", ErrInvalidFrame)
		}
	case KindStatus:
		if f.Status == nil {
			return fmt.Errorf("%w: status without body", ErrInvalidFrame)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidFrame, f.Kind)
	}
	return nil
}

// Upload is the inbound client message. Only Type "file" is acted on.
type Upload struct {
	Type    string
	Data    []byte
	HasData bool
	Path    string
}

// IsFile reports whether the upload should start a relay session.
func (u Upload) IsFile() bool {
	return u.Type == string(KindFile)
}

// FileUpload builds the inbound message a client sends for one file.
func FileUpload(data []byte, path string) Upload {
	return Upload{Type: string(KindFile), Data: data, HasData: true, Path: path}
}
