package schema

import (
	"fmt"

	"github.com/danmuck/tendyrelay/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs carried in the frame header.
const (
	MsgFile     uint32 = 1
	MsgTransfer uint32 = 2
	MsgControl  uint32 = 3
	MsgComplete uint32 = 4
	MsgStatus   uint32 = 5
)

// Field IDs.
const (
	FieldData uint16 = 1
	FieldPath uint16 = 2

	FieldEndpoint uint16 = 100

	FieldRequestType uint16 = 200
	FieldRecipient   uint16 = 201
	FieldRequest     uint16 = 202
	FieldValue       uint16 = 203
	FieldIndex       uint16 = 204

	FieldMessage uint16 = 300
	FieldStatus  uint16 = 400
)

var names = map[uint32]string{
	MsgFile:     "file",
	MsgTransfer: "transfer",
	MsgControl:  "control",
	MsgComplete: "complete",
	MsgStatus:   "status",
}

// Name returns the wire type name for a message type ID.
func Name(messageType uint32) (string, bool) {
	n, ok := names[messageType]
	return n, ok
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgFile: {
		{FieldData, tlv.TypeBytes},
	},
	MsgTransfer: {
		{FieldEndpoint, tlv.TypeU32},
		{FieldData, tlv.TypeBytes},
	},
	MsgControl: {
		{FieldRequestType, tlv.TypeString},
		{FieldRecipient, tlv.TypeString},
		{FieldRequest, tlv.TypeU8},
		{FieldValue, tlv.TypeU16},
		{FieldIndex, tlv.TypeU16},
	},
	MsgComplete: {
		{FieldMessage, tlv.TypeString},
	},
	MsgStatus: {
		{FieldStatus, tlv.TypeString},
	},
}

// Validate enforces required fields and their types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
