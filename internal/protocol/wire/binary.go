package wire

import (
	"fmt"

	"github.com/danmuck/tendyrelay/internal/protocol/frame"
	"github.com/danmuck/tendyrelay/internal/protocol/schema"
	"github.com/danmuck/tendyrelay/internal/protocol/tlv"
)

// FrameCodec carries frames in the fixed-header TLV format.
type FrameCodec struct {
	limits frame.Limits
}

func NewFrameCodec() FrameCodec {
	return FrameCodec{limits: frame.DefaultLimits()}
}

func (FrameCodec) Name() string { return CodecFrame }
func (FrameCodec) Binary() bool { return true }

func (c FrameCodec) EncodeFrame(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var (
		msgType uint32
		flags   uint32
		fields  []tlv.Field
	)
	switch f.Kind {
	case KindTransfer:
		msgType = schema.MsgTransfer
		fields = []tlv.Field{
			tlv.U32(schema.FieldEndpoint, uint32(f.Chunk.Endpoint)),
			tlv.Bytes(schema.FieldData, f.Chunk.Data),
		}
	case KindControl:
		msgType = schema.MsgControl
		fields = []tlv.Field{
			tlv.String(schema.FieldRequestType, string(f.Control.RequestType)),
			tlv.String(schema.FieldRecipient, string(f.Control.Recipient)),
			tlv.U8(schema.FieldRequest, f.Control.Request),
			tlv.U16(schema.FieldValue, f.Control.Value),
			tlv.U16(schema.FieldIndex, f.Control.Index),
		}
	case KindComplete:
		msgType = schema.MsgComplete
		fields = []tlv.Field{tlv.String(schema.FieldMessage, f.Complete.Message)}
	case KindStatus:
		msgType = schema.MsgStatus
		flags = frame.FlagTerminal
		if f.IsError() {
			flags |= frame.FlagIsError
		}
		fields = []tlv.Field{tlv.String(schema.FieldStatus, f.Status.Status)}
	}
	return c.marshal(f.Seq, msgType, flags, fields)
}

func (c FrameCodec) DecodeFrame(b []byte) (Frame, error) {
	fr, fields, err := c.unmarshal(b)
	if err != nil {
		return Frame{}, err
	}
	if err := schema.Validate(fr.Header.MessageType, fields); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var out Frame
	switch fr.Header.MessageType {
	case schema.MsgTransfer:
		endpoint, _ := mustField(fields, schema.FieldEndpoint).AsU32()
		data, _ := mustField(fields, schema.FieldData).AsBytes()
		out = Transfer(int(endpoint), data)
	case schema.MsgControl:
		rt, _ := mustField(fields, schema.FieldRequestType).AsString()
		rc, _ := mustField(fields, schema.FieldRecipient).AsString()
		req, err := mustField(fields, schema.FieldRequest).AsU8()
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		val, err := mustField(fields, schema.FieldValue).AsU16()
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		idx, err := mustField(fields, schema.FieldIndex).AsU16()
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		out = Control(ControlCommand{
			RequestType: RequestType(rt),
			Recipient:   Recipient(rc),
			Request:     req,
			Value:       val,
			Index:       idx,
		})
	case schema.MsgComplete:
		msg, _ := mustField(fields, schema.FieldMessage).AsString()
		out = Completed(msg)
	case schema.MsgStatus:
		status, _ := mustField(fields, schema.FieldStatus).AsString()
		out = Status(status)
	default:
		return Frame{}, fmt.Errorf("%w: message_type=%d is not an outbound frame", ErrMalformed, fr.Header.MessageType)
	}
	out.Seq = fr.Header.Sequence
	if err := out.Validate(); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

func (c FrameCodec) EncodeUpload(u Upload) ([]byte, error) {
	if !u.IsFile() {
		return nil, fmt.Errorf("%w: frame codec only carries file uploads, got %q", ErrInvalidFrame, u.Type)
	}
	fields := []tlv.Field{tlv.Bytes(schema.FieldData, u.Data)}
	if u.Path != "" {
		fields = append(fields, tlv.String(schema.FieldPath, u.Path))
	}
	return c.marshal(0, schema.MsgFile, 0, fields)
}

// DecodeUpload reports unknown message types by name so callers can ignore
// them, the same way unknown "type" values are ignored in document codecs.
func (c FrameCodec) DecodeUpload(b []byte) (Upload, error) {
	fr, fields, err := c.unmarshal(b)
	if err != nil {
		return Upload{}, err
	}
	if fr.Header.MessageType != schema.MsgFile {
		name, ok := schema.Name(fr.Header.MessageType)
		if !ok {
			name = fmt.Sprintf("message_type.%d", fr.Header.MessageType)
		}
		return Upload{Type: name}, nil
	}
	u := Upload{Type: string(KindFile)}
	if f, ok := tlv.GetField(fields, schema.FieldData); ok {
		data, err := f.AsBytes()
		if err != nil {
			return Upload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		u.Data = data
		u.HasData = true
	}
	if f, ok := tlv.GetField(fields, schema.FieldPath); ok {
		path, err := f.AsString()
		if err != nil {
			return Upload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		u.Path = path
	}
	return u, nil
}

func (c FrameCodec) marshal(seq uint64, msgType, flags uint32, fields []tlv.Field) ([]byte, error) {
	return frame.Marshal(frame.Frame{
		Header: frame.Header{
			Sequence:    seq,
			MessageType: msgType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, c.limits)
}

func (c FrameCodec) unmarshal(b []byte) (frame.Frame, []tlv.Field, error) {
	fr, err := frame.Unmarshal(b, c.limits)
	if err != nil {
		return frame.Frame{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	fields, err := tlv.DecodeFields(fr.Payload)
	if err != nil {
		return frame.Frame{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fr, fields, nil
}

// mustField is only used after schema.Validate has proven presence and type.
func mustField(fields []tlv.Field, id uint16) tlv.Field {
	f, _ := tlv.GetField(fields, id)
	return f
}
