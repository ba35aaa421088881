package wire

import "fmt"

// message is the document shape shared by the json, cbor and msgpack codecs.
// Status frames carry no type, matching {"status": "..."} on the wire.
type message struct {
	Type        string    `json:"type,omitempty" cbor:"type,omitempty" msgpack:"type,omitempty"`
	Seq         uint64    `json:"-" cbor:"seq,omitempty" msgpack:"seq,omitempty"`
	Endpoint    *int      `json:"endpoint,omitempty" cbor:"endpoint,omitempty" msgpack:"endpoint,omitempty"`
	Data        *ByteList `json:"data,omitempty" cbor:"data,omitempty" msgpack:"data,omitempty"`
	Path        string    `json:"path,omitempty" cbor:"path,omitempty" msgpack:"path,omitempty"`
	RequestType string    `json:"requestType,omitempty" cbor:"requestType,omitempty" msgpack:"requestType,omitempty"`
	Recipient   string    `json:"recipient,omitempty" cbor:"recipient,omitempty" msgpack:"recipient,omitempty"`
	Request     *uint8    `json:"request,omitempty" cbor:"request,omitempty" msgpack:"request,omitempty"`
	Value       *uint16   `json:"value,omitempty" cbor:"value,omitempty" msgpack:"value,omitempty"`
	Index       *uint16   `json:"index,omitempty" cbor:"index,omitempty" msgpack:"index,omitempty"`
	Message     *string   `json:"message,omitempty" cbor:"message,omitempty" msgpack:"message,omitempty"`
	Status      *string   `json:"status,omitempty" cbor:"status,omitempty" msgpack:"status,omitempty"`
}

func frameToMessage(f Frame) (message, error) {
	if err := f.Validate(); err != nil {
		return message{}, err
	}
	m := message{Seq: f.Seq}
	switch f.Kind {
	case KindTransfer:
		data := ByteList(f.Chunk.Data)
		endpoint := f.Chunk.Endpoint
		m.Type = string(KindTransfer)
		m.Endpoint = &endpoint
		m.Data = &data
	case KindControl:
		c := *f.Control
		m.Type = string(KindControl)
		m.RequestType = string(c.RequestType)
		m.Recipient = string(c.Recipient)
		m.Request = &c.Request
		m.Value = &c.Value
		m.Index = &c.Index
	case KindComplete:
		msg := f.Complete.Message
		m.Type = string(KindComplete)
		m.Message = &msg
	case KindStatus:
		status := f.Status.Status
		m.Status = &status
	}
	return m, nil
}

func messageToFrame(m message) (Frame, error) {
	var f Frame
	switch Kind(m.Type) {
	case KindTransfer:
		if m.Endpoint == nil || m.Data == nil {
			return Frame{}, fmt.Errorf("%w: transfer needs endpoint and data", ErrMalformed)
		}
		f = Transfer(*m.Endpoint, []byte(*m.Data))
	case KindControl:
		if m.Request == nil || m.Value == nil || m.Index == nil {
			return Frame{}, fmt.Errorf("%w: control needs request, value and index", ErrMalformed)
		}
		f = Control(ControlCommand{
			RequestType: RequestType(m.RequestType),
			Recipient:   Recipient(m.Recipient),
			Request:     *m.Request,
			Value:       *m.Value,
			Index:       *m.Index,
		})
	case KindComplete:
		if m.Message == nil {
			return Frame{}, fmt.Errorf("%w: complete needs message", ErrMalformed)
		}
		f = Completed(*m.Message)
	case "", KindStatus:
		if m.Status == nil {
			return Frame{}, fmt.Errorf("%w: message has neither type nor status", ErrMalformed)
		}
		f = Status(*m.Status)
	default:
		return Frame{}, fmt.Errorf("%w: unknown frame type %q", ErrMalformed, m.Type)
	}
	f.Seq = m.Seq
	if err := f.Validate(); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return f, nil
}

func uploadToMessage(u Upload) message {
	m := message{Type: u.Type, Path: u.Path}
	if u.HasData || u.Data != nil {
		data := ByteList(u.Data)
		if data == nil {
			data = ByteList{}
		}
		m.Data = &data
	}
	return m
}

func messageToUpload(m message) Upload {
	u := Upload{Type: m.Type, Path: m.Path}
	if m.Data != nil {
		u.Data = []byte(*m.Data)
		u.HasData = true
	}
	return u
}
