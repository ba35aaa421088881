package wire

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns frames and uploads into channel messages and back.
// Binary reports whether messages must be sent as binary (not text) messages.
type Codec interface {
	Name() string
	Binary() bool
	EncodeFrame(f Frame) ([]byte, error)
	DecodeFrame(b []byte) (Frame, error)
	EncodeUpload(u Upload) ([]byte, error)
	DecodeUpload(b []byte) (Upload, error)
}

const (
	CodecJSON    = "json"
	CodecCBOR    = "cbor"
	CodecMsgpack = "msgpack"
	CodecFrame   = "frame"
)

var cborEnc cbor.EncMode
var cborDec cbor.DecMode

func init() {
	var err error
	// Core deterministic encoding: the same frame always yields the same bytes.
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

var registry = map[string]func() Codec{
	CodecJSON: func() Codec {
		return docCodec{name: CodecJSON, marshal: json.Marshal, unmarshal: json.Unmarshal}
	},
	CodecCBOR: func() Codec {
		return docCodec{name: CodecCBOR, binary: true, marshal: cborEnc.Marshal, unmarshal: cborDec.Unmarshal}
	},
	CodecMsgpack: func() Codec {
		return docCodec{name: CodecMsgpack, binary: true, marshal: msgpack.Marshal, unmarshal: msgpack.Unmarshal}
	},
	CodecFrame: func() Codec {
		return NewFrameCodec()
	},
}

// Lookup returns the codec registered under name; empty selects json.
func Lookup(name string) (Codec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = CodecJSON
	}
	ctor, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownCodec, name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names lists registered codec names in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type docCodec struct {
	name      string
	binary    bool
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

func (c docCodec) Name() string { return c.name }
func (c docCodec) Binary() bool { return c.binary }

func (c docCodec) EncodeFrame(f Frame) ([]byte, error) {
	m, err := frameToMessage(f)
	if err != nil {
		return nil, err
	}
	return c.marshal(m)
}

func (c docCodec) DecodeFrame(b []byte) (Frame, error) {
	var m message
	if err := c.unmarshal(b, &m); err != nil {
		return Frame{}, fmt.Errorf("%w: %s: %v", ErrMalformed, c.name, err)
	}
	return messageToFrame(m)
}

func (c docCodec) EncodeUpload(u Upload) ([]byte, error) {
	return c.marshal(uploadToMessage(u))
}

func (c docCodec) DecodeUpload(b []byte) (Upload, error) {
	var m message
	if err := c.unmarshal(b, &m); err != nil {
		return Upload{}, fmt.Errorf("%w: %s: %v", ErrMalformed, c.name, err)
	}
	return messageToUpload(m), nil
}
