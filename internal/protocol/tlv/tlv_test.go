package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFields(t *testing.T) {
	in := []Field{
		U8(1, 0x40),
		U16(2, 0x0102),
		U32(3, 7),
		String(4, "vendor"),
		Bytes(5, []byte{0xde, 0xad}),
		Bytes(6, nil),
	}
	payload := EncodeFields(in)
	if len(payload) != EncodedLen(in) {
		t.Fatalf("encoded len mismatch: got=%d want=%d", len(payload), EncodedLen(in))
	}
	out, err := DecodeFields(payload)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("field count mismatch: got=%d want=%d", len(out), len(in))
	}

	f, ok := GetField(out, 1)
	if !ok {
		t.Fatalf("missing field 1")
	}
	if v, err := f.AsU8(); err != nil || v != 0x40 {
		t.Fatalf("u8: v=%d err=%v", v, err)
	}
	f, _ = GetField(out, 2)
	if v, err := f.AsU16(); err != nil || v != 0x0102 {
		t.Fatalf("u16: v=%d err=%v", v, err)
	}
	f, _ = GetField(out, 3)
	if v, err := f.AsU32(); err != nil || v != 7 {
		t.Fatalf("u32: v=%d err=%v", v, err)
	}
	f, _ = GetField(out, 4)
	if v, err := f.AsString(); err != nil || v != "vendor" {
		t.Fatalf("string: v=%q err=%v", v, err)
	}
	f, _ = GetField(out, 5)
	if v, err := f.AsBytes(); err != nil || !bytes.Equal(v, []byte{0xde, 0xad}) {
		t.Fatalf("bytes: v=%v err=%v", v, err)
	}
	f, _ = GetField(out, 6)
	if v, err := f.AsBytes(); err != nil || len(v) != 0 {
		t.Fatalf("empty bytes: v=%v err=%v", v, err)
	}
}

func TestTypeMismatch(t *testing.T) {
	f := String(9, "x")
	if _, err := f.AsU16(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	bad := Field{ID: 1, Type: TypeU16, Value: []byte{1}}
	if _, err := bad.AsU16(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestDecodeFieldsShortInputs(t *testing.T) {
	if _, err := DecodeFields([]byte{0, 1, 6}); !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
	payload := EncodeFields([]Field{String(1, "abcdef")})
	if _, err := DecodeFields(payload[:len(payload)-2]); !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}
