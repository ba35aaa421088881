package tendies

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// HeaderLen is magic(4) + width(4) + height(4).
	HeaderLen = 12
	MagicLen  = 4

	// BytesPerPixel is the RGBA stride used for the declared-size check.
	BytesPerPixel = 4
)

// DefaultMagic is the registered tendies identifier.
var DefaultMagic = [MagicLen]byte{'T', 'E', 'N', 'D'}

// MagicMode controls whether a magic mismatch fails decoding.
type MagicMode string

const (
	MagicPermissive MagicMode = "permissive"
	MagicStrict     MagicMode = "strict"
)

// DecodeOptions carries the registered magic and strictness for one decode.
type DecodeOptions struct {
	Magic [MagicLen]byte
	Mode  MagicMode
}

func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{
		Magic: DefaultMagic,
		Mode:  MagicPermissive,
	}
}

// ParseMagic converts a configured magic string into its fixed-width form.
func ParseMagic(raw string) ([MagicLen]byte, error) {
	var out [MagicLen]byte
	if len(raw) != MagicLen {
		return out, fmt.Errorf("%w: magic %q must be %d bytes", ErrBadMagic, raw, MagicLen)
	}
	copy(out[:], raw)
	return out, nil
}

// NormalizeMagicMode maps config spellings onto a MagicMode; empty means permissive.
func NormalizeMagicMode(raw string) (MagicMode, error) {
	switch MagicMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MagicPermissive:
		return MagicPermissive, nil
	case MagicStrict:
		return MagicStrict, nil
	default:
		return "", fmt.Errorf("tendies: unknown magic mode %q", raw)
	}
}

// File is one decoded tendies asset. It is never mutated after Decode returns.
type File struct {
	Magic   [MagicLen]byte
	Width   uint32
	Height  uint32
	Payload []byte
}

// ExpectedPayloadLen is width*height*4 computed without overflow.
func (f File) ExpectedPayloadLen() uint64 {
	return uint64(f.Width) * uint64(f.Height) * BytesPerPixel
}

func (f File) MagicString() string {
	return string(f.Magic[:])
}

// Decoded is the decode result plus any non-fatal warnings.
type Decoded struct {
	File     File
	Warnings []Warning
}

func (d Decoded) HasSizeMismatch() bool {
	for _, w := range d.Warnings {
		var mismatch SizeMismatchWarning
		if errors.As(w, &mismatch) {
			return true
		}
	}
	return false
}

// Decode parses raw into a File. It has no side effects and does not retain raw.
func Decode(raw []byte, opts DecodeOptions) (Decoded, error) {
	if len(raw) < HeaderLen {
		return Decoded{}, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncatedHeader, len(raw), HeaderLen)
	}

	var f File
	copy(f.Magic[:], raw[0:4])
	if opts.Mode == MagicStrict && f.Magic != opts.Magic {
		return Decoded{}, fmt.Errorf("%w: got %q, want %q", ErrBadMagic, f.Magic[:], opts.Magic[:])
	}
	f.Width = binary.LittleEndian.Uint32(raw[4:8])
	f.Height = binary.LittleEndian.Uint32(raw[8:12])
	f.Payload = make([]byte, len(raw)-HeaderLen)
	copy(f.Payload, raw[HeaderLen:])

	out := Decoded{File: f}
	if expected := f.ExpectedPayloadLen(); expected != uint64(len(f.Payload)) {
		out.Warnings = append(out.Warnings, SizeMismatchWarning{
			Width:    f.Width,
			Height:   f.Height,
			Declared: expected,
			Actual:   len(f.Payload),
		})
	}
	return out, nil
}

// Encode builds the wire form of f: header followed by the payload.
func Encode(f File) []byte {
	buf := make([]byte, HeaderLen+len(f.Payload))
	copy(buf[0:4], f.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], f.Width)
	binary.LittleEndian.PutUint32(buf[8:12], f.Height)
	copy(buf[HeaderLen:], f.Payload)
	return buf
}
