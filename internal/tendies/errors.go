package tendies

import (
	"errors"
	"fmt"
)

var (
	ErrTruncatedHeader = errors.New("tendies: truncated header")
	ErrBadMagic        = errors.New("tendies: bad magic")
	ErrEmptyPath       = errors.New("tendies: empty path")
)

// Warning is a non-fatal condition observed while decoding.
type Warning interface {
	error
	Code() string
}

// SizeMismatchWarning reports a payload whose length disagrees with width*height*4.
// The declared dimensions are untrusted metadata, so decoding still succeeds.
type SizeMismatchWarning struct {
	Width    uint32
	Height   uint32
	Declared uint64
	Actual   int
}

func (w SizeMismatchWarning) Error() string {
	return fmt.Sprintf(
		"tendies: payload size mismatch: %dx%dx4=%d bytes declared, %d bytes present",
		w.Width,
		w.Height,
		w.Declared,
		w.Actual,
	)
}

func (w SizeMismatchWarning) Code() string {
	return "size_mismatch"
}
