package tendies

import (
	"fmt"
	"os"
	"strings"
)

const spoolPattern = "upload-*.tendies"

// Spool persists raw to a fresh temporary file under dir and returns its path.
// The caller owns removal through the returned cleanup func.
func Spool(dir string, raw []byte) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("tendies: spool dir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, spoolPattern)
	if err != nil {
		return "", nil, fmt.Errorf("tendies: spool create: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("tendies: spool write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("tendies: spool close %s: %w", path, err)
	}
	return path, cleanup, nil
}

// DecodeFile decodes a tendies file from disk.
func DecodeFile(path string, opts DecodeOptions) (Decoded, error) {
	if strings.TrimSpace(path) == "" {
		return Decoded{}, ErrEmptyPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Decoded{}, fmt.Errorf("tendies: read %s: %w", path, err)
	}
	return Decode(raw, opts)
}
