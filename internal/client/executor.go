package client

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ErrEndpointRange = errors.New("client: endpoint out of range")

// Executor applies relayed frames to a device. The method set follows a USB
// device handle so a real handle can be dropped in.
type Executor interface {
	BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error)
	ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
}

// Finisher is implemented by executors that want the end-of-sequence marker.
type Finisher interface {
	Finish(message string) error
}

// SetupPacket is one recorded control request.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

func (p SetupPacket) String() string {
	return fmt.Sprintf(
		"bmRequestType=0x%02x bRequest=0x%02x wValue=0x%04x wIndex=0x%04x wLength=%d",
		p.RequestType, p.Request, p.Value, p.Index, p.Length,
	)
}

// MemoryExecutor keeps bulk data per endpoint and every control request.
type MemoryExecutor struct {
	mu       sync.Mutex
	bulk     map[uint8]*bytes.Buffer
	controls []SetupPacket
	finished []string
}

func NewMemoryExecutor() *MemoryExecutor {
	return &MemoryExecutor{bulk: make(map[uint8]*bytes.Buffer)}
}

func (m *MemoryExecutor) BulkTransfer(endpoint uint8, data []byte, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.bulk[endpoint]
	if !ok {
		buf = &bytes.Buffer{}
		m.bulk[endpoint] = buf
	}
	return buf.Write(data)
}

func (m *MemoryExecutor) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls = append(m.controls, SetupPacket{
		RequestType: requestType,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      uint16(len(data)),
	})
	return len(data), nil
}

func (m *MemoryExecutor) Finish(message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, message)
	return nil
}

// Bulk returns a copy of everything written to endpoint.
func (m *MemoryExecutor) Bulk(endpoint uint8) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.bulk[endpoint]
	if !ok {
		return nil
	}
	return bytes.Clone(buf.Bytes())
}

func (m *MemoryExecutor) Controls() []SetupPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SetupPacket(nil), m.controls...)
}

func (m *MemoryExecutor) Finished() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.finished...)
}

// FileExecutor appends bulk data to endpoint-<n>.bin and control requests to
// control.log under Dir.
type FileExecutor struct {
	Dir string

	mu sync.Mutex
}

func NewFileExecutor(dir string) (*FileExecutor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("client: executor dir %s: %w", dir, err)
	}
	return &FileExecutor{Dir: dir}, nil
}

func (f *FileExecutor) BulkPath(endpoint uint8) string {
	return filepath.Join(f.Dir, fmt.Sprintf("endpoint-%d.bin", endpoint))
}

func (f *FileExecutor) ControlLogPath() string {
	return filepath.Join(f.Dir, "control.log")
}

func (f *FileExecutor) BulkTransfer(endpoint uint8, data []byte, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return appendFile(f.BulkPath(endpoint), data)
}

func (f *FileExecutor) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pkt := SetupPacket{RequestType: requestType, Request: request, Value: value, Index: index, Length: uint16(len(data))}
	if _, err := appendFile(f.ControlLogPath(), []byte(pkt.String()+"\n")); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (f *FileExecutor) Finish(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := appendFile(f.ControlLogPath(), []byte("complete "+message+"\n"))
	return err
}

func appendFile(path string, data []byte) (int, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("client: open %s: %w", path, err)
	}
	n, err := fh.Write(data)
	if cerr := fh.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("client: write %s: %w", path, err)
	}
	return n, nil
}
