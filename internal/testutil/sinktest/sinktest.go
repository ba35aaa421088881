package sinktest

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/danmuck/tendyrelay/internal/protocol/wire"
)

// ErrInjected is returned by a Recorder at its configured failure point.
var ErrInjected = errors.New("sinktest: injected delivery failure")

// Recorder is an in-memory frame sink that keeps every accepted frame.
// FailAt makes the k-th Send (1-based) fail; Block makes Send wait for ctx.
type Recorder struct {
	mu     sync.Mutex
	frames []wire.Frame
	calls  int
	failAt int
	failAs error
	block  bool
	closed bool
	// ClosedErr is returned after Close. Callers usually set it to the
	// sink-closed sentinel of the package under test.
	ClosedErr error
}

func New() *Recorder {
	return &Recorder{ClosedErr: errors.New("sinktest: closed")}
}

// FailAt arranges for Send call k to fail with err (ErrInjected when nil).
func (r *Recorder) FailAt(k int, err error) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	r.failAt = k
	r.failAs = err
	return r
}

// Block makes every subsequent Send wait until its context is done.
func (r *Recorder) Block() *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block = true
	return r
}

func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *Recorder) Send(ctx context.Context, f wire.Frame) error {
	r.mu.Lock()
	r.calls++
	call := r.calls
	if r.closed {
		r.mu.Unlock()
		return r.ClosedErr
	}
	if r.failAt > 0 && call == r.failAt {
		err := r.failAs
		r.mu.Unlock()
		return err
	}
	block := r.block
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, cloneFrame(f))
	return nil
}

// Frames returns a copy of the accepted frames in delivery order.
func (r *Recorder) Frames() []wire.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Frame(nil), r.frames...)
}

// Calls is the number of Send attempts, accepted or not.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Kinds lists the kinds of accepted frames.
func (r *Recorder) Kinds() []wire.Kind {
	frames := r.Frames()
	out := make([]wire.Kind, len(frames))
	for i, f := range frames {
		out[i] = f.Kind
	}
	return out
}

// Payload concatenates accepted transfer chunks in order.
func (r *Recorder) Payload() []byte {
	var buf bytes.Buffer
	for _, f := range r.Frames() {
		if f.Kind == wire.KindTransfer {
			buf.Write(f.Chunk.Data)
		}
	}
	return buf.Bytes()
}

// Count returns how many accepted frames have the given kind.
func (r *Recorder) Count(kind wire.Kind) int {
	n := 0
	for _, f := range r.Frames() {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the final accepted frame.
func (r *Recorder) Last() (wire.Frame, bool) {
	frames := r.Frames()
	if len(frames) == 0 {
		return wire.Frame{}, false
	}
	return frames[len(frames)-1], true
}

func cloneFrame(f wire.Frame) wire.Frame {
	if f.Chunk != nil {
		c := *f.Chunk
		c.Data = append([]byte(nil), c.Data...)
		f.Chunk = &c
	}
	return f
}
