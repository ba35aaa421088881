package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/danmuck/tendyrelay/internal/protocol/wire"
	"github.com/danmuck/tendyrelay/internal/tendies"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateIdle           State = "idle"
	StateDecoding       State = "decoding"
	StateDecodeFailed   State = "decode_failed"
	StateTransferring   State = "transferring"
	StateTransferFailed State = "transfer_failed"
	StateControlSent    State = "control_sent"
	StateComplete       State = "complete"
	StateFailed         State = "failed"
)

var transitions = map[State][]State{
	StateIdle:         {StateDecoding, StateDecodeFailed},
	StateDecoding:     {StateDecodeFailed, StateTransferring},
	StateTransferring: {StateTransferFailed, StateControlSent},
	StateControlSent:  {StateComplete, StateFailed},
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateDecodeFailed, StateTransferFailed, StateComplete, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Observer receives delivery and completion callbacks. Implementations must be
// safe for concurrent use when shared across sessions.
type Observer interface {
	FrameDelivered(kind wire.Kind, payloadBytes int)
	SessionFinished(r Result)
}

type nopObserver struct{}

func (nopObserver) FrameDelivered(wire.Kind, int) {}
func (nopObserver) SessionFinished(Result)        {}

// Result summarizes one session.
type Result struct {
	SessionID string
	State     State
	Chunks    int
	Bytes     int
	Warnings  []tendies.Warning
	Path      string
	// Status is the text of the final status frame.
	Status string
	Err    error
	// StatusErr is set when the final status frame itself could not be delivered.
	StatusErr error
	Duration  time.Duration
}

func (r Result) OK() bool {
	return r.State == StateComplete
}

type Option func(*Session)

func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.log = logger }
}

func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithPath records the client's advisory target path. It is logged and
// returned in Result, never interpreted.
func WithPath(path string) Option {
	return func(s *Session) { s.path = path }
}

var sessionCounter atomic.Uint64

// Session drives one upload from decode to terminal status. It is single-use
// and not safe for concurrent use.
type Session struct {
	id       string
	cfg      Config
	sink     FrameSink
	log      zerolog.Logger
	observer Observer
	path     string

	state State
	seq   uint64
}

func NewSession(cfg Config, sink FrameSink, opts ...Option) (*Session, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:       "s-" + strconv.FormatUint(sessionCounter.Add(1), 10),
		cfg:      cfg,
		sink:     sink,
		log:      log.Logger,
		observer: nopObserver{},
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("session_id", s.id).Logger()
	return s, nil
}

func (s *Session) ID() string   { return s.id }
func (s *Session) State() State { return s.state }

// HandleUpload decodes raw and relays the result.
func (s *Session) HandleUpload(ctx context.Context, raw []byte) Result {
	start := time.Now()
	if err := s.transition(StateDecoding); err != nil {
		return s.misuse(err)
	}
	decoded, err := tendies.Decode(raw, s.cfg.Decode)
	if err != nil {
		s.mustTransition(StateDecodeFailed)
		return s.finish(ctx, start, s.newResult(), err)
	}
	return s.transfer(ctx, start, decoded)
}

// HandleFile decodes a spooled upload from disk and relays it.
func (s *Session) HandleFile(ctx context.Context, path string) Result {
	start := time.Now()
	if err := s.transition(StateDecoding); err != nil {
		return s.misuse(err)
	}
	decoded, err := tendies.DecodeFile(path, s.cfg.Decode)
	if err != nil {
		s.mustTransition(StateDecodeFailed)
		return s.finish(ctx, start, s.newResult(), err)
	}
	return s.transfer(ctx, start, decoded)
}

// HandleMessage runs a session for one inbound client message.
func (s *Session) HandleMessage(ctx context.Context, u wire.Upload) Result {
	if u.Path != "" && s.path == "" {
		s.path = u.Path
	}
	if !u.IsFile() || !u.HasData {
		return s.Reject(ctx, fmt.Errorf("%w: file message without data", ErrMalformedInbound))
	}
	return s.HandleUpload(ctx, u.Data)
}

// Reject ends an idle session without decoding, reporting cause to the client.
func (s *Session) Reject(ctx context.Context, cause error) Result {
	start := time.Now()
	if err := s.transition(StateDecodeFailed); err != nil {
		return s.misuse(err)
	}
	if !errors.Is(cause, ErrMalformedInbound) {
		cause = fmt.Errorf("%w: %v", ErrMalformedInbound, cause)
	}
	return s.finish(ctx, start, s.newResult(), cause)
}

// Relay sends an already decoded file.
func (s *Session) Relay(ctx context.Context, d tendies.Decoded) Result {
	start := time.Now()
	if err := s.transition(StateDecoding); err != nil {
		return s.misuse(err)
	}
	return s.transfer(ctx, start, d)
}

func (s *Session) transfer(ctx context.Context, start time.Time, d tendies.Decoded) Result {
	res := s.newResult()
	res.Warnings = d.Warnings
	for _, w := range d.Warnings {
		s.log.Warn().Str("code", w.Code()).Err(w).Msg("relay.Session decode warning")
	}
	s.mustTransition(StateTransferring)

	payload := d.File.Payload
	s.log.Debug().
		Str("magic", d.File.MagicString()).
		Uint32("width", d.File.Width).
		Uint32("height", d.File.Height).
		Int("payload_bytes", len(payload)).
		Int("chunks", ChunkCount(len(payload), s.cfg.ChunkSize)).
		Str("path", s.path).
		Msg("relay.Session transfer start")

	for _, chunk := range Chunks(payload, s.cfg.ChunkSize) {
		if err := s.send(ctx, wire.Transfer(s.cfg.Endpoint, chunk)); err != nil {
			s.mustTransition(StateTransferFailed)
			return s.finish(ctx, start, res, err)
		}
		res.Chunks++
		res.Bytes += len(chunk)
	}

	if err := s.send(ctx, wire.Control(s.cfg.Control)); err != nil {
		s.mustTransition(StateTransferFailed)
		return s.finish(ctx, start, res, err)
	}
	s.mustTransition(StateControlSent)

	if s.cfg.EmitComplete {
		if err := s.send(ctx, wire.Completed(s.cfg.CompleteMessage)); err != nil {
			s.mustTransition(StateFailed)
			return s.finish(ctx, start, res, err)
		}
	}
	s.mustTransition(StateComplete)
	return s.finish(ctx, start, res, nil)
}

// send stamps the next sequence number and delivers f under the per-frame timeout.
func (s *Session) send(ctx context.Context, f wire.Frame) error {
	s.seq++
	f.Seq = s.seq
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Seq: f.Seq, Kind: f.Kind, Err: err}
	}

	sendCtx := ctx
	if s.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
		defer cancel()
	}
	err := s.sink.Send(sendCtx, f)
	if err != nil {
		if ctx.Err() == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrDeliveryTimeout, s.cfg.DeliveryTimeout, err)
		}
		s.log.Debug().Uint64("seq", f.Seq).Str("kind", string(f.Kind)).Err(err).Msg("relay.Session send failed")
		return &DeliveryError{Seq: f.Seq, Kind: f.Kind, Err: err}
	}
	s.observer.FrameDelivered(f.Kind, frameBytes(f))
	return nil
}

// finish reports the terminal status frame and logs the outcome. The status is
// attempted even when ctx is done so a live client still learns why.
func (s *Session) finish(ctx context.Context, start time.Time, res Result, cause error) Result {
	res.State = s.state
	res.Err = cause
	if cause == nil {
		res.Status = s.cfg.SuccessStatus
	} else {
		res.Status = ErrorStatusPrefix + cause.Error()
	}

	if err := s.send(context.WithoutCancel(ctx), wire.Status(res.Status)); err != nil {
		res.StatusErr = err
	}
	res.Duration = time.Since(start)

	ev := s.log.Info()
	if cause != nil {
		ev = s.log.Warn().Err(cause)
	}
	ev.Str("state", string(res.State)).
		Int("chunks", res.Chunks).
		Int("bytes", res.Bytes).
		Int("warnings", len(res.Warnings)).
		Dur("duration", res.Duration).
		Msg("relay.Session finished")
	if res.StatusErr != nil {
		s.log.Debug().Err(res.StatusErr).Msg("relay.Session status undeliverable")
	}
	s.observer.SessionFinished(res)
	return res
}

func (s *Session) newResult() Result {
	return Result{SessionID: s.id, Path: s.path}
}

// misuse reports a call on a session that already ran; nothing is sent.
func (s *Session) misuse(err error) Result {
	return Result{SessionID: s.id, State: s.state, Path: s.path, Err: err}
}

func (s *Session) transition(to State) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.log.Trace().Str("from", string(s.state)).Str("to", string(to)).Msg("relay.Session transition")
	s.state = to
	return nil
}

func (s *Session) mustTransition(to State) {
	if err := s.transition(to); err != nil {
		panic(err)
	}
}

func frameBytes(f wire.Frame) int {
	if f.Kind == wire.KindTransfer && f.Chunk != nil {
		return len(f.Chunk.Data)
	}
	return 0
}
