package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/tendyrelay/internal/protocol/session"
	"github.com/danmuck/tendyrelay/internal/protocol/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrURLRequired   = errors.New("client: relay url required")
	ErrSessionClosed = errors.New("client: relay session closed")
	ErrRelayFailed   = errors.New("client: relay reported failure")
	ErrExecutor      = errors.New("client: executor failed")
	ErrBadFrame      = errors.New("client: undecodable frame")
)

type Config struct {
	URL      string
	Encoding string
	// Origin is sent on the handshake when set.
	Origin string
	// TransferTimeout is passed to every executor call.
	TransferTimeout time.Duration
	Session         session.Config
}

func DefaultConfig() Config {
	return Config{
		URL:             "ws://127.0.0.1:8765/ws",
		Encoding:        wire.CodecJSON,
		TransferTimeout: 5 * time.Second,
		Session:         session.DefaultConfig(),
	}
}

type Client struct {
	cfg   Config
	codec wire.Codec
	rng   *rand.Rand
	log   zerolog.Logger
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrURLRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultConfig().TransferTimeout
	}
	codec, err := wire.Lookup(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:   cfg,
		codec: codec,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		log:   log.Logger.With().Str("component", "client").Logger(),
	}, nil
}

// Connect dials the relay, retrying with backoff up to Session.DialAttempts.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.Session.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if strings.HasPrefix(c.cfg.URL, "wss://") || c.cfg.Session.TLS.CAFile != "" || c.cfg.Session.TLS.InsecureSkipVerify {
		tlsCfg, err := c.cfg.Session.ClientTLSConfig()
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}
	header := http.Header{}
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}

	var ws *websocket.Conn
	err := session.Retry(ctx, c.cfg.Session.Backoff, c.cfg.Session.DialAttempts, c.rng, func(attempt int) error {
		conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
		if err != nil {
			ev := c.log.Warn().Int("attempt", attempt).Str("url", c.cfg.URL).Err(err)
			if resp != nil {
				ev = ev.Int("http_status", resp.StatusCode)
			}
			ev.Msg("client.Client.Connect dial failed")
			return err
		}
		ws = conn
		return nil
	})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(c.cfg.Session.MaxMessageBytes)
	c.log.Debug().Str("url", c.cfg.URL).Str("encoding", c.codec.Name()).Msg("client.Client.Connect connected")
	return &Conn{ws: ws, codec: c.codec, cfg: c.cfg, log: c.log}, nil
}

// Conn is one relay connection. Uploads on a Conn are sequential.
type Conn struct {
	ws    *websocket.Conn
	codec wire.Codec
	cfg   Config
	log   zerolog.Logger
}

// Outcome is what the client observed for one upload.
type Outcome struct {
	Status    string
	Frames    int
	Chunks    int
	Bytes     int
	Controls  []wire.ControlCommand
	Completed string
	// ExecErr is the first executor failure. Frames after it are still read
	// so the connection stays in step with the relay.
	ExecErr error
	// FrameErr is the first frame that could not be decoded. Reading
	// continues past it for the same reason.
	FrameErr error
}

func (o Outcome) OK() bool {
	return o.Status != "" && !strings.HasPrefix(o.Status, "Error:") && o.ExecErr == nil && o.FrameErr == nil
}

// Upload sends one file and applies every relayed frame to exec until the
// status frame arrives.
func (c *Conn) Upload(ctx context.Context, raw []byte, path string, exec Executor) (Outcome, error) {
	msg, err := c.codec.EncodeUpload(wire.FileUpload(raw, path))
	if err != nil {
		return Outcome{}, err
	}
	messageType := websocket.TextMessage
	if c.codec.Binary() {
		messageType = websocket.BinaryMessage
	}
	_ = c.ws.SetWriteDeadline(c.deadline(ctx, c.cfg.Session.WriteTimeout))
	if err := c.ws.WriteMessage(messageType, msg); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}

	var out Outcome
	for {
		data, err := c.next(ctx)
		if err != nil {
			return out, err
		}
		out.Frames++
		f, err := c.codec.DecodeFrame(data)
		if err != nil {
			if out.FrameErr == nil {
				out.FrameErr = fmt.Errorf("%w: %w", ErrBadFrame, err)
			}
			c.log.Warn().Err(err).Int("frame", out.Frames).Msg("client.Conn.Upload undecodable frame")
			continue
		}
		if f.Kind == wire.KindStatus {
			out.Status = f.Status.Status
			break
		}
		if err := c.apply(f, exec, &out); err != nil && out.ExecErr == nil {
			out.ExecErr = err
			c.log.Warn().Err(err).Uint64("seq", f.Seq).Str("kind", string(f.Kind)).Msg("client.Conn.Upload executor failed")
		}
	}

	switch {
	case strings.HasPrefix(out.Status, "Error:"):
		return out, fmt.Errorf("%w: %s", ErrRelayFailed, out.Status)
	case out.FrameErr != nil:
		return out, out.FrameErr
	case out.ExecErr != nil:
		return out, out.ExecErr
	}
	return out, nil
}

func (c *Conn) next(ctx context.Context) ([]byte, error) {
	_ = c.ws.SetReadDeadline(c.deadline(ctx, c.cfg.Session.ReadTimeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}
	return data, nil
}

func (c *Conn) apply(f wire.Frame, exec Executor, out *Outcome) error {
	switch f.Kind {
	case wire.KindTransfer:
		out.Chunks++
		out.Bytes += len(f.Chunk.Data)
		if f.Chunk.Endpoint > wire.MaxEndpoint {
			return fmt.Errorf("%w: %d", ErrEndpointRange, f.Chunk.Endpoint)
		}
		if exec == nil {
			return nil
		}
		n, err := exec.BulkTransfer(uint8(f.Chunk.Endpoint), f.Chunk.Data, c.cfg.TransferTimeout)
		if err != nil {
			return fmt.Errorf("%w: bulk seq=%d: %w", ErrExecutor, f.Seq, err)
		}
		if n != len(f.Chunk.Data) {
			return fmt.Errorf("%w: bulk seq=%d short write %d/%d", ErrExecutor, f.Seq, n, len(f.Chunk.Data))
		}
	case wire.KindControl:
		cmd := *f.Control
		out.Controls = append(out.Controls, cmd)
		if exec == nil {
			return nil
		}
		if _, err := exec.ControlTransfer(cmd.BmRequestType(), cmd.Request, cmd.Value, cmd.Index, nil, c.cfg.TransferTimeout); err != nil {
			return fmt.Errorf("%w: control seq=%d: %w", ErrExecutor, f.Seq, err)
		}
	case wire.KindComplete:
		out.Completed = f.Complete.Message
		if fin, ok := exec.(Finisher); ok {
			if err := fin.Finish(f.Complete.Message); err != nil {
				return fmt.Errorf("%w: finish: %w", ErrExecutor, err)
			}
		}
	}
	return nil
}

func (c *Conn) deadline(ctx context.Context, fallback time.Duration) time.Time {
	d := time.Now().Add(fallback)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
