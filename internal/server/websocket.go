package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tendyrelay/internal/observability"
	"github.com/danmuck/tendyrelay/internal/protocol/wire"
	"github.com/danmuck/tendyrelay/internal/relay"
	"github.com/danmuck/tendyrelay/internal/tendies"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var connCounter atomic.Uint64

func (s *Service) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("server.handleWebsocket upgrade failed")
		return
	}
	s.serveConn(c.Request.Context(), conn)
}

// serveConn reads inbound messages one at a time. Each file message runs a
// full relay session before the next message is read.
func (s *Service) serveConn(ctx context.Context, conn *websocket.Conn) {
	connID := "c-" + strconv.FormatUint(connCounter.Add(1), 10)
	logger := s.log.With().Str("conn_id", connID).Str("remote", conn.RemoteAddr().String()).Logger()

	s.trackConn(conn)
	release := observability.TrackConnection()
	active := s.active.Add(1)
	logger.Info().Int64("active_clients", active).Msg("server.session client connected")

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		_ = conn.Close()
		s.untrackConn(conn)
		release()
		remaining := s.active.Add(-1)
		logger.Info().Int64("active_clients", remaining).Msg("server.session client disconnected")
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.Session.ReadTimeout))
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeat(ctx, conn, logger)
	}()

	sink := newConnSink(conn, s.codec, s.cfg.Session.WriteTimeout)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Session.ReadTimeout))
		data, size, err := readCapped(conn, s.cfg.Session.MaxMessageBytes)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("server.serveConn read failed")
			}
			return
		}
		if data == nil {
			s.rejectOversized(ctx, sink, size, logger)
		} else {
			s.handleMessage(ctx, sink, data, logger)
		}
		if sink.Closed() {
			return
		}
	}
}

// readCapped reads one message, buffering at most limit bytes. A larger message
// is drained and reported by its size with nil data so the caller can answer
// it with a status instead of dropping the connection.
func readCapped(conn *websocket.Conn, limit int64) ([]byte, int64, error) {
	_, r, err := conn.NextReader()
	if err != nil {
		return nil, 0, err
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, 0, err
	}
	if int64(len(data)) <= limit {
		return data, int64(len(data)), nil
	}
	rest, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, 0, err
	}
	return nil, int64(len(data)) + rest, nil
}

func (s *Service) rejectOversized(ctx context.Context, sink *connSink, size int64, logger zerolog.Logger) {
	limit := s.cfg.Session.MaxMessageBytes
	logger.Warn().Int64("size", size).Int64("max", limit).Msg("server.serveConn upload too large")
	sess, err := relay.NewSession(s.cfg.Relay, sink, relay.WithLogger(logger), relay.WithObserver(s.observer))
	if err != nil {
		logger.Error().Err(err).Msg("server.rejectOversized session setup failed")
		return
	}
	sess.Reject(ctx, fmt.Errorf("%w: upload exceeds %d bytes", relay.ErrMalformedInbound, limit))
}

func (s *Service) handleMessage(ctx context.Context, sink *connSink, data []byte, logger zerolog.Logger) {
	upload, decodeErr := s.codec.DecodeUpload(data)
	if decodeErr == nil && !upload.IsFile() {
		logger.Debug().Str("type", upload.Type).Msg("server.handleMessage ignoring message")
		return
	}

	sess, err := relay.NewSession(
		s.cfg.Relay,
		sink,
		relay.WithLogger(logger),
		relay.WithObserver(s.observer),
		relay.WithPath(upload.Path),
	)
	if err != nil {
		logger.Error().Err(err).Msg("server.handleMessage session setup failed")
		return
	}

	switch {
	case decodeErr != nil:
		sess.Reject(ctx, decodeErr)
	case s.cfg.SpoolDir != "" && upload.HasData:
		path, cleanup, err := tendies.Spool(s.cfg.SpoolDir, upload.Data)
		if err != nil {
			logger.Warn().Err(err).Msg("server.handleMessage spool failed, relaying from memory")
			sess.HandleMessage(ctx, upload)
			return
		}
		defer cleanup()
		logger.Debug().Str("spool", path).Msg("server.handleMessage spooled upload")
		sess.HandleFile(ctx, path)
	default:
		sess.HandleMessage(ctx, upload)
	}
}

func (s *Service) heartbeat(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger) {
	ticker := time.NewTicker(s.cfg.Session.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.Session.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug().Err(err).Msg("server.heartbeat ping failed")
				return
			}
		}
	}
}

// connSink writes frames to one websocket. Once a write fails the connection
// is unusable and every later Send reports relay.ErrSinkClosed.
type connSink struct {
	conn         *websocket.Conn
	codec        wire.Codec
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newConnSink(conn *websocket.Conn, codec wire.Codec, writeTimeout time.Duration) *connSink {
	return &connSink{conn: conn, codec: codec, writeTimeout: writeTimeout}
}

func (w *connSink) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *connSink) Send(ctx context.Context, f wire.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := w.codec.EncodeFrame(f)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return relay.ErrSinkClosed
	}

	deadline := time.Now().Add(w.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = w.conn.SetWriteDeadline(deadline)

	messageType := websocket.TextMessage
	if w.codec.Binary() {
		messageType = websocket.BinaryMessage
	}
	if err := w.conn.WriteMessage(messageType, payload); err != nil {
		w.closed = true
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		case errors.Is(err, websocket.ErrCloseSent), errors.Is(err, net.ErrClosed):
			return fmt.Errorf("%w: %w", relay.ErrSinkClosed, err)
		default:
			return err
		}
	}
	return nil
}
