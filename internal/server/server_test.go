package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/tendyrelay/internal/protocol/wire"
	"github.com/danmuck/tendyrelay/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func tendiesBytes(width, height uint32, payload []byte) []byte {
	buf := make([]byte, 12, 12+len(payload))
	copy(buf[0:4], "TEND")
	binary.LittleEndian.PutUint32(buf[4:8], width)
	binary.LittleEndian.PutUint32(buf[8:12], height)
	return append(buf, payload...)
}

func newTestServer(t *testing.T, mutate func(*ServiceConfig)) (*Service, string) {
	t.Helper()
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.Session.HeartbeatInterval = 50 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)
	return svc, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntilStatus collects raw JSON documents up to and including the status message.
func readUntilStatus(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if mt != websocket.TextMessage {
			t.Fatalf("expected text message, got %d", mt)
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		out = append(out, doc)
		if _, ok := doc["status"]; ok {
			return out
		}
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func fileMessage(raw []byte) map[string]any {
	data := make([]int, len(raw))
	for i, b := range raw {
		data[i] = int(b)
	}
	return map[string]any{"type": "file", "data": data, "path": "/var/mobile/x.cpbitmap"}
}

func TestWebsocketTwoByTwo(t *testing.T) {
	_, url := newTestServer(t, nil)
	conn := dial(t, url)

	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}
	sendJSON(t, conn, fileMessage(tendiesBytes(2, 2, payload)))
	docs := readUntilStatus(t, conn)
	if len(docs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %v", len(docs), docs)
	}
	if docs[0]["type"] != "transfer" || docs[0]["endpoint"] != float64(1) {
		t.Fatalf("unexpected transfer: %v", docs[0])
	}
	if data, _ := docs[0]["data"].([]any); len(data) != 16 || data[15] != float64(15) {
		t.Fatalf("unexpected transfer data: %v", docs[0]["data"])
	}
	if docs[1]["type"] != "control" || docs[1]["request"] != float64(0x40) || docs[1]["value"] != float64(1) {
		t.Fatalf("unexpected control: %v", docs[1])
	}
	if docs[2]["type"] != "complete" || docs[2]["message"] != "Process finished" {
		t.Fatalf("unexpected complete: %v", docs[2])
	}
	if docs[3]["status"] != "Wallpaper applied" {
		t.Fatalf("unexpected status: %v", docs[3])
	}
}

func TestWebsocketTruncated(t *testing.T) {
	_, url := newTestServer(t, nil)
	conn := dial(t, url)

	sendJSON(t, conn, fileMessage([]byte{1, 2, 3}))
	docs := readUntilStatus(t, conn)
	if len(docs) != 1 {
		t.Fatalf("expected only status, got %v", docs)
	}
	status, _ := docs[0]["status"].(string)
	if !strings.HasPrefix(status, "Error: ") || !strings.Contains(status, "truncated") {
		t.Fatalf("unexpected status: %q", status)
	}
}

func TestWebsocketMalformedAndIgnored(t *testing.T) {
	_, url := newTestServer(t, nil)
	conn := dial(t, url)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	docs := readUntilStatus(t, conn)
	status, _ := docs[0]["status"].(string)
	if len(docs) != 1 || !strings.Contains(status, "malformed") {
		t.Fatalf("unexpected malformed response: %v", docs)
	}

	sendJSON(t, conn, map[string]any{"type": "hello"})
	sendJSON(t, conn, fileMessage(tendiesBytes(1, 1, []byte{9, 9, 9, 9})))
	docs = readUntilStatus(t, conn)
	if docs[0]["type"] != "transfer" {
		t.Fatalf("unknown message was not ignored: %v", docs[0])
	}
	if docs[len(docs)-1]["status"] != "Wallpaper applied" {
		t.Fatalf("unexpected final status: %v", docs[len(docs)-1])
	}
}

func TestWebsocketSequentialSessions(t *testing.T) {
	_, url := newTestServer(t, nil)
	conn := dial(t, url)

	for i := 0; i < 3; i++ {
		sendJSON(t, conn, fileMessage(tendiesBytes(1, 1, []byte{byte(i), 0, 0, 0})))
		docs := readUntilStatus(t, conn)
		if docs[len(docs)-1]["status"] != "Wallpaper applied" {
			t.Fatalf("session %d: unexpected status %v", i, docs[len(docs)-1])
		}
	}
}

func TestWebsocketBinaryEncoding(t *testing.T) {
	_, url := newTestServer(t, func(cfg *ServiceConfig) { cfg.Encoding = wire.CodecCBOR })
	conn := dial(t, url)
	codec, _ := wire.Lookup(wire.CodecCBOR)

	raw, err := codec.EncodeUpload(wire.FileUpload(tendiesBytes(1, 1, []byte{1, 2, 3, 4}), ""))
	if err != nil {
		t.Fatalf("encode upload: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	var kinds []wire.Kind
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if mt != websocket.BinaryMessage {
			t.Fatalf("expected binary message, got %d", mt)
		}
		f, err := codec.DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		kinds = append(kinds, f.Kind)
		if f.Kind == wire.KindStatus {
			if f.IsError() {
				t.Fatalf("unexpected error status: %q", f.Status.Status)
			}
			break
		}
	}
	if len(kinds) != 4 {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
}

func TestWebsocketSpoolDirIsCleaned(t *testing.T) {
	dir := t.TempDir()
	_, url := newTestServer(t, func(cfg *ServiceConfig) { cfg.SpoolDir = dir })
	conn := dial(t, url)

	sendJSON(t, conn, fileMessage(tendiesBytes(1, 1, []byte{1, 2, 3, 4})))
	docs := readUntilStatus(t, conn)
	if docs[len(docs)-1]["status"] != "Wallpaper applied" {
		t.Fatalf("unexpected status: %v", docs[len(docs)-1])
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read spool dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("spool dir not cleaned: %v", entries)
	}
}

func TestWebsocketOriginRejected(t *testing.T) {
	_, url := newTestServer(t, func(cfg *ServiceConfig) {
		cfg.AllowedOrigins = []string{"https://ok.example"}
	})
	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("expected handshake failure for disallowed origin")
	}
	if resp == nil || resp.StatusCode == http.StatusSwitchingProtocols {
		t.Fatalf("expected http rejection, got %v", resp)
	}
}

func TestHealthz(t *testing.T) {
	svc, _ := newTestServer(t, nil)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" || body["encoding"] != "json" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	svc, _ := newTestServer(t, nil)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "tendyrelay_") {
		t.Fatalf("metrics not exposed: %d", w.Code)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	svc, err := NewService(DefaultServiceConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) && err == nil {
		t.Fatalf("expected connection to be closed")
	}
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.Encoding = "xml"
	if _, err := NewService(cfg); !errors.Is(err, wire.ErrUnknownCodec) {
		t.Fatalf("expected ErrUnknownCodec, got %v", err)
	}
	cfg = DefaultServiceConfig()
	cfg.AllowedOrigins = []string{"ok.example"}
	if _, err := NewService(cfg); !errors.Is(err, ErrInvalidOrigin) {
		t.Fatalf("expected ErrInvalidOrigin, got %v", err)
	}
}

func TestWebsocketOversizedUploadGetsErrorStatus(t *testing.T) {
	_, url := newTestServer(t, func(cfg *ServiceConfig) { cfg.Session.MaxMessageBytes = 1024 })
	conn := dial(t, url)

	sendJSON(t, conn, fileMessage(tendiesBytes(32, 32, make([]byte, 4096))))
	docs := readUntilStatus(t, conn)
	status, _ := docs[0]["status"].(string)
	if len(docs) != 1 || !strings.HasPrefix(status, "Error: ") || !strings.Contains(status, "exceeds 1024 bytes") {
		t.Fatalf("unexpected response to oversized upload: %v", docs)
	}

	// The connection stays usable for uploads under the cap.
	sendJSON(t, conn, fileMessage(tendiesBytes(1, 1, []byte{1, 2, 3, 4})))
	docs = readUntilStatus(t, conn)
	if docs[len(docs)-1]["status"] != "Wallpaper applied" {
		t.Fatalf("unexpected status after oversized upload: %v", docs[len(docs)-1])
	}
}

func TestGinModeFollowsLogLevel(t *testing.T) {
	testlog.Start(t)
	for level, want := range map[zerolog.Level]string{
		zerolog.TraceLevel: gin.DebugMode,
		zerolog.DebugLevel: gin.DebugMode,
		zerolog.InfoLevel:  gin.ReleaseMode,
		zerolog.WarnLevel:  gin.ReleaseMode,
		zerolog.Disabled:   gin.ReleaseMode,
	} {
		if got := ginMode(level); got != want {
			t.Fatalf("level %s: expected %s, got %s", level, want, got)
		}
	}
}
