package session

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/tendyrelay/internal/testutil/testlog"
	"github.com/danmuck/tendyrelay/internal/testutil/tlstest"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 3, rng)
	if got < 500*time.Millisecond || got > 1500*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	calls := 0
	err := Retry(context.Background(), cfg, 5, nil, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	want := errors.New("refused")
	calls := 0
	err := Retry(context.Background(), cfg, 2, nil, func(int) error {
		calls++
		return want
	})
	if !errors.Is(err, want) || calls != 2 {
		t.Fatalf("expected last error after 2 calls, got err=%v calls=%d", err, calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cfg := BackoffConfig{InitialDelay: time.Hour, Multiplier: 1}
	err := Retry(ctx, cfg, 3, nil, func(int) error {
		cancel()
		return errors.New("refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	testlog.Start(t)
	cfg := Config{DeliveryTimeout: 2 * time.Second}.WithDefaults()
	def := DefaultConfig()
	if cfg.DeliveryTimeout != 2*time.Second {
		t.Fatalf("explicit delivery timeout overwritten: %v", cfg.DeliveryTimeout)
	}
	if cfg.ReadTimeout != def.ReadTimeout || cfg.WriteTimeout != def.WriteTimeout {
		t.Fatalf("timeouts not defaulted: %+v", cfg)
	}
	if cfg.MaxMessageBytes != def.MaxMessageBytes || cfg.Backoff != def.Backoff {
		t.Fatalf("limits not defaulted: %+v", cfg)
	}
}

func TestValidateServerTransport(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if err := cfg.ValidateServerTransport(); err != nil {
		t.Fatalf("plain transport should validate: %v", err)
	}
	cfg.TLS.Enabled = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg.TLS.CertFile = "server.crt"
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}
}

func TestServerAndClientTLSConfig(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	bundle := tlstest.Localhost(t, dir)

	cfg := DefaultConfig()
	cfg.TLS = TLSConfig{Enabled: true, CertFile: bundle.CertFile, KeyFile: bundle.KeyFile, CAFile: bundle.CAFile}
	srv, err := cfg.ServerTLSConfig()
	if err != nil {
		t.Fatalf("server tls config: %v", err)
	}
	if srv == nil || len(srv.Certificates) != 1 {
		t.Fatalf("expected one server certificate, got %+v", srv)
	}
	cli, err := cfg.ClientTLSConfig()
	if err != nil {
		t.Fatalf("client tls config: %v", err)
	}
	if cli.RootCAs == nil {
		t.Fatalf("expected root pool from ca file")
	}

	plain := DefaultConfig()
	if got, err := plain.ServerTLSConfig(); err != nil || got != nil {
		t.Fatalf("plain server tls config: got=%v err=%v", got, err)
	}

	bad := DefaultConfig()
	bad.TLS.CAFile = filepath.Join(dir, "server.key")
	if _, err := bad.ClientTLSConfig(); !errors.Is(err, ErrTLSCAFileInvalid) {
		t.Fatalf("expected ErrTLSCAFileInvalid, got %v", err)
	}
}
