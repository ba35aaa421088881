package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tendyrelay/internal/config"
	"github.com/danmuck/tendyrelay/internal/server"
	"github.com/danmuck/tendyrelay/internal/tendies"
)

// portEnvKeys are checked in order; the first non-empty one wins.
var portEnvKeys = []string{"TENDYRELAY_PORT", "PORT"}

// tendyrelay loader for TOML config with default overlay. An empty path
// yields the defaults.
func loadServiceConfig(path string) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw config.RelayFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return server.ServiceConfig{}, fmt.Errorf("load relay config: unknown key %q", undecoded[0].String())
	}

	host, port := splitListenAddr(cfg.ListenAddr)
	if meta.IsDefined("listen_host") {
		host = strings.TrimSpace(raw.ListenHost)
	}
	if meta.IsDefined("port") {
		if raw.Port <= 0 || raw.Port > 65535 {
			return server.ServiceConfig{}, fmt.Errorf("load relay config: port out of range: %d", raw.Port)
		}
		port = strconv.Itoa(raw.Port)
	}
	cfg.ListenAddr = net.JoinHostPort(host, port)

	if meta.IsDefined("encoding") {
		cfg.Encoding = strings.TrimSpace(raw.Encoding)
	}
	if meta.IsDefined("chunk_size") {
		cfg.Relay.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("endpoint") {
		cfg.Relay.Endpoint = raw.Endpoint
	}
	if meta.IsDefined("magic") {
		magic, err := tendies.ParseMagic(raw.Magic)
		if err != nil {
			return server.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
		}
		cfg.Relay.Decode.Magic = magic
	}
	if meta.IsDefined("strict_magic") {
		cfg.Relay.Decode.Mode = tendies.MagicPermissive
		if raw.StrictMagic {
			cfg.Relay.Decode.Mode = tendies.MagicStrict
		}
	}
	if meta.IsDefined("emit_complete") {
		cfg.Relay.EmitComplete = raw.EmitComplete
	}
	if meta.IsDefined("complete_message") {
		cfg.Relay.CompleteMessage = raw.CompleteMessage
	}
	if meta.IsDefined("success_status") {
		cfg.Relay.SuccessStatus = strings.TrimSpace(raw.SuccessStatus)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"delivery_timeout", raw.DeliveryTimeout, &cfg.Relay.DeliveryTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Session.HeartbeatInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return server.ServiceConfig{}, fmt.Errorf("load relay config: %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("delivery_timeout") {
		cfg.Session.DeliveryTimeout = cfg.Relay.DeliveryTimeout
	}

	if meta.IsDefined("max_upload_bytes") {
		cfg.Session.MaxMessageBytes = raw.MaxUploadBytes
	}
	if meta.IsDefined("spool_dir") {
		cfg.SpoolDir = strings.TrimSpace(raw.SpoolDir)
	}
	if meta.IsDefined("allowed_origins") {
		cfg.AllowedOrigins = append([]string(nil), raw.AllowedOrigins...)
	}
	if meta.IsDefined("tls_enabled") {
		cfg.Session.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}

	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}

// applyPortEnv replaces the listen port when TENDYRELAY_PORT or PORT is set.
func applyPortEnv(cfg *server.ServiceConfig, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, key := range portEnvKeys {
		raw := strings.TrimSpace(getenv(key))
		if raw == "" {
			continue
		}
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s %q", key, raw)
		}
		host, _ := splitListenAddr(cfg.ListenAddr)
		cfg.ListenAddr = net.JoinHostPort(host, strconv.Itoa(port))
		return nil
	}
	return nil
}

func splitListenAddr(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "0.0.0.0", strconv.Itoa(server.DefaultPort)
	}
	return host, port
}
