package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrUnknownKind = errors.New("config: unknown config kind")

const (
	KindRelay  = "relay"
	KindClient = "client"
)

// RelayFile is the tendyrelay config.toml shape. Durations are Go duration strings.
type RelayFile struct {
	Port              int      `toml:"port" comment:"listen port; PORT or TENDYRELAY_PORT override it"`
	ListenHost        string   `toml:"listen_host"`
	Encoding          string   `toml:"encoding" comment:"json | cbor | msgpack | frame"`
	ChunkSize         int      `toml:"chunk_size"`
	Endpoint          int      `toml:"endpoint"`
	Magic             string   `toml:"magic"`
	StrictMagic       bool     `toml:"strict_magic"`
	EmitComplete      bool     `toml:"emit_complete"`
	CompleteMessage   string   `toml:"complete_message"`
	SuccessStatus     string   `toml:"success_status"`
	DeliveryTimeout   string   `toml:"delivery_timeout"`
	HandshakeTimeout  string   `toml:"handshake_timeout"`
	ReadTimeout       string   `toml:"read_timeout"`
	WriteTimeout      string   `toml:"write_timeout"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	MaxUploadBytes    int64    `toml:"max_upload_bytes"`
	SpoolDir          string   `toml:"spool_dir" comment:"empty keeps uploads in memory"`
	AllowedOrigins    []string `toml:"allowed_origins" comment:"empty allows every origin"`
	TLSEnabled        bool     `toml:"tls_enabled"`
	TLSCertFile       string   `toml:"tls_cert_file"`
	TLSKeyFile        string   `toml:"tls_key_file"`
}

// ClientFile is the tendyclient config.toml shape.
type ClientFile struct {
	URL                   string `toml:"url"`
	Encoding              string `toml:"encoding"`
	Origin                string `toml:"origin"`
	OutputDir             string `toml:"output_dir" comment:"where the file executor writes endpoint data"`
	DialAttempts          int    `toml:"dial_attempts"`
	TransferTimeout       string `toml:"transfer_timeout"`
	ReadTimeout           string `toml:"read_timeout"`
	TLSCAFile             string `toml:"tls_ca_file"`
	TLSInsecureSkipVerify bool   `toml:"tls_insecure_skip_verify"`

	SSHHost                string `toml:"ssh_host" comment:"empty writes to output_dir locally"`
	SSHUser                string `toml:"ssh_user"`
	SSHKeyFile             string `toml:"ssh_key_file"`
	SSHKnownHosts          string `toml:"ssh_known_hosts"`
	SSHInsecureSkipHostKey bool   `toml:"ssh_insecure_skip_host_key"`
	SSHDir                 string `toml:"ssh_dir"`
	SSHTimeout             string `toml:"ssh_timeout"`
}

func DefaultRelayFile() RelayFile {
	return RelayFile{
		Port:              8765,
		ListenHost:        "0.0.0.0",
		Encoding:          "json",
		ChunkSize:         16384,
		Endpoint:          1,
		Magic:             "TEND",
		StrictMagic:       false,
		EmitComplete:      true,
		CompleteMessage:   "Process finished",
		SuccessStatus:     "Wallpaper applied",
		DeliveryTimeout:   "15s",
		HandshakeTimeout:  "5s",
		ReadTimeout:       "60s",
		WriteTimeout:      "15s",
		HeartbeatInterval: "20s",
		MaxUploadBytes:    256 * 1024 * 1024,
		AllowedOrigins:    []string{},
	}
}

func DefaultClientFile() ClientFile {
	return ClientFile{
		URL:             "ws://127.0.0.1:8765/ws",
		Encoding:        "json",
		OutputDir:       "device-out",
		DialAttempts:    5,
		TransferTimeout: "5s",
		ReadTimeout:     "60s",
		SSHDir:          "/var/mobile/tendies",
		SSHTimeout:      "10s",
	}
}

// ValidateFile decodes path strictly: unknown keys and type mismatches fail.
func ValidateFile(kind, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var out any
	switch normalizeKind(kind) {
	case KindRelay:
		out = &RelayFile{}
	case KindClient:
		out = &ClientFile{}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	dec := toml.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
