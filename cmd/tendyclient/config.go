package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tendyrelay/internal/client"
	"github.com/danmuck/tendyrelay/internal/config"
)

// clientSettings is the client runtime config plus the executor target.
type clientSettings struct {
	Client    client.Config
	OutputDir string
	Remote    client.RemoteTarget
}

func defaultSettings() clientSettings {
	file := config.DefaultClientFile()
	timeout, _ := time.ParseDuration(file.SSHTimeout)
	return clientSettings{
		Client:    client.DefaultConfig(),
		OutputDir: file.OutputDir,
		Remote:    client.RemoteTarget{Dir: file.SSHDir, Timeout: timeout},
	}
}

// newExecutor picks the remote executor when an SSH host is configured.
func (s clientSettings) newExecutor() (client.Executor, func() error, error) {
	if strings.TrimSpace(s.Remote.Host) != "" {
		remote, err := client.DialRemoteExecutor(s.Remote)
		if err != nil {
			return nil, nil, err
		}
		return remote, remote.Close, nil
	}
	local, err := client.NewFileExecutor(s.OutputDir)
	if err != nil {
		return nil, nil, err
	}
	return local, func() error { return nil }, nil
}

// tendyclient loader for TOML config with default overlay.
func loadClientSettings(path string) (clientSettings, error) {
	out := defaultSettings()
	if strings.TrimSpace(path) == "" {
		return out, nil
	}

	var raw config.ClientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientSettings{}, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return clientSettings{}, fmt.Errorf("load client config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("url") {
		out.Client.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("encoding") {
		out.Client.Encoding = strings.TrimSpace(raw.Encoding)
	}
	if meta.IsDefined("origin") {
		out.Client.Origin = strings.TrimSpace(raw.Origin)
	}
	if meta.IsDefined("output_dir") {
		out.OutputDir = strings.TrimSpace(raw.OutputDir)
	}
	if meta.IsDefined("dial_attempts") {
		out.Client.Session.DialAttempts = raw.DialAttempts
	}
	if meta.IsDefined("transfer_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.TransferTimeout))
		if err != nil {
			return clientSettings{}, fmt.Errorf("load client config: transfer_timeout: %w", err)
		}
		out.Client.TransferTimeout = d
	}
	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return clientSettings{}, fmt.Errorf("load client config: read_timeout: %w", err)
		}
		out.Client.Session.ReadTimeout = d
	}
	if meta.IsDefined("tls_ca_file") {
		out.Client.Session.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_insecure_skip_verify") {
		out.Client.Session.TLS.InsecureSkipVerify = raw.TLSInsecureSkipVerify
	}
	if meta.IsDefined("ssh_host") {
		out.Remote.Host = strings.TrimSpace(raw.SSHHost)
	}
	if meta.IsDefined("ssh_user") {
		out.Remote.User = strings.TrimSpace(raw.SSHUser)
	}
	if meta.IsDefined("ssh_key_file") {
		out.Remote.KeyPath = strings.TrimSpace(raw.SSHKeyFile)
	}
	if meta.IsDefined("ssh_known_hosts") {
		out.Remote.KnownHostsPath = strings.TrimSpace(raw.SSHKnownHosts)
	}
	if meta.IsDefined("ssh_insecure_skip_host_key") {
		out.Remote.InsecureSkipHostKeyChecking = raw.SSHInsecureSkipHostKey
	}
	if meta.IsDefined("ssh_dir") {
		out.Remote.Dir = strings.TrimSpace(raw.SSHDir)
	}
	if meta.IsDefined("ssh_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SSHTimeout))
		if err != nil {
			return clientSettings{}, fmt.Errorf("load client config: ssh_timeout: %w", err)
		}
		out.Remote.Timeout = d
	}

	out.Client.Session = out.Client.Session.WithDefaults()
	return out, nil
}
