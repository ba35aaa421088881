package client

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var ErrRemoteTarget = errors.New("client: invalid remote target")

// RemoteTarget is a device host reached over SSH. Relayed frames are written
// under Dir on that host using the same layout as FileExecutor.
type RemoteTarget struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
	Dir                         string
}

// RemoteExecutor applies frames on a remote host. Each call runs one command
// on a shared SSH connection, so calls are serialized.
type RemoteExecutor struct {
	target RemoteTarget
	client *ssh.Client

	mu sync.Mutex
}

func DialRemoteExecutor(target RemoteTarget) (*RemoteExecutor, error) {
	if strings.TrimSpace(target.Dir) == "" {
		return nil, fmt.Errorf("%w: remote dir is required", ErrRemoteTarget)
	}
	client, err := target.dial()
	if err != nil {
		return nil, err
	}
	r := &RemoteExecutor{target: target, client: client}
	if err := r.run("mkdir -p "+shellEscape(target.Dir), nil); err != nil {
		_ = client.Close()
		return nil, err
	}
	return r, nil
}

func (r *RemoteExecutor) BulkPath(endpoint uint8) string {
	return path.Join(r.target.Dir, fmt.Sprintf("endpoint-%d.bin", endpoint))
}

func (r *RemoteExecutor) ControlLogPath() string {
	return path.Join(r.target.Dir, "control.log")
}

func (r *RemoteExecutor) BulkTransfer(endpoint uint8, data []byte, _ time.Duration) (int, error) {
	if err := r.appendRemote(r.BulkPath(endpoint), data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (r *RemoteExecutor) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, _ time.Duration) (int, error) {
	pkt := SetupPacket{RequestType: requestType, Request: request, Value: value, Index: index, Length: uint16(len(data))}
	if err := r.appendRemote(r.ControlLogPath(), []byte(pkt.String()+"\n")); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (r *RemoteExecutor) Finish(message string) error {
	return r.appendRemote(r.ControlLogPath(), []byte("complete "+message+"\n"))
}

func (r *RemoteExecutor) Close() error {
	return r.client.Close()
}

func (r *RemoteExecutor) appendRemote(target string, data []byte) error {
	return r.run("cat >> "+shellEscape(target), data)
}

func (r *RemoteExecutor) run(command string, stdin []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.client.NewSession()
	if err != nil {
		return fmt.Errorf("client: remote session: %w", err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdin = bytes.NewReader(stdin)
	session.Stderr = &stderr
	if err := session.Run(command); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("client: remote %q: %w: %s", command, err, msg)
		}
		return fmt.Errorf("client: remote %q: %w", command, err)
	}
	return nil
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func (t RemoteTarget) dial() (*ssh.Client, error) {
	address, err := t.address()
	if err != nil {
		return nil, err
	}
	config, err := t.clientConfig()
	if err != nil {
		return nil, err
	}
	if t.Timeout <= 0 {
		return ssh.Dial("tcp", address, config)
	}

	conn, err := net.DialTimeout("tcp", address, t.Timeout)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (t RemoteTarget) address() (string, error) {
	host := strings.TrimSpace(t.Host)
	if host == "" {
		return "", fmt.Errorf("%w: ssh host is required", ErrRemoteTarget)
	}
	if t.Port != "" {
		return net.JoinHostPort(host, t.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (t RemoteTarget) clientConfig() (*ssh.ClientConfig, error) {
	if t.User == "" {
		return nil, fmt.Errorf("%w: ssh user is required", ErrRemoteTarget)
	}
	signer, err := t.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if t.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := t.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         t.Timeout,
	}, nil
}

func (t RemoteTarget) signer() (ssh.Signer, error) {
	if t.KeyPath == "" {
		return nil, fmt.Errorf("%w: ssh key path is required", ErrRemoteTarget)
	}
	privateKey, err := os.ReadFile(t.KeyPath)
	if err != nil {
		return nil, err
	}
	if len(t.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, t.Passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (t RemoteTarget) knownHostsCallback() (ssh.HostKeyCallback, error) {
	p := strings.TrimSpace(t.KnownHostsPath)
	if p == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		p = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(p)
}
