package auth

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// TransferMode selects the file copy primitive used by Download.
type TransferMode string

const (
	TransferSCP  TransferMode = "scp"
	TransferSFTP TransferMode = "sftp"
)

// ParseTransferMode validates a transfer mode name. Empty selects SCP.
func ParseTransferMode(s string) (TransferMode, error) {
	switch TransferMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", TransferSCP:
		return TransferSCP, nil
	case TransferSFTP:
		return TransferSFTP, nil
	default:
		return "", fmt.Errorf("unknown transfer mode %q (expected scp or sftp)", s)
	}
}

// SSHClient represents an SSH connection
type SSHClient struct {
	client   *ssh.Client
	transfer TransferMode
	done     chan struct{}
}

// SSHConfig represents SSH connection configuration
type SSHConfig struct {
	Hostname string
	Username string
	Port     string
	KeyPath  string
	UseAgent bool
	// KnownHostsPath is the known_hosts file used to verify the server key.
	// Unknown and changed keys are always rejected.
	KnownHostsPath     string
	Timeout            time.Duration
	KeepAlive          time.Duration
	DisableDefaultKeys bool
	Transfer           TransferMode
}

// NewSSHClient dials the host, verifies its key against known_hosts and
// authenticates with the agent, the configured key and the default keys.
func NewSSHClient(config SSHConfig) (*SSHClient, error) {
	if config.Port == "" {
		config.Port = "22"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = 30 * time.Second
	}
	if config.Transfer == "" {
		config.Transfer = TransferSCP
	}
	if config.KnownHostsPath == "" {
		config.KnownHostsPath = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}

	authMethods, err := collectAuthMethods(config)
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(config.Hostname, config.Port)

	hostKeyCallback, err := HostKeyCallback(ExpandHome(config.KnownHostsPath))
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:              config.Username,
		Auth:              authMethods,
		HostKeyCallback:   hostKeyCallback,
		HostKeyAlgorithms: KnownHostKeyAlgorithms(hostKeyCallback, address),
		Timeout:           config.Timeout,
	}

	client, err := ssh.Dial("tcp", address, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	sshClient := &SSHClient{
		client:   client,
		transfer: config.Transfer,
		done:     make(chan struct{}),
	}

	go sshClient.keepAlive(config.KeepAlive)

	return sshClient, nil
}

func collectAuthMethods(config SSHConfig) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	// Try SSH agent first if available
	if config.UseAgent {
		if agentAuth, err := getSSHAgent(); err == nil {
			authMethods = append(authMethods, agentAuth)
		}
	}

	var keyErr error
	if config.KeyPath != "" {
		keyAuth, err := getPublicKeyAuth(ExpandHome(config.KeyPath))
		if err != nil {
			keyErr = err
		} else {
			authMethods = append(authMethods, keyAuth)
		}
	}

	if !config.DisableDefaultKeys {
		defaultKeys := []string{
			filepath.Join(homeDir(), ".ssh", "id_rsa"),
			filepath.Join(homeDir(), ".ssh", "id_ed25519"),
			filepath.Join(homeDir(), ".ssh", "id_ecdsa"),
		}

		for _, keyPath := range defaultKeys {
			if config.KeyPath != "" && filepath.Clean(keyPath) == filepath.Clean(ExpandHome(config.KeyPath)) {
				continue // already added explicitly
			}
			if _, err := os.Stat(keyPath); err == nil {
				if keyAuth, err := getPublicKeyAuth(keyPath); err == nil {
					authMethods = append(authMethods, keyAuth)
				}
			}
		}
	}

	if len(authMethods) == 0 {
		if keyErr != nil {
			return nil, fmt.Errorf("no valid authentication methods found: %w", keyErr)
		}
		return nil, fmt.Errorf("no valid authentication methods found")
	}
	return authMethods, nil
}

func (c *SSHClient) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		}
	}
}

// getSSHAgent returns SSH agent authentication method
func getSSHAgent() (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
	}

	agentClient := agent.NewClient(conn)
	return ssh.PublicKeysCallback(agentClient.Signers), nil
}

// getPublicKeyAuth returns public key authentication method
func getPublicKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", keyPath, err)
	}

	return ssh.PublicKeys(signer), nil
}

// ExecuteCommand runs a command on the remote host and waits for it to exit.
// A non-zero exit status is reported as *ssh.ExitError.
func (c *SSHClient) ExecuteCommand(command string) (string, string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(command)
	return stdout.String(), stderr.String(), err
}

// DialRemote opens a connection from the remote host, e.g. to its Docker socket.
func (c *SSHClient) DialRemote(network, address string) (net.Conn, error) {
	return c.client.Dial(network, address)
}

// Download copies remotePath into a newly created localPath. The local file
// is left in place if the copy fails part way.
func (c *SSHClient) Download(remotePath, localPath string, progress ProgressFunc) (int64, error) {
	file, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file: %w", err)
	}

	var n int64
	switch c.transfer {
	case TransferSFTP:
		n, err = c.downloadSFTP(remotePath, file, progress)
	default:
		n, err = c.downloadSCP(remotePath, file, progress)
	}

	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close local file: %w", closeErr)
	}
	return n, err
}

// Close closes the SSH connection
func (c *SSHClient) Close() error {
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.Getenv("HOME")
}
