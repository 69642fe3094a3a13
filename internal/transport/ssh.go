package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/models"
	"golang.org/x/crypto/ssh"
)

// legacyKeyExchanges extends the modern defaults with the SHA-1 groups older OLT firmware offers
var legacyKeyExchanges = []string{
	"curve25519-sha256",
	"curve25519-sha256@libssh.org",
	"ecdh-sha2-nistp256",
	"ecdh-sha2-nistp384",
	"diffie-hellman-group14-sha256",
	"diffie-hellman-group14-sha1",
	"diffie-hellman-group1-sha1",
}

// SSHDialer opens interactive shells over SSH
type SSHDialer struct {
	port          int
	dialTimeout   time.Duration
	defaultCipher string
	logger        arbor.ILogger
}

// NewSSHDialer creates a dialer from the transport configuration
func NewSSHDialer(config common.TransportConfig, logger arbor.ILogger) *SSHDialer {
	port := config.Port
	if port == 0 {
		port = 22
	}
	return &SSHDialer{
		port:          port,
		dialTimeout:   common.ParseDuration(config.DialTimeout, 15*time.Second),
		defaultCipher: config.DefaultCipher,
		logger:        logger,
	}
}

// Dial connects, authenticates and starts a shell with a pty
func (d *SSHDialer) Dial(ctx context.Context, creds models.Credentials) (Shell, error) {
	port := creds.Port
	if port == 0 {
		port = d.port
	}
	addr := net.JoinHostPort(creds.Host, strconv.Itoa(port))

	password := creds.Password
	config := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		// OLTs sit on the management LAN and rotate host keys on firmware upgrades
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.dialTimeout,
	}
	config.KeyExchanges = legacyKeyExchanges

	cipher := creds.Cipher
	if cipher == "" {
		cipher = d.defaultCipher
	}
	if cipher != "" {
		config.Ciphers = []string{cipher}
	}

	dialer := net.Dialer{Timeout: d.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// The dial timeout also bounds the handshake and shell setup
	deadline := time.Now().Add(d.dialTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set deadline on %s: %w", addr, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)

	shell, err := startShell(client)
	if err != nil {
		client.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		shell.Close()
		return nil, fmt.Errorf("failed to clear deadline on %s: %w", addr, err)
	}

	d.logger.Trace().Str("host", creds.Host).Str("cipher", cipher).Msg("SSH shell started")
	return shell, nil
}

func startShell(client *ssh.Client) (*sshShell, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty("vt100", 500, 200, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	return &sshShell{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

type sshShell struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (s *sshShell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sshShell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sshShell) Close() error {
	s.session.Close()
	return s.client.Close()
}
