package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/germanamz/netpilot/pkg/inventory"
)

const defaultSSHPort = 22

var passwordPrompt = regexp.MustCompile(`(?i)password:\s*$`)

// SSHConnector opens CLI sessions over SSH with password authentication.
// Host keys are checked against the connection's known_hosts file when one is
// configured and accepted otherwise.
type SSHConnector struct {
	Logger *slog.Logger
}

// Connect dials the device's CLI connection, starts an interactive shell and
// prepares the terminal: privileged mode when an enable secret is present,
// paging disabled, then any configured init commands.
func (c *SSHConnector) Connect(ctx context.Context, dev inventory.Device) (Session, error) {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}

	conn, err := dev.CLI()
	if err != nil {
		return nil, err
	}

	settings, err := SettingsFor(conn)
	if err != nil {
		return nil, fmt.Errorf("device: %s settings: %w", dev.Name, err)
	}

	cred, ok := dev.Credential(settings.Credential)
	if !ok {
		return nil, fmt.Errorf("device: %s has no %q credential", dev.Name, settings.Credential)
	}

	hostKeys, err := hostKeyCallback(settings.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("device: %s known hosts: %w", dev.Name, err)
	}

	port := conn.Port
	if port == 0 {
		port = defaultSSHPort
	}
	addr := net.JoinHostPort(conn.Address(), strconv.Itoa(port))

	client, err := dial(ctx, addr, &ssh.ClientConfig{
		User: cred.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cred.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cred.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeys,
		Timeout:         settings.ConnectTimeout,
	}, settings.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("device: connect %s (%s): %w", dev.Name, addr, err)
	}

	s, err := startShell(client, settings)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("device: shell on %s: %w", dev.Name, err)
	}

	if err := s.prepare(ctx, dev, settings); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("device: prepare %s: %w", dev.Name, err)
	}

	log.Debug("device session opened", "device", dev.Name, "addr", addr, "prompt", s.prompt)

	return s, nil
}

func hostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // lab default, known_hosts is opt-in
	}
	return knownhosts.New(path)
}

// dial connects and completes the SSH handshake, bounded by ctx and timeout.
func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = nc.SetDeadline(deadline)

	sc, chans, reqs, err := ssh.NewClientConn(nc, addr, cfg)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	_ = nc.SetDeadline(time.Time{})

	return ssh.NewClient(sc, chans, reqs), nil
}

type sshSession struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	promptRe *regexp.Regexp
	timeout  time.Duration
	prompt   string

	chunks  chan []byte
	done    chan struct{}
	readErr error
	pending bytes.Buffer

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

func startShell(client *ssh.Client, settings Settings) (*sshSession, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, err
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}

	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := sess.RequestPty("vt100", 0, 511, modes); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s := &sshSession{
		client:   client,
		session:  sess,
		stdin:    stdin,
		promptRe: regexp.MustCompile(settings.PromptPattern),
		timeout:  settings.CommandTimeout,
		chunks:   make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	go s.pump(stdout)

	return s, nil
}

// pump copies shell output into chunks until the stream ends.
func (s *sshSession) pump(r io.Reader) {
	defer close(s.chunks)

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.readErr = err
			}
			return
		}
	}
}

func (s *sshSession) prepare(ctx context.Context, dev inventory.Device, settings Settings) error {
	first, err := s.readUntil(ctx, s.atPrompt)
	if err != nil {
		return fmt.Errorf("waiting for prompt: %w", err)
	}
	s.prompt = lastLine(normalize(first))

	if strings.HasSuffix(s.prompt, ">") {
		if secret, ok := dev.Credential(settings.EnableCredential); ok && secret.Password != "" {
			if err := s.enable(ctx, secret.Password); err != nil {
				return err
			}
		}
	}

	var setup []string
	if settings.DisablePaging {
		setup = append(setup, "terminal length 0", "terminal width 511")
	}
	setup = append(setup, settings.InitCommands...)

	for _, cmd := range setup {
		if _, err := s.Execute(ctx, cmd); err != nil {
			return err
		}
	}

	return nil
}

func (s *sshSession) enable(ctx context.Context, secret string) error {
	if err := s.write("enable"); err != nil {
		return err
	}

	out, err := s.readUntil(ctx, func(last string) bool {
		return passwordPrompt.MatchString(last) || s.atPrompt(last)
	})
	if err != nil {
		return fmt.Errorf("enable: %w", err)
	}

	if passwordPrompt.MatchString(lastLine(normalize(out))) {
		if err := s.write(secret); err != nil {
			return err
		}
		if out, err = s.readUntil(ctx, s.atPrompt); err != nil {
			return fmt.Errorf("enable: %w", err)
		}
	}

	s.prompt = lastLine(normalize(out))
	if !strings.HasSuffix(s.prompt, "#") {
		return errors.New("enable: privileged mode was not granted")
	}

	return nil
}

func (s *sshSession) Execute(ctx context.Context, command string) (string, error) {
	out, err := s.send(ctx, command)
	if err != nil {
		return out, err
	}

	if marker := RejectionMarker(out); marker != "" {
		return out, fmt.Errorf("%w: %q: %s", ErrCommandRejected, command, marker)
	}

	return out, nil
}

func (s *sshSession) Configure(ctx context.Context, commands []string) (string, error) {
	if len(commands) == 0 {
		return "", nil
	}

	var transcript strings.Builder
	record := func(prompt, cmd, out string) {
		transcript.WriteString(prompt)
		transcript.WriteString(cmd)
		transcript.WriteByte('\n')
		if out != "" {
			transcript.WriteString(out)
			transcript.WriteByte('\n')
		}
	}

	lines := make([]string, 0, len(commands)+2)
	lines = append(lines, "configure terminal")
	lines = append(lines, commands...)
	lines = append(lines, "end")

	for _, cmd := range lines {
		prompt := s.prompt
		out, err := s.send(ctx, cmd)
		record(prompt, cmd, out)
		if err != nil {
			return transcript.String(), err
		}

		if marker := RejectionMarker(out); marker != "" {
			if cmd != "end" {
				prompt = s.prompt
				if endOut, endErr := s.send(ctx, "end"); endErr == nil {
					record(prompt, "end", endOut)
				}
			}
			return transcript.String(), fmt.Errorf("%w: %q: %s", ErrCommandRejected, cmd, marker)
		}
	}

	return transcript.String(), nil
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.write("exit")
		s.closed = true
		close(s.done)
		_ = s.stdin.Close()
		_ = s.session.Close()
		if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// send writes command and returns its cleaned output.
func (s *sshSession) send(ctx context.Context, command string) (string, error) {
	if err := s.write(command); err != nil {
		return "", err
	}

	raw, err := s.readUntil(ctx, s.atPrompt)
	if err != nil {
		return "", fmt.Errorf("%q: %w", command, err)
	}

	return s.clean(raw, command), nil
}

func (s *sshSession) write(line string) error {
	if s.closed {
		return ErrClosed
	}
	_, err := io.WriteString(s.stdin, line+"\n")
	return err
}

func (s *sshSession) atPrompt(last string) bool {
	return s.promptRe.MatchString(last)
}

// readUntil consumes output until done reports true for the last line, then
// returns everything read since the previous call.
func (s *sshSession) readUntil(ctx context.Context, done func(last string) bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		if s.pending.Len() > 0 && done(lastLine(normalize(s.pending.String()))) {
			out := s.pending.String()
			s.pending.Reset()
			return out, nil
		}

		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				if s.readErr != nil {
					return "", fmt.Errorf("%w: %w", ErrClosed, s.readErr)
				}
				return "", ErrClosed
			}
			s.pending.Write(chunk)
		case <-timer.C:
			return "", fmt.Errorf("device: no prompt after %s", s.timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// clean drops the echoed command and the trailing prompt, remembering the
// prompt for the next transcript line.
func (s *sshSession) clean(raw, command string) string {
	lines := strings.Split(normalize(raw), "\n")

	if len(lines) > 0 && strings.HasSuffix(strings.TrimSpace(lines[0]), command) {
		lines = lines[1:]
	}

	if n := len(lines); n > 0 {
		s.prompt = strings.TrimSpace(lines[n-1])
		lines = lines[:n-1]
	}

	return strings.TrimRight(strings.Join(lines, "\n"), "\n ")
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
