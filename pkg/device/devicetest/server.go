// Package devicetest runs an in-process SSH server that imitates an
// IOS-style CLI, for tests that need a reachable device.
package devicetest

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/germanamz/netpilot/pkg/inventory"
)

const invalidInput = "              ^\r\n% Invalid input detected at '^' marker.\r\n"

// Config describes the simulated device.
type Config struct {
	Hostname string
	Username string
	Password string
	// EnableSecret, when set, starts sessions in user exec mode and
	// requires "enable" with this secret.
	EnableSecret string
	// Responses maps exec-mode commands to their output. Lines are joined
	// with CRLF on the wire.
	Responses map[string]string
	// RejectConfig lists configuration commands answered with an invalid
	// input marker.
	RejectConfig []string
}

// Server is a running fake device.
type Server struct {
	Host string
	Port int

	cfg      Config
	ln       net.Listener
	sshCfg   *ssh.ServerConfig
	hostKey  ssh.PublicKey
	mu       sync.Mutex
	commands []string
	wg       sync.WaitGroup
}

// NewServer starts a server on a loopback port and stops it when the test
// ends.
func NewServer(t testing.TB, cfg Config) *Server {
	t.Helper()

	if cfg.Hostname == "" {
		cfg.Hostname = "switch1"
	}
	if cfg.Username == "" {
		cfg.Username = "admin"
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("devicetest: generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("devicetest: host key signer: %v", err)
	}

	sshCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if meta.User() == cfg.Username && string(pw) == cfg.Password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	sshCfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("devicetest: listen: %v", err)
	}

	addr := ln.Addr().(*net.TCPAddr)
	s := &Server{
		Host:    addr.IP.String(),
		Port:    addr.Port,
		cfg:     cfg,
		ln:      ln,
		sshCfg:  sshCfg,
		hostKey: signer.PublicKey(),
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)

	return s
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// HostKey returns the server's public host key.
func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKey
}

// Commands returns every line received by the CLI, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Device returns an inventory entry that reaches this server with the
// configured credentials.
func (s *Server) Device(name string, settings map[string]any) inventory.Device {
	creds := map[string]inventory.Credential{
		"default": {Username: s.cfg.Username, Password: s.cfg.Password},
	}
	if s.cfg.EnableSecret != "" {
		creds["enable"] = inventory.Credential{Password: s.cfg.EnableSecret}
	}

	return inventory.Device{
		Name:        name,
		OS:          "iosxe",
		Credentials: creds,
		Connections: map[string]inventory.Connection{
			"cli": {Protocol: "ssh", IP: s.Host, Port: s.Port, Settings: settings},
		},
	}
}

// Close stops accepting connections.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	sc, chans, reqs, err := ssh.NewServerConn(nc, s.sshCfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}

		ch, requests, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	var once sync.Once
	for req := range requests {
		switch req.Type {
		case "pty-req", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			once.Do(func() { go s.runCLI(ch) })
		default:
			_ = req.Reply(false, nil)
		}
	}
}

type cliState struct {
	mode        string // "user", "exec", "config", "config-if"
	awaitEnable bool
}

func (s *Server) prompt(st *cliState) string {
	switch st.mode {
	case "user":
		return s.cfg.Hostname + ">"
	case "config":
		return s.cfg.Hostname + "(config)#"
	case "config-if":
		return s.cfg.Hostname + "(config-if)#"
	default:
		return s.cfg.Hostname + "#"
	}
}

func (s *Server) runCLI(ch ssh.Channel) {
	defer ch.Close()

	st := &cliState{mode: "exec"}
	if s.cfg.EnableSecret != "" {
		st.mode = "user"
	}

	_, _ = ch.Write([]byte("\r\n" + s.prompt(st)))

	r := bufio.NewReader(ch)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if st.awaitEnable {
			st.awaitEnable = false
			out := "\r\n"
			if line == s.cfg.EnableSecret {
				st.mode = "exec"
			} else {
				out += "% Access denied\r\n"
			}
			_, _ = ch.Write([]byte(out + s.prompt(st)))
			continue
		}

		s.mu.Lock()
		s.commands = append(s.commands, line)
		s.mu.Unlock()

		out, exit := s.handle(st, strings.TrimSpace(line))
		if exit {
			_, _ = ch.Write([]byte(line + "\r\n"))
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		}

		msg := line + "\r\n" + out
		if !st.awaitEnable {
			msg += s.prompt(st)
		}
		_, _ = ch.Write([]byte(msg))
	}
}

// handle returns the command output, CRLF terminated, and whether the
// session ends.
func (s *Server) handle(st *cliState, cmd string) (string, bool) {
	switch st.mode {
	case "config", "config-if":
		return s.handleConfig(st, cmd), false
	}

	switch {
	case cmd == "":
		return "", false
	case cmd == "exit" || cmd == "logout":
		return "", true
	case cmd == "enable":
		if st.mode == "user" {
			st.awaitEnable = true
			return "Password: ", false
		}
		return "", false
	case strings.HasPrefix(cmd, "terminal "):
		return "", false
	case cmd == "configure terminal" || cmd == "conf t":
		if st.mode == "user" {
			return invalidInput, false
		}
		st.mode = "config"
		return "Enter configuration commands, one per line.  End with CNTL/Z.\r\n", false
	}

	if out, ok := s.cfg.Responses[cmd]; ok {
		return crlf(out), false
	}

	return invalidInput, false
}

func (s *Server) handleConfig(st *cliState, cmd string) string {
	for _, bad := range s.cfg.RejectConfig {
		if cmd == bad {
			return invalidInput
		}
	}

	switch {
	case cmd == "end":
		st.mode = "exec"
	case cmd == "exit":
		if st.mode == "config-if" {
			st.mode = "config"
		} else {
			st.mode = "exec"
		}
	case strings.HasPrefix(cmd, "interface "):
		st.mode = "config-if"
	}

	return ""
}

func crlf(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\r\n")
	return s + "\r\n"
}
