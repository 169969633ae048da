package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
)

const shutdownCommand = "sudo -S shutdown now"

type SSHConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	KnownHostsPath string
	Timeout        time.Duration
}

// SSHShutdowner powers the node off over SSH. The sudo password is fed on stdin.
type SSHShutdowner struct {
	cfg SSHConfig
	log *logger.Logger
}

func NewSSHShutdowner(cfg SSHConfig, log *logger.Logger) (*SSHShutdowner, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
		return nil, errors.New("ssh shutdown: host, user and password are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SSHShutdowner{cfg: cfg, log: log.Named("ssh")}, nil
}

func (s *SSHShutdowner) clientConfig() (*ssh.ClientConfig, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if s.cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(s.cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKey = cb
	} else {
		s.log.Warnw("no known_hosts configured, host key is not verified", "host", s.cfg.Host)
	}
	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(s.cfg.Password)},
		HostKeyCallback: hostKey,
		Timeout:         s.cfg.Timeout,
	}, nil
}

// Shutdown is bounded by cfg.Timeout and ctx from dial to exit status.
func (s *SSHShutdowner) Shutdown(ctx context.Context) error {
	clientCfg, err := s.clientConfig()
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	// closing the raw conn unblocks the handshake and any pending session call
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })

	err = s.run(nc, addr, clientCfg)
	if !stop() {
		return fmt.Errorf("ssh shutdown on %s: %w", addr, context.Cause(ctx))
	}
	return err
}

func (s *SSHShutdowner) run(nc net.Conn, addr string, clientCfg *ssh.ClientConfig) error {
	conn, chans, reqs, err := ssh.NewClientConn(nc, addr, clientCfg)
	if err != nil {
		_ = nc.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(conn, chans, reqs)
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session: %w", err)
	}
	defer sess.Close()
	sess.Stdin = strings.NewReader(s.cfg.Password + "\n")

	s.log.Infow("sending shutdown", "host", addr)
	err = sess.Run(shutdownCommand)
	var exitMissing *ssh.ExitMissingError
	switch {
	case err == nil:
	case errors.As(err, &exitMissing), errors.Is(err, io.EOF):
		// the node went down before reporting an exit status
	default:
		return fmt.Errorf("run shutdown on %s: %w", addr, err)
	}
	return nil
}
