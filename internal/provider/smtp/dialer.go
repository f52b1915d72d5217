package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	netsmtp "net/smtp"
	"strconv"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/shineum/alertmail-lite/internal/provider"
	tlsconfig "github.com/shineum/alertmail-lite/internal/tls"
)

// ErrTLSRequired is returned when TLS is required but the server does not
// offer STARTTLS.
var ErrTLSRequired = fmt.Errorf("%w: server does not offer STARTTLS and use_tls is set", provider.ErrInvalidConfig)

// tlsMode is how a session secures its connection.
type tlsMode int

const (
	// tlsOpportunistic upgrades with STARTTLS when the server offers it.
	tlsOpportunistic tlsMode = iota
	// tlsStartTLS requires a STARTTLS upgrade before authenticating.
	tlsStartTLS
	// tlsImplicit wraps the connection in TLS before the greeting.
	tlsImplicit
)

func (m tlsMode) String() string {
	switch m {
	case tlsStartTLS:
		return "starttls"
	case tlsImplicit:
		return "implicit"
	default:
		return "opportunistic"
	}
}

// modeFor derives the TLS mode from the TLS flag and the port.
func modeFor(cfg provider.Config) tlsMode {
	switch {
	case !cfg.UseTLS:
		return tlsOpportunistic
	case cfg.Port == 465:
		return tlsImplicit
	default:
		return tlsStartTLS
	}
}

// sessionDialer opens SMTP sessions whose connection is closed when the
// dial context is done, so a timed-out send cannot complete later.
type sessionDialer struct {
	addr     string
	host     string
	username string
	password string
	auth     netsmtp.Auth
	mode     tlsMode
	tls      *tls.Config
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

func newSessionDialer(cfg provider.Config) (*sessionDialer, error) {
	tlsCfg, err := tlsconfig.ClientConfig(tlsconfig.ClientOptions{
		ServerName:         cfg.Server,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		CAFile:             cfg.CAFile,
	})
	if err != nil {
		return nil, err
	}

	d := &sessionDialer{
		addr:     net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port)),
		host:     cfg.Server,
		username: cfg.SenderEmail,
		password: cfg.SenderSecret,
		mode:     modeFor(cfg),
		tls:      tlsCfg,
		dial:     (&net.Dialer{}).DialContext,
	}
	if cfg.AuthMethod == provider.AuthOAuth2 {
		d.auth = &xoauth2{username: cfg.SenderEmail, token: cfg.SenderSecret}
	}
	return d, nil
}

// Dial connects, secures and authenticates a session. The session stays
// bound to ctx until it is closed.
func (d *sessionDialer) Dial(ctx context.Context) (gomail.SendCloser, error) {
	conn, err := d.dial(ctx, "tcp", d.addr)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	s, err := d.handshake(conn)
	if err != nil {
		stop()
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	s.stop = stop
	return s, nil
}

func (d *sessionDialer) handshake(conn net.Conn) (*session, error) {
	if d.mode == tlsImplicit {
		conn = tls.Client(conn, d.tls)
	}

	c, err := netsmtp.NewClient(conn, d.host)
	if err != nil {
		return nil, err
	}
	if err := c.Hello("localhost"); err != nil {
		return nil, err
	}

	if d.mode != tlsImplicit {
		ok, _ := c.Extension("STARTTLS")
		switch {
		case ok:
			if err := c.StartTLS(d.tls); err != nil {
				return nil, err
			}
		case d.mode == tlsStartTLS:
			return nil, ErrTLSRequired
		}
	}

	if a := d.authFor(c); a != nil {
		if err := c.Auth(a); err != nil {
			return nil, err
		}
	}
	return &session{client: c}, nil
}

// authFor picks the SASL mechanism the same way gomail does: CRAM-MD5, then
// LOGIN when PLAIN is absent, then PLAIN.
func (d *sessionDialer) authFor(c *netsmtp.Client) netsmtp.Auth {
	if d.auth != nil {
		return d.auth
	}
	if d.username == "" {
		return nil
	}
	ok, mechs := c.Extension("AUTH")
	if !ok {
		return nil
	}
	switch {
	case strings.Contains(mechs, "CRAM-MD5"):
		return netsmtp.CRAMMD5Auth(d.username, d.password)
	case strings.Contains(mechs, "LOGIN") && !strings.Contains(mechs, "PLAIN"):
		return &loginAuth{username: d.username, password: d.password}
	default:
		return netsmtp.PlainAuth("", d.username, d.password, d.host)
	}
}

// session is one authenticated SMTP conversation.
type session struct {
	client *netsmtp.Client
	stop   func() bool
}

func (s *session) Send(from string, to []string, msg io.WriterTo) error {
	if err := s.client.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := s.client.Rcpt(addr); err != nil {
			return err
		}
	}
	w, err := s.client.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *session) Close() error {
	if s.stop != nil {
		s.stop()
	}
	if err := s.client.Quit(); err != nil {
		_ = s.client.Close()
		return err
	}
	return nil
}

// loginAuth implements the LOGIN mechanism. Credentials are only sent over TLS.
type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(server *netsmtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("LOGIN authentication requires an encrypted connection")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch {
	case bytes.EqualFold(fromServer, []byte("Username:")):
		return []byte(a.username), nil
	case bytes.EqualFold(fromServer, []byte("Password:")):
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected LOGIN challenge: %s", fromServer)
	}
}
