package ftpproto

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/amftpd/amftpd/internal/userstore"
)

// Reputation tracks a session's standing for ban/throttle decisions (§3).
type Reputation int

const (
	Good Reputation = iota
	Suspect
	Blocked
)

// Protection is the PROT level negotiated over the control channel (§3).
type Protection int

const (
	ProtClear Protection = iota // C
	ProtPrivate                 // P
)

var sessionCounter int64

// NextSessionID hands out 32-bit monotonically assigned session ids (§3).
func NextSessionID() uint32 {
	return uint32(atomic.AddInt64(&sessionCounter, 1))
}

// Counters are the per-session activity tallies from §3.
type Counters struct {
	FailedLogins      int
	AbortedTransfers  int
	CommandsThisMinute int
	TotalCommands     int
}

// Session owns one control connection and all per-connection mutable state
// described in §3 (C11). A session is single-threaded: its control reader,
// data transfer and writes are strictly serialized.
type Session struct {
	ID uint32

	conn   net.Conn
	reader *bufio.Reader

	tlsActive bool
	tlsConfig *tls.Config

	Account     *userstore.Account // nil until authenticated
	PendingUser string
	CWD         string
	Protection  Protection
	RestOffset  *int64
	RenameFrom  string
	QuitRequested bool

	LastActivity time.Time
	IsFXP        bool
	Reputation   Reputation
	Counters     Counters

	RemoteEndpoint net.Addr
	IdentUser      string

	IdleTimeout time.Duration

	Data *DataConnection
}

// NewSession wraps conn as a freshly accepted control channel.
func NewSession(conn net.Conn, idleTimeout time.Duration) *Session {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Session{
		ID:             NextSessionID(),
		conn:           conn,
		reader:         bufio.NewReaderSize(conn, 8<<10),
		CWD:            "/",
		LastActivity:   time.Now(),
		RemoteEndpoint: conn.RemoteAddr(),
		IdleTimeout:    idleTimeout,
	}
}

// Touch updates last-activity on every line received (§4.11).
func (s *Session) Touch() { s.LastActivity = time.Now() }

// Authenticated reports whether an account has been bound to this session.
func (s *Session) Authenticated() bool { return s.Account != nil }

// ReadLine reads one CRLF-terminated command line, bounded by the session's
// idle timeout. Returns the trimmed line (without CRLF) or an error — either
// an I/O failure (session terminates silently, §7) or a timeout (caller
// emits 421 and terminates).
func (s *Session) ReadLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := s.reader.ReadString('\n')
		ch <- result{line, err}
	}()

	timer := time.NewTimer(s.IdleTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		s.Touch()
		return strings.TrimRight(r.line, "\r\n"), nil
	case <-timer.C:
		return "", ErrIdleTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ErrIdleTimeout is returned by ReadLine when no command arrives within the
// session's idle timeout (§4.11).
var ErrIdleTimeout = fmt.Errorf("ftpproto: idle timeout")

// WriteReply writes one fixed-format reply line, appending CRLF. Used for
// single-line replies; multi-line blocks use WriteMultiline.
func (s *Session) WriteReply(code int, text string) error {
	_, err := fmt.Fprintf(s.conn, "%d %s\r\n", code, text)
	return err
}

// WriteMultiline writes an RFC 959 multi-line reply block: "code-" for
// every line but the last, "code " for the last.
func (s *Session) WriteMultiline(code int, lines []string) error {
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		if _, err := fmt.Fprintf(s.conn, "%d%s%s\r\n", code, sep, line); err != nil {
			return err
		}
	}
	return nil
}

// UpgradeTLS replaces the control stream in place with a TLS server
// connection (AUTH TLS, §4.11/§4.12.2). After this call returns
// successfully, no plaintext data may be written; on handshake failure the
// caller must close the session immediately.
func (s *Session) UpgradeTLS(ctx context.Context, cfg *tls.Config) error {
	tlsConn := tls.Server(s.conn, cfg)
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		return err
	}
	s.conn = tlsConn
	s.reader = bufio.NewReaderSize(tlsConn, 8<<10)
	s.tlsActive = true
	s.tlsConfig = cfg
	return nil
}

// TLSActive reports whether the control channel has completed AUTH TLS.
func (s *Session) TLSActive() bool { return s.tlsActive }

// LocalAddr returns the control connection's local endpoint, used to report
// the server's own address in PASV replies.
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close releases the control connection and any open data channel.
func (s *Session) Close() error {
	if s.Data != nil {
		s.Data.Close()
	}
	return s.conn.Close()
}
