// Package ftpproto implements the per-session FTP(S) protocol state machine:
// data connections, the control-channel session, command dispatch, and SITE
// subcommands (C10-C13).
package ftpproto

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrInvalidState is returned when a data-connection operation is attempted
// out of sequence, or when passive port binding is exhausted (§4.10).
var ErrInvalidState = errors.New("ftpproto: invalid data connection state")

type dataState int

const (
	dataNone dataState = iota
	dataActive
	dataPassiveListening
	dataPassiveConnected
)

// PortRange bounds the passive port pool (§5: "best-effort first-bind; no
// reservation").
type PortRange struct {
	Low  int
	High int
}

// DataConnection manages the lifecycle of one FTP data channel: either
// dialed out (active/PORT/EPRT) or listened-for (passive/PASV/EPSV),
// optionally wrapped in TLS per the control session's PROT level (C10).
type DataConnection struct {
	state dataState
	conn  net.Conn
	ln    net.Listener

	tlsConfig *tls.Config // non-nil if PROT=P and control-TLS is active
}

// NewDataConnection returns an idle data connection. tlsConfig may be nil
// when the session is not protected (PROT=C).
func NewDataConnection(tlsConfig *tls.Config) *DataConnection {
	return &DataConnection{tlsConfig: tlsConfig}
}

// SetActive dials remote for an active-mode (PORT/EPRT) transfer. Per §4.10,
// the data stream is wrapped as a TLS client when protection is active,
// mirroring the control session's server-side handshake role reversal that
// FTPS implicit-data-TLS conventions require.
func (d *DataConnection) SetActive(ctx context.Context, remote *net.TCPAddr) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", remote.String())
	if err != nil {
		return fmt.Errorf("dial active data connection: %w", err)
	}
	if d.tlsConfig != nil {
		conn = tls.Client(conn, d.tlsConfig)
	}
	d.conn = conn
	d.state = dataActive
	return nil
}

// StartPassive binds a listener on bindAddress, trying each port in portRange
// in turn and returning the first successful bind (§4.10). If portRange is
// empty (zero value), the OS chooses an ephemeral port.
func (d *DataConnection) StartPassive(bindAddress string, portRange PortRange) (int, error) {
	if portRange.Low == 0 && portRange.High == 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(bindAddress, "0"))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		d.ln = ln
		d.state = dataPassiveListening
		return ln.Addr().(*net.TCPAddr).Port, nil
	}

	for port := portRange.Low; port <= portRange.High; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(bindAddress, fmt.Sprint(port)))
		if err != nil {
			continue
		}
		d.ln = ln
		d.state = dataPassiveListening
		return port, nil
	}
	return 0, fmt.Errorf("%w: passive port range exhausted", ErrInvalidState)
}

// EnsureConnected accepts the single client connection for a passive data
// channel, wrapping it in TLS server-mode if protection is active.
func (d *DataConnection) EnsureConnected(ctx context.Context) error {
	if d.state != dataPassiveListening {
		return ErrInvalidState
	}
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := d.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("accept passive data connection: %w", r.err)
		}
		conn := r.conn
		if d.tlsConfig != nil {
			conn = tls.Server(conn, d.tlsConfig)
		}
		d.conn = conn
		d.state = dataPassiveConnected
		return nil
	case <-ctx.Done():
		d.ln.Close()
		return ctx.Err()
	}
}

// Send obtains the established stream and invokes writerFn (a streaming
// copy), flushing and closing on every exit path (§4.10).
func (d *DataConnection) Send(writerFn func(net.Conn) error) error {
	if d.conn == nil {
		return ErrInvalidState
	}
	defer d.Close()
	return writerFn(d.conn)
}

// Conn returns the established stream, or nil if none is connected yet.
func (d *DataConnection) Conn() net.Conn { return d.conn }

// Close releases the listener and/or connection on every exit path.
func (d *DataConnection) Close() error {
	var errs []error
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		d.conn = nil
	}
	if d.ln != nil {
		if err := d.ln.Close(); err != nil {
			errs = append(errs, err)
		}
		d.ln = nil
	}
	d.state = dataNone
	return errors.Join(errs...)
}

// RemoteAddr returns the remote endpoint of the established connection, if
// any, used for FXP classification (comparing the data peer to the control
// peer per §4.12.3).
func (d *DataConnection) RemoteAddr() net.Addr {
	if d.conn == nil {
		return nil
	}
	return d.conn.RemoteAddr()
}
