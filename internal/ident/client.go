// Package ident implements an RFC 1413 ("identd") client used to query the
// remote username associated with an incoming control connection.
package ident

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultTimeout is the query timeout used when the caller specifies none
// (§4.12.2: "default 5 s").
const DefaultTimeout = 5 * time.Second

// ErrNoIdent is returned when the remote identd reports no user for the
// queried port pair (an "ERROR" response), as opposed to a transport
// failure.
type ErrNoIdent struct{ Reason string }

func (e *ErrNoIdent) Error() string { return fmt.Sprintf("ident: %s", e.Reason) }

// Client queries identd servers. The zero value is usable.
type Client struct {
	Timeout time.Duration
}

// Lookup dials remoteIP:113 and asks for the identity owning the connection
// identified by (serverPort, clientPort) from the remote host's point of
// view. Failures (dial, timeout, malformed response, ERROR reply) are
// non-fatal to the caller by contract (§4.12.2); the caller decides whether
// to treat a failure as a login denial.
func (c Client) Lookup(ctx context.Context, remoteIP net.IP, serverPort, clientPort int) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(remoteIP.String(), "113"))
	if err != nil {
		return "", fmt.Errorf("ident: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	query := fmt.Sprintf("%d, %d\r\n", serverPort, clientPort)
	if _, err := conn.Write([]byte(query)); err != nil {
		return "", fmt.Errorf("ident: write: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("ident: read: %w", err)
	}
	return parseResponse(line)
}

// parseResponse parses a RFC 1413 reply line of the form:
// "server-port , client-port : USERID : os-type : user-id"
// or "server-port , client-port : ERROR : error-type"
func parseResponse(line string) (string, error) {
	parts := strings.Split(line, ":")
	if len(parts) < 3 {
		return "", fmt.Errorf("ident: malformed response %q", strings.TrimSpace(line))
	}
	kind := strings.TrimSpace(parts[1])
	if !strings.EqualFold(kind, "USERID") {
		return "", &ErrNoIdent{Reason: strings.TrimSpace(strings.Join(parts[2:], ":"))}
	}
	userID := strings.Join(parts[3:], ":")
	return strings.TrimSpace(userID), nil
}
