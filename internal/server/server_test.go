package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/amftpd/amftpd/internal/ftpproto"
)

type fakeBanChecker struct {
	banned map[string]bool
}

func (f *fakeBanChecker) IsBanned(ip net.IP) bool {
	return f.banned[ip.String()]
}

func dialWithRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("could not dial %s", addr)
	return nil
}

func TestServeAcceptsConnectionAndBanner(t *testing.T) {
	router := &ftpproto.Router{Sessions: ftpproto.NewSessionRegistry()}
	srv := New(Config{ListenAddress: "127.0.0.1:0", ShutdownTimeout: time.Second}, router, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	var addr string
	for i := 0; i < 200; i++ {
		srv.listenerMu.Lock()
		if srv.listener != nil {
			addr = srv.listener.Addr().String()
		}
		srv.listenerMu.Unlock()
		if addr != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("listener never bound")
	}

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read banner: %v", err)
	}
	if len(line) < 3 || line[:3] != "220" {
		t.Errorf("expected 220 banner, got %q", line)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestRunRejectsBannedIP(t *testing.T) {
	router := &ftpproto.Router{Sessions: ftpproto.NewSessionRegistry()}
	bans := &fakeBanChecker{banned: map[string]bool{"127.0.0.1": true}}
	srv := New(Config{ListenAddress: "127.0.0.1:0", ShutdownTimeout: time.Second}, router, bans, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	var addr string
	for i := 0; i < 200; i++ {
		srv.listenerMu.Lock()
		if srv.listener != nil {
			addr = srv.listener.Addr().String()
		}
		srv.listenerMu.Unlock()
		if addr != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("listener never bound")
	}

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if n != 0 || err == nil {
		t.Errorf("expected banned connection to be closed with no banner, got n=%d err=%v", n, err)
	}
}

func TestGracefulShutdownForcesCloseAfterTimeout(t *testing.T) {
	srv := New(Config{ListenAddress: "127.0.0.1:0", ShutdownTimeout: 50 * time.Millisecond}, &ftpproto.Router{}, nil, nil)
	srv.activeConns.Add(1)
	defer srv.activeConns.Done()

	err := srv.gracefulShutdown()
	if err == nil {
		t.Error("expected timeout error when a session never completes")
	}
}
