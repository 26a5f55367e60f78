// Package server implements the daemon's accept loop (C14): binding the
// control listener, consulting the ban list on every accept, spawning one
// ftpproto.Router.Serve goroutine per connection, and coordinating graceful
// shutdown. Grounded on the teacher's pkg/adapter/nfs.NFSAdapter: a
// shutdown channel closed once, a WaitGroup tracking in-flight
// connections, a sync.Map of active net.Conn for forced closure after the
// shutdown timeout, and a goroutine watching ctx.Done() to trigger
// initiateShutdown independent of the accept loop.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amftpd/amftpd/internal/ftpproto"
	"github.com/amftpd/amftpd/internal/logger"
	"github.com/amftpd/amftpd/pkg/metrics"
)

// BanChecker is consulted on every accepted connection before a session is
// spawned. *banlist.Store implements this.
type BanChecker interface {
	IsBanned(ip net.IP) bool
}

// Config configures the accept loop. AUTH TLS is negotiated per the
// ftpproto.Router's own TLSConfig/RequireTLSForAuth fields, not here.
type Config struct {
	ListenAddress   string
	ShutdownTimeout time.Duration
	IdleTimeout     time.Duration
}

// Server owns the control listener and the pool of active sessions.
type Server struct {
	cfg    Config
	router *ftpproto.Router
	bans   BanChecker
	metric metrics.FTPMetrics

	listener   net.Listener
	listenerMu sync.Mutex

	activeConns sync.WaitGroup
	connCount   atomic.Int32
	activeSet   sync.Map // remote addr string -> net.Conn

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New constructs a Server around router. bans and metric may be nil to
// disable ban enforcement / metrics collection respectively.
func New(cfg Config, router *ftpproto.Router, bans BanChecker, metric metrics.FTPMetrics) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Server{
		cfg:      cfg,
		router:   router,
		bans:     bans,
		metric:   metric,
		shutdown: make(chan struct{}),
	}
}

// Run binds the listener and accepts connections until ctx is canceled,
// then blocks until in-flight sessions finish or ShutdownTimeout elapses.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.ListenAddress, err)
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()

	logger.Info("control listener bound", "address", s.cfg.ListenAddress)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		s.initiateShutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("accept error", "err", err)
				continue
			}
		}

		remoteIP := remoteIP(conn)
		if s.bans != nil && remoteIP != nil && s.bans.IsBanned(remoteIP) {
			logger.Debug("rejected banned ip", "ip", remoteIP)
			conn.Close()
			continue
		}

		s.activeConns.Add(1)
		n := s.connCount.Add(1)
		addr := conn.RemoteAddr().String()
		s.activeSet.Store(addr, conn)

		if s.metric != nil {
			s.metric.RecordSessionOpened()
			s.metric.SetActiveSessions(n)
		}

		go s.handle(ctx, conn, addr, n)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn, addr string, _ int32) {
	defer func() {
		s.activeSet.Delete(addr)
		s.activeConns.Done()
		remaining := s.connCount.Add(-1)
		if s.metric != nil {
			s.metric.RecordSessionClosed()
			s.metric.SetActiveSessions(remaining)
		}
	}()

	session := ftpproto.NewSession(conn, s.cfg.IdleTimeout)
	s.router.Serve(ctx, session)
}

func remoteIP(conn net.Conn) net.IP {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.IP
	}
	return nil
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.listenerMu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.listenerMu.Unlock()
	})
}

func (s *Server) gracefulShutdown() error {
	active := s.connCount.Load()
	logger.Info("waiting for active sessions", "active", active, "timeout", s.cfg.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("shutdown timeout exceeded, forcing closure", "remaining", remaining)
		s.forceCloseConnections()
		return fmt.Errorf("server: shutdown timeout: %d sessions force-closed", remaining)
	}
}

func (s *Server) forceCloseConnections() {
	s.activeSet.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			conn.Close()
		}
		return true
	})
}

// Stop initiates shutdown and waits for it to complete or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.forceCloseConnections()
		return ctx.Err()
	}
}
