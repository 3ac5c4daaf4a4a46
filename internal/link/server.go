package link

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/tracectl/internal/observability"
	"github.com/danmuck/tracectl/internal/target"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Server exposes a target to one host at a time over TCP. Later connections
// are refused while a host is attached.
type Server struct {
	cfg Config
	t   *target.Target

	attached atomic.Bool
	connsMu  sync.Mutex
	conns    map[net.Conn]struct{}
}

func NewServer(t *target.Target, cfg Config) *Server {
	return &Server{cfg: cfg, t: t, conns: make(map[net.Conn]struct{})}
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	log.Info().Msgf("link.Server listening addr=%q", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	if !s.attached.CompareAndSwap(false, true) {
		log.Warn().Msgf("link.Server refused remote=%q reason=host already attached", remote)
		observability.RecordSession("refused")
		_ = conn.Close()
		return
	}
	defer s.attached.Store(false)

	logger := observability.Logger("link").With().Str("session", uuid.NewString()).Logger()
	logger.Info().Msgf("link.Server host attached remote=%q", remote)
	if err := Pump(ctx, s.t, conn, s.cfg); err != nil {
		logger.Warn().Msgf("link.Server session failed err=%v", err)
		observability.RecordSession("failed")
		return
	}
	logger.Info().Msg("link.Server host detached")
	observability.RecordSession("closed")
}

// Attached reports whether a host is currently connected.
func (s *Server) Attached() bool { return s.attached.Load() }

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
