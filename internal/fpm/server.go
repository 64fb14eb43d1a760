package fpm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/veesix-networks/dpsync/pkg/component"
	"github.com/veesix-networks/dpsync/pkg/dplane"
	"github.com/veesix-networks/dpsync/pkg/logger"
)

const DefaultListen = "127.0.0.1:2620"

type Submitter interface {
	Submit(kind dplane.OpKind, operand dplane.Operand) (*dplane.Operation, error)
}

// Server accepts FPM connections from the routing daemon. Each connection has
// its own decoder, so next-hop ids are scoped to the connection that sent them.
type Server struct {
	*component.Base

	logger    *slog.Logger
	addr      string
	submitter Submitter

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
}

func NewServer(addr string, submitter Submitter) *Server {
	if addr == "" {
		addr = DefaultListen
	}
	return &Server{
		Base:      component.NewBase("fpm"),
		logger:    logger.Get(logger.FPM),
		addr:      addr,
		submitter: submitter,
		conns:     make(map[net.Conn]struct{}),
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.StartContext(ctx)

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("fpm listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("FPM server listening", "addr", lis.Addr().String())
	s.Go(func() { s.accept(lis) })
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping FPM server")

	s.mu.Lock()
	s.stopped = true
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.StopContext()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) accept(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if s.Ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("FPM accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.Go(func() { s.serve(conn) })
	}
}

func (s *Server) serve(conn net.Conn) {
	log := s.logger.With("peer", conn.RemoteAddr().String())
	log.Info("FPM peer connected")

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		log.Info("FPM peer disconnected")
	}()

	if err := s.handle(conn, log); err != nil && s.Ctx.Err() == nil {
		log.Warn("FPM connection closed", "error", err)
	}
}

// handle reads frames until the peer goes away. A frame that cannot be decoded
// ends the connection.
func (s *Server) handle(r io.Reader, log *slog.Logger) error {
	br := bufio.NewReader(r)
	dec := NewDecoder()
	buf := make([]byte, 0, 4096)

	for {
		payload, err := readFrame(br, buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		buf = payload[:0]

		msgs, skipped, err := dec.Decode(payload)
		for _, m := range msgs {
			op, subErr := s.submitter.Submit(m.Kind, m.Operand)
			if subErr != nil {
				log.Warn("Failed to submit operation", "kind", m.Kind.String(), "error", subErr)
				continue
			}
			log.Debug("Queued operation", "op", op.String())
		}
		for _, t := range skipped {
			log.Debug("Skipping netlink message", "type", msgTypeName(t))
		}
		if err != nil {
			return err
		}
	}
}
