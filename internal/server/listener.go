package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/net/netutil"

	mserrors "github.com/tturner/modsim/internal/errors"
	"github.com/tturner/modsim/internal/modbus"
)

// Start binds the listener and launches the accept and sampling loops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.ListenIP, s.config.TCPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return mserrors.WrapNetworkError(fmt.Errorf("listen TCP: %w", err), s.config.ListenIP, s.config.TCPPort)
	}
	s.listener = netutil.LimitListener(ln, s.config.MaxConnections)

	s.logger.Info("Modbus echo responder listening on %s", ln.Addr())

	s.wg.Add(2)
	go s.acceptLoop()
	go s.sampleLoop()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for all
// loops and handlers to exit.
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	s.pool.Release()

	s.logger.Info("Responder stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.report("Responder accept error: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		if err := s.pool.Submit(func() { s.handleConnection(conn) }); err != nil {
			s.wg.Done()
			s.report("Responder rejecting %s: %v", conn.RemoteAddr(), err)
			conn.Close()
		}
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	if !s.track(conn) {
		return
	}
	defer s.untrack(conn)

	s.active.Add(1)
	defer s.active.Add(-1)

	remoteAddr := conn.RemoteAddr().String()
	s.logger.Verbose("Client connected: %s", remoteAddr)

	buffer := make([]byte, 0, 1024)
	readBuf := make([]byte, 4096)

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))

		n, err := conn.Read(readBuf)
		if err != nil {
			if err == io.EOF {
				s.logger.Verbose("Client disconnected: %s", remoteAddr)
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Verbose("Closing idle connection %s", remoteAddr)
				return
			}
			if s.ctx.Err() == nil {
				s.report("Responder read error from %s: %v", remoteAddr, err)
			}
			return
		}

		buffer = append(buffer, readBuf[:n]...)
		frames, rest, err := modbus.SplitFrames(buffer)
		for _, frame := range frames {
			s.counter.Add(1)
			s.total.Add(1)
			if _, err := conn.Write(frame); err != nil {
				if s.ctx.Err() == nil {
					s.report("Responder write error to %s: %v", remoteAddr, err)
				}
				return
			}
		}
		if err != nil {
			s.logger.Info("%v", mserrors.WrapFrameError(err, remoteAddr))
			buffer = buffer[:0]
			continue
		}
		buffer = rest
	}
}
