// Package endpoint implements the session server: the TCP-facing side of
// the mock AOCS. It accepts client connections, reassembles PUS packets
// from each connection's byte stream, hands decoded telecommands to a
// dispatcher, and delivers telemetry back out either to one session
// (unicast) or to every live session (broadcast).
package endpoint

import (
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aurora-scoe/aocs-scoe/internal/pusframe"
	"github.com/aurora-scoe/aocs-scoe/internal/scoelog"
)

// outboundQueueDepth bounds each session's pending-write queue. A session
// that cannot keep up is closed rather than allowed to stall a sender.
const outboundQueueDepth = 256

// readChunkSize is the maximum number of bytes read from a connection at
// once; the rolling buffer is fed in chunks of this size or smaller.
const readChunkSize = 4096

// shutdownDrainTimeout bounds how long Close waits for sessions to finish
// writing their queues before it gives up and tears them down anyway.
const shutdownDrainTimeout = 2 * time.Second

// Dispatcher is the collaborator that handles one decoded telecommand.
// *dispatch.Dispatcher satisfies this.
type Dispatcher interface {
	Dispatch(sessionID string, pkt pusframe.Packet)
}

// Server accepts TCP connections on one listening address and fans
// decoded telecommands out to a Dispatcher. It also implements
// hkscheduler.Sender and dispatch.Sender, so the same *Server is the
// delivery path for both verification TMs and housekeeping reports.
type Server struct {
	lg         *scoelog.Logger
	dispatcher Dispatcher

	mu       sync.Mutex
	ln       *net.TCPListener
	sessions map[string]*session
	closed   bool

	wg sync.WaitGroup
}

// NewServer constructs a Server. SetDispatcher must be called before
// Serve processes any traffic (the dispatcher itself is usually built
// with this Server as its Sender, so the two are wired together after
// construction).
func NewServer(lg *scoelog.Logger) *Server {
	if lg == nil {
		lg = scoelog.New(io.Discard)
	}
	return &Server{lg: lg, sessions: make(map[string]*session)}
}

// SetDispatcher installs the handler for decoded telecommands.
func (s *Server) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Serve opens bind and runs the accept loop until Close is called. It
// blocks the calling goroutine; callers normally run it via errgroup or a
// bare `go`.
func (s *Server) Serve(bind string) error {
	addr, err := net.ResolveTCPAddr("tcp", bind)
	if err != nil {
		return err
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	s.lg.Info("session server listening", scoelog.KV("bind", bind))

	var failCount int
	for {
		conn, err := ln.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "closed") {
				return nil
			}
			failCount++
			s.lg.Error("accept failed", scoelog.KV("err", err.Error()))
			if failCount > 3 {
				return err
			}
			continue
		}
		failCount = 0
		sess := s.newSession(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSession(sess)
		}()
	}
}

// Close stops accepting new connections and tears down every live
// session, waiting up to shutdownDrainTimeout for their outbound queues to
// drain before forcing the remainder closed.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.ln
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, sess := range sessions {
		sess.beginDrain()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownDrainTimeout):
		s.lg.Warn("shutdown timed out waiting for sessions to drain")
		s.mu.Lock()
		for _, sess := range s.sessions {
			sess.forceClose()
		}
		s.mu.Unlock()
	}
}

// Unicast delivers pusPacket, EDEN-framed, to exactly one session. A
// missing or dead session is a silent no-op: the caller (verification TM,
// one-shot HK) has no recourse but to drop it.
func (s *Server) Unicast(sessionID string, pusPacket []byte) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.enqueue(sess, pusPacket)
}

// Broadcast delivers pusPacket, EDEN-framed, to every live session.
// Failure on one session (full queue, closed socket) ejects only that
// session.
func (s *Server) Broadcast(pusPacket []byte) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		s.enqueue(sess, pusPacket)
	}
}

func (s *Server) enqueue(sess *session, pusPacket []byte) {
	framed, err := pusframe.WrapFrame(pusPacket)
	if err != nil {
		s.lg.Error("failed to frame outbound packet", scoelog.KV("session", sess.id), scoelog.KV("err", err.Error()))
		return
	}
	select {
	case sess.outQ <- framed:
	default:
		s.lg.Warn("session outbound queue full, closing", scoelog.KV("session", sess.id))
		sess.forceClose()
	}
}
