package endpoint

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aurora-scoe/aocs-scoe/internal/pusframe"
	"github.com/aurora-scoe/aocs-scoe/internal/scoelog"
)

// session is one accepted connection: a reader goroutine that reassembles
// PUS packets and hands them to the dispatcher, and a writer goroutine
// that drains outQ onto the socket.
type session struct {
	id   string
	conn net.Conn

	outQ chan []byte

	signalOnce sync.Once
	closed     chan struct{} // closed to mean "stop taking new writes"

	connCloseOnce sync.Once
}

func (s *Server) newSession(conn net.Conn) *session {
	id := uuid.NewString()
	s.mu.Lock()
	sess := &session{
		id:     id,
		conn:   conn,
		outQ:   make(chan []byte, outboundQueueDepth),
		closed: make(chan struct{}),
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	s.lg.Info("session accepted", scoelog.KV("session", id), scoelog.KV("remote", conn.RemoteAddr().String()))
	return sess
}

// signalClose marks the session as ending: no further sends are accepted
// into outQ. It is idempotent.
func (s *session) signalClose() {
	s.signalOnce.Do(func() { close(s.closed) })
}

// closeConn closes the underlying connection exactly once. Safe to call
// from any goroutine, any number of times.
func (s *session) closeConn() {
	s.connCloseOnce.Do(func() { s.conn.Close() })
}

// forceClose tears a session down immediately: used on transport errors
// and queue overflow, where there is nothing worth draining.
func (s *session) forceClose() {
	s.signalClose()
	s.closeConn()
}

// beginDrain signals the writer to stop accepting new sends; the writer
// goroutine flushes whatever is already queued and then closes the
// connection itself. Server.Close bounds how long it waits for this with
// its own timeout, after which it calls forceClose on anything left.
func (s *session) beginDrain() {
	s.signalClose()
}

// runSession drives one session's reader and writer goroutines as a
// group: either failing means the whole session tears down. Neither loop
// actually returns an error today (a transport failure ends the loop,
// not a propagated error), but the group still gives the pair one shared
// lifetime and one Wait.
func (s *Server) runSession(sess *session) {
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		sess.forceClose()
		s.lg.Info("session closed", scoelog.KV("session", sess.id))
	}()

	var g errgroup.Group
	g.Go(func() error {
		s.writeLoop(sess)
		return nil
	})
	g.Go(func() error {
		s.readLoop(sess)
		sess.forceClose()
		return nil
	})
	g.Wait()
}

func (s *Server) writeLoop(sess *session) {
	for {
		select {
		case buf := <-sess.outQ:
			if _, err := sess.conn.Write(buf); err != nil {
				sess.forceClose()
				return
			}
		case <-sess.closed:
			s.drainRemaining(sess)
			sess.closeConn()
			return
		}
	}
}

// drainRemaining flushes whatever is already sitting in outQ without
// blocking for more; it runs once signalClose has fired, so nothing new
// can arrive after it starts.
func (s *Server) drainRemaining(sess *session) {
	for {
		select {
		case buf := <-sess.outQ:
			sess.conn.Write(buf)
		default:
			return
		}
	}
}

func (s *Server) readLoop(sess *session) {
	var buf []byte
	tmp := make([]byte, readChunkSize)
	for {
		n, err := sess.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			buf = s.drainFrames(sess, buf)
		}
		if err != nil {
			return
		}
	}
}

// drainFrames repeatedly applies the framing primitive to buf, dispatching
// every fully decoded packet and logging/dropping malformed ones, and
// returns whatever bytes remain once no more packets can be extracted.
func (s *Server) drainFrames(sess *session, buf []byte) []byte {
	for {
		pkt, remaining, ferr := pusframe.Frame(buf)
		buf = remaining
		if ferr != nil {
			s.lg.Warn("dropped malformed frame", scoelog.KV("session", sess.id), scoelog.KV("err", ferr.Error()))
			continue
		}
		if pkt == nil {
			return buf
		}
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(sess.id, *pkt)
		}
	}
}
