package endpoint

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/aurora-scoe/aocs-scoe/internal/pusframe"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	got  []pusframe.Packet
	seen chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{seen: make(chan struct{}, 64)}
}

func (d *recordingDispatcher) Dispatch(sessionID string, pkt pusframe.Packet) {
	d.mu.Lock()
	d.got = append(d.got, pkt)
	d.mu.Unlock()
	d.seen <- struct{}{}
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

func startServer(t *testing.T) (*Server, *recordingDispatcher, net.Addr) {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("reserve listener addr: %v", err)
	}
	addr := ln.Addr()
	ln.Close()

	srv := NewServer(nil)
	disp := newRecordingDispatcher()
	srv.SetDispatcher(disp)

	go srv.Serve(addr.String())
	waitForListen(t, addr.String())
	return srv, disp, addr
}

func waitForListen(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			c.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server never started listening on %s", addr)
}

func tcFrame(t *testing.T, seq uint16, svc, sub uint8) []byte {
	t.Helper()
	pkt, err := pusframe.Encode(pusframe.EncodeParams{
		Type:           pusframe.TC,
		APID:           1,
		SeqCount:       seq,
		PUSVersion:     pusframe.PUSVersion,
		ServiceType:    svc,
		ServiceSubtype: sub,
		SourceID:       1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	framed, err := pusframe.WrapFrame(pkt)
	if err != nil {
		t.Fatalf("WrapFrame: %v", err)
	}
	return framed
}

func TestServerDispatchesDecodedTC(t *testing.T) {
	srv, disp, addr := startServer(t)
	defer srv.Close()

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(tcFrame(t, 7, 17, 1)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-disp.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never saw the decoded TC")
	}
	if disp.count() != 1 {
		t.Fatalf("count = %d, want 1", disp.count())
	}
}

func TestServerSplitWritesStillFrame(t *testing.T) {
	srv, disp, addr := startServer(t)
	defer srv.Close()

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	full := tcFrame(t, 9, 17, 1)
	mid := len(full) / 2
	if _, err := conn.Write(full[:mid]); err != nil {
		t.Fatalf("Write first half: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := conn.Write(full[mid:]); err != nil {
		t.Fatalf("Write second half: %v", err)
	}

	select {
	case <-disp.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never saw the decoded TC across split writes")
	}
}

func TestServerUnicastReachesOnlyItsSession(t *testing.T) {
	srv, _, addr := startServer(t)
	defer srv.Close()

	connA, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial A: %v", err)
	}
	defer connA.Close()
	connB, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial B: %v", err)
	}
	defer connB.Close()

	// give both sessions time to register
	time.Sleep(50 * time.Millisecond)

	var sessionIDs []string
	var targetID string
	srv.mu.Lock()
	for id, sess := range srv.sessions {
		sessionIDs = append(sessionIDs, id)
		if sess.conn.RemoteAddr().String() == connA.LocalAddr().String() {
			targetID = id
		}
	}
	srv.mu.Unlock()
	if len(sessionIDs) != 2 {
		t.Fatalf("want 2 registered sessions, got %d", len(sessionIDs))
	}

	pusPkt, err := pusframe.Encode(pusframe.EncodeParams{
		Type:           pusframe.TM,
		APID:           1,
		ServiceType:    17,
		ServiceSubtype: 2,
		SourceID:       1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	srv.Unicast(targetID, pusPkt)

	connA.SetReadDeadline(time.Now().Add(1 * time.Second))
	buf := make([]byte, 64)
	n, rerr := connA.Read(buf)
	if rerr != nil || n == 0 {
		t.Fatalf("expected data on the targeted session, got n=%d err=%v", n, rerr)
	}

	connB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, rerr = connB.Read(buf)
	if n != 0 || rerr == nil {
		t.Fatalf("unicast leaked onto the other session: n=%d err=%v", n, rerr)
	}
}

func TestServerBroadcastReachesAllSessions(t *testing.T) {
	srv, _, addr := startServer(t)
	defer srv.Close()

	conns := make([]net.Conn, 3)
	for i := range conns {
		c, err := net.Dial("tcp", addr.String())
		if err != nil {
			t.Fatalf("Dial %d: %v", i, err)
		}
		defer c.Close()
		conns[i] = c
	}
	time.Sleep(50 * time.Millisecond)

	pusPkt, err := pusframe.Encode(pusframe.EncodeParams{
		Type:           pusframe.TM,
		APID:           1,
		ServiceType:    3,
		ServiceSubtype: 25,
		SourceID:       1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	srv.Broadcast(pusPkt)

	for i, c := range conns {
		c.SetReadDeadline(time.Now().Add(1 * time.Second))
		buf := make([]byte, 64)
		n, rerr := c.Read(buf)
		if rerr != nil || n == 0 {
			t.Fatalf("conn %d never received the broadcast: n=%d err=%v", i, n, rerr)
		}
	}
}

func TestServerCloseDrainsWithinTimeout(t *testing.T) {
	srv, _, addr := startServer(t)

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	srv.Close()
	if elapsed := time.Since(start); elapsed > shutdownDrainTimeout+500*time.Millisecond {
		t.Fatalf("Close took %v, want <= %v", elapsed, shutdownDrainTimeout)
	}
}

func TestServerOverflowClosesSession(t *testing.T) {
	srv, _, addr := startServer(t)
	defer srv.Close()

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	var sessionID string
	srv.mu.Lock()
	for id := range srv.sessions {
		sessionID = id
	}
	srv.mu.Unlock()

	pusPkt, err := pusframe.Encode(pusframe.EncodeParams{
		Type:           pusframe.TM,
		APID:           1,
		ServiceType:    17,
		ServiceSubtype: 2,
		SourceID:       1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// flood well past the queue depth and any plausible kernel socket
	// buffer without draining the client socket, forcing an overflow.
	for i := 0; i < 200000; i++ {
		srv.Unicast(sessionID, pusPkt)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.mu.Lock()
		_, ok := srv.sessions[sessionID]
		srv.mu.Unlock()
		if !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("overflowed session was never closed")
}
