// Package client implements the resilient controller-side session: a
// supervised connection manager that dials, reconnects on a fixed
// period, and correlates outbound telecommands to their verification
// telemetry by sequence count.
package client

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aurora-scoe/aocs-scoe/internal/pusframe"
	"github.com/aurora-scoe/aocs-scoe/internal/pusseq"
	"github.com/aurora-scoe/aocs-scoe/internal/scoelog"
)

// State is the connection manager's current phase.
type State int

const (
	Disconnected State = iota
	Dialing
	Connected
	Draining
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Dialing:
		return "dialing"
	case Connected:
		return "connected"
	case Draining:
		return "draining"
	}
	return "unknown"
}

// CommandDeadline bounds how long sendTelecommand waits for a
// verification TM before reporting failure.
const CommandDeadline = 5 * time.Second

const readChunkSize = 4096

// TelemetryHandler receives every TM[3,25] the client's receive loop
// decodes; *telemetry.Decoder satisfies this without this package
// importing it directly.
type TelemetryHandler interface {
	Handle(pkt pusframe.Packet)
}

// pending is one in-flight sendTelecommand awaiting its verification TM.
type pending struct {
	result chan bool
}

// Client owns a single outbound session to the endpoint. Callers issue
// commands via SendTelecommand/SendConnectionTest/the typed helpers;
// Run drives the connection manager until its context is canceled.
type Client struct {
	dialString      string
	reconnectPeriod time.Duration
	lg              *scoelog.Logger
	factory         *pusseq.Factory
	telemetry       TelemetryHandler

	mu            sync.Mutex
	state         State
	conn          net.Conn
	pend          map[uint16]*pending
	connTest      chan bool
	connAt        time.Time
	lastUp        time.Time
	tmCount       uint64
	connTestCount uint64
}

// Config bundles the fields needed to construct a Client.
type Config struct {
	DialString      string
	ReconnectPeriod time.Duration // 0 defaults to 5s
	APID            uint16
	SourceID        uint16
	Logger          *scoelog.Logger
	Telemetry       TelemetryHandler
}

// New constructs a Client. It does not dial until Run is called.
func New(cfg Config) *Client {
	period := cfg.ReconnectPeriod
	if period <= 0 {
		period = 5 * time.Second
	}
	return &Client{
		dialString:      cfg.DialString,
		reconnectPeriod: period,
		lg:              cfg.Logger,
		factory:         pusseq.NewFactory(cfg.APID, cfg.SourceID, nil),
		telemetry:       cfg.Telemetry,
		pend:            make(map[uint16]*pending),
	}
}

func (c *Client) warn(msg string, fields ...scoelog.Field) {
	if c.lg != nil {
		c.lg.Warn(msg, fields...)
	}
}

func (c *Client) info(msg string, fields ...scoelog.Field) {
	if c.lg != nil {
		c.lg.Info(msg, fields...)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Status is the snapshot returned by status().
type Status struct {
	Connected         bool
	LastUpdateSeconds float64
	TelemetryCount    uint64
}

// Status reports the client's current connectivity and telemetry
// freshness.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Connected: c.state == Connected, TelemetryCount: c.tmCount}
	if !c.lastUp.IsZero() {
		st.LastUpdateSeconds = time.Since(c.lastUp).Seconds()
	}
	return st
}

// State returns the connection manager's current phase.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionTestCount returns the running count of TC[17,1]/TM[17,2]
// round trips this client has completed, independent of status()'s
// spec-minimal view — diagnostic detail an adapter can surface without
// reaching into the connection manager's internals.
func (c *Client) ConnectionTestCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connTestCount
}

// Run drives the connection manager until ctx is canceled: dial, on
// success start the receive loop and arm the pending-command table,
// and on any disconnect fall back to a fixed-period retry with no
// backoff.
func (c *Client) Run(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(c.reconnectPeriod), 1)
	// the limiter starts full so the first dial attempt is immediate.

	for {
		if ctx.Err() != nil {
			c.setState(Draining)
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			c.setState(Draining)
			return
		}

		c.setState(Dialing)
		conn, err := net.DialTimeout("tcp", c.dialString, c.reconnectPeriod)
		if err != nil {
			c.warn("dial failed", scoelog.KV("err", err.Error()))
			c.setState(Disconnected)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connAt = time.Now()
		c.state = Connected
		c.mu.Unlock()
		c.info("connected", scoelog.KV("dial", c.dialString))
		go c.probeAfterConnect(ctx)

		c.runSession(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.state = Disconnected
		// pending-command table is cleared on any transition to
		// Disconnected, with every outstanding promise resolved false.
		stale := c.pend
		c.pend = make(map[uint16]*pending)
		staleConnTest := c.connTest
		c.connTest = nil
		c.mu.Unlock()
		for _, p := range stale {
			p.result <- false
		}
		if staleConnTest != nil {
			staleConnTest <- false
		}
	}
}

// probeAfterConnect sends one TC[17,1] liveness probe immediately after
// each successful (re)connect, the original controller's behavior;
// failure here is silent, since a real command will surface the same
// connectivity problem.
func (c *Client) probeAfterConnect(ctx context.Context) {
	c.SendConnectionTest(ctx)
}

// runSession reads from conn until it fails or ctx is canceled.
func (c *Client) runSession(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.receiveLoop(conn)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		conn.Close()
		<-done
	}
}

func (c *Client) receiveLoop(conn net.Conn) {
	var buf []byte
	tmp := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			buf = c.drainFrames(buf)
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) drainFrames(buf []byte) []byte {
	for {
		pkt, remaining, ferr := pusframe.Frame(buf)
		buf = remaining
		if ferr != nil {
			c.warn("dropped malformed frame", scoelog.KV("err", ferr.Error()))
			continue
		}
		if pkt == nil {
			return buf
		}
		c.handleInbound(*pkt)
	}
}

func (c *Client) handleInbound(pkt pusframe.Packet) {
	svc, sub := pkt.Secondary.ServiceType, pkt.Secondary.ServiceSubtype

	c.mu.Lock()
	c.lastUp = time.Now()
	c.mu.Unlock()

	switch {
	case svc == 1 && (sub == 1 || sub == 2 || sub == 7 || sub == 8):
		c.resolveVerification(sub, pkt.Payload)
	case svc == 17 && sub == 2:
		c.resolveConnectionTest()
	case svc == 3 && sub == 25:
		c.mu.Lock()
		c.tmCount++
		c.mu.Unlock()
		if c.telemetry != nil {
			c.telemetry.Handle(pkt)
		}
	}
}

func (c *Client) resolveVerification(sub uint8, payload []byte) {
	if len(payload) < 2 {
		return
	}
	seq := uint16(payload[0])<<8 | uint16(payload[1])
	ok := sub == 1 || sub == 7

	c.mu.Lock()
	p, found := c.pend[seq]
	if found {
		delete(c.pend, seq)
	}
	c.mu.Unlock()
	if found {
		p.result <- ok
	}
}

func (c *Client) resolveConnectionTest() {
	c.mu.Lock()
	ch := c.connTest
	c.connTest = nil
	c.connTestCount++
	c.mu.Unlock()
	if ch != nil {
		ch <- true
	}
}
