package client

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/aurora-scoe/aocs-scoe/internal/pusframe"
)

// ErrNotConnected is returned by SendTelecommand/SendConnectionTest when
// no session is currently established.
var ErrNotConnected = errors.New("client: not connected")

// SendTelecommand mints a TC via the packet factory, requests both
// acceptance and execution verification, writes the framed bytes, and
// awaits the result with a 5-second deadline. The pending-command entry
// is evicted unconditionally, whether by a matching verification TM or
// by deadline expiry.
func (c *Client) SendTelecommand(ctx context.Context, serviceType, serviceSubtype uint8, payload []byte) (bool, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false, ErrNotConnected
	}

	raw, seq, err := c.factory.MintTC(pusframe.AckAcceptance|pusframe.AckExecution, serviceType, serviceSubtype, payload)
	if err != nil {
		return false, err
	}
	framed, err := pusframe.WrapFrame(raw)
	if err != nil {
		return false, err
	}

	p := &pending{result: make(chan bool, 1)}
	c.mu.Lock()
	c.pend[seq] = p
	c.mu.Unlock()

	if _, err := conn.Write(framed); err != nil {
		c.mu.Lock()
		delete(c.pend, seq)
		c.mu.Unlock()
		return false, err
	}

	deadline := time.NewTimer(CommandDeadline)
	defer deadline.Stop()
	select {
	case ok := <-p.result:
		return ok, nil
	case <-deadline.C:
		c.mu.Lock()
		delete(c.pend, seq)
		c.mu.Unlock()
		return false, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pend, seq)
		c.mu.Unlock()
		return false, ctx.Err()
	}
}

// SendConnectionTest issues TC[17,1] and waits for the matching TM[17,2]
// with a 5-second deadline.
func (c *Client) SendConnectionTest(ctx context.Context) (bool, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false, ErrNotConnected
	}

	raw, _, err := c.factory.MintTC(0, 17, 1, nil)
	if err != nil {
		return false, err
	}
	framed, err := pusframe.WrapFrame(raw)
	if err != nil {
		return false, err
	}

	ch := make(chan bool, 1)
	c.mu.Lock()
	c.connTest = ch
	c.mu.Unlock()

	if _, err := conn.Write(framed); err != nil {
		c.mu.Lock()
		c.connTest = nil
		c.mu.Unlock()
		return false, err
	}

	deadline := time.NewTimer(CommandDeadline)
	defer deadline.Stop()
	select {
	case ok := <-ch:
		return ok, nil
	case <-deadline.C:
		c.mu.Lock()
		c.connTest = nil
		c.mu.Unlock()
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func f32Payload(v float32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func u16Payload(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// StartSim issues TC[8,1] function id 0x01.
func (c *Client) StartSim(ctx context.Context) (bool, error) {
	return c.SendTelecommand(ctx, 8, 1, []byte{0x01})
}

// StopSim issues TC[8,1] function id 0x02.
func (c *Client) StopSim(ctx context.Context) (bool, error) {
	return c.SendTelecommand(ctx, 8, 1, []byte{0x02})
}

// ResetSim issues TC[8,1] function id 0x03.
func (c *Client) ResetSim(ctx context.Context) (bool, error) {
	return c.SendTelecommand(ctx, 8, 1, []byte{0x03})
}

// CommitStagedParameters issues TC[8,1] function id 0x04.
func (c *Client) CommitStagedParameters(ctx context.Context) (bool, error) {
	return c.SendTelecommand(ctx, 8, 1, []byte{0x04})
}

// SelfTest issues TC[8,1] function id 0x05.
func (c *Client) SelfTest(ctx context.Context) (bool, error) {
	return c.SendTelecommand(ctx, 8, 1, []byte{0x05})
}

const rwOpTorqueSpeedControl = 0x04

// SetRWTorque issues TC[8,1] function id 0x10+i with the
// TORQUE_SPEED_CONTROL opcode and a commanded torque in N*m.
func (c *Client) SetRWTorque(ctx context.Context, i int, torque float32) (bool, error) {
	payload := append([]byte{0x10 + byte(i), rwOpTorqueSpeedControl}, f32Payload(torque)...)
	return c.SendTelecommand(ctx, 8, 1, payload)
}

// SetThruster issues TC[8,1] function id 0x20+i to turn a thruster on or
// off.
func (c *Client) SetThruster(ctx context.Context, i int, firing bool) (bool, error) {
	var on byte
	if firing {
		on = 1
	}
	return c.SendTelecommand(ctx, 8, 1, []byte{0x20 + byte(i), on})
}

// SetTorqueRod issues TC[8,1] function id 0x30+i with a commanded dipole
// in A*m^2.
func (c *Client) SetTorqueRod(ctx context.Context, i int, dipole float32) (bool, error) {
	payload := append([]byte{0x30 + byte(i)}, f32Payload(dipole)...)
	return c.SendTelecommand(ctx, 8, 1, payload)
}

// SetSADA issues TC[8,1] function id 0x40+i with a commanded angle in
// degrees.
func (c *Client) SetSADA(ctx context.Context, i int, angleDeg float32) (bool, error) {
	payload := append([]byte{0x40 + byte(i)}, f32Payload(angleDeg)...)
	return c.SendTelecommand(ctx, 8, 1, payload)
}

// EnableHK issues TC[3,5] for structure id.
func (c *Client) EnableHK(ctx context.Context, id uint16) (bool, error) {
	return c.SendTelecommand(ctx, 3, 5, u16Payload(id))
}

// DisableHK issues TC[3,6] for structure id.
func (c *Client) DisableHK(ctx context.Context, id uint16) (bool, error) {
	return c.SendTelecommand(ctx, 3, 6, u16Payload(id))
}

// RequestHK issues TC[3,27], a one-shot report request for structure id.
func (c *Client) RequestHK(ctx context.Context, id uint16) (bool, error) {
	return c.SendTelecommand(ctx, 3, 27, u16Payload(id))
}

// SendRaw mints and sends an arbitrary TC, the escape hatch external
// adapters use for anything the typed helpers don't cover.
func (c *Client) SendRaw(ctx context.Context, serviceType, serviceSubtype uint8, payload []byte) (bool, error) {
	return c.SendTelecommand(ctx, serviceType, serviceSubtype, payload)
}
