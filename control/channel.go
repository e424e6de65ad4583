// Package control implements the control channel state machine from
// spec.md section 4.3: greeting exchange, compatibility negotiation,
// ClientMessage/ServerMessage exchange, and closedown telemetry, carried
// over a duplex byte stream (the SSH stdin/stdout pipe in production).
//
// The teacher's channel.go serializes Send/Receive behind a mutex because
// its QPP pads mutate state per call; this channel has no shared mutable
// crypto state (TLS pinning happens one layer up, in credentials), but the
// same "one goroutine writes, one reads, never concurrently on the same
// direction" discipline is kept for clarity.
package control

import (
	"errors"
	"fmt"
	"io"

	"github.com/xtaci/qcpgo/wire"
)

// State names the control channel's position in the
// Greeting -> Exchanged -> Running -> Closing -> Done machine, with
// Failed reachable from anywhere (spec.md section 4.3).
type State int

const (
	StateGreeting State = iota
	StateExchanged
	StateRunning
	StateClosing
	StateDone
	StateFailed
)

// ErrControlClosed is returned when the peer closes its end of the pipe,
// surfacing as EOF at any read. There is no retry: the control channel
// has exactly-once semantics within a single invocation.
var ErrControlClosed = errors.New("control: channel closed by peer")

// Channel drives the state machine over an opaque duplex byte stream.
type Channel struct {
	rw    io.ReadWriter
	state State
	Level Level
}

// New wraps rw (in production, the SSH child's stdin/stdout, or the
// server's os.Stdin/os.Stdout pair) as a control channel.
func New(rw io.ReadWriter) *Channel {
	return &Channel{rw: rw, state: StateGreeting}
}

// State reports the channel's current state.
func (c *Channel) State() State {
	return c.state
}

func (c *Channel) fail(err error) error {
	c.state = StateFailed
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: %v", ErrControlClosed, err)
	}
	return err
}

// ClientHandshake performs the client side of steps 1-2 of spec.md 4.3:
// write our greeting, read the server's, lock in the effective level.
func (c *Channel) ClientHandshake(localLevel Level, showDebug bool) (Level, error) {
	if c.state != StateGreeting {
		return 0, fmt.Errorf("control: client handshake called in state %d", c.state)
	}
	greeting := ClientGreeting{Compatibility: localLevel, ShowDebug: showDebug}
	if err := greeting.writeTo(c.rw); err != nil {
		return 0, c.fail(fmt.Errorf("control: write client greeting: %w", err))
	}
	peer, err := readServerGreeting(c.rw)
	if err != nil {
		return 0, c.fail(err)
	}
	c.Level = Effective(localLevel, peer.Compatibility)
	c.state = StateExchanged
	return c.Level, nil
}

// ServerHandshake performs the server side of steps 1-2: read the
// client's greeting first (the client always speaks first), then reply.
func (c *Channel) ServerHandshake(localLevel Level) (ClientGreeting, Level, error) {
	if c.state != StateGreeting {
		return ClientGreeting{}, 0, fmt.Errorf("control: server handshake called in state %d", c.state)
	}
	peer, err := readClientGreeting(c.rw)
	if err != nil {
		return ClientGreeting{}, 0, c.fail(err)
	}
	c.Level = Effective(localLevel, peer.Compatibility)
	reply := ServerGreeting{Compatibility: localLevel}
	if err := reply.writeTo(c.rw); err != nil {
		return ClientGreeting{}, 0, c.fail(fmt.Errorf("control: write server greeting: %w", err))
	}
	c.state = StateExchanged
	return peer, c.Level, nil
}

// SendClientMessage is step 3 (client side): write the length-prefixed
// ClientMessage once greetings are exchanged.
func (c *Channel) SendClientMessage(m ClientMessage) error {
	if c.state != StateExchanged {
		return fmt.Errorf("control: send client message called in state %d", c.state)
	}
	if err := wire.WriteMessage(c.rw, m); err != nil {
		return c.fail(fmt.Errorf("control: write client message: %w", err))
	}
	return nil
}

// ReadClientMessage is step 3 (server side).
func (c *Channel) ReadClientMessage() (ClientMessage, error) {
	var m ClientMessage
	if err := wire.ReadMessage(c.rw, &m, 0); err != nil {
		return m, c.fail(fmt.Errorf("control: read client message: %w", err))
	}
	return m, nil
}

// SendServerMessage completes step 3 and moves the channel into Running
// (the QUIC session runs after this, per spec.md 4.3), or into Failed when
// m is a failure reply.
func (c *Channel) SendServerMessage(m ServerMessage) error {
	if err := wire.WriteMessage(c.rw, m); err != nil {
		return c.fail(fmt.Errorf("control: write server message: %w", err))
	}
	if m.Ok {
		c.state = StateRunning
	} else {
		c.state = StateFailed
	}
	return nil
}

// ReadServerMessage is the client-side counterpart.
func (c *Channel) ReadServerMessage() (ServerMessage, error) {
	var m ServerMessage
	if err := wire.ReadMessage(c.rw, &m, 0); err != nil {
		return m, c.fail(fmt.Errorf("control: read server message: %w", err))
	}
	if m.Ok {
		c.state = StateRunning
	} else {
		c.state = StateFailed
	}
	return m, nil
}

// SendClosedownReport is step 4: the server sends telemetry once the QUIC
// session has run to completion, then both sides move to Done.
func (c *Channel) SendClosedownReport(r ClosedownReport) error {
	if c.state != StateRunning {
		return fmt.Errorf("control: send closedown report called in state %d", c.state)
	}
	c.state = StateClosing
	if err := wire.WriteMessage(c.rw, r); err != nil {
		return c.fail(fmt.Errorf("control: write closedown report: %w", err))
	}
	c.state = StateDone
	return nil
}

// ReadClosedownReport is the client-side counterpart.
func (c *Channel) ReadClosedownReport() (ClosedownReport, error) {
	var r ClosedownReport
	c.state = StateClosing
	if err := wire.ReadMessage(c.rw, &r, 0); err != nil {
		return r, c.fail(fmt.Errorf("control: read closedown report: %w", err))
	}
	c.state = StateDone
	return r, nil
}
