package control

import (
	"fmt"
	"io"

	"github.com/xtaci/qcpgo/wire"
)

// ClientGreeting is the opening, fixed-length, unversioned record the
// client writes before either side knows what wire format the other
// speaks. No length prefix: {compatibility u16 LE}{debug byte}{extension
// byte}, matching spec.md 3's greeting shape and the original's
// byte-for-byte wire test.
type ClientGreeting struct {
	Compatibility Level
	ShowDebug     bool
	extension     byte // reserved, always 0 on the wire
}

// ServerGreeting mirrors ClientGreeting without the debug flag.
type ServerGreeting struct {
	Compatibility Level
	extension     byte
}

func (g ClientGreeting) writeTo(w io.Writer) error {
	ww := wire.NewWriter()
	ww.U16LE(uint16(g.Compatibility))
	ww.Bool(g.ShowDebug)
	ww.Byte(g.extension)
	_, err := w.Write(ww.Buffer())
	return err
}

func readClientGreeting(r io.Reader) (ClientGreeting, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ClientGreeting{}, fmt.Errorf("control: read client greeting: %w", err)
	}
	rd := wire.NewReader(buf)
	compat, err := rd.U16LE()
	if err != nil {
		return ClientGreeting{}, err
	}
	debug, err := rd.Bool()
	if err != nil {
		return ClientGreeting{}, err
	}
	ext, err := rd.Byte()
	if err != nil {
		return ClientGreeting{}, err
	}
	return ClientGreeting{Compatibility: Level(compat), ShowDebug: debug, extension: ext}, nil
}

func (g ServerGreeting) writeTo(w io.Writer) error {
	ww := wire.NewWriter()
	ww.U16LE(uint16(g.Compatibility))
	ww.Byte(g.extension)
	_, err := w.Write(ww.Buffer())
	return err
}

func readServerGreeting(r io.Reader) (ServerGreeting, error) {
	buf := make([]byte, 3)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ServerGreeting{}, fmt.Errorf("control: read server greeting: %w", err)
	}
	rd := wire.NewReader(buf)
	compat, err := rd.U16LE()
	if err != nil {
		return ServerGreeting{}, err
	}
	ext, err := rd.Byte()
	if err != nil {
		return ServerGreeting{}, err
	}
	return ServerGreeting{Compatibility: Level(compat), extension: ext}, nil
}
