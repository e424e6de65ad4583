// Package quicendpoint builds the client and server QUIC endpoints used
// for the bulk data transfer, once the control channel has negotiated a
// config.Negotiated tuple. Wiring follows the shape of
// XrayIran-StealthLink's quicmux package (quic.Config timeouts, a single
// Accept/Dial, one stream per connection) generalized to qcp's
// receive-window sizing. The negotiated congestion algorithm is not
// applied: quic-go's built-in controller runs whatever was negotiated.
package quicendpoint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/xtaci/qcpgo/config"
	"github.com/xtaci/qcpgo/session"
)

// Stream adapts *quic.Stream's CancelWrite/CancelRead (quic-go's
// RESET_STREAM/STOP_SENDING, keyed by its own StreamErrorCode type) to
// session.Stream's CancelCode, so the session package never needs to
// import quic-go.
type Stream struct {
	*quic.Stream
}

// CancelWrite aborts the send side with a RESET_STREAM carrying code.
func (s Stream) CancelWrite(code session.CancelCode) {
	s.Stream.CancelWrite(quic.StreamErrorCode(code))
}

// CancelRead aborts the receive side with a STOP_SENDING carrying code.
func (s Stream) CancelRead(code session.CancelCode) {
	s.Stream.CancelRead(quic.StreamErrorCode(code))
}

// buildQUICConfig translates a negotiated tuple into quic-go's Config,
// grounded on quicmux.Config.quicConfig: the idle timeout comes from the
// negotiated Timeout and keepalive from half the negotiated RTT, the
// handshake timeout is a fixed 8s, and the receive windows are sized from
// the bandwidth-delay product of this side's receive rate (rx*rtt).
func buildQUICConfig(n config.Negotiated, isServer bool) *quic.Config {
	rtt := time.Duration(n.RTTMillis) * time.Millisecond
	if rtt <= 0 {
		rtt = 300 * time.Millisecond
	}
	idle := time.Duration(n.Timeout) * time.Second
	if idle <= 0 {
		idle = 5 * time.Second
	}

	// quic-go has no separate send-window knob: a peer's throughput is
	// bounded by the receive window it advertises. Only receive windows
	// are set here (initial = rx*rtt, maximum = 4x that, both clamped to
	// [16KiB, 64MiB]); the negotiated tx rate is not used.
	recvWindow := bandwidthDelayProduct(n.RxAtClient, rtt)
	if isServer {
		recvWindow = bandwidthDelayProduct(n.RxAtServer, rtt)
	}
	if recvWindow == 0 {
		recvWindow = 1 << 20
	}

	return &quic.Config{
		HandshakeIdleTimeout:           8 * time.Second,
		MaxIdleTimeout:                 idle,
		KeepAlivePeriod:                rtt / 2,
		InitialStreamReceiveWindow:     clampWindow(recvWindow),
		MaxStreamReceiveWindow:         clampWindow(recvWindow * 4),
		InitialConnectionReceiveWindow: clampWindow(recvWindow),
		MaxConnectionReceiveWindow:     clampWindow(recvWindow * 4),
	}
}

// bandwidthDelayProduct computes bytes = bandwidth(B/s) * rtt, the
// standard BDP sizing quinn's transport.rs uses for its receive windows.
func bandwidthDelayProduct(bandwidth uint64, rtt time.Duration) uint64 {
	seconds := rtt.Seconds()
	if seconds <= 0 {
		return 0
	}
	return uint64(float64(bandwidth) * seconds)
}

func clampWindow(v uint64) uint64 {
	const max = 64 * 1024 * 1024
	if v > max {
		return max
	}
	if v < 16*1024 {
		return 16 * 1024
	}
	return v
}

// Server is a single-use, single-connection QUIC listener: accept exactly
// one connection and exactly one stream, matching spec.md's one-shot
// session model (no connection reuse across invocations).
type Server struct {
	ln   *quic.Listener
	conn *net.UDPConn
}

// Listen binds addr (host:port, or host:0 for an OS-chosen ephemeral
// port) and returns a Server ready to Accept once. The
// UDP socket buffers are sized to the negotiated UDPBuffer before handing
// the conn to a quic.Transport, the same advisory-cap pattern
// SPEC_FULL.md's domain stack section calls for.
func Listen(addr string, tlsConf *tls.Config, n config.Negotiated) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("quicendpoint: resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("quicendpoint: listen udp %s: %w", addr, err)
	}
	applyBufferSize(udpConn, n.UDPBuffer)

	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(tlsConf, buildQUICConfig(n, true))
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("quicendpoint: listen %s: %w", addr, err)
	}
	return &Server{ln: ln, conn: udpConn}, nil
}

// applyBufferSize sets the kernel socket buffers to the negotiated size,
// falling back silently when the platform refuses (matching quinn's own
// best-effort SO_RCVBUF/SO_SNDBUF tuning, which warns rather than fails).
func applyBufferSize(conn *net.UDPConn, size uint64) {
	if size == 0 || size > 1<<31 {
		return
	}
	n := int(size)
	_ = conn.SetReadBuffer(n)
	_ = conn.SetWriteBuffer(n)
}

// Addr reports the bound address, letting the caller report the UDP port
// chosen back to the client in ServerMessage.Port when PortRange was any.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Accept blocks for the single expected client connection and its single
// bidirectional stream, the only stream qcp's GET/PUT protocol opens.
func (s *Server) Accept(ctx context.Context) (*quic.Conn, Stream, error) {
	conn, err := s.ln.Accept(ctx)
	if err != nil {
		return nil, Stream{}, fmt.Errorf("quicendpoint: accept: %w", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "accept stream")
		return nil, Stream{}, fmt.Errorf("quicendpoint: accept stream: %w", err)
	}
	return conn, Stream{stream}, nil
}

// Close tears down the listener, releasing the bound UDP socket.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.conn.Close()
	return err
}

// Dial connects to addr and opens the single stream the session protocol
// uses, the client-side counterpart to Server.Accept.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, n config.Negotiated) (*quic.Conn, Stream, error) {
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, Stream{}, fmt.Errorf("quicendpoint: open local udp socket: %w", err)
	}
	applyBufferSize(udpConn, n.UDPBuffer)

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		udpConn.Close()
		return nil, Stream{}, fmt.Errorf("quicendpoint: resolve %s: %w", addr, err)
	}
	tr := &quic.Transport{Conn: udpConn}
	conn, err := tr.Dial(ctx, raddr, tlsConf, buildQUICConfig(n, false))
	if err != nil {
		udpConn.Close()
		return nil, Stream{}, fmt.Errorf("quicendpoint: dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream")
		return nil, Stream{}, fmt.Errorf("quicendpoint: open stream: %w", err)
	}
	return conn, Stream{stream}, nil
}
