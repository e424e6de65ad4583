package control

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xtaci/qcpgo/config"
)

func TestGreetingExchange(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCh := New(clientConn)
	serverCh := New(serverConn)

	done := make(chan struct{})
	var clientLevel Level
	var clientErr error
	go func() {
		clientLevel, clientErr = clientCh.ClientHandshake(CurrentLevel, false)
		close(done)
	}()

	_, serverLevel, err := serverCh.ServerHandshake(Level(2))
	require.NoError(t, err)
	<-done
	require.NoError(t, clientErr)
	require.Equal(t, Level(2), serverLevel)
	require.Equal(t, Level(2), clientLevel)
	require.Equal(t, StateExchanged, clientCh.State())
	require.Equal(t, StateExchanged, serverCh.State())
}

func TestClientServerMessageExchange(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCh := New(clientConn)
	serverCh := New(serverConn)

	hsDone := make(chan struct{})
	go func() {
		_, _ = clientCh.ClientHandshake(CurrentLevel, false)
		close(hsDone)
	}()
	_, _, err := serverCh.ServerHandshake(CurrentLevel)
	require.NoError(t, err)
	// SendClientMessage requires the client side to have reached
	// StateExchanged, so wait for its handshake to finish.
	<-hsDone

	sent := ClientMessage{
		CredentialsType: CredentialsX509,
		Cert:            []byte("certificate-bytes"),
		Direction:       DirectionDownload,
		Preferences:     config.TransportPreferences{},
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- clientCh.SendClientMessage(sent)
	}()
	got, err := serverCh.ReadClientMessage()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, sent.Cert, got.Cert)
	require.Equal(t, sent.Direction, got.Direction)

	reply := ServerMessage{
		Ok:              true,
		Cert:            []byte("server-cert"),
		CredentialsType: CredentialsX509,
		Port:            4433,
		Negotiated: config.Negotiated{
			RxAtClient: 1000,
			RTTMillis:  300,
			MinMTU:     1200,
			MaxMTU:     1452,
			InitialMTU: 1200,
		},
	}
	go func() {
		errCh <- serverCh.SendServerMessage(reply)
	}()
	gotReply, err := clientCh.ReadServerMessage()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.True(t, gotReply.Ok)
	require.Equal(t, reply.Port, gotReply.Port)
	require.Equal(t, StateRunning, clientCh.State())
	require.Equal(t, StateRunning, serverCh.State())
}

func TestServerMessageFailureMovesToFailed(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCh := New(clientConn)
	serverCh := New(serverConn)
	go func() { _, _ = clientCh.ClientHandshake(CurrentLevel, false) }()
	_, _, err := serverCh.ServerHandshake(CurrentLevel)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- serverCh.SendServerMessage(ServerMessage{
			Ok:             false,
			FailureReason:  FailureIncompatible,
			FailureMessage: "no common congestion control",
		})
	}()
	got, err := clientCh.ReadServerMessage()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.False(t, got.Ok)
	require.Equal(t, FailureIncompatible, got.FailureReason)
	require.Equal(t, StateFailed, clientCh.State())
	require.Equal(t, StateFailed, serverCh.State())
}

func TestClosedownReportRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCh := &Channel{rw: clientConn, state: StateRunning}
	serverCh := &Channel{rw: serverConn, state: StateRunning}

	report := ClosedownReport{
		PathMTU:          1452,
		RTTMicros:        30000,
		BytesSent:        1 << 20,
		BytesReceived:    1 << 20,
		LostPackets:      3,
		CongestionEvents: 1,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- serverCh.SendClosedownReport(report) }()
	got, err := clientCh.ReadClosedownReport()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, report, got)
	require.Equal(t, StateDone, clientCh.State())
	require.Equal(t, StateDone, serverCh.State())
}
