package quicendpoint

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/qcpgo/config"
	"github.com/xtaci/qcpgo/credentials"
)

func TestLoopbackStreamRoundTrip(t *testing.T) {
	serverCreds, err := credentials.Generate()
	require.NoError(t, err)
	clientCreds, err := credentials.Generate()
	require.NoError(t, err)

	serverCert, err := serverCreds.TLSCertificate()
	require.NoError(t, err)
	clientCert, err := clientCreds.TLSCertificate()
	require.NoError(t, err)

	serverTLS, err := credentials.PinnedTLSConfig(serverCreds, clientCert.Certificate[0], true)
	require.NoError(t, err)
	clientTLS, err := credentials.PinnedTLSConfig(clientCreds, serverCert.Certificate[0], false)
	require.NoError(t, err)

	n := config.Negotiated{
		RxAtClient: 1_000_000,
		RxAtServer: 1_000_000,
		RTTMillis:  50,
		UDPBuffer:  1 << 20,
		Timeout:    5,
	}

	srv, err := Listen("127.0.0.1:0", serverTLS, n)
	require.NoError(t, err)
	defer srv.Close()

	addr := srv.Addr().String()

	type acceptResult struct {
		stream interface {
			io.Reader
			io.Writer
		}
		err error
	}
	resultCh := make(chan acceptResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, stream, err := srv.Accept(ctx)
		resultCh <- acceptResult{stream: stream, err: err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, clientStream, err := Dial(ctx, addr, clientTLS, n)
	require.NoError(t, err)

	// The peer learns of a newly opened stream only once data is sent on
	// it, so Accept cannot return before the client writes.
	const msg = "hello over quic"
	go func() {
		_, _ = clientStream.Write([]byte(msg))
		clientStream.Close()
	}()

	res := <-resultCh
	require.NoError(t, res.err)

	buf := make([]byte, len(msg))
	_, err = io.ReadFull(res.stream, buf)
	require.NoError(t, err)
	require.Equal(t, msg, string(buf))
}
