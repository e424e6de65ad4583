package session

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// pipeStream adapts a net.Conn (as returned by net.Pipe in these tests)
// into a Stream; net.Pipe has no RESET_STREAM/STOP_SENDING equivalent, so
// Cancel{Write,Read} are no-ops here.
type pipeStream struct {
	net.Conn
}

func (pipeStream) CancelWrite(CancelCode) {}
func (pipeStream) CancelRead(CancelCode)  {}

func TestGetRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "hello.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("hello, qcp"), 0o640))

	clientConn, serverConn := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, serveErr := Serve(pipeStream{serverConn}, DirectionDownload, true)
		errCh <- serveErr
	}()

	dstPath := filepath.Join(dstDir, "hello.txt")
	var lastProgress uint64
	err := Get(pipeStream{clientConn}, srcPath, dstPath, false, func(n uint64) { lastProgress = n })
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, "hello, qcp", string(got))
	require.Equal(t, uint64(10), lastProgress)
}

func TestGetMissingFile(t *testing.T) {
	dstDir := t.TempDir()
	clientConn, serverConn := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, serveErr := Serve(pipeStream{serverConn}, DirectionDownload, true)
		errCh <- serveErr
	}()

	err := Get(pipeStream{clientConn}, "/nonexistent/path/does-not-exist", filepath.Join(dstDir, "out"), false, nil)
	require.Error(t, err)
	<-errCh

	_, statErr := os.Stat(filepath.Join(dstDir, "out"))
	require.True(t, os.IsNotExist(statErr))
}

func TestPutRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "upload.bin")
	payload := make([]byte, copyBufferSize*2+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(srcPath, payload, 0o600))

	clientConn, serverConn := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, serveErr := Serve(pipeStream{serverConn}, DirectionUpload, true)
		errCh <- serveErr
	}()

	dstPath := filepath.Join(dstDir, "upload.bin")
	err := Put(pipeStream{clientConn}, srcPath, dstPath, false, nil)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDirectionRejection(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "f.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("x"), 0o600))

	clientConn, serverConn := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, serveErr := Serve(pipeStream{serverConn}, DirectionDownload, true)
		errCh <- serveErr
	}()

	err := Put(pipeStream{clientConn}, srcPath, "whatever", false, nil)
	require.Error(t, err)
	<-errCh
}

func TestGetRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	clientConn, serverConn := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, serveErr := Serve(pipeStream{serverConn}, DirectionDownload, true)
		errCh <- serveErr
	}()

	err := Get(pipeStream{clientConn}, dir, filepath.Join(t.TempDir(), "out"), false, nil)
	require.Error(t, err)
	<-errCh
}
