package session

import (
	"io"
	"os"
	"path/filepath"

	"github.com/xtaci/qcpgo/qcperr"
	"github.com/xtaci/qcpgo/wire"
)

// copyBufferSize matches the teacher's file.go chunking size; large enough
// to amortize stream writes, small enough to bound per-call memory.
const copyBufferSize = 32 * 1024

// Stream is the minimal surface a QUIC bidirectional stream needs to
// expose for session.Get/Put: read and write the framed command/response
// pair and raw bytes for the data phase, plus the mid-transfer abort the
// sender/receiver use on a local I/O error (spec.md section 4.5).
type Stream interface {
	io.Reader
	io.Writer
	CancelWrite(code CancelCode)
	CancelRead(code CancelCode)
}

// ProgressFunc is called after each chunk is transferred with the
// cumulative byte count, letting the CLI layer render a progress bar.
type ProgressFunc func(transferred uint64)

// Get requests localPath := remotePath from the server on s, writing the
// result via a temp-file-then-rename so a failed transfer never leaves a
// half-written file at localPath (spec.md section 5's atomicity note).
func Get(s Stream, remotePath, localPath string, preserve bool, progress ProgressFunc) error {
	cmd := Command{Kind: KindGet, Path: remotePath}
	if err := wire.WriteMessage(s, cmd); err != nil {
		return qcperr.Wrap(qcperr.KindIO, "GET command", "write command: %w", err)
	}
	var resp Response
	if err := wire.ReadMessage(s, &resp, 0); err != nil {
		return qcperr.Wrap(qcperr.KindIO, "GET response", "read response: %w", err)
	}
	if resp.Status != StatusOk {
		return qcperr.Wrap(qcperr.KindSessionStatus, "GET response", "%s: %s", resp.Status, resp.Message)
	}
	var header Header
	if err := wire.ReadMessage(s, &header, 0); err != nil {
		return qcperr.Wrap(qcperr.KindIO, "GET header", "read header: %w", err)
	}

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		return qcperr.Wrap(qcperr.KindIO, "GET local path", "%s is a directory", localPath)
	}
	if err := ensureLocalParent(localPath); err != nil {
		return qcperr.Wrap(qcperr.KindIO, "GET local path", "create parent: %w", err)
	}
	mode := os.FileMode(header.Mode)
	if mode == 0 {
		mode = 0o600
	}
	tmp, err := os.CreateTemp(filepath.Dir(localPath), filepath.Base(localPath)+".qcp-tmp-*")
	if err != nil {
		return qcperr.Wrap(qcperr.KindIO, "GET local path", "create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return qcperr.Wrap(qcperr.KindIO, "GET local path", "chmod temp file: %w", err)
	}

	var transferred uint64
	buf := make([]byte, copyBufferSize)
	lr := io.LimitReader(s, int64(header.Size))
	for {
		n, readErr := lr.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				s.CancelRead(StatusCancelCode(StatusIoError))
				return qcperr.Wrap(qcperr.KindIO, "GET data phase", "write local file: %w", werr)
			}
			transferred += uint64(n)
			if progress != nil {
				progress(transferred)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			return qcperr.Wrap(qcperr.KindIO, "GET data phase", "read stream: %w", readErr)
		}
	}
	if transferred != header.Size {
		tmp.Close()
		return qcperr.Wrap(qcperr.KindSessionStatus, "GET data phase", "short read: got %d of %d bytes", transferred, header.Size)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return qcperr.Wrap(qcperr.KindIO, "GET data phase", "fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return qcperr.Wrap(qcperr.KindIO, "GET data phase", "close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return qcperr.Wrap(qcperr.KindIO, "GET data phase", "rename into place: %w", err)
	}
	tmpPath = ""
	if preserve {
		modTime := header.ModTimeAsTime()
		_ = os.Chtimes(localPath, modTime, modTime)
	}
	return nil
}

// Put sends localPath to the server as remotePath.
func Put(s Stream, localPath, remotePath string, preserve bool, progress ProgressFunc) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return qcperr.Wrap(qcperr.KindIO, "PUT local path", "stat: %w", err)
	}
	if info.IsDir() {
		return qcperr.Wrap(qcperr.KindIO, "PUT local path", "%s is a directory", localPath)
	}
	if !info.Mode().IsRegular() {
		return qcperr.Wrap(qcperr.KindIO, "PUT local path", "%s is not a regular file", localPath)
	}
	file, err := os.Open(localPath)
	if err != nil {
		return qcperr.Wrap(qcperr.KindIO, "PUT local path", "open: %w", err)
	}
	defer file.Close()

	cmd := Command{Kind: KindPut, Path: remotePath}
	if err := wire.WriteMessage(s, cmd); err != nil {
		return qcperr.Wrap(qcperr.KindIO, "PUT command", "write command: %w", err)
	}
	var resp Response
	if err := wire.ReadMessage(s, &resp, 0); err != nil {
		return qcperr.Wrap(qcperr.KindIO, "PUT response", "read response: %w", err)
	}
	if resp.Status != StatusOk {
		return qcperr.Wrap(qcperr.KindSessionStatus, "PUT response", "%s: %s", resp.Status, resp.Message)
	}

	header := Header{Size: uint64(info.Size()), Mode: uint32(info.Mode().Perm())}
	if preserve {
		header.ModTime = info.ModTime().UTC().Unix()
	}
	if err := wire.WriteMessage(s, header); err != nil {
		return qcperr.Wrap(qcperr.KindIO, "PUT header", "write header: %w", err)
	}

	var transferred uint64
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			if _, werr := s.Write(buf[:n]); werr != nil {
				return qcperr.Wrap(qcperr.KindIO, "PUT data phase", "write stream: %w", werr)
			}
			transferred += uint64(n)
			if progress != nil {
				progress(transferred)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			s.CancelWrite(StatusCancelCode(StatusIoError))
			return qcperr.Wrap(qcperr.KindIO, "PUT data phase", "read local file: %w", readErr)
		}
	}
	if transferred != header.Size {
		return qcperr.Wrap(qcperr.KindSessionStatus, "PUT data phase", "local file changed size during transfer: sent %d, expected %d", transferred, header.Size)
	}

	var final Response
	if err := wire.ReadMessage(s, &final, 0); err != nil {
		return qcperr.Wrap(qcperr.KindIO, "PUT final response", "read response: %w", err)
	}
	if final.Status != StatusOk {
		return qcperr.Wrap(qcperr.KindSessionStatus, "PUT final response", "%s: %s", final.Status, final.Message)
	}
	return nil
}

func ensureLocalParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
