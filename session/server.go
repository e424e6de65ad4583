package session

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/xtaci/qcpgo/wire"
)

// Direction restates control.Direction without importing the control
// package, keeping session free of a dependency cycle; the caller (the
// top-level server orchestrator) passes the value ClientMessage.Direction
// authorized, and Serve rejects a command it does not allow.
type Direction uint8

const (
	DirectionUpload Direction = iota
	DirectionDownload
	DirectionBoth
)

// Allows reports whether dir permits cmd to run.
func (dir Direction) Allows(k Kind) bool {
	switch dir {
	case DirectionBoth:
		return true
	case DirectionUpload:
		return k == KindPut
	case DirectionDownload:
		return k == KindGet
	default:
		return false
	}
}

// Stats reports the byte counts a Serve call actually moved, fed into the
// server orchestrator's ClosedownReport (spec.md section 3).
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64
}

// Serve reads exactly one Command from s and executes it, the server side
// of Get/Put. extendedStatus gates whether DiskFull/EncodingFailed may be
// sent as-is or must be downgraded to StatusOther (control.LevelExtendedStatus).
func Serve(s Stream, allowed Direction, extendedStatus bool) (Stats, error) {
	var cmd Command
	if err := wire.ReadMessage(s, &cmd, 0); err != nil {
		return Stats{}, err
	}
	if !allowed.Allows(cmd.Kind) {
		return Stats{}, respondError(s, StatusBadParameter, "operation not permitted for this session's direction", extendedStatus)
	}
	switch cmd.Kind {
	case KindGet:
		return serveGet(s, cmd.Path, extendedStatus)
	case KindPut:
		return servePut(s, cmd.Path, extendedStatus)
	default:
		return Stats{}, respondError(s, StatusBadParameter, "unknown command kind", extendedStatus)
	}
}

func respondError(s Stream, status Status, message string, extendedStatus bool) error {
	resp := Response{Status: status.Downgrade(extendedStatus), Message: message}
	return wire.WriteMessage(s, resp)
}

// classify maps a filesystem error from Stat/Open to the closest Status,
// the server-side mirror of the teacher's sanitizeCopyPath error surfacing.
func classify(err error) Status {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return StatusFileNotFound
	case errors.Is(err, os.ErrPermission):
		return StatusPermissionDenied
	default:
		return StatusIoError
	}
}

func serveGet(s Stream, path string, extendedStatus bool) (Stats, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return Stats{}, respondError(s, classify(err), err.Error(), extendedStatus)
	}
	if info.IsDir() {
		return Stats{}, respondError(s, StatusIsDirectory, clean+" is a directory", extendedStatus)
	}
	if !info.Mode().IsRegular() {
		return Stats{}, respondError(s, StatusNotARegularFile, clean+" is not a regular file", extendedStatus)
	}
	file, err := os.Open(clean)
	if err != nil {
		return Stats{}, respondError(s, classify(err), err.Error(), extendedStatus)
	}
	defer file.Close()

	if err := wire.WriteMessage(s, Response{Status: StatusOk}); err != nil {
		return Stats{}, err
	}
	header := Header{Size: uint64(info.Size()), Mode: uint32(info.Mode().Perm()), ModTime: info.ModTime().UTC().Unix()}
	if err := wire.WriteMessage(s, header); err != nil {
		return Stats{}, err
	}

	buf := make([]byte, copyBufferSize)
	var sent uint64
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			if _, werr := s.Write(buf[:n]); werr != nil {
				return Stats{BytesSent: sent}, werr
			}
			sent += uint64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			s.CancelWrite(StatusCancelCode(StatusIoError))
			return Stats{BytesSent: sent}, readErr
		}
	}
	if sent != header.Size {
		return Stats{BytesSent: sent}, errors.New("session: local file changed size while serving GET")
	}
	return Stats{BytesSent: sent}, nil
}

func servePut(s Stream, path string, extendedStatus bool) (Stats, error) {
	clean := filepath.Clean(path)
	if info, err := os.Stat(clean); err == nil && info.IsDir() {
		return Stats{}, respondError(s, StatusIsDirectory, clean+" is a directory", extendedStatus)
	}
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return Stats{}, respondError(s, classify(err), err.Error(), extendedStatus)
	}

	if err := wire.WriteMessage(s, Response{Status: StatusOk}); err != nil {
		return Stats{}, err
	}

	var header Header
	if err := wire.ReadMessage(s, &header, 0); err != nil {
		return Stats{}, err
	}
	mode := os.FileMode(header.Mode)
	if mode == 0 {
		mode = 0o600
	}
	tmp, err := os.CreateTemp(filepath.Dir(clean), filepath.Base(clean)+".qcp-tmp-*")
	if err != nil {
		return Stats{}, respondError(s, classify(err), err.Error(), extendedStatus)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return Stats{}, respondError(s, StatusIoError, err.Error(), extendedStatus)
	}

	buf := make([]byte, copyBufferSize)
	var received uint64
	lr := io.LimitReader(s, int64(header.Size))
	for {
		n, readErr := lr.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				tmp.Close()
				s.CancelRead(StatusCancelCode(StatusIoError))
				return Stats{BytesReceived: received}, respondError(s, StatusIoError, werr.Error(), extendedStatus)
			}
			received += uint64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			return Stats{BytesReceived: received}, respondError(s, StatusIoError, readErr.Error(), extendedStatus)
		}
	}
	if received != header.Size {
		tmp.Close()
		return Stats{BytesReceived: received}, respondError(s, StatusShortRead, "received fewer bytes than declared", extendedStatus)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Stats{BytesReceived: received}, respondError(s, StatusIoError, err.Error(), extendedStatus)
	}
	if err := tmp.Close(); err != nil {
		return Stats{BytesReceived: received}, respondError(s, StatusIoError, err.Error(), extendedStatus)
	}
	if err := os.Rename(tmpPath, clean); err != nil {
		return Stats{BytesReceived: received}, respondError(s, StatusIoError, err.Error(), extendedStatus)
	}
	tmpPath = ""
	if header.ModTime != 0 {
		modTime := header.ModTimeAsTime()
		_ = os.Chtimes(clean, modTime, modTime)
	}
	return Stats{BytesReceived: received}, wire.WriteMessage(s, Response{Status: StatusOk})
}
