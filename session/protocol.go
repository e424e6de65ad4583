// Package session implements the GET/PUT exchange that runs on the QUIC
// bidirectional stream once the control channel has moved to Running,
// per spec.md section 5. The wire shapes mirror the original
// implementation's session::command and session::response modules,
// trimmed to the GET/PUT subset spec.md keeps in scope (directory trees,
// batch copy, and metadata-only operations are explicit Non-goals).
package session

import (
	"time"

	"github.com/xtaci/qcpgo/wire"
)

// Kind selects which single-file operation this session performs.
type Kind uint8

const (
	KindGet Kind = iota
	KindPut
)

func (k Kind) String() string {
	if k == KindPut {
		return "put"
	}
	return "get"
}

const maxPathLen = 4096

// Command is the client's opening frame on the QUIC stream: which
// operation, and the remote-side path it names. For Put it is followed by
// a Header; for Get the server replies with a Header of its own.
type Command struct {
	Kind Kind
	Path string
}

func (c Command) Encode(w *wire.Writer) {
	w.Uvarint(uint64(c.Kind))
	w.String(c.Path)
}

func (c *Command) Decode(r *wire.Reader) error {
	k, err := r.Uvarint()
	if err != nil {
		return err
	}
	c.Kind = Kind(k)
	if c.Path, err = r.String(maxPathLen); err != nil {
		return err
	}
	return nil
}

// Header carries file metadata, sent by whichever side is about to become
// the data source: the client for Put, the server for Get.
type Header struct {
	Size    uint64
	Mode    uint32
	ModTime int64 // unix seconds, UTC; spec.md's --preserve scope
}

func (h Header) Encode(w *wire.Writer) {
	w.Uvarint(h.Size)
	w.Uvarint(uint64(h.Mode))
	w.Varint(h.ModTime)
}

func (h *Header) Decode(r *wire.Reader) error {
	var err error
	if h.Size, err = r.Uvarint(); err != nil {
		return err
	}
	mode, err := r.Uvarint()
	if err != nil {
		return err
	}
	h.Mode = uint32(mode)
	if h.ModTime, err = r.Varint(); err != nil {
		return err
	}
	return nil
}

// ModTimeAsTime converts Header.ModTime to a time.Time in UTC.
func (h Header) ModTimeAsTime() time.Time {
	return time.Unix(h.ModTime, 0).UTC()
}

// Status enumerates session-level outcomes, grounded on the original's
// session::response::Status with the base set spec.md requires; DiskFull
// and EncodingFailed are gated to control.LevelExtendedStatus per
// SPEC_FULL.md's supplemented-features section and fall back to Other on
// a lower compatibility level.
type Status uint8

const (
	StatusOk Status = iota
	StatusFileNotFound
	StatusPermissionDenied
	StatusIsDirectory
	StatusNotARegularFile
	StatusShortRead
	StatusIoError
	StatusBadParameter
	StatusDiskFull
	StatusEncodingFailed
	StatusOther
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusFileNotFound:
		return "file not found"
	case StatusPermissionDenied:
		return "permission denied"
	case StatusIsDirectory:
		return "is a directory"
	case StatusNotARegularFile:
		return "not a regular file"
	case StatusShortRead:
		return "short read"
	case StatusIoError:
		return "I/O error"
	case StatusBadParameter:
		return "bad parameter"
	case StatusDiskFull:
		return "disk full"
	case StatusEncodingFailed:
		return "encoding failed"
	default:
		return "unknown error"
	}
}

// Downgrade maps a status unavailable below level into StatusOther, for a
// sender talking to a peer at a lower effective compatibility level.
func (s Status) Downgrade(extendedStatusSupported bool) Status {
	if extendedStatusSupported {
		return s
	}
	switch s {
	case StatusDiskFull, StatusEncodingFailed:
		return StatusOther
	default:
		return s
	}
}

// CancelCode is carried on a QUIC RESET_STREAM (sender giving up) or
// STOP_SENDING (receiver giving up) frame when a transfer aborts mid-flight,
// per spec.md section 4.5: "On any mid-transfer I/O error the sender resets
// its stream with a stop-sending reason carrying a Status code; the
// receiver surfaces it." It is just a Status reused as a stream error code,
// so the peer can learn why without a framed Response ever arriving.
type CancelCode uint64

// StatusCancelCode converts a Status into the code to carry on a stream
// reset or stop-sending.
func StatusCancelCode(s Status) CancelCode {
	return CancelCode(s)
}

// AsStatus recovers the Status a CancelCode was built from.
func (c CancelCode) AsStatus() Status {
	return Status(c)
}

const maxMessageLen = 1024

// Response answers a Command: Ok plus (for Get) the Header that follows,
// or a non-Ok Status with a human-readable Message and no data transfer.
type Response struct {
	Status  Status
	Message string
}

func (r Response) Encode(w *wire.Writer) {
	w.Uvarint(uint64(r.Status))
	w.String(r.Message)
}

func (r *Response) Decode(rd *wire.Reader) error {
	s, err := rd.Uvarint()
	if err != nil {
		return err
	}
	r.Status = Status(s)
	if r.Message, err = rd.String(maxMessageLen); err != nil {
		return err
	}
	return nil
}
