// Package errcodes defines the small result-code taxonomy that the PD and
// MD engines surface to callers, and the sentinel errors built from it.
package errcodes

import (
	"errors"
	"fmt"
)

// Code is a result code from the taxonomy in the protocol's error handling
// design. Zero value is always NoErr.
type Code int

// Result codes. Grouped the way the protocol groups them: success/param,
// transport, memory/concurrency, semantic, wire/data, timeout.
const (
	NoErr Code = iota
	ParamErr
	InitErr
	NoInitErr
	BlockErr

	SockErr
	IoErr
	NoDataErr

	MemErr
	SemaErr
	MutexErr
	ThreadErr
	QueueErr
	QueueFullErr

	NoSessionErr
	NoSubErr
	NoPubErr
	NoListErr
	ComIDErr
	StateErr

	CrcErr
	WireErr
	TopoErr
	PacketErr

	TimeoutErr
	ReplyToErr
	ConfirmToErr
	ReqConfirmToErr
	AppTimeoutErr
	AppReplyToErr
	AppConfirmToErr
)

var names = map[Code]string{
	NoErr:        "NO_ERR",
	ParamErr:     "PARAM_ERR",
	InitErr:      "INIT_ERR",
	NoInitErr:    "NOINIT_ERR",
	BlockErr:     "BLOCK_ERR",
	SockErr:      "SOCK_ERR",
	IoErr:        "IO_ERR",
	NoDataErr:    "NODATA_ERR",
	MemErr:       "MEM_ERR",
	SemaErr:      "SEMA_ERR",
	MutexErr:     "MUTEX_ERR",
	ThreadErr:    "THREAD_ERR",
	QueueErr:     "QUEUE_ERR",
	QueueFullErr: "QUEUE_FULL_ERR",
	NoSessionErr: "NOSESSION_ERR",
	NoSubErr:     "NOSUB_ERR",
	NoPubErr:     "NOPUB_ERR",
	NoListErr:    "NOLIST_ERR",
	ComIDErr:     "COMID_ERR",
	StateErr:     "STATE_ERR",

	CrcErr:    "CRC_ERR",
	WireErr:   "WIRE_ERR",
	TopoErr:   "TOPO_ERR",
	PacketErr: "PACKET_ERR",

	TimeoutErr:      "TIMEOUT_ERR",
	ReplyToErr:      "REPLYTO_ERR",
	ConfirmToErr:    "CONFIRMTO_ERR",
	ReqConfirmToErr: "REQCONFIRMTO_ERR",
	AppTimeoutErr:   "APP_TIMEOUT_ERR",
	AppReplyToErr:   "APP_REPLYTO_ERR",
	AppConfirmToErr: "APP_CONFIRMTO_ERR",
}

// String returns the wire/protocol name for the code, e.g. "CRC_ERR".
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_ERR_%d", int(c))
}

// Error wraps a Code as a Go error, optionally with extra context.
type Error struct {
	Code    Code
	Context string
}

func (e *Error) Error() string {
	if e.Context == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Context)
}

// New builds an *Error from a code and optional context.
func New(c Code, context string) error {
	return &Error{Code: c, Context: context}
}

// Of extracts the Code from err if it (or something it wraps) is an *Error.
// Returns NoErr, false if err is nil or carries no *Error.
func Of(err error) (Code, bool) {
	if err == nil {
		return NoErr, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return NoErr, false
}
