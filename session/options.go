package session

import (
	"time"

	"github.com/tcnopen/trdpgo/wire"
)

// Options carries the per-session sizing and default knobs the original's
// TRDP_PROCESS_CONFIG_T exposes: cycle time, queue capacity hints, and
// the TTL/QoS/port defaults new publications and sockets start from
// (spec.md §4.1 "processOpts").
type Options struct {
	// CycleTime bounds how long the host should wait between Process
	// calls when nothing else is due sooner (spec.md §4.1 scheduling
	// precision: sub-millisecond is not required).
	CycleTime time.Duration

	// MaxPublications/MaxSubscriptions/MaxMDSessions are sizing hints
	// carried with the options. The PD queues and the MD table do not
	// read them; they start empty and grow as needed.
	MaxPublications  int
	MaxSubscriptions int
	MaxMDSessions    int

	// DefaultTTL/DefaultQoS seed socketpool.SendParams for sockets this
	// session opens.
	DefaultTTL uint8
	DefaultQoS uint8

	PDPort int
	MDPort int

	// ArenaBucketCap bounds how many freed buffers memarena retains per
	// size class (0 = unbounded).
	ArenaBucketCap int

	// DefaultMDReplyTimeout/DefaultMDConfirmTimeout seed Request/Listener
	// calls that don't specify their own.
	DefaultMDReplyTimeout   time.Duration
	DefaultMDConfirmTimeout time.Duration

	// MDConnectTimeout bounds how long an MD-TCP corner's connect may
	// take; MDSendingTimeout bounds a single outgoing MD-TCP write
	// (spec.md §4.5 TCP specifics).
	MDConnectTimeout time.Duration
	MDSendingTimeout time.Duration
}

// DefaultOptions returns the options a session uses when the host doesn't
// override them.
func DefaultOptions() Options {
	return Options{
		CycleTime:               10 * time.Millisecond,
		DefaultTTL:               64,
		PDPort:                   wire.DefaultPDPort,
		MDPort:                   wire.DefaultMDPort,
		DefaultMDReplyTimeout:    1 * time.Second,
		DefaultMDConfirmTimeout:  1 * time.Second,
		MDConnectTimeout:         2 * time.Second,
		MDSendingTimeout:         1 * time.Second,
	}
}
