package socketpool

import (
	"fmt"
	"net"
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/errcodes"
)

// Purpose identifies what a socket slot is used for, per spec.md §3.
type Purpose int

// Socket slot purposes.
const (
	PurposePDUDP Purpose = iota
	PurposeMDUDP
	PurposeMDTCP
	PurposePDTSN
)

func (p Purpose) String() string {
	switch p {
	case PurposePDUDP:
		return "PD-UDP"
	case PurposeMDUDP:
		return "MD-UDP"
	case PurposeMDTCP:
		return "MD-TCP"
	case PurposePDTSN:
		return "PD-TSN"
	default:
		return "unknown"
	}
}

// maxMulticastGroupsPerSlot bounds the joined-group list per slot, as
// spec.md §3 requires ("bounded list").
const maxMulticastGroupsPerSlot = 20

// SendParams carries the QoS/TTL parameters applied to a slot's outbound
// traffic.
type SendParams struct {
	TTL uint8
	QoS uint8 // mapped onto IP_TOS
}

// Slot is one entry in the socket pool: a bound UDP PacketConn or an
// established/pending TCP connection, its purpose, its reference count,
// and (for multicast) the set of joined groups.
type Slot struct {
	Index   int
	Purpose Purpose
	BindIP  addressing.IP
	Port    int

	// udpConn is set for PurposePDUDP/PurposeMDUDP/PurposePDTSN slots.
	udpConn *net.UDPConn
	// tcpConn is set for PurposeMDTCP slots once connected.
	tcpConn net.Conn

	Usage int

	mcGroups map[addressing.IP]bool

	SendParams SendParams

	// TCP-specific fields (spec.md §3, §4.4).
	CornerIP         addressing.IP
	PendingSend      bool
	ConnectDeadline  time.Time
	SendDeadline     time.Time
	Morituri         bool // marked for close as soon as Usage reaches zero

	// uncompletedTCP accumulates partial inbound frame bytes across
	// Process() invocations, indexed by this slot rather than by raw fd
	// (spec.md §9 Design Notes).
	uncompletedTCP []byte
}

// UDPConn returns the slot's UDP connection, or nil if this isn't a UDP slot.
func (s *Slot) UDPConn() *net.UDPConn { return s.udpConn }

// TCPConn returns the slot's TCP connection, or nil if not yet connected.
func (s *Slot) TCPConn() net.Conn { return s.tcpConn }

// Connected reports whether this MD-TCP slot's corner is dialed.
func (s *Slot) Connected() bool { return s.tcpConn != nil }

// EnsureConnected dials the slot's corner if it isn't connected yet,
// bounded by connectTimeout (spec.md §4.5 TCP specifics: "the first
// send to a new corner IP triggers a...connect supervised by a
// connectTimeout deadline; further sends on the same corner reuse the
// slot"). It is a no-op once the corner is already connected.
func (s *Slot) EnsureConnected(connectTimeout time.Duration, now time.Time) error {
	if s.Purpose != PurposeMDTCP {
		return errcodes.New(errcodes.ParamErr, "EnsureConnected called on a non-MD-TCP slot")
	}
	if s.tcpConn != nil {
		return nil
	}
	s.PendingSend = true
	s.ConnectDeadline = now.Add(connectTimeout)
	addr := fmt.Sprintf("%s:%d", s.CornerIP.String(), s.Port)
	conn, err := net.DialTimeout("tcp4", addr, connectTimeout)
	s.PendingSend = false
	if err != nil {
		return errcodes.New(errcodes.SockErr, err.Error())
	}
	s.tcpConn = conn
	s.Morituri = false
	return nil
}

// SendFrame writes frame to the slot's connected TCP corner, bounding
// the write with sendingTimeout (spec.md §4.5: "sendingTimeout bounds a
// single outgoing message").
func (s *Slot) SendFrame(frame []byte, sendingTimeout time.Duration) error {
	if s.tcpConn == nil {
		return errcodes.New(errcodes.SockErr, "MD-TCP corner not connected")
	}
	if sendingTimeout > 0 {
		s.tcpConn.SetWriteDeadline(time.Now().Add(sendingTimeout))
	}
	if _, err := s.tcpConn.Write(frame); err != nil {
		return errcodes.New(errcodes.IoErr, err.Error())
	}
	return nil
}

// Uncompleted returns the slot's partial-inbound-frame buffer.
func (s *Slot) Uncompleted() []byte { return s.uncompletedTCP }

// HasGroup reports whether group is currently joined on this slot.
func (s *Slot) HasGroup(group addressing.IP) bool {
	return s.mcGroups[group]
}

// GroupCount returns the number of multicast groups currently joined.
func (s *Slot) GroupCount() int {
	return len(s.mcGroups)
}

// AppendUncompleted appends newly read bytes to the slot's partial-frame
// buffer and returns the accumulated buffer.
func (s *Slot) AppendUncompleted(b []byte) []byte {
	s.uncompletedTCP = append(s.uncompletedTCP, b...)
	return s.uncompletedTCP
}

// ConsumeUncompleted drops the first n bytes of the partial-frame buffer,
// after a full frame has been extracted from its front.
func (s *Slot) ConsumeUncompleted(n int) {
	s.uncompletedTCP = append(s.uncompletedTCP[:0], s.uncompletedTCP[n:]...)
}
