// Package addressing implements the addressing tuple that identifies every
// publication, subscription, request, and listener, and the matching rule
// used to pair inbound frames with the entries that want them.
package addressing

import "net"

// IP is a 32-bit IPv4 address stored host-order-free, matching the wire
// format's 32-bit address fields. Zero is the wildcard address.
type IP uint32

// FromNetIP converts a net.IP (v4) into an IP. Returns 0 for nil/invalid.
func FromNetIP(ip net.IP) IP {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return IP(uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]))
}

// ToNetIP converts an IP back into a net.IP.
func (a IP) ToNetIP() net.IP {
	return net.IPv4(byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

func (a IP) String() string { return a.ToNetIP().String() }

// Tuple is the addressing tuple of spec.md §3: a comId, a source address
// (optionally a range via SrcIPHigh), an optional destination, an optional
// multicast group, two topology counters, and a service id.
type Tuple struct {
	ComID uint32

	// SrcIP is the exact source address to accept, or the low bound of an
	// accepted range when SrcIPHigh is nonzero. Zero means "accept any
	// source" (wildcard).
	SrcIP IP
	// SrcIPHigh, when nonzero, makes [SrcIP, SrcIPHigh] the accepted
	// source range instead of a single exact address.
	SrcIPHigh IP

	// DestIP is the destination address this entry listens on, or that a
	// publication sends to. Zero means wildcard on the receive side.
	DestIP IP
	// McGroup is the multicast group, if any (0 = none).
	McGroup IP

	EtbTopoCnt   uint32
	OpTrnTopoCnt uint32

	ServiceID uint32
}

// acceptsSource reports whether src falls within t's accepted source range.
func (t Tuple) acceptsSource(src IP) bool {
	if t.SrcIP == 0 {
		return true // wildcard
	}
	if t.SrcIPHigh == 0 {
		return src == t.SrcIP
	}
	lo, hi := t.SrcIP, t.SrcIPHigh
	if hi < lo {
		lo, hi = hi, lo
	}
	return src >= lo && src <= hi
}

// topoMatch reports whether a listener's stored topology counter matches an
// incoming one under the "zero is wildcard" rule of spec.md §3.
func topoMatch(listener, incoming uint32) bool {
	return listener == 0 || incoming == 0 || listener == incoming
}

// Matches reports whether an inbound frame's addressing (src as its
// actual source, and the tuple's ComID/Dest fields) is accepted by
// listener t, WITHOUT considering topology counters: spec.md §4.3 treats
// comId/destination/source matching (step 2, counted as numNoSubs on
// failure) and topology validation (step 3, counted as numTopoErr) as
// separate pipeline stages, so a frame can match here and still be
// rejected by TopoMatches.
func (t Tuple) Matches(frame Tuple, actualSrc IP) bool {
	if t.ComID != frame.ComID {
		return false
	}
	if t.DestIP != 0 && frame.DestIP != 0 && t.DestIP != frame.DestIP {
		return false
	}
	return t.acceptsSource(actualSrc)
}

// TopoMatches reports whether frame's topology counters are compatible
// with listener t's: both counters must be either zero (wildcard) or
// equal (spec.md §3, §4.3).
func (t Tuple) TopoMatches(frame Tuple) bool {
	return topoMatch(t.EtbTopoCnt, frame.EtbTopoCnt) && topoMatch(t.OpTrnTopoCnt, frame.OpTrnTopoCnt)
}

// SendKey identifies the outbound sequence-counter bucket for a
// publication: per (comId, msgType, srcIP), shared by redundant
// publications of the same comId/source.
type SendKey struct {
	ComID   uint32
	MsgType uint16
	SrcIP   IP
}

// RecvKey identifies the inbound sequence-counter bucket for a
// subscription: per (source, msgType), scoped to the owning subscription.
type RecvKey struct {
	SrcIP   IP
	MsgType uint16
}
