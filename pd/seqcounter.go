// Package pd implements the Process Data engine: cyclic publish/subscribe
// over UDP with per-publication scheduling, per-subscription timeout
// detection, sequence-counter deduplication, and redundancy groups
// (spec.md §4.2, §4.3, §4.6).
package pd

import "github.com/tcnopen/trdpgo/addressing"

// seqEntry is one (source, msgType) -> lastSeqCnt tuple, per spec.md §3's
// sequence-counter list.
type seqEntry struct {
	src     addressing.IP
	msgType uint16
	last    uint32
	present bool
}

// initialSeqListCap is the number of slots a fresh subscription's
// sequence-counter list is pre-allocated with (spec.md §4.3).
const initialSeqListCap = 64

// SeqCounterList is a per-subscription, bounded-growth table of
// {source, msgType} -> last-seen sequence counter. It grows by doubling
// when full, exactly as spec.md §3 describes, and an index map keeps
// lookups O(1) instead of the linear scan a literal growable array would
// need.
type SeqCounterList struct {
	entries []seqEntry
	index   map[addressing.RecvKey]int
}

// NewSeqCounterList pre-allocates a list with room for
// initialSeqListCap tuples.
func NewSeqCounterList() *SeqCounterList {
	return &SeqCounterList{
		entries: make([]seqEntry, 0, initialSeqListCap),
		index:   make(map[addressing.RecvKey]int, initialSeqListCap),
	}
}

// diffMod32 returns the forward distance from a to b modulo 2^32: the
// number of increments needed to get from a to b, wrapping at 2^32.
func diffMod32(a, b uint32) uint32 {
	return b - a
}

// IsDuplicate reports whether seq, received from src for msgType, is a
// duplicate of (or older than) the last one recorded, handling the
// sequence-counter wrap described in spec.md §8: an incoming 0x00000000
// following a stored 0xFFFFFFFF is fresh, not a duplicate. It also
// returns the gap (number of missed frames) when seq is newer.
func (l *SeqCounterList) IsDuplicate(src addressing.IP, msgType uint16, seq uint32) (dup bool, gap uint32) {
	key := addressing.RecvKey{SrcIP: src, MsgType: msgType}
	i, ok := l.index[key]
	if !ok {
		return false, 0
	}
	last := l.entries[i].last
	d := diffMod32(last, seq)
	// d==0 means seq==last, a repeat. d in the "negative" half of the
	// modular space (very large d) means seq is less-or-equal last
	// modulo 2^32, i.e. stale/duplicate.
	if d == 0 || d > 1<<31 {
		return true, 0
	}
	return false, d - 1
}

// Update records seq as the latest seen sequence counter for (src,
// msgType), inserting a new entry (growing the backing array by doubling
// if it's full) or overwriting an existing one.
func (l *SeqCounterList) Update(src addressing.IP, msgType uint16, seq uint32) {
	key := addressing.RecvKey{SrcIP: src, MsgType: msgType}
	if i, ok := l.index[key]; ok {
		l.entries[i].last = seq
		return
	}
	if len(l.entries) == cap(l.entries) {
		grown := make([]seqEntry, len(l.entries), cap(l.entries)*2)
		copy(grown, l.entries)
		l.entries = grown
	}
	l.entries = append(l.entries, seqEntry{src: src, msgType: msgType, last: seq, present: true})
	l.index[key] = len(l.entries) - 1
}

// Reset removes the tuple for (src, msgType), e.g. after a supervised
// timeout for that source.
func (l *SeqCounterList) Reset(src addressing.IP, msgType uint16) {
	key := addressing.RecvKey{SrcIP: src, MsgType: msgType}
	i, ok := l.index[key]
	if !ok {
		return
	}
	last := len(l.entries) - 1
	l.entries[i] = l.entries[last]
	l.index[addressing.RecvKey{SrcIP: l.entries[i].src, MsgType: l.entries[i].msgType}] = i
	l.entries = l.entries[:last]
	delete(l.index, key)
}

// Len reports the number of tracked (source, msgType) tuples.
func (l *SeqCounterList) Len() int { return len(l.entries) }

// OutboundCounters tracks the per-(comId, msgType, srcIP) send sequence
// counter (spec.md §4.6): a single counter per tuple, shared across
// redundant publications.
type OutboundCounters struct {
	next map[addressing.SendKey]uint32
}

// NewOutboundCounters creates an empty outbound counter table.
func NewOutboundCounters() *OutboundCounters {
	return &OutboundCounters{next: make(map[addressing.SendKey]uint32)}
}

// Seed sets the starting counter for key if one isn't already tracked,
// returning the counter a new (possibly redundant) publication should
// start from. This implements "any existing publication matching the
// tuple seeds the counter on new publication creation, so failovers do
// not restart sequencing" (spec.md §4.6).
func (c *OutboundCounters) Seed(key addressing.SendKey) uint32 {
	if v, ok := c.next[key]; ok {
		return v
	}
	c.next[key] = 0
	return 0
}

// Advance increments and returns the next counter value for key.
func (c *OutboundCounters) Advance(key addressing.SendKey) uint32 {
	v := c.next[key] + 1
	c.next[key] = v
	return v
}

// Current returns the current (last-sent) counter value for key.
func (c *OutboundCounters) Current(key addressing.SendKey) uint32 {
	return c.next[key]
}

// RequestCounters tracks the per-comId sequence counter PD Requests use,
// a dedicated list independent of OutboundCounters because requests may
// be issued from non-publishing contexts (spec.md §4.6 "PD Request
// outbound counters").
type RequestCounters struct {
	next map[uint32]uint32
}

// NewRequestCounters creates an empty PD Request counter table.
func NewRequestCounters() *RequestCounters {
	return &RequestCounters{next: make(map[uint32]uint32)}
}

// Advance increments and returns the next counter value for comID.
func (c *RequestCounters) Advance(comID uint32) uint32 {
	v := c.next[comID] + 1
	c.next[comID] = v
	return v
}
