// Package sessionid generates the 128-bit session identifiers that
// correlate an MD request with all of its replies and the final confirm.
//
// Deviation from RFC 4122: the source this was ported from builds the
// identifier from wall-clock microseconds, a monotonic per-process
// counter, and the host's MAC address rather than from a version/variant
// nibble and a CSPRNG. We keep that exact byte layout for wire
// compatibility with other TRDP stacks rather than "fixing" it into a
// real UUIDv4 or v7; see spec.md's Open Questions.
package sessionid

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Size is the length, in bytes, of a session identifier.
const Size = 16

// ID is a 128-bit MD session identifier.
type ID [Size]byte

func (id ID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", id[0:4], id[4:6], id[6:8], id[8:10], id[10:16])
}

// IsZero reports whether id is the all-zero identifier (never assigned by
// Generator, but useful as a sentinel in session tables).
func (id ID) IsZero() bool {
	return id == ID{}
}

// counter is incremented for every identifier minted process-wide, so
// that two sessions opened within the same microsecond still get
// distinct identifiers.
var counter uint32

// cachedMAC is resolved once and reused, the way uuid.getPrefix caches
// the hostname+boottime prefix: querying interfaces on every call would
// be wasteful and the answer can't change while the process is running.
var (
	macOnce   sync.Once
	cachedMAC [6]byte
	macErr    error
)

func localMAC() ([6]byte, error) {
	macOnce.Do(func() {
		ifaces, err := net.Interfaces()
		if err != nil {
			macErr = err
			return
		}
		for _, iface := range ifaces {
			if len(iface.HardwareAddr) != 6 {
				continue
			}
			if iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			copy(cachedMAC[:], iface.HardwareAddr)
			return
		}
		// No suitable interface found; fall back to all-zero rather than
		// failing session creation over a cosmetic field.
	})
	return cachedMAC, macErr
}

// Generator mints session identifiers. The zero value is ready to use.
type Generator struct {
	now func() time.Time
}

// NewGenerator creates a Generator using the real wall clock.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// New mints a fresh session identifier from the current wall-clock time,
// the process-wide monotonic counter, and the host's MAC address.
func (g *Generator) New() ID {
	now := time.Now
	if g != nil && g.now != nil {
		now = g.now
	}
	t := now().UTC()
	seq := atomic.AddUint32(&counter, 1)
	mac, _ := localMAC() // on lookup failure the MAC bytes stay zero

	var id ID
	sec := uint32(t.Unix())
	usec := uint32(t.Nanosecond() / 1000)
	id[0] = byte(sec >> 24)
	id[1] = byte(sec >> 16)
	id[2] = byte(sec >> 8)
	id[3] = byte(sec)
	id[4] = byte(usec >> 24)
	id[5] = byte(usec >> 16)
	id[6] = byte(usec >> 8)
	id[7] = byte(usec)
	id[8] = byte(seq >> 8)
	id[9] = byte(seq)
	copy(id[10:16], mac[:])
	return id
}
