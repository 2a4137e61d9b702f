package addressing_test

import (
	"testing"

	"github.com/tcnopen/trdpgo/addressing"
)

func TestMatchesWildcard(t *testing.T) {
	listener := addressing.Tuple{ComID: 42}
	frame := addressing.Tuple{ComID: 42, EtbTopoCnt: 7, OpTrnTopoCnt: 9}
	if !listener.Matches(frame, addressing.IP(0x0A000001)) {
		t.Error("wildcard listener should accept any source and any nonzero topo counters")
	}
}

func TestMatchesComIDMismatch(t *testing.T) {
	listener := addressing.Tuple{ComID: 42}
	frame := addressing.Tuple{ComID: 43}
	if listener.Matches(frame, 0) {
		t.Error("different ComID must not match")
	}
}

func TestTopoMatchesMismatch(t *testing.T) {
	listener := addressing.Tuple{ComID: 42, EtbTopoCnt: 5}
	frame := addressing.Tuple{ComID: 42, EtbTopoCnt: 6}
	if !listener.Matches(frame, 0) {
		t.Error("addressing Matches must ignore topology counters")
	}
	if listener.TopoMatches(frame) {
		t.Error("nonzero, unequal topology counters must not match")
	}
}

func TestTopoMatchesWildcard(t *testing.T) {
	listener := addressing.Tuple{ComID: 42}
	frame := addressing.Tuple{ComID: 42, EtbTopoCnt: 6, OpTrnTopoCnt: 9}
	if !listener.TopoMatches(frame) {
		t.Error("zero listener topology counters should accept any incoming value")
	}
}

func TestMatchesSourceRange(t *testing.T) {
	listener := addressing.Tuple{
		ComID:     42,
		SrcIP:     addressing.IP(0x0A000001),
		SrcIPHigh: addressing.IP(0x0A0000FF),
	}
	frame := addressing.Tuple{ComID: 42}

	if !listener.Matches(frame, addressing.IP(0x0A000050)) {
		t.Error("source inside the accepted range should match")
	}
	if listener.Matches(frame, addressing.IP(0x0B000050)) {
		t.Error("source outside the accepted range must not match")
	}
}

func TestMatchesDestWildcard(t *testing.T) {
	listener := addressing.Tuple{ComID: 42}
	frame := addressing.Tuple{ComID: 42, DestIP: addressing.IP(0x0A000001)}
	if !listener.Matches(frame, 0) {
		t.Error("wildcard destination on the listener should accept any destination")
	}
}

func TestIPRoundTrip(t *testing.T) {
	orig := addressing.IP(0xC0A80001) // 192.168.0.1
	if got := addressing.FromNetIP(orig.ToNetIP()); got != orig {
		t.Errorf("round trip = %v, want %v", got, orig)
	}
	if s := orig.String(); s != "192.168.0.1" {
		t.Errorf("String() = %q", s)
	}
}
