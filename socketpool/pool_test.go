package socketpool_test

import (
	"testing"
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/socketpool"
)

func TestRequestSocketReusesMDTCPSlot(t *testing.T) {
	p := socketpool.New()

	opt := socketpool.RequestOptions{
		Port:     17225,
		Purpose:  socketpool.PurposeMDTCP,
		CornerIP: addressing.IP(0x0A000002),
	}
	idx1, err := p.RequestSocket(opt)
	if err != nil {
		t.Fatalf("RequestSocket: %v", err)
	}
	idx2, err := p.RequestSocket(opt)
	if err != nil {
		t.Fatalf("RequestSocket: %v", err)
	}
	if idx1 != idx2 {
		t.Fatalf("expected the same slot to be reused, got %d and %d", idx1, idx2)
	}
	if got := p.Slot(idx1).Usage; got != 2 {
		t.Errorf("Usage = %d, want 2", got)
	}
}

func TestRequestSocketDifferentCornerOpensNewSlot(t *testing.T) {
	p := socketpool.New()
	base := socketpool.RequestOptions{Port: 17225, Purpose: socketpool.PurposeMDTCP}

	idx1, err := p.RequestSocket(withCorner(base, 0x0A000001))
	if err != nil {
		t.Fatalf("RequestSocket: %v", err)
	}
	idx2, err := p.RequestSocket(withCorner(base, 0x0A000002))
	if err != nil {
		t.Fatalf("RequestSocket: %v", err)
	}
	if idx1 == idx2 {
		t.Fatal("different TCP corners must not share a slot")
	}
}

func withCorner(opt socketpool.RequestOptions, corner addressing.IP) socketpool.RequestOptions {
	opt.CornerIP = corner
	return opt
}

func TestReleaseSocketClosesAtZeroUsage(t *testing.T) {
	p := socketpool.New()
	opt := socketpool.RequestOptions{Port: 17225, Purpose: socketpool.PurposeMDTCP, CornerIP: 1}

	idx, err := p.RequestSocket(opt)
	if err != nil {
		t.Fatalf("RequestSocket: %v", err)
	}
	if err := p.ReleaseSocket(idx, 0, false, 0); err != nil {
		t.Fatalf("ReleaseSocket: %v", err)
	}
	if s := p.Slot(idx); s != nil {
		t.Errorf("slot should be nil after release with no grace period, got %+v", s)
	}
}

func TestReleaseSocketMDTCPGraceKeepsSlotAlive(t *testing.T) {
	p := socketpool.New()
	opt := socketpool.RequestOptions{Port: 17225, Purpose: socketpool.PurposeMDTCP, CornerIP: 1}

	idx, err := p.RequestSocket(opt)
	if err != nil {
		t.Fatalf("RequestSocket: %v", err)
	}
	if err := p.ReleaseSocket(idx, time.Minute, false, 0); err != nil {
		t.Fatalf("ReleaseSocket: %v", err)
	}
	s := p.Slot(idx)
	if s == nil {
		t.Fatal("slot should still exist during the TCP close grace period")
	}
	if !s.Morituri {
		t.Error("slot should be marked Morituri")
	}
}
