// Package socketpool multiplexes PD/MD traffic over a bounded set of OS
// sockets, tracking multicast memberships and TCP corner connections the
// way spec.md §4.5 describes. Socket options (SO_REUSEADDR, IP_TOS,
// IP_TTL, IP_ADD_MEMBERSHIP/IP_DROP_MEMBERSHIP) are applied with
// golang.org/x/sys/unix, the same package the teacher reaches for wherever
// it needs syscall-level control beyond what net.Conn exposes.
package socketpool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/tcnopen/trdpgo/addressing"
	"github.com/tcnopen/trdpgo/errcodes"
	"golang.org/x/sys/unix"
)

// RequestOptions describes the socket a caller wants from the pool.
type RequestOptions struct {
	Port       int
	SrcIP      addressing.IP
	McGroup    addressing.IP // 0 = none
	Purpose    Purpose
	SendParams SendParams
	RcvMostly  bool
	Reuse      bool
	CornerIP   addressing.IP // MD-TCP only: remote corner to dial
}

// Pool owns a bounded set of OS sockets and the bookkeeping describing
// how PD/MD entries reference them.
type Pool struct {
	mu    sync.Mutex
	slots []*Slot
}

// New creates an empty socket pool.
func New() *Pool {
	return &Pool{}
}

// Len returns the number of slots currently tracked (including ones
// pending close), useful for the trdp_socket_slots_open gauge.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Slot returns the slot at index, or nil if out of range.
func (p *Pool) Slot(index int) *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.slots) {
		return nil
	}
	return p.slots[index]
}

// Slots returns a snapshot of all tracked slots, for the scheduler to
// build its poll set from.
func (p *Pool) Slots() []*Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Slot, len(p.slots))
	copy(out, p.slots)
	return out
}

func slotMatches(s *Slot, opt RequestOptions) bool {
	if s == nil || s.Morituri {
		return false
	}
	if s.Purpose != opt.Purpose {
		return false
	}
	if s.Port != opt.Port || s.BindIP != opt.SrcIP {
		return false
	}
	if opt.Purpose == PurposeMDTCP {
		return s.CornerIP == opt.CornerIP
	}
	if opt.McGroup != 0 && !s.HasGroup(opt.McGroup) && s.GroupCount() >= maxMulticastGroupsPerSlot {
		return false
	}
	return true
}

// RequestSocket finds an existing compatible slot or opens a new one,
// joins McGroup if requested, and increments the slot's usage count. It
// returns the slot index.
func (p *Pool) RequestSocket(opt RequestOptions) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if slotMatches(s, opt) {
			if opt.McGroup != 0 && !s.HasGroup(opt.McGroup) {
				if err := p.joinLocked(s, opt.McGroup); err != nil {
					return -1, err
				}
			}
			s.Usage++
			return s.Index, nil
		}
	}

	s, err := p.openLocked(opt)
	if err != nil {
		return -1, err
	}
	if opt.McGroup != 0 {
		if err := p.joinLocked(s, opt.McGroup); err != nil {
			return -1, err
		}
	}
	s.Usage = 1
	p.slots = append(p.slots, s)
	return s.Index, nil
}

func (p *Pool) openLocked(opt RequestOptions) (*Slot, error) {
	s := &Slot{
		Index:      len(p.slots),
		Purpose:    opt.Purpose,
		BindIP:     opt.SrcIP,
		Port:       opt.Port,
		SendParams: opt.SendParams,
		mcGroups:   make(map[addressing.IP]bool),
		CornerIP:   opt.CornerIP,
	}

	switch opt.Purpose {
	case PurposeMDTCP:
		// TCP corners connect lazily on first send (spec.md §4.4); the
		// slot is usable immediately, just not yet connected.
		return s, nil
	default:
		lc := net.ListenConfig{
			Control: func(_, _ string, c syscall.RawConn) error {
				var ctrlErr error
				err := c.Control(func(fd uintptr) {
					if opt.Reuse {
						ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
						if ctrlErr != nil {
							return
						}
					}
					if opt.SendParams.TTL != 0 {
						ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, int(opt.SendParams.TTL))
						if ctrlErr != nil {
							return
						}
					}
					if opt.SendParams.QoS != 0 {
						ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, int(opt.SendParams.QoS))
					}
				})
				if err != nil {
					return err
				}
				return ctrlErr
			},
		}
		addr := fmt.Sprintf("%s:%d", opt.SrcIP.String(), opt.Port)
		if opt.SrcIP == 0 {
			addr = fmt.Sprintf(":%d", opt.Port)
		}
		pc, err := lc.ListenPacket(context.Background(), "udp4", addr)
		if err != nil {
			return nil, errcodes.New(errcodes.SockErr, err.Error())
		}
		s.udpConn = pc.(*net.UDPConn)
		return s, nil
	}
}

// AdoptTCPConn registers an already-accepted inbound MD-TCP connection as
// a new slot, bound to the listening address/port and keyed by the peer's
// corner IP, mirroring the bookkeeping RequestSocket applies to a dialed
// corner (spec.md §4.5: a corner may be established either by dialing out
// or by a peer dialing in).
func (p *Pool) AdoptTCPConn(conn *net.TCPConn, bindIP addressing.IP, port int, cornerIP addressing.IP) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &Slot{
		Index:    len(p.slots),
		Purpose:  PurposeMDTCP,
		BindIP:   bindIP,
		Port:     port,
		mcGroups: make(map[addressing.IP]bool),
		CornerIP: cornerIP,
		tcpConn:  conn,
		Usage:    1,
	}
	p.slots = append(p.slots, s)
	return s.Index
}

// joinLocked joins group on slot s, enforcing the per-slot multicast
// group limit. Callers must hold p.mu.
func (p *Pool) joinLocked(s *Slot, group addressing.IP) error {
	if s.HasGroup(group) {
		return nil
	}
	if s.GroupCount() >= maxMulticastGroupsPerSlot {
		return errcodes.New(errcodes.ParamErr, "multicast group limit reached for this slot")
	}
	if s.udpConn != nil {
		raw, err := s.udpConn.SyscallConn()
		if err != nil {
			return errcodes.New(errcodes.SockErr, err.Error())
		}
		mreq := &unix.IPMreq{
			Multiaddr: ipToArray(group),
			Interface: ipToArray(s.BindIP),
		}
		var ctrlErr error
		err = raw.Control(func(fd uintptr) {
			ctrlErr = unix.SetsockoptIPMreq(int(fd), unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
		})
		if err != nil {
			return errcodes.New(errcodes.SockErr, err.Error())
		}
		if ctrlErr != nil {
			return errcodes.New(errcodes.SockErr, ctrlErr.Error())
		}
	}
	s.mcGroups[group] = true
	return nil
}

// leaveLocked drops group from slot s. Callers must hold p.mu.
func (p *Pool) leaveLocked(s *Slot, group addressing.IP) error {
	if !s.HasGroup(group) {
		return nil
	}
	if s.udpConn != nil {
		raw, err := s.udpConn.SyscallConn()
		if err == nil {
			mreq := &unix.IPMreq{
				Multiaddr: ipToArray(group),
				Interface: ipToArray(s.BindIP),
			}
			raw.Control(func(fd uintptr) {
				unix.SetsockoptIPMreq(int(fd), unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq)
			})
		}
	}
	delete(s.mcGroups, group)
	return nil
}

// ReleaseSocket decrements the usage count for the slot at index. When
// usage reaches zero the slot is closed immediately, except for
// MD-TCP slots, which may be retained open for connectTimeout to allow a
// graceful close (spec.md §4.5). If mcGroupUsed is nonzero, that group is
// dropped first, provided no other reference to it remains (checkAll
// forces the group accounting to run even if usage doesn't hit zero).
func (p *Pool) ReleaseSocket(index int, connectTimeout time.Duration, checkAll bool, mcGroupUsed addressing.IP) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.slots) {
		return errcodes.New(errcodes.ParamErr, "socket index out of range")
	}
	s := p.slots[index]
	if s == nil {
		return errcodes.New(errcodes.SockErr, "slot already closed")
	}

	if mcGroupUsed != 0 && checkAll {
		p.leaveLocked(s, mcGroupUsed)
	}

	if s.Usage > 0 {
		s.Usage--
	}
	if s.Usage > 0 {
		return nil
	}

	if s.Purpose == PurposeMDTCP && connectTimeout > 0 {
		s.Morituri = true
		s.SendDeadline = time.Now().Add(connectTimeout)
		return nil
	}
	return p.closeLocked(s)
}

func (p *Pool) closeLocked(s *Slot) error {
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	if s.tcpConn != nil {
		s.tcpConn.Close()
	}
	p.slots[s.Index] = nil
	return nil
}

// CheckMorituri closes any MD-TCP slot marked Morituri whose deadline has
// elapsed, as driven by the work loop each tick.
func (p *Pool) CheckMorituri(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s != nil && s.Morituri && !now.Before(s.SendDeadline) {
			p.closeLocked(s)
		}
	}
}

func ipToArray(ip addressing.IP) [4]byte {
	return [4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}
}
