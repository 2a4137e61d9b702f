package session

// Stats is the session-wide statistics snapshot (spec.md §3's per-session
// counters, the shape the original exposes as TRDP_STATISTICS_T): summed
// across every publication and subscription, plus the MD session table's
// own counts. metrics mirrors the same values into Prometheus.
type Stats struct {
	NumSend    uint64
	NumRxTx    uint64
	NumMissed  uint64
	NumCrcErr  uint64
	NumProtErr uint64
	NumTopoErr uint64
	NumNoSubs  uint64

	MDSessionsOpen int

	ArenaAllocated int64
	ArenaReused    int64

	SocketSlotsOpen int
}

// Stats computes a fresh snapshot by walking every queue and table this
// session owns.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	st.NumNoSubs = s.RxPD.NumNoSubs
	for _, pub := range s.TxPD.All() {
		st.NumSend += pub.NumSend
		st.NumRxTx += pub.NumRxTx
	}
	for _, sub := range s.RxPD.All() {
		st.NumMissed += sub.NumMissed
		st.NumCrcErr += sub.NumCrcErr
		st.NumProtErr += sub.NumProtErr
		st.NumTopoErr += sub.NumTopoErr
	}

	arena := s.Arena.Stats()
	st.ArenaAllocated = arena.Allocated
	st.ArenaReused = arena.Reused
	st.SocketSlotsOpen = s.Sockets.Len()

	return st
}
