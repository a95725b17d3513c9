package api

import "net/http"

// handleMetrics merges the event counters with gauges read from live
// state: sessions per status, hosts and sockets on the router, and what
// the sweeper has removed so far.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := s.metrics.Snapshot()
	if s.lifecycle != nil {
		for status, count := range s.lifecycle.Registry().StatusCounts() {
			snapshot["sessions_"+string(status)] = uint64(count)
		}
	}
	if s.hub != nil {
		hosts, conns := s.hub.Counts()
		snapshot["hosts_registered"] = uint64(hosts)
		snapshot["connections_open"] = uint64(conns)
	}
	if s.liveness != nil {
		status := s.liveness.Status()
		snapshot["sweeper_sessions_timed_out_total"] = uint64(status.Removed.TimedOut)
		snapshot["sweeper_pins_expired_total"] = uint64(status.Removed.PINs)
		snapshot["sweeper_chunks_removed_total"] = uint64(status.Removed.Chunks)
		if !status.LastSweep.IsZero() {
			snapshot["sweeper_last_run_unix"] = uint64(status.LastSweep.Unix())
		}
	}
	writeJSON(w, http.StatusOK, snapshot)
}
