package session

import (
	"sync"

	"callguard/analyzer"
)

// history is the suspicion history: the ordered subsequence of ingested
// fragments with suspicious == true. Snapshots are copies, so a delivered
// snapshot never changes under the receiver.
type history struct {
	mu    sync.Mutex
	frags []analyzer.Fragment
	total int // all ingested fragments, suspicious or not
}

// ingest records one fragment and returns the post-ingest snapshot.
func (h *history) ingest(f analyzer.Fragment) []analyzer.Fragment {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	if f.Suspicious {
		h.frags = append(h.frags, f)
	}
	return h.snapshotLocked()
}

func (h *history) snapshot() []analyzer.Fragment {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *history) snapshotLocked() []analyzer.Fragment {
	if len(h.frags) == 0 {
		return nil
	}
	out := make([]analyzer.Fragment, len(h.frags))
	copy(out, h.frags)
	return out
}

// counts reports (fragments ingested, suspicious fragments kept).
func (h *history) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total, len(h.frags)
}

func (h *history) clear() {
	h.mu.Lock()
	h.frags = nil
	h.total = 0
	h.mu.Unlock()
}
