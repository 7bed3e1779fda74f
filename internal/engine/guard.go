package engine

import "sync"

// DispatchGuard tracks stamp requests issued per run so that one run never
// asks the same recipient to stamp the same document twice.
//
// The dispatch policy already refuses recipients recorded in a row's
// dispatched set. The guard covers what the persisted state cannot: a row
// rewritten between phases of the same run, or the same document reachable
// from both a queue row and a document row.
//
// The guard is in-memory and per run. Persisted rows stay the source of
// truth across runs.
type DispatchGuard struct {
	mu      sync.Mutex
	history map[string]map[string]bool // map[run_id]map[document|recipient]bool
}

// NewDispatchGuard creates an empty guard.
func NewDispatchGuard() *DispatchGuard {
	return &DispatchGuard{
		history: make(map[string]map[string]bool),
	}
}

// WouldRepeat reports whether (documentID, recipient) was already dispatched
// in runID.
func (g *DispatchGuard) WouldRepeat(runID, documentID, recipient string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.history[runID] == nil {
		return false
	}
	return g.history[runID][guardKey(documentID, recipient)]
}

// Record marks (documentID, recipient) as dispatched in runID.
func (g *DispatchGuard) Record(runID, documentID, recipient string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.history[runID] == nil {
		g.history[runID] = make(map[string]bool)
	}
	g.history[runID][guardKey(documentID, recipient)] = true
}

// Clear drops the history of runID. Called when the run ends.
func (g *DispatchGuard) Clear(runID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.history, runID)
}

// HistorySize returns the number of runs with tracked history.
func (g *DispatchGuard) HistorySize() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.history)
}

// RunHistorySize returns the number of dispatches tracked for runID.
func (g *DispatchGuard) RunHistorySize(runID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.history[runID])
}

func guardKey(documentID, recipient string) string {
	return documentID + "|" + recipient
}
