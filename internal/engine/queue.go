package engine

// waitingEntry is one user waiting to be paired. It lives only while the
// user is searching; pairing or disconnect removes it.
type waitingEntry struct {
	ConnID string
	UserID string
}

// matchQueue is a FIFO waiting list with at most one entry per user. The
// engine goroutine is the only caller, so no locking.
type matchQueue struct {
	entries []waitingEntry
}

// enqueue appends an entry unless the user or the connection is already
// queued. Returns false on the duplicate no-op. Deduping by connection keeps
// a client from entering twice under different user IDs and being paired
// with itself.
func (q *matchQueue) enqueue(connID, userID string) bool {
	for _, e := range q.entries {
		if e.UserID == userID || e.ConnID == connID {
			return false
		}
	}
	q.entries = append(q.entries, waitingEntry{ConnID: connID, UserID: userID})
	return true
}

// dequeuePair pops the two longest-waiting entries. Returns ok=false when
// fewer than two users are waiting.
func (q *matchQueue) dequeuePair() (a, b waitingEntry, ok bool) {
	if len(q.entries) < 2 {
		return waitingEntry{}, waitingEntry{}, false
	}
	a, b = q.entries[0], q.entries[1]
	q.entries = append(q.entries[:0], q.entries[2:]...)
	return a, b, true
}

// removeByConn drops the entry for a disconnected connection, preserving the
// order of everything else. No-op when absent.
func (q *matchQueue) removeByConn(connID string) bool {
	for i, e := range q.entries {
		if e.ConnID == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *matchQueue) len() int {
	return len(q.entries)
}
