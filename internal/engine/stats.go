package engine

// Stats is a point-in-time summary of a queue.
type Stats struct {
	Head               Position `json:"head"`
	Tail               Position `json:"tail"`
	Segments           int      `json:"segments"`
	PendingReclaim     int      `json:"pendingReclaim"`
	NextSeq            uint64   `json:"nextSeq"`
	UnreadBytes        int64    `json:"unreadBytes"`
	BufferedBytes      int      `json:"bufferedBytes"`
	OutstandingCursors int64    `json:"outstandingCursors"`
}

// Stats reports the queue's positions and space usage. UnreadBytes includes record headers.
func (e *Engine) Stats() (Stats, error) {
	if e.closed.Load() {
		return Stats{}, e.closedError("stats")
	}

	tail := e.segments.Tail()
	stats := Stats{
		Head:               e.head,
		Tail:               Position{Seq: tail.Seq(), Offset: tail.Size()},
		Segments:           e.segments.Len(),
		PendingReclaim:     e.segments.PendingReclaim(),
		NextSeq:            e.segments.NextSeq(),
		BufferedBytes:      tail.Buffered(),
		OutstandingCursors: e.cursors.Load(),
	}

	for _, st := range e.segments.States() {
		stats.UnreadBytes += st.Size
	}
	stats.UnreadBytes -= e.head.Offset

	return stats, nil
}
