package internal

import "sync"

// eyeLogSize is the number of per-eye timing records kept.
const eyeLogSize = 512

// EyeLogEntry records the timing of one warped eye. Times are seconds
// relative to the vsync base.
type EyeLogEntry struct {
	Vsync       int64
	Eye         int
	Sequence    int64 // eye buffer displayed (0 = placeholder)
	Skipped     bool  // scan phase had already passed
	Placeholder bool

	IssueFinish    float64 // DrawEye returned
	CompleteFinish float64 // Present returned
	PoseLatency    float64 // draw issue to the predicted stop point
}

// eyeLog is a fixed ring of recent EyeLogEntry values.
//
// Writers: compositor thread. Readers: any goroutine (EyeLog).
type eyeLog struct {
	mu      sync.Mutex
	entries [eyeLogSize]EyeLogEntry
	next    uint64
}

func newEyeLog() *eyeLog {
	return &eyeLog{}
}

func (l *eyeLog) record(e EyeLogEntry) {
	l.mu.Lock()
	l.entries[l.next%eyeLogSize] = e
	l.next++
	l.mu.Unlock()
}

// completeVsync stamps CompleteFinish on the entries of vsync.
func (l *eyeLog) completeVsync(vsync int64, complete float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for back := uint64(1); back <= 2 && back <= l.next; back++ {
		e := &l.entries[(l.next-back)%eyeLogSize]
		if e.Vsync == vsync {
			e.CompleteFinish = complete
		}
	}
}

// recent returns up to n entries, oldest first.
func (l *eyeLog) recent(n int) []EyeLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	avail := l.next
	if avail > eyeLogSize {
		avail = eyeLogSize
	}
	if n <= 0 || uint64(n) > avail {
		n = int(avail)
	}

	out := make([]EyeLogEntry, n)
	start := l.next - uint64(n)
	for i := range out {
		out[i] = l.entries[(start+uint64(i))%eyeLogSize]
	}
	return out
}

// EyeLog returns up to n recent eye timing records, oldest first
// (n <= 0: all retained records).
func (c *compositor) EyeLog(n int) []EyeLogEntry {
	return c.eyeLog.recent(n)
}
