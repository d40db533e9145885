package bot

import (
	"sync"
	"time"
)

// ErrorKind tags entries in the connection manager's error log.
type ErrorKind string

const (
	ErrorTransport   ErrorKind = "transport"
	ErrorPolling     ErrorKind = "polling"
	ErrorRecovery    ErrorKind = "recovery"
	ErrorHealthCheck ErrorKind = "health_check"
	ErrorInit        ErrorKind = "init"
)

// ErrorEntry is one recorded failure.
type ErrorEntry struct {
	At   time.Time
	Kind ErrorKind
	Err  string
}

// ErrorLog is a bounded ring buffer of typed, timestamped failures. It is
// consulted as a heuristic when deciding whether to escalate recovery; it
// is never a source of truth for the manager's phase.
type ErrorLog struct {
	mu      sync.Mutex
	entries []ErrorEntry
	next    int
	size    int
}

func NewErrorLog(capacity int) *ErrorLog {
	if capacity <= 0 {
		capacity = 32
	}
	return &ErrorLog{entries: make([]ErrorEntry, capacity)}
}

// Append records a failure, evicting the oldest entry when full.
func (l *ErrorLog) Append(kind ErrorKind, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = ErrorEntry{At: time.Now(), Kind: kind, Err: err.Error()}
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
}

// Len returns the number of retained entries.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Snapshot returns retained entries, oldest first.
func (l *ErrorLog) Snapshot() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorEntry, 0, l.size)
	start := l.next - l.size
	if start < 0 {
		start += len(l.entries)
	}
	for i := 0; i < l.size; i++ {
		out = append(out, l.entries[(start+i)%len(l.entries)])
	}
	return out
}

// RecentCount counts entries of the given kind within the window. An empty
// kind matches every entry.
func (l *ErrorLog) RecentCount(kind ErrorKind, window time.Duration) int {
	cutoff := time.Now().Add(-window)
	n := 0
	for _, e := range l.Snapshot() {
		if e.At.Before(cutoff) {
			continue
		}
		if kind == "" || e.Kind == kind {
			n++
		}
	}
	return n
}
