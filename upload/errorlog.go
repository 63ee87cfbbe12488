package upload

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrorEntry is one failure event. A file that fails, is re-enqueued by the
// user and fails again produces two entries.
type ErrorEntry struct {
	// ID echoes the originating item's ID.
	ID       string    `json:"id"`
	Filename string    `json:"filename"`
	Message  string    `json:"message"`
	When     time.Time `json:"when"`
}

// ErrorLog collects failures independently of the item list: clearing it never
// removes items, and removing items never clears it, so failure detail stays
// inspectable without losing the queue view.
type ErrorLog struct {
	mu      sync.Mutex
	entries []ErrorEntry
	open    bool

	now func() time.Time
}

// NewErrorLog ...
func NewErrorLog() *ErrorLog {
	return &ErrorLog{now: time.Now}
}

// Push appends a failure and opens the error view.
func (l *ErrorLog) Push(id, filename, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ErrorEntry{
		ID:       id,
		Filename: filename,
		Message:  message,
		When:     l.now(),
	})
	l.open = true
}

// Entries returns a copy of the collected failures, oldest first.
func (l *ErrorLog) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorEntry(nil), l.entries...)
}

// Clear empties the log without touching visibility.
func (l *ErrorLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Open makes the error view visible.
func (l *ErrorLog) Open() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = true
}

// Close hides the error view; the entries stay.
func (l *ErrorLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
}

// IsOpen ...
func (l *ErrorLog) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Export renders every entry as text, one failure per line, for copy-all.
func (l *ErrorLog) Export() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	for _, entry := range l.entries {
		fmt.Fprintf(&b, "%s %s: %s\n", entry.When.Format(time.RFC3339), entry.Filename, entry.Message)
	}
	return b.String()
}
