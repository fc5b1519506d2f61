package resilience

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// DLQEntry records a unit of work that failed against an external service,
// with enough context to audit or re-drive it later.
type DLQEntry struct {
	Key       string    `json:"key"`
	Service   string    `json:"service"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"` // "transient" or "permanent"
	FailedAt  time.Time `json:"failed_at"`
}

// DLQ is an in-memory dead letter queue, safe for concurrent producers.
type DLQ struct {
	mu      sync.Mutex
	entries []DLQEntry
}

// NewDLQ creates an empty queue.
func NewDLQ() *DLQ {
	return &DLQ{}
}

// Add records a failure.
func (q *DLQ) Add(service, key string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, DLQEntry{
		Key:       key,
		Service:   service,
		Error:     err.Error(),
		ErrorType: ClassifyError(err),
		FailedAt:  time.Now().UTC(),
	})
}

// Len returns the number of recorded failures.
func (q *DLQ) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the recorded failures.
func (q *DLQ) Entries() []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DLQEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// WriteFile dumps the queue as JSON lines for offline inspection.
func (q *DLQ) WriteFile(path string) error {
	entries := q.Entries()

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "resilience: create %s", path)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return eris.Wrap(err, "resilience: encode DLQ entry")
		}
	}
	return nil
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
