package ledger

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Sink mirrors appended entries as structured JSON lines to a writer.
// It is best-effort: a write failure is swallowed because the sink must
// never mask the primary gate decision it is mirroring.
type Sink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewSink creates a Sink writing to os.Stdout.
func NewSink() *Sink {
	return NewSinkWithWriter(os.Stdout)
}

// NewSinkWithWriter creates a Sink writing to the given writer.
// This allows injection for testing and custom sinks.
func NewSinkWithWriter(w io.Writer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{writer: w}
}

// Handle writes one entry as a JSON line. Suitable for MemoryStore.OnAppend.
func (s *Sink) Handle(entry *Entry) {
	bytes, err := json.Marshal(entry)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Prefix with AUDIT: for easy filtering
	_, _ = s.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
}
