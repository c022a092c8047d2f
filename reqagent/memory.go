package reqagent

import (
	"sync"

	"github.com/agentika/requireloop/llmkit"
)

// MarkerScratch flags temporary retry-nudge messages, purged before the
// next model call.
const MarkerScratch = "scratch"

// Memory is the durable conversation transcript for a run: an ordered,
// append-only message log with deletion-by-marker for scratch messages.
type Memory interface {
	// Add appends messages tagged with a marker ("" for permanent).
	Add(marker string, msgs ...llmkit.Message)
	// AddMany appends permanent messages.
	AddMany(msgs []llmkit.Message)
	// Messages returns the transcript in order.
	Messages() []llmkit.Message
	// DeleteMarked removes all messages carrying the marker.
	DeleteMarked(marker string)
	// Reset clears the transcript.
	Reset()
}

type memoryEntry struct {
	msg    llmkit.Message
	marker string
}

// InMemory is the default Memory: an in-process ordered message log.
type InMemory struct {
	mu      sync.Mutex
	entries []memoryEntry
}

// NewMemory creates an empty InMemory store.
func NewMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) Add(marker string, msgs ...llmkit.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.entries = append(m.entries, memoryEntry{msg: msg, marker: marker})
	}
}

func (m *InMemory) AddMany(msgs []llmkit.Message) {
	m.Add("", msgs...)
}

func (m *InMemory) Messages() []llmkit.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llmkit.Message, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.msg
	}
	return out
}

func (m *InMemory) DeleteMarked(marker string) {
	if marker == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.marker != marker {
			kept = append(kept, e)
		}
	}
	m.entries = kept
}

func (m *InMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}
