// internal/engine/snapshot.go
package engine

import (
	"sync"
	"time"
)

// ReadingStatus is the per-register state shown to the presentation layer.
type ReadingStatus int

const (
	// ReadingStale: no fresh data this connection (startup, disconnect,
	// or a register newly added by a catalog reload).
	ReadingStale ReadingStatus = iota
	// ReadingOK: decoded successfully in the latest cycle.
	ReadingOK
	// ReadingError: the latest cycle failed for this register.
	ReadingError
)

func (s ReadingStatus) String() string {
	switch s {
	case ReadingOK:
		return "ok"
	case ReadingError:
		return "error"
	default:
		return "stale"
	}
}

// Reading is the latest state of one catalog register.
type Reading struct {
	Name string
	Unit string

	// Raw holds the register words exactly as received.
	Raw []uint16
	// Value is the decoded, scaled value; valid only when HasValue is set.
	Value    float64
	HasValue bool

	Updated time.Time
	Status  ReadingStatus
	// Err describes the failure when Status is ReadingError.
	Err string
}

// ConnState is the engine-wide connection state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Faulted
)

func (c ConnState) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "disconnected"
	}
}

// Snapshot is one complete published view: every catalog register plus the
// connection state. A snapshot is immutable once published; the engine
// replaces the whole value, so readers never observe a half-updated cycle.
type Snapshot struct {
	// Readings maps register name to its latest state.
	Readings map[string]Reading
	// Order lists register names in catalog order, for table rendering.
	Order []string

	Conn ConnState
	// Err is the connection-level error text when Conn is Faulted.
	Err string
	// At is when this snapshot was published.
	At time.Time
}

// Store holds the current snapshot for concurrent readers.
// Publish swaps the reference wholesale; Read never blocks the poll loop
// beyond the reference swap itself.
type Store struct {
	mu  sync.RWMutex
	cur *Snapshot
}

// NewStore returns a store holding an empty disconnected snapshot.
func NewStore() *Store {
	return &Store{cur: &Snapshot{
		Readings: map[string]Reading{},
		Conn:     Disconnected,
		At:       time.Now(),
	}}
}

// Publish replaces the current snapshot.
func (s *Store) Publish(snap *Snapshot) {
	s.mu.Lock()
	s.cur = snap
	s.mu.Unlock()
}

// Read returns the current snapshot. Callers must treat it as read-only.
func (s *Store) Read() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}
