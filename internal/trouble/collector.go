package trouble

import (
	"sync"

	"github.com/cycleforge/agent/internal/cycle"
)

// windowSize is how many of the most recently persisted signatures the
// Collector keeps in memory to dedup against, per spec.md §4.H step 2
// ("compare against the pending buffer and the last 20 persisted
// entries").
const windowSize = 20

// Collector buffers Trouble captures for the duration of one cycle and
// flushes the deduped set to a Repository at cycle end (spec.md §3
// component D "TroubleCollector").
type Collector struct {
	repo *Repository

	mu      sync.Mutex
	pending []cycle.Trouble
	seen    map[uint64]struct{}
	recent  []uint64 // ring of the last windowSize persisted signatures
}

// NewCollector creates a Collector that flushes into repo.
func NewCollector(repo *Repository) *Collector {
	return &Collector{repo: repo, seen: make(map[uint64]struct{})}
}

// Capture buffers t unless its signature duplicates one already pending
// or within the last windowSize persisted entries.
func (c *Collector) Capture(t cycle.Trouble) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sig := signature(t)
	if _, dup := c.seen[sig]; dup {
		return
	}
	c.seen[sig] = struct{}{}
	c.pending = append(c.pending, t)
}

// Flush persists every buffered trouble to the Repository and resets the
// pending buffer, sliding the recent-signature window forward.
func (c *Collector) Flush() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, t := range pending {
		if err := c.repo.Record(t); err != nil {
			return err
		}
		c.rememberPersisted(signature(t))
	}
	return nil
}

// Pending returns a copy of the currently buffered troubles, for a phase
// that wants to react to what happened earlier in the same cycle.
func (c *Collector) Pending() []cycle.Trouble {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]cycle.Trouble, len(c.pending))
	copy(out, c.pending)
	return out
}

func (c *Collector) rememberPersisted(sig uint64) {
	c.recent = append(c.recent, sig)
	if len(c.recent) > windowSize {
		c.recent = c.recent[len(c.recent)-windowSize:]
	}
	c.seen = make(map[uint64]struct{}, windowSize)
	for _, s := range c.recent {
		c.seen[s] = struct{}{}
	}
}
