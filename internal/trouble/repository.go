// Package trouble implements the Trouble Repository (spec.md §3 component
// D): an append-only incident log persisted through AtomicStore, with
// rotation into an archive once the active set exceeds its configured
// ceiling, plus a TroubleCollector that buffers per-cycle captures and
// dedups them by a fast xxhash signature before they are persisted.
package trouble

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/store"
)

// document is the on-disk shape of the trouble log: active incidents plus
// an archive of rotated-out ones, matching spec.md §5's "two-tier
// persistence: active set bounded, archive unbounded but append-only".
type document struct {
	Active  []cycle.Trouble `json:"active"`
	Archive []cycle.Trouble `json:"archive"`
}

// Repository is the append-only trouble log.
type Repository struct {
	store       *store.AtomicStore
	maxActive   int
}

// NewRepository creates a Repository backed by the JSON file at path.
func NewRepository(path string, maxActive int) *Repository {
	return &Repository{store: store.New(path, nil, nil), maxActive: maxActive}
}

// Record appends t to the active set and rotates the oldest entries into
// the archive once the active set exceeds maxActive (spec.md §6
// Limits.maxActiveTroubles).
func (r *Repository) Record(t cycle.Trouble) error {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return fmt.Errorf("trouble: load: %w", err)
	}

	doc.Active = append(doc.Active, t)

	if r.maxActive > 0 && len(doc.Active) > r.maxActive {
		sort.Slice(doc.Active, func(i, j int) bool {
			return doc.Active[i].OccurredAt.Before(doc.Active[j].OccurredAt)
		})
		overflow := len(doc.Active) - r.maxActive
		doc.Archive = append(doc.Archive, doc.Active[:overflow]...)
		doc.Active = doc.Active[overflow:]
	}

	if err := r.store.Save(&doc); err != nil {
		return fmt.Errorf("trouble: save: %w", err)
	}
	return nil
}

// Active returns the current active set.
func (r *Repository) Active() ([]cycle.Trouble, error) {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("trouble: load: %w", err)
	}
	return doc.Active, nil
}

// Resolve marks the active trouble with id as resolved by resolvedBy.
func (r *Repository) Resolve(id, resolvedBy string) error {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return fmt.Errorf("trouble: load: %w", err)
	}
	now := time.Now()
	found := false
	for i := range doc.Active {
		if doc.Active[i].ID == id {
			doc.Active[i].Resolved = true
			doc.Active[i].ResolvedBy = resolvedBy
			doc.Active[i].ResolvedAt = &now
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("trouble: no active trouble with id %q", id)
	}
	return r.store.Save(&doc)
}

// FindSimilar returns active troubles whose message overlaps t's by
// Jaccard similarity above threshold, used by the AbstractionEngine to
// group recurring incidents into a TroublePattern (spec.md §4.I).
func (r *Repository) FindSimilar(t cycle.Trouble, threshold float64) ([]cycle.Trouble, error) {
	active, err := r.Active()
	if err != nil {
		return nil, err
	}
	target := tokenize(t.Message)
	var matches []cycle.Trouble
	for _, other := range active {
		if other.ID == t.ID || other.Category != t.Category {
			continue
		}
		if jaccard(target, tokenize(other.Message)) >= threshold {
			matches = append(matches, other)
		}
	}
	return matches, nil
}

func tokenize(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// signature returns the xxhash-64 of the (message, file, category) tuple
// used to dedup a captured trouble against the pending buffer and the
// last 20 persisted entries (spec.md §4.H step 2, §8 invariant 4).
func signature(t cycle.Trouble) uint64 {
	msg, file, cat := t.Signature()
	h := xxhash.New()
	_, _ = h.WriteString(msg)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(file)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(string(cat))
	return h.Sum64()
}
