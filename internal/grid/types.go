// Package grid implements component C: the price ladder, slot identity,
// order state, role assignment, and gap-size computation. It is the
// shared substrate the strategy, accountant, and reconciliation
// components all read and mutate under the grid lock (spec §5).
package grid

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"gridmm/internal/money"
)

// Type is the role a slot plays relative to the boundary.
type Type int

const (
	BUY Type = iota
	SPREAD
	SELL
)

func (t Type) String() string {
	switch t {
	case BUY:
		return "BUY"
	case SPREAD:
		return "SPREAD"
	case SELL:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// State is the on-book lifecycle state of a slot.
type State int

const (
	VIRTUAL State = iota
	ACTIVE
	PARTIAL
)

func (s State) String() string {
	switch s {
	case VIRTUAL:
		return "VIRTUAL"
	case ACTIVE:
		return "ACTIVE"
	case PARTIAL:
		return "PARTIAL"
	default:
		return "UNKNOWN"
	}
}

// IsOnBook reports whether s is ACTIVE or PARTIAL.
func (s State) IsOnBook() bool { return s == ACTIVE || s == PARTIAL }

// Slot is a stable position in the price ladder, identified by a slot-id
// assigned at construction and never reused (spec §3).
type Slot struct {
	ID              string
	Price           decimal.Decimal
	Type            Type
	State           State
	Size            money.Amount
	ExchangeOrderID string
	// CommittedSide is the side the current capital commitment is held
	// against; sticky across SPREAD role reassignment until the slot
	// next goes VIRTUAL with zero capital.
	CommittedSide money.Side
}

// clone returns a deep (value) copy of s.
func (s *Slot) clone() *Slot {
	c := *s
	return &c
}

// CoercePhantom enforces slot invariant 1: an on-book state without an
// exchange order id, or with non-positive size, is a phantom and must be
// rewritten to VIRTUAL/size-0. Returns true if a phantom was coerced, so
// callers can log the attempted-phantom auditing event (spec §7).
func (s *Slot) CoercePhantom() bool {
	if s.State.IsOnBook() && (s.ExchangeOrderID == "" || s.Size <= 0) {
		s.State = VIRTUAL
		s.ExchangeOrderID = ""
		s.Size = 0
		return true
	}
	return false
}

// ResetToSpreadPlaceholder clears a slot back to the canonical empty
// SPREAD shape used after a CANCEL (spec §4.4 plan production).
func (s *Slot) ResetToSpreadPlaceholder() {
	s.Type = SPREAD
	s.State = VIRTUAL
	s.Size = 0
	s.ExchangeOrderID = ""
}

// Grid is an ordered sequence of slots by ascending price, plus a
// boundary index. Slot geometry (prices, ids) is fixed for the session;
// only Type, State, Size, ExchangeOrderID, BoundaryIndex, and Version
// change over the grid's lifetime.
type Grid struct {
	mu sync.RWMutex

	Pair  money.Pair
	Slots []*Slot

	BoundaryIndex int
	Gap           int

	// Version is bumped on every committed mutation. The reconciliation
	// package's working grid compares its captured base_version against
	// this value at commit time (spec §4.4 commit gate check 1).
	Version uint64
}

// New builds a Grid from a fixed, already-sorted slot slice.
func New(pair money.Pair, slots []*Slot, boundaryIndex, gap int) *Grid {
	return &Grid{
		Pair:          pair,
		Slots:         slots,
		BoundaryIndex: boundaryIndex,
		Gap:           gap,
	}
}

// Len returns the number of slots.
func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.Slots)
}

// Lock/Unlock/RLock/RUnlock expose the grid lock directly to callers that
// need to hold it across a read-then-write sequence (spec §5: "Grid
// lock: held around any read-then-write on master grid").
func (g *Grid) Lock()    { g.mu.Lock() }
func (g *Grid) Unlock()  { g.mu.Unlock() }
func (g *Grid) RLock()   { g.mu.RLock() }
func (g *Grid) RUnlock() { g.mu.RUnlock() }

// SlotAt returns the slot at index i without locking; callers must hold
// the grid lock (via Lock/RLock) for the duration of use.
func (g *Grid) SlotAt(i int) (*Slot, error) {
	if i < 0 || i >= len(g.Slots) {
		return nil, fmt.Errorf("grid: index %d out of range [0,%d)", i, len(g.Slots))
	}
	return g.Slots[i], nil
}

// Snapshot takes a consistent, deep-copied read under RLock — the basis
// for both fund recalculation (spec §4.3) and the reconciliation
// package's copy-on-write working grid (spec §4.4).
func (g *Grid) Snapshot() *Grid {
	g.mu.RLock()
	defer g.mu.RUnlock()

	slots := make([]*Slot, len(g.Slots))
	for i, s := range g.Slots {
		slots[i] = s.clone()
	}
	return &Grid{
		Pair:          g.Pair,
		Slots:         slots,
		BoundaryIndex: g.BoundaryIndex,
		Gap:           g.Gap,
		Version:       g.Version,
	}
}

// RoleForIndex is the pure geometry function from spec §4.1: given a
// boundary and gap width, what role would slot i play, ignoring any
// on-book state that might defer the transition.
func RoleForIndex(boundary, gap, i int) Type {
	switch {
	case i <= boundary:
		return BUY
	case i <= boundary+gap:
		return SPREAD
	default:
		return SELL
	}
}

// ReassignRoles applies RoleForIndex under a new boundary/gap to every
// slot, except that a slot currently ACTIVE or PARTIAL is never forced
// straight to SPREAD (spec §4.1: "a slot that currently has state in
// {ACTIVE, PARTIAL} must not be forced to SPREAD; the engine plans a
// CANCEL first"). Such slots are returned as "deferred" indices so the
// strategy can schedule their release.
func (g *Grid) ReassignRoles(newBoundary, newGap int) []int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.BoundaryIndex = newBoundary
	g.Gap = newGap

	var deferred []int
	for i, s := range g.Slots {
		desired := RoleForIndex(newBoundary, newGap, i)
		if desired == s.Type {
			continue
		}
		if desired == SPREAD && s.State.IsOnBook() {
			deferred = append(deferred, i)
			continue
		}
		s.Type = desired
	}
	return deferred
}

// ApplyOrderConfirmation records that slotID's CREATE was confirmed
// placed on the exchange with orderID, transitioning the slot from
// VIRTUAL to ACTIVE (spec §3 Lifecycle: "Transition to ACTIVE only
// after the exchange confirms placement with an id"). A no-op if the
// slot is no longer VIRTUAL: a recovery sync or a later cycle already
// moved it, and this confirmation is stale.
func (g *Grid) ApplyOrderConfirmation(slotID, orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.Slots {
		if s.ID == slotID && s.State == VIRTUAL {
			s.State = ACTIVE
			s.ExchangeOrderID = orderID
			g.Version++
			return
		}
	}
}

// ClampBoundary clamps idx to the valid slot index range [0, N-1] — the
// boundary-clamp boundary behavior B1.
func ClampBoundary(idx, n int) int {
	if n == 0 {
		return 0
	}
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}
