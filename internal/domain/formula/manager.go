package formula

import (
	"context"
	"errors"
	"time"
)

// Manager numbers predicates for one automaton. Ids start at 1 and follow
// first-seen order. A Manager is not safe for concurrent use.
type Manager struct {
	ids        map[Predicate]int
	predicates []Predicate
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{ids: make(map[Predicate]int)}
}

// PredicateID returns the id of p, allocating one on first use.
func (m *Manager) PredicateID(p Predicate) int {
	if id, ok := m.ids[p]; ok {
		return id
	}

	m.predicates = append(m.predicates, p)
	id := len(m.predicates)
	m.ids[p] = id

	return id
}

// Predicate returns the predicate with the given id.
func (m *Manager) Predicate(id int) Predicate {
	return m.predicates[id-1]
}

// Len returns the number of known predicates.
func (m *Manager) Len() int {
	return len(m.predicates)
}

// MkCube wraps a cube; the empty cube is True.
func (m *Manager) MkCube(c Cube) Formula {
	if c.IsEmpty() {
		return True
	}

	return CubeFormula{Cube: c}
}

// MkAnd conjoins formulas.
func (m *Manager) MkAnd(fs ...Formula) Formula {
	switch len(fs) {
	case 0:
		return True
	case 1:
		return fs[0]
	default:
		return And{All: fs}
	}
}

// MkOr disjoins formulas.
func (m *Manager) MkOr(fs ...Formula) Formula {
	switch len(fs) {
	case 0:
		return False
	case 1:
		return fs[0]
	default:
		return Or{Any: fs}
	}
}

// ErrCanceled is returned when a deadline expires mid-operation.
var ErrCanceled = errors.New("operation timeout")

const checkRate = 1000

// Cancelation is a cooperative deadline polled from long-running loops. The
// clock is only read every checkRate calls.
type Cancelation struct {
	ctx      context.Context
	deadline time.Time
	calls    int
}

// NewCancelation returns a deadline timeout from now, also bound to ctx.
func NewCancelation(ctx context.Context, timeout time.Duration) *Cancelation {
	return &Cancelation{ctx: ctx, deadline: time.Now().Add(timeout)}
}

// Check returns ErrCanceled once the deadline has passed or ctx is done.
func (c *Cancelation) Check() error {
	if c == nil {
		return nil
	}

	c.calls++
	if c.calls < checkRate {
		return nil
	}

	c.calls = 0

	if time.Now().After(c.deadline) {
		return ErrCanceled
	}

	if c.ctx != nil && c.ctx.Err() != nil {
		return errors.Join(ErrCanceled, c.ctx.Err())
	}

	return nil
}
