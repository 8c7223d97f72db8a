package formula

import (
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// Literal values produced by evaluation under a partial model.
const (
	TrueValue    = 1
	FalseValue   = -1
	UnknownValue = 0
)

// Cube is a conjunction of literals stored as two bitsets of predicate ids.
type Cube struct {
	Pos *bitset.BitSet
	Neg *bitset.BitSet
}

// NewCube returns an empty cube.
func NewCube() Cube {
	return Cube{Pos: bitset.New(0), Neg: bitset.New(0)}
}

// SingleLiteral returns a one-literal cube.
func SingleLiteral(id int, negated bool) Cube {
	c := NewCube()
	if negated {
		c.Neg.Set(uint(id))
	} else {
		c.Pos.Set(uint(id))
	}

	return c
}

// Clone returns an independent copy.
func (c Cube) Clone() Cube {
	return Cube{Pos: c.Pos.Clone(), Neg: c.Neg.Clone()}
}

// Size returns the number of literals.
func (c Cube) Size() int {
	return int(c.Pos.Count() + c.Neg.Count())
}

// IsEmpty reports whether the cube has no literals.
func (c Cube) IsEmpty() bool {
	return c.Pos.None() && c.Neg.None()
}

// AddInPlace adds every literal of other.
func (c Cube) AddInPlace(other Cube) {
	c.Pos.InPlaceUnion(other.Pos)
	c.Neg.InPlaceUnion(other.Neg)
}

// IntersectInPlace keeps only literals shared with other.
func (c Cube) IntersectInPlace(other Cube) {
	c.Pos.InPlaceIntersection(other.Pos)
	c.Neg.InPlaceIntersection(other.Neg)
}

// RemoveInPlace drops every literal of other.
func (c Cube) RemoveInPlace(other Cube) {
	c.Pos.InPlaceDifference(other.Pos)
	c.Neg.InPlaceDifference(other.Neg)
}

// Add returns the union of c and other.
func (c Cube) Add(other Cube) Cube {
	out := c.Clone()
	out.AddInPlace(other)

	return out
}

// Value returns the value of a variable in the cube.
func (c Cube) Value(v int) int {
	switch {
	case c.Pos.Test(uint(v)):
		return TrueValue
	case c.Neg.Test(uint(v)):
		return FalseValue
	default:
		return UnknownValue
	}
}

// HasConflict reports whether some variable is both asserted and negated.
func (c Cube) HasConflict() bool {
	return c.Pos.IntersectionCardinality(c.Neg) > 0
}

// ContainsAll reports whether every literal of other is in c.
func (c Cube) ContainsAll(other Cube) bool {
	return c.Pos.IsSuperSet(other.Pos) && c.Neg.IsSuperSet(other.Neg)
}

// UsedVars returns the variables mentioned by the cube.
func (c Cube) UsedVars() *bitset.BitSet {
	return c.Pos.Union(c.Neg)
}

// Equal reports literal-wise equality.
func (c Cube) Equal(other Cube) bool {
	return sameBits(c.Pos, other.Pos) && sameBits(c.Neg, other.Neg)
}

func (c Cube) String() string {
	var parts []string

	forEach(c.Pos, func(i int) { parts = append(parts, strconv.Itoa(i)) })
	forEach(c.Neg, func(i int) { parts = append(parts, "-"+strconv.Itoa(i)) })

	return "[" + strings.Join(parts, " ") + "]"
}

// sameBits compares set bits only; bitset.Equal also compares lengths.
func sameBits(a, b *bitset.BitSet) bool {
	return a.SymmetricDifferenceCardinality(b) == 0
}

func forEach(b *bitset.BitSet, fn func(int)) {
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		fn(int(i))
	}
}

func bitsKey(b *bitset.BitSet) string {
	var sb strings.Builder

	forEach(b, func(i int) {
		sb.WriteString(strconv.Itoa(i))
		sb.WriteByte(',')
	})

	return sb.String()
}

func intersects(a, b *bitset.BitSet) bool {
	return a.IntersectionCardinality(b) > 0
}
