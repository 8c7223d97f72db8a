package formula

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/model"
)

func lit(id int) Formula    { return Literal{Predicate: id} }
func notLit(id int) Formula { return Literal{Predicate: id, Negated: true} }

func callPredicate(name string) Predicate {
	return Predicate{Signature: Signature{Name: model.ConcreteSignatureName(name), Class: model.AnyTypeName}}
}

func TestComplement(t *testing.T) {
	t.Run("pushes negation through and and or", func(t *testing.T) {
		f := And{All: []Formula{lit(1), Or{Any: []Formula{lit(2), notLit(3)}}}}

		assert.Equal(t, "(!1 | (!2 & 3))", f.Complement().String())
	})

	t.Run("double complement is identity", func(t *testing.T) {
		f := Or{Any: []Formula{CubeFormula{Cube: SingleLiteral(4, false)}, notLit(2)}}

		assert.Equal(t, f.String(), f.Complement().Complement().String())
	})

	t.Run("constants swap", func(t *testing.T) {
		assert.Equal(t, False, True.Complement())
		assert.Equal(t, True, False.Complement())
	})
}

func TestEval(t *testing.T) {
	partial := NewCube()
	partial.Pos.Set(1)
	partial.Neg.Set(2)

	tests := []struct {
		name string
		f    Formula
		want int
	}{
		{"positive literal", lit(1), TrueValue},
		{"negated literal", lit(2), FalseValue},
		{"unknown literal", lit(3), UnknownValue},
		{"and with unknown", And{All: []Formula{lit(1), lit(3)}}, UnknownValue},
		{"and with false", And{All: []Formula{lit(3), lit(2)}}, FalseValue},
		{"or with true", Or{Any: []Formula{lit(3), lit(1)}}, TrueValue},
		{"cube contained", CubeFormula{Cube: SingleLiteral(1, false)}, TrueValue},
		{"cube conflicting", CubeFormula{Cube: SingleLiteral(2, false)}, FalseValue},
		{"negated cube conflicting", CubeFormula{Cube: SingleLiteral(2, false), Negated: true}, TrueValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.Eval(partial))
		})
	}
}

func TestDNF(t *testing.T) {
	formulas := []struct {
		name string
		f    Formula
	}{
		{"single literal", lit(1)},
		{"disjunction", Or{Any: []Formula{lit(1), lit(2)}}},
		{"conjunction with negation", And{All: []Formula{Or{Any: []Formula{lit(1), lit(2)}}, notLit(1)}}},
		{"negated cube", And{All: []Formula{lit(3), CubeFormula{Cube: SingleLiteral(1, false), Negated: true}}}},
	}

	for _, tt := range formulas {
		t.Run(tt.name, func(t *testing.T) {
			cubes, err := DNF(tt.f, nil)
			require.NoError(t, err)
			require.NotEmpty(t, cubes)

			for _, c := range cubes {
				assert.False(t, c.HasConflict(), "cube %s has a conflict", c)
				assert.Equal(t, TrueValue, tt.f.Eval(c), "cube %s does not satisfy %s", c, tt.f)
			}
		})
	}

	for _, tt := range formulas {
		t.Run(tt.name+" covers every model", func(t *testing.T) {
			cubes, err := DNF(tt.f, nil)
			require.NoError(t, err)

			for bits := 0; bits < 1<<3; bits++ {
				assignment := NewCube()
				for v := 1; v <= 3; v++ {
					assignment.AddInPlace(SingleLiteral(v, bits&(1<<(v-1)) == 0))
				}

				if tt.f.Eval(assignment) != TrueValue {
					continue
				}

				covered := false

				for _, c := range cubes {
					if assignment.ContainsAll(c) {
						covered = true
						break
					}
				}

				assert.True(t, covered, "model %s of %s is not covered", assignment, tt.f)
			}
		})
	}

	t.Run("contradiction has no cubes", func(t *testing.T) {
		cubes, err := DNF(And{All: []Formula{lit(1), notLit(1)}}, nil)
		require.NoError(t, err)
		assert.Empty(t, cubes)
	})
}

func TestSimplifier(t *testing.T) {
	newSimplifier := func() *Simplifier {
		return &Simplifier{Manager: NewManager(), Info: model.MetavarInfo{}}
	}

	t.Run("different concrete methods cannot both be called", func(t *testing.T) {
		s := newSimplifier()
		foo := s.Manager.PredicateID(callPredicate("foo"))
		bar := s.Manager.PredicateID(callPredicate("bar"))

		ok, err := s.Sat(And{All: []Formula{lit(foo), lit(bar)}})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("a call and the negation of another call is satisfiable", func(t *testing.T) {
		s := newSimplifier()
		foo := s.Manager.PredicateID(callPredicate("foo"))
		bar := s.Manager.PredicateID(callPredicate("bar"))

		ok, err := s.Sat(And{All: []Formula{lit(foo), notLit(bar)}})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("simplified formula keeps satisfying cubes", func(t *testing.T) {
		s := newSimplifier()
		foo := s.Manager.PredicateID(callPredicate("foo"))
		bar := s.Manager.PredicateID(callPredicate("bar"))

		f := Or{Any: []Formula{lit(foo), And{All: []Formula{lit(foo), notLit(bar)}}}}

		simplified, err := s.Simplify(f)
		require.NoError(t, err)

		ok, err := s.Sat(simplified)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Sat(And{All: []Formula{simplified, notLit(foo)}})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("true and false", func(t *testing.T) {
		s := newSimplifier()

		ok, err := s.Sat(True)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Sat(False)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCancelation(t *testing.T) {
	t.Run("expired deadline", func(t *testing.T) {
		c := NewCancelation(context.Background(), -time.Second)

		var err error
		for i := 0; i < checkRate && err == nil; i++ {
			err = c.Check()
		}

		require.ErrorIs(t, err, ErrCanceled)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := NewCancelation(ctx, time.Hour)

		var err error
		for i := 0; i < checkRate && err == nil; i++ {
			err = c.Check()
		}

		require.ErrorIs(t, err, ErrCanceled)
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("nil cancelation never fires", func(t *testing.T) {
		var c *Cancelation
		for i := 0; i < 2*checkRate; i++ {
			require.NoError(t, c.Check())
		}
	})
}

func TestMapPredicates(t *testing.T) {
	f := And{All: []Formula{lit(1), CubeFormula{Cube: SingleLiteral(2, true)}}}

	mapped := MapPredicates(f, func(id int) int { return id + 10 })

	assert.Equal(t, "(11 & [-12])", mapped.String())

	pos, neg := Predicates(mapped)
	assert.Equal(t, []int{11}, pos)
	assert.Equal(t, []int{12}, neg)
}
