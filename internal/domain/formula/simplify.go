package formula

import (
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"semtaint.dev/pkg/semtaint/internal/model"
)

// maxSimplifiedCubes bounds TrySimplify; larger results keep the input.
const maxSimplifiedCubes = 100

// Simplifier reduces formulas of one manager under a rule's metavariable
// constraints.
type Simplifier struct {
	Manager *Manager
	Info    model.MetavarInfo
	Cancel  *Cancelation
}

// Cubes returns the simplified DNF of f. With lossy set, negated result
// predicates are treated as unconstrained, which is not equivalence
// preserving but is what edge generation wants.
func (s *Simplifier) Cubes(f Formula, lossy bool) ([]Cube, error) {
	cubes, err := s.simplifiedCubes(f, lossy)
	if err != nil {
		return nil, err
	}

	return s.simplifyUnion(cubes), nil
}

// Simplify returns the simplified DNF of f as a formula.
func (s *Simplifier) Simplify(f Formula) (Formula, error) {
	cubes, err := s.Cubes(f, false)
	if err != nil {
		return nil, err
	}

	return s.cubesFormula(cubes), nil
}

// And simplifies the conjunction of fs.
func (s *Simplifier) And(fs ...Formula) (Formula, error) {
	return s.Simplify(s.Manager.MkAnd(fs...))
}

// Or simplifies the disjunction of fs, simplifying each operand separately.
func (s *Simplifier) Or(fs ...Formula) (Formula, error) {
	var cubes []Cube

	for _, f := range fs {
		c, err := s.simplifiedCubes(f, false)
		if err != nil {
			return nil, err
		}

		cubes = append(cubes, c...)
	}

	return s.cubesFormula(s.simplifyUnion(cubes)), nil
}

// TrySimplify simplifies f unless the result would be larger than
// maxSimplifiedCubes cubes, in which case f is returned unchanged.
func (s *Simplifier) TrySimplify(f Formula) (Formula, error) {
	cubes, err := s.Cubes(f, false)
	if err != nil {
		return nil, err
	}

	if len(cubes) > maxSimplifiedCubes {
		return f, nil
	}

	return s.cubesFormula(cubes), nil
}

// Sat reports whether f has a model consistent with predicate unification.
func (s *Simplifier) Sat(f Formula) (bool, error) {
	if cubes := knownCubes(f); cubes != nil {
		return true, nil
	}

	return CheckSat(f, s.Cancel, func(m Cube) bool {
		_, ok := s.simplifyCube(m, false)
		return ok
	})
}

func (s *Simplifier) cubesFormula(cubes []Cube) Formula {
	out := make([]Formula, 0, len(cubes))
	for _, c := range cubes {
		out = append(out, s.Manager.MkCube(c))
	}

	return s.Manager.MkOr(out...)
}

func (s *Simplifier) simplifiedCubes(f Formula, lossy bool) ([]Cube, error) {
	if !lossy {
		if cubes := knownCubes(f); cubes != nil {
			return cubes, nil
		}
	}

	var dnf []Cube

	switch f.(type) {
	case TrueFormula:
		return []Cube{NewCube()}, nil
	case FalseFormula:
		return nil, nil
	default:
		var err error
		if dnf, err = DNF(f, s.Cancel); err != nil {
			return nil, err
		}
	}

	out := make([]Cube, 0, len(dnf))

	for _, c := range dnf {
		if simplified, ok := s.simplifyCube(c, lossy); ok {
			out = append(out, simplified)
		}
	}

	return out, nil
}

// knownCubes returns the cubes of a formula already in simplified form.
func knownCubes(f Formula) []Cube {
	switch v := f.(type) {
	case CubeFormula:
		if !v.Negated {
			return []Cube{v.Cube}
		}
	case Or:
		cubes := make([]Cube, 0, len(v.Any))

		for _, a := range v.Any {
			c, ok := a.(CubeFormula)
			if !ok || c.Negated {
				return nil
			}

			cubes = append(cubes, c.Cube)
		}

		return cubes
	}

	return nil
}

func (s *Simplifier) simplifyCube(cube Cube, lossy bool) (Cube, bool) {
	solver := newMethodSolver(s.Info, lossy)

	ok := true

	forEach(cube.Pos, func(id int) {
		ok = ok && solver.addPositive(s.Manager.Predicate(id))
	})

	forEach(cube.Neg, func(id int) {
		ok = ok && solver.addNegative(s.Manager.Predicate(id))
	})

	if !ok {
		return Cube{}, false
	}

	result := NewCube()

	for _, lit := range solver.solution() {
		id := uint(s.Manager.PredicateID(lit.predicate))
		if lit.negated {
			result.Neg.Set(id)
		} else {
			result.Pos.Set(id)
		}
	}

	return result, true
}

type constraintSolver struct {
	params          []ParamConstraint
	numberOfArgs    *NumberOfArgs
	methodModifiers []MethodModifier
	classModifiers  []ClassModifier
	negative        []Constraint
}

func (c *constraintSolver) hasPositive(con Constraint) bool {
	switch v := con.(type) {
	case ClassModifier:
		return slices.Contains(c.classModifiers, v)
	case MethodModifier:
		return slices.Contains(c.methodModifiers, v)
	case NumberOfArgs:
		return c.numberOfArgs != nil && *c.numberOfArgs == v
	case ParamConstraint:
		return slices.Contains(c.params, v)
	}

	return false
}

func (c *constraintSolver) addPositive(con Constraint) bool {
	switch v := con.(type) {
	case ParamConstraint:
		if !slices.Contains(c.params, v) {
			c.params = append(c.params, v)
		}
	case NumberOfArgs:
		if c.numberOfArgs != nil && *c.numberOfArgs != v {
			return false
		}

		c.numberOfArgs = &v
	case ClassModifier:
		if !slices.Contains(c.classModifiers, v) {
			c.classModifiers = append(c.classModifiers, v)
		}
	case MethodModifier:
		if !slices.Contains(c.methodModifiers, v) {
			c.methodModifiers = append(c.methodModifiers, v)
		}
	}

	return true
}

func (c *constraintSolver) addNegative(con Constraint) bool {
	switch v := con.(type) {
	case ParamConstraint:
		if slices.Contains(c.params, v) {
			return false
		}
	case NumberOfArgs:
		if c.numberOfArgs != nil {
			return *c.numberOfArgs != v
		}
	case ClassModifier:
		if slices.Contains(c.classModifiers, v) {
			return false
		}
	case MethodModifier:
		if slices.Contains(c.methodModifiers, v) {
			return false
		}
	}

	if !slices.Contains(c.negative, con) {
		c.negative = append(c.negative, con)
	}

	return true
}

func (c *constraintSolver) solution() (pos, neg []Constraint) {
	for _, p := range c.params {
		pos = append(pos, p)
	}

	for _, m := range c.methodModifiers {
		pos = append(pos, m)
	}

	for _, m := range c.classModifiers {
		pos = append(pos, m)
	}

	if c.numberOfArgs != nil {
		pos = append(pos, *c.numberOfArgs)
	}

	return pos, c.negative
}

type negatedGroup struct {
	signature   Signature
	constraints []*constraintSolver
}

// methodSolver unifies the predicates of one cube: all positive predicates
// must agree on a single signature, negative ones either refine it or are
// dropped as vacuous.
type methodSolver struct {
	info      model.MetavarInfo
	lossy     bool
	signature *Signature
	positive  constraintSolver
	negated   []*negatedGroup
	metavars  []model.MetavarAtom
}

func newMethodSolver(info model.MetavarInfo, lossy bool) *methodSolver {
	return &methodSolver{info: info, lossy: lossy}
}

type solverLiteral struct {
	predicate Predicate
	negated   bool
}

// checkMetavars rejects cubes binding partially overlapping metavariables.
func (s *methodSolver) checkMetavars(p Predicate) bool {
	pc, ok := p.Constraint.(ParamConstraint)
	if !ok {
		return true
	}

	mv, ok := pc.Condition.(model.IsMetavar)
	if !ok || slices.Contains(s.metavars, mv.Metavar) {
		return true
	}

	s.metavars = append(s.metavars, mv.Metavar)

	for _, seen := range s.metavars {
		if seen.String() != mv.Metavar.String() && seen.Overlaps(mv.Metavar) &&
			!slices.Equal(seen.Basics(), mv.Metavar.Basics()) {
			return false
		}
	}

	return true
}

func (s *methodSolver) addPositive(p Predicate) bool {
	if !s.checkMetavars(p) {
		return false
	}

	sig, ok := unifySignature(s.signature, p.Signature, s.info)
	if !ok {
		return false
	}

	s.signature = &sig

	if p.Constraint != nil {
		return s.positive.addPositive(p.Constraint)
	}

	return true
}

func (s *methodSolver) addNegative(p Predicate) bool {
	if !s.checkMetavars(p) {
		return false
	}

	sig, ok := unifySignature(s.signature, p.Signature, s.info)
	if !ok {
		// Incompatible signatures make the negated predicate vacuously true.
		return true
	}

	if s.signature != nil && sig == *s.signature {
		if p.Constraint == nil {
			return false
		}

		if pc, ok := p.Constraint.(ParamConstraint); ok && s.lossy && pc.Position.Kind == ResultPos {
			return false
		}

		return s.positive.addNegative(p.Constraint)
	}

	cs := &constraintSolver{}
	if p.Constraint != nil && !s.positive.hasPositive(p.Constraint) {
		cs.addPositive(p.Constraint)
	}

	for _, g := range s.negated {
		if g.signature == p.Signature {
			g.constraints = append(g.constraints, cs)
			return true
		}
	}

	s.negated = append(s.negated, &negatedGroup{signature: p.Signature, constraints: []*constraintSolver{cs}})

	return true
}

func (s *methodSolver) solution() []solverLiteral {
	var out []solverLiteral

	if s.signature != nil {
		out = appendSolution(out, &s.positive, *s.signature, false)
	}

	for _, g := range s.negated {
		for _, cs := range g.constraints {
			out = appendSolution(out, cs, g.signature, true)
		}
	}

	return out
}

func appendSolution(out []solverLiteral, cs *constraintSolver, sig Signature, negated bool) []solverLiteral {
	pos, neg := cs.solution()

	if len(pos) == 0 && len(neg) == 0 {
		return append(out, solverLiteral{predicate: Predicate{Signature: sig}, negated: negated})
	}

	for _, c := range pos {
		out = append(out, solverLiteral{predicate: Predicate{Signature: sig, Constraint: c}, negated: negated})
	}

	if negated && len(neg) > 0 {
		panic("formula: negated group with negative constraints")
	}

	for _, c := range neg {
		out = append(out, solverLiteral{predicate: Predicate{Signature: sig, Constraint: c}, negated: true})
	}

	return out
}

func unifySignature(current *Signature, other Signature, info model.MetavarInfo) (Signature, bool) {
	if current == nil {
		return other, true
	}

	name, ok := unifyName(current.Name, other.Name, info)
	if !ok {
		return Signature{}, false
	}

	class, ok := unifyClass(current.Class, other.Class, info)
	if !ok {
		return Signature{}, false
	}

	return Signature{Name: name, Class: class}, true
}

func unifyName(a, b model.SignatureName, info model.MetavarInfo) (model.SignatureName, bool) {
	if a == b {
		return a, true
	}

	switch {
	case a.Kind == model.AnyName:
		return b, true
	case b.Kind == model.AnyName:
		return a, true
	case a.Kind == model.ConcreteMethodName && b.Kind == model.ConcreteMethodName:
		return model.SignatureName{}, false
	case a.Kind == model.ConcreteMethodName:
		return a, stringMatches(a.Name, info.Constraints[b.Name])
	case b.Kind == model.ConcreteMethodName:
		return b, stringMatches(b.Name, info.Constraints[a.Name])
	}

	// Two distinct name metavariables: keep the constrained one. When both
	// are constrained the intersection is not computed and a wins.
	if _, ok := info.Constraints[a.Name]; !ok {
		return b, true
	}

	return a, true
}

func unifyClass(a, b model.TypeNamePattern, info model.MetavarInfo) (model.TypeNamePattern, bool) {
	if a == b {
		return a, true
	}

	switch a.Kind {
	case model.AnyType:
		return b, true
	case model.PrimitiveType:
		return a, b.Kind == model.AnyType
	}

	if b.Kind == model.AnyType {
		return a, true
	}

	if b.Kind == model.PrimitiveType {
		return model.TypeNamePattern{}, false
	}

	switch a.Kind {
	case model.ClassNameType:
		switch b.Kind {
		case model.FullyQualifiedType:
			return b, strings.HasSuffix(b.Name, a.Name)
		case model.MetavarType:
			return a, stringMatches(a.Name, info.Constraints[b.Name])
		default:
			return model.TypeNamePattern{}, false
		}
	case model.FullyQualifiedType:
		switch b.Kind {
		case model.ClassNameType:
			return a, strings.HasSuffix(a.Name, b.Name)
		case model.MetavarType:
			return a, stringMatches(a.Name, info.Constraints[b.Name])
		default:
			return model.TypeNamePattern{}, false
		}
	}

	// a is a metavariable.
	if b.Kind == model.ClassNameType || b.Kind == model.FullyQualifiedType {
		return b, stringMatches(b.Name, info.Constraints[a.Name])
	}

	if _, ok := info.Constraints[a.Name]; !ok {
		return b, true
	}

	return a, true
}

func stringMatches(name string, c model.ConstraintFormula) bool {
	switch v := c.(type) {
	case nil:
		return true
	case model.ConstraintLeaf:
		if v.Constraint.Kind == model.RegexpConstraint {
			re := compileFull(v.Constraint.Value)
			return re != nil && re.MatchString(name)
		}

		return name == v.Constraint.Value
	case model.ConstraintNot:
		return !stringMatches(name, v.Negated)
	case model.ConstraintAnd:
		for _, a := range v.Args {
			if !stringMatches(name, a) {
				return false
			}
		}

		return true
	}

	return true
}

var fullRegexps sync.Map

// compileFull compiles re anchored at both ends; invalid expressions yield
// nil.
func compileFull(re string) *regexp.Regexp {
	if cached, ok := fullRegexps.Load(re); ok {
		return cached.(*regexp.Regexp)
	}

	compiled, err := regexp.Compile(`^(?:` + re + `)$`)
	if err != nil {
		return nil
	}

	fullRegexps.Store(re, compiled)

	return compiled
}

// simplifyUnion merges cubes pairwise until no pair simplifies further.
func (s *Simplifier) simplifyUnion(cubes []Cube) []Cube {
	if len(cubes) < 2 {
		return cubes
	}

	current := slices.Clone(cubes)

	for {
		sort.SliceStable(current, func(i, j int) bool { return current[i].Size() < current[j].Size() })

		removed := make([]bool, len(current))

		var next []Cube

		changed := false

		for i := range current {
			if removed[i] {
				continue
			}

			first := current[i]
			if first.Size() == 0 {
				return []Cube{first}
			}

			for j := i + 1; j < len(current); j++ {
				if removed[j] {
					continue
				}

				merged, ok := s.trySimplify(first, current[j])
				if !ok {
					continue
				}

				next = append(next, merged...)
				removed[i], removed[j] = true, true
				changed = true

				break
			}
		}

		if !changed {
			return current
		}

		for i, c := range current {
			if !removed[i] {
				next = append(next, c)
			}
		}

		current = next
	}
}

func (s *Simplifier) trySimplify(first, second Cube) ([]Cube, bool) {
	same := first.Clone()
	same.IntersectInPlace(second)

	a := first.Clone()
	a.RemoveInPlace(same)

	b := second.Clone()
	b.RemoveInPlace(same)

	merged, ok := s.simplifyDisjunction(same, a, b)
	if !ok {
		return nil, false
	}

	out := make([]Cube, len(merged))
	for i, m := range merged {
		out[i] = same.Add(m)
	}

	return out, true
}

func (s *Simplifier) simplifyDisjunction(assumptions, first, second Cube) ([]Cube, bool) {
	if first.Size() == 0 {
		return []Cube{first}, true
	}

	var (
		result []Cube
		done   bool
	)

	forEach(first.Pos.Intersection(second.Neg), func(v int) {
		if !done {
			result, done = s.tryRemoveLiteral(assumptions, first, second, v)
		}
	})

	if done {
		return result, true
	}

	forEach(second.Pos.Intersection(first.Neg), func(v int) {
		if !done {
			result, done = s.tryRemoveLiteral(assumptions, second, first, v)
		}
	})

	return result, done
}

// tryRemoveLiteral resolves first (holding v) against second (holding !v).
func (s *Simplifier) tryRemoveLiteral(assumptions, first, second Cube, v int) ([]Cube, bool) {
	resolvent := first.Add(second)
	resolvent.Pos.Clear(uint(v))
	resolvent.Neg.Clear(uint(v))

	if s.cubeImplied(resolvent, assumptions.Add(first)) && s.cubeImplied(resolvent, assumptions.Add(second)) {
		return []Cube{resolvent}, true
	}

	if first.Size() == 1 {
		// A | (!A & x) == A | x
		rest := second.Clone()
		rest.Neg.Clear(uint(v))

		return []Cube{first, rest}, true
	}

	if second.Size() == 1 {
		// (A & x) | !A == x | !A
		rest := first.Clone()
		rest.Pos.Clear(uint(v))

		return []Cube{second, rest}, true
	}

	return nil, false
}

func (s *Simplifier) cubeImplied(cube, by Cube) bool {
	ok := true

	forEach(cube.Pos, func(id int) {
		ok = ok && s.cubeImpliesLiteral(by, s.Manager.Predicate(id), false)
	})

	forEach(cube.Neg, func(id int) {
		ok = ok && s.cubeImpliesLiteral(by, s.Manager.Predicate(id), true)
	})

	return ok
}

func (s *Simplifier) cubeImpliesLiteral(cube Cube, p Predicate, negated bool) bool {
	implied := false

	forEach(cube.Pos, func(id int) {
		implied = implied || impliesLiteral(s.Manager.Predicate(id), false, p, negated)
	})

	forEach(cube.Neg, func(id int) {
		implied = implied || impliesLiteral(s.Manager.Predicate(id), true, p, negated)
	})

	return implied
}

// impliesLiteral: equal literals imply each other, and a call to one
// signature implies it is not a call to another.
func impliesLiteral(first Predicate, firstNegated bool, second Predicate, secondNegated bool) bool {
	if firstNegated == secondNegated && first == second {
		return true
	}

	return !firstNegated && secondNegated && first.Signature != second.Signature
}
