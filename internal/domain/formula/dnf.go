package formula

import (
	"errors"

	"github.com/bits-and-blooms/bitset"
)

// DNF enumerates the cubes of formula. Each found model is generalized by
// dropping negative literals the formula does not need, and models that
// differ in a single variable's polarity are merged.
func DNF(formula Formula, cancel *Cancelation) ([]Cube, error) {
	store := newModelStore(formula)
	if err := enumerateModels(formula, cancel, store); err != nil {
		return nil, err
	}

	return store.collect(), nil
}

// CheckSat reports whether some model of formula passes verify.
func CheckSat(formula Formula, cancel *Cancelation, verify func(Cube) bool) (bool, error) {
	store := &satStore{verify: verify}

	err := enumerateModels(formula, cancel, store)
	if errors.Is(err, errSat) {
		return true, nil
	}

	return false, err
}

var errSat = errors.New("satisfiable")

type modelSink interface {
	empty() bool
	add(model, start Cube) error
	collect() []Cube
}

type satStore struct {
	verify func(Cube) bool
	models []Cube
}

func (s *satStore) empty() bool     { return len(s.models) == 0 }
func (s *satStore) collect() []Cube { return s.models }

func (s *satStore) add(model, _ Cube) error {
	if s.verify(model) {
		return errSat
	}

	s.models = append(s.models, model)

	return nil
}

// modelGroup holds models over the same variable set.
type modelGroup struct {
	vars   *bitset.BitSet
	models []Cube
}

type modelStore struct {
	formula Formula
	groups  []*modelGroup
}

func newModelStore(formula Formula) *modelStore {
	return &modelStore{formula: formula}
}

func (s *modelStore) empty() bool {
	return len(s.groups) == 0
}

func (s *modelStore) collect() []Cube {
	var out []Cube
	for _, g := range s.groups {
		out = append(out, g.models...)
	}

	return out
}

func (s *modelStore) group(vars *bitset.BitSet) *modelGroup {
	for _, g := range s.groups {
		if sameBits(g.vars, vars) {
			return g
		}
	}

	return nil
}

func (s *modelStore) prune() {
	kept := s.groups[:0]

	for _, g := range s.groups {
		if len(g.models) > 0 {
			kept = append(kept, g)
		}
	}

	s.groups = kept
}

func (s *modelStore) add(model, start Cube) error {
	s.mergeChecked(model, model.UsedVars(), start)
	return nil
}

func (s *modelStore) mergeChecked(model Cube, vars *bitset.BitSet, start Cube) {
	s.merge(model, vars,
		func(m Cube, v *bitset.BitSet) { s.addChecked(m, v, start) },
		func(m Cube, v *bitset.BitSet) { s.mergeChecked(m, v, start) },
	)
}

func (s *modelStore) mergeUnchecked(model Cube, vars *bitset.BitSet) {
	s.merge(model, vars, s.addToGroup, s.mergeUnchecked)
}

// merge resolves model against a stored model over the same variables that
// differs only in one variable's polarity. The resolvent is retried one
// level weaker.
func (s *modelStore) merge(model Cube, vars *bitset.BitSet, addCurrent, addWeaker func(Cube, *bitset.BitSet)) {
	g := s.group(vars)
	if g == nil {
		addCurrent(model, vars)
		return
	}

	for i, m := range g.models {
		if m.Equal(model) {
			return
		}

		pos, ok := singleDifferentVar(m.Pos, model.Pos)
		if !ok {
			continue
		}

		neg, ok := singleDifferentVar(m.Neg, model.Neg)
		if !ok || pos != neg {
			continue
		}

		g.models = append(g.models[:i], g.models[i+1:]...)
		s.prune()

		vars = vars.Clone().Clear(pos)
		model.Pos.Clear(pos)
		model.Neg.Clear(pos)

		addWeaker(model, vars)

		return
	}

	addCurrent(model, vars)
}

func (s *modelStore) addChecked(model Cube, vars *bitset.BitSet, start Cube) {
	for _, g := range s.groups {
		if sameBits(g.vars, vars) || !vars.IsSuperSet(g.vars) {
			continue
		}

		for _, m := range g.models {
			if model.ContainsAll(m) {
				return
			}
		}
	}

	before := vars.Clone()
	removeFreeVariables(s.formula, model, vars, start)

	if sameBits(before, vars) {
		s.addToGroup(model, vars)
	} else {
		s.mergeUnchecked(model, vars)
	}
}

func (s *modelStore) addToGroup(model Cube, vars *bitset.BitSet) {
	g := s.group(vars)
	if g == nil {
		g = &modelGroup{vars: vars}
		s.groups = append(s.groups, g)
	}

	g.models = append(g.models, model)

	for _, other := range s.groups {
		if sameBits(other.vars, vars) || !other.vars.IsSuperSet(vars) {
			continue
		}

		kept := other.models[:0]

		for _, m := range other.models {
			if !m.ContainsAll(model) {
				kept = append(kept, m)
			}
		}

		other.models = kept
	}

	s.prune()
}

func singleDifferentVar(first, second *bitset.BitSet) (uint, bool) {
	if first.Count() > second.Count() {
		first, second = second, first
	}

	diff := second.Difference(first)
	if diff.Count() != 1 {
		return 0, false
	}

	v, _ := diff.NextSet(0)

	return v, true
}

// removeFreeVariables clears negative literals, other than those of the
// start model, that the formula does not need to stay true.
func removeFreeVariables(formula Formula, model Cube, vars *bitset.BitSet, start Cube) {
	if model.Neg.None() {
		return
	}

	candidates := model.Neg.Difference(start.Neg)

	forEach(candidates, func(v int) {
		model.Neg.Clear(uint(v))

		if formula.Eval(model) != TrueValue {
			model.Neg.Set(uint(v))
		} else {
			vars.Clear(uint(v))
		}
	})
}

func enumerateModels(formula Formula, cancel *Cancelation, sink modelSink) error {
	for _, start := range startModels(formula) {
		for {
			iteration := formula

			if !sink.empty() {
				conjuncts := []Formula{formula}
				for _, m := range sink.collect() {
					conjuncts = append(conjuncts, CubeFormula{Cube: m, Negated: true})
				}

				iteration = And{All: conjuncts}
			}

			found, err := searchModels(iteration, start, sink, cancel)
			if err != nil {
				return err
			}

			if !found {
				break
			}
		}
	}

	return nil
}

// startModels seeds the search with the cubes of the narrowest top-level
// disjunction of positive cubes, if there is one.
func startModels(formula Formula) []Cube {
	var candidates []Cube

	if and, ok := formula.(And); ok {
		for _, sub := range and.All {
			or, ok := sub.(Or)
			if !ok {
				continue
			}

			var models []Cube

			for _, arg := range or.Any {
				if c, ok := arg.(CubeFormula); ok && !c.Negated {
					models = append(models, c.Cube)
				}
			}

			if len(models) == len(or.Any) && (candidates == nil || len(candidates) > len(models)) {
				candidates = models
			}
		}
	}

	if candidates == nil {
		return []Cube{NewCube()}
	}

	return candidates
}

type searchFrame struct {
	decision int
	formula  Formula
	model    Cube
}

// searchModels runs the decision search from start and reports whether any
// model was found. Frames are kept on an explicit stack; the positive branch
// of a decision is explored first.
func searchModels(formula Formula, start Cube, sink modelSink, cancel *Cancelation) (bool, error) {
	found := false
	stack := []searchFrame{{decision: 0, formula: formula, model: start.Clone()}}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := cancel.Check(); err != nil {
			return false, err
		}

		res := simplifyWrtModel(frame.formula, frame.model)

		switch res.kind {
		case simplFailed:
			continue
		case simplTrue:
			model := frame.model.Add(res.model)
			if model.HasConflict() {
				panic("formula: conflicting model after simplification")
			}

			if err := sink.add(model, start); err != nil {
				return false, err
			}

			found = true
		case simplPartial:
			next := frame.model.Add(res.model)
			if next.HasConflict() {
				panic("formula: conflicting model after simplification")
			}

			v, ok := res.vars.NextSet(uint(frame.decision + 1))
			if !ok {
				if v, ok = res.vars.NextSet(0); !ok {
					panic("formula: partial simplification without free variables")
				}
			}

			neg := next.Clone()
			neg.Neg.Set(v)

			pos := next.Clone()
			pos.Pos.Set(v)

			stack = append(stack,
				searchFrame{decision: int(v), formula: res.formula, model: neg},
				searchFrame{decision: int(v), formula: res.formula, model: pos},
			)
		}
	}

	return found, nil
}

type simplKind int

const (
	simplFailed simplKind = iota
	simplTrue
	simplPartial
)

// simplification is the result of evaluating a formula under a partial
// model: unsatisfiable, true given the extra literals in model, or a residual
// formula over vars.
type simplification struct {
	kind    simplKind
	model   Cube
	formula Formula
	vars    *bitset.BitSet
}

func failed() simplification { return simplification{kind: simplFailed} }

func simplifiedTrue(m Cube) simplification { return simplification{kind: simplTrue, model: m} }

func simplifyWrtModel(f Formula, model Cube) simplification {
	switch v := f.(type) {
	case FalseFormula:
		return failed()
	case TrueFormula:
		return simplifiedTrue(NewCube())
	case CubeFormula:
		if v.Negated {
			return simplifyNegativeCube(v.Cube, model)
		}

		if intersects(v.Cube.Pos, model.Neg) || intersects(v.Cube.Neg, model.Pos) {
			return failed()
		}

		return simplifiedTrue(v.Cube.Clone())
	case Literal:
		switch evalLiteral(v.Predicate, v.Negated, model) {
		case TrueValue:
			return simplifiedTrue(NewCube())
		case FalseValue:
			return failed()
		default:
			return simplifiedTrue(SingleLiteral(v.Predicate, v.Negated))
		}
	case And:
		return simplifyAnd(v, model)
	case Or:
		return simplifyOr(v, model)
	}

	panic("formula: unexpected formula type")
}

func simplifyNegativeCube(cube, model Cube) simplification {
	if intersects(cube.Pos, model.Neg) || intersects(cube.Neg, model.Pos) {
		return simplifiedTrue(NewCube())
	}

	pos := cube.Pos.Difference(model.Pos)
	neg := cube.Neg.Difference(model.Neg)

	if pos.None() && neg.None() {
		return failed()
	}

	vars := pos.Union(neg)

	if vars.Count() == 1 {
		return simplifiedTrue(Cube{Pos: neg, Neg: pos})
	}

	return simplification{
		kind:    simplPartial,
		model:   NewCube(),
		formula: CubeFormula{Cube: Cube{Pos: pos, Neg: neg}, Negated: true},
		vars:    vars,
	}
}

func simplifyOr(f Or, model Cube) simplification {
	var (
		trueBranches    []Cube
		partialBranches []simplification
	)

	for _, arg := range f.Any {
		res := simplifyWrtModel(arg, model)

		switch res.kind {
		case simplTrue:
			trueBranches = append(trueBranches, res.model)
		case simplPartial:
			partialBranches = append(partialBranches, res)
		}
	}

	if len(trueBranches) == 0 && len(partialBranches) == 0 {
		return failed()
	}

	var common *Cube

	for _, branch := range trueBranches {
		branch.RemoveInPlace(model)

		if branch.IsEmpty() {
			return simplifiedTrue(NewCube())
		}

		if common == nil {
			c := branch.Clone()
			common = &c

			continue
		}

		common.IntersectInPlace(branch)
	}

	if len(partialBranches) == 0 {
		for _, branch := range trueBranches {
			if branch.Equal(*common) {
				return simplifiedTrue(*common)
			}
		}
	}

	unassigned := bitset.New(0)
	args := make([]Formula, 0, len(trueBranches)+len(partialBranches))

	for _, branch := range trueBranches {
		unassigned.InPlaceUnion(branch.UsedVars())
		args = append(args, CubeFormula{Cube: branch})
	}

	for _, p := range partialBranches {
		unassigned.InPlaceUnion(p.vars)
		unassigned.InPlaceUnion(p.model.UsedVars())
		args = append(args, p.formula)

		if common == nil {
			c := p.model.Clone()
			common = &c

			continue
		}

		common.IntersectInPlace(p.model)
	}

	unassigned.InPlaceDifference(common.UsedVars())

	if unassigned.None() {
		panic("formula: disjunction simplification left no free variables")
	}

	return simplification{kind: simplPartial, model: *common, formula: Or{Any: args}, vars: unassigned}
}

func simplifyAnd(f And, model Cube) simplification {
	result := model.Clone()

	var partials []simplification

	for _, arg := range f.All {
		res := simplifyWrtModel(arg, model)

		switch res.kind {
		case simplFailed:
			return failed()
		case simplTrue:
			result.AddInPlace(res.model)
		case simplPartial:
			result.AddInPlace(res.model)
			partials = append(partials, res)
		}

		if result.HasConflict() {
			return failed()
		}
	}

	if len(partials) == 0 {
		result.RemoveInPlace(model)
		return simplifiedTrue(result)
	}

	unassigned := bitset.New(0)
	conjuncts := make([]Formula, 0, len(partials)+1)

	for _, p := range partials {
		conjuncts = append(conjuncts, p.formula)
		unassigned.InPlaceUnion(p.vars)
	}

	unassigned.InPlaceDifference(result.UsedVars())

	if unassigned.None() {
		for _, arg := range conjuncts {
			res := simplifyWrtModel(arg, result)

			switch res.kind {
			case simplFailed:
				return failed()
			case simplPartial:
				panic("formula: conjunction simplification did not converge")
			}

			result.AddInPlace(res.model)

			if result.HasConflict() {
				return failed()
			}
		}

		result.RemoveInPlace(model)

		return simplifiedTrue(result)
	}

	result.RemoveInPlace(model)
	conjuncts = append(conjuncts, CubeFormula{Cube: result.Clone()})

	return simplification{kind: simplPartial, model: result, formula: And{All: conjuncts}, vars: unassigned}
}
