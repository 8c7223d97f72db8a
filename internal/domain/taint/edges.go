package taint

import (
	"strconv"

	"github.com/bits-and-blooms/bitset"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// ruleEdge is a transition that needs a generated rule. checkGlobal makes
// the rule test the state mark of its source instead of register marks.
type ruleEdge struct {
	from, to    State
	edge        edge
	checkGlobal bool
}

type constraintEntry struct {
	formula     model.ConstraintFormula
	placeholder bool
}

// generationCtx holds everything rule synthesis needs for one register
// automaton.
type generationCtx struct {
	conv        *converter
	uid         string
	a           *registerAutomaton
	constraints map[string]constraintEntry
	globals     stateSet
	edges       []ruleEdge
	finals      []ruleEdge

	// Taint variables share the rule-wide taint mark. Set for sinks and
	// propagators only.
	taintVars  map[model.MetavarAtom]bool
	taintValue int
	taintMark  string
}

func (g *generationCtx) valueMark(m model.MetavarAtom) string {
	if g.taintVars[m] {
		return g.taintMark
	}

	return g.uid + "|" + m.String()
}

func (g *generationCtx) stateMark(m model.MetavarAtom, value int) string {
	if g.taintVars[m] && value == g.taintValue {
		return g.taintMark
	}

	return g.uid + "|" + m.String() + "|" + strconv.Itoa(value)
}

func (g *generationCtx) globalMark(st State) string {
	return g.uid + "__<STATE>__" + strconv.Itoa(g.a.stateID(st))
}

func (g *generationCtx) statePosition() model.Position {
	return model.ClassStaticPosition(g.uid + "__<STATE>__")
}

// withTaint returns a copy of g whose taint variables use mark.
func (g *generationCtx) withTaint(vars []model.MetavarAtom, value int, mark string) *generationCtx {
	out := *g
	out.taintVars = make(map[model.MetavarAtom]bool, len(vars))

	for _, m := range vars {
		out.taintVars[m] = true
	}

	out.taintValue = value
	out.taintMark = mark

	return &out
}

// generateTaintEdges walks backward from the final states and selects the
// transitions whose effect must be recorded by marks.
func (c *converter) generateTaintEdges(a *registerAutomaton, info model.MetavarInfo, uid string) *generationCtx {
	g := &generationCtx{conv: c, uid: uid, a: a, globals: stateSet{}}

	preds := a.predecessors()

	queue := a.final.sorted()
	visited := stateSet{}

	for len(queue) > 0 {
		c.check()

		dst := queue[0]
		queue = queue[1:]

		if !visited.add(dst) {
			continue
		}

		isFinal := a.final.has(dst)

		for _, p := range preds[dst] {
			from, e := p.from, p.edge
			queue = append(queue, from)

			globalRequired := requiresGlobal(a, from, e)

			if isFinal {
				if !a.isAccept(dst) && from.Register.empty() {
					continue
				}

				if globalRequired {
					g.globals.add(from)
				}

				if pe, ok := c.ensurePositive(e); ok {
					g.finals = append(g.finals, ruleEdge{from: from, to: dst, edge: pe, checkGlobal: globalRequired})
				}

				continue
			}

			required := from.Register != dst.Register ||
				(g.globals.has(dst) && dst != from && e.kind != endEdge)
			if !required {
				continue
			}

			if globalRequired {
				g.globals.add(from)
			}

			if pe, ok := c.ensurePositive(e); ok {
				g.edges = append(g.edges, ruleEdge{from: from, to: dst, edge: pe, checkGlobal: globalRequired})
			}
		}
	}

	g.dropUnassignedGlobals()
	g.constraints = resolvePlaceholders(g.edges, g.finals, info)

	return g
}

// requiresGlobal reports whether the register marks of from cannot identify
// the path taken through e.
func requiresGlobal(a *registerAutomaton, from State, e edge) bool {
	if from == a.initial {
		return false
	}

	if e.kind == endEdge {
		return true
	}

	id := a.stateID(from)

	var stateVars []model.MetavarAtom

	for _, b := range from.Register.bindings() {
		if b.node == id {
			stateVars = append(stateVars, b.metavar)
		}
	}

	if len(stateVars) == 0 {
		return true
	}

	for _, m := range stateVars {
		if _, written := e.effect.assign[m]; written {
			return false
		}
	}

	return true
}

// dropUnassignedGlobals stops checking global marks of states no rule ever
// assigns.
func (g *generationCtx) dropUnassignedGlobals() {
	assigned := stateSet{}
	for _, e := range g.edges {
		assigned.add(e.to)
	}

	for _, e := range g.finals {
		assigned.add(e.to)
	}

	unassigned := stateSet{}

	for st := range g.globals {
		if !assigned.has(st) {
			unassigned.add(st)
		}
	}

	if len(unassigned) == 0 {
		return
	}

	for st := range unassigned {
		delete(g.globals, st)
	}

	for i := range g.edges {
		if unassigned.has(g.edges[i].from) {
			g.edges[i].checkGlobal = false
		}
	}

	for i := range g.finals {
		if unassigned.has(g.finals[i].from) {
			g.finals[i].checkGlobal = false
		}
	}
}

type placeholderScan struct {
	state State
	seen  *bitset.BitSet
}

// resolvePlaceholders marks signature metavariables used by more than one
// rule on a path. A single rule cannot check that two of its matches bound
// the same name, so such constraints degrade to placeholders.
func resolvePlaceholders(edges, finals []ruleEdge, info model.MetavarInfo) map[string]constraintEntry {
	preds := make(map[State][]ruleEdge)
	for _, e := range edges {
		preds[e.to] = append(preds[e.to], e)
	}

	for _, e := range finals {
		preds[e.to] = append(preds[e.to], e)
	}

	var names []string

	index := make(map[string]uint)
	idx := func(name string) uint {
		i, ok := index[name]
		if !ok {
			i = uint(len(names))
			index[name] = i
			names = append(names, name)
		}

		return i
	}

	result := bitset.New(0)

	var queue []placeholderScan
	for _, e := range finals {
		queue = append(queue, placeholderScan{state: e.to, seen: bitset.New(0)})
	}

	visited := make(map[string]struct{})

	for len(queue) > 0 {
		entry := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		k := entry.state.String() + "#" + entry.seen.String()
		if _, ok := visited[k]; ok {
			continue
		}

		visited[k] = struct{}{}

		for _, e := range preds[entry.state] {
			used := signatureMetavars(e.edge, idx)

			result.InPlaceUnion(used.Intersection(entry.seen))
			queue = append(queue, placeholderScan{state: e.from, seen: entry.seen.Union(used)})
		}
	}

	out := make(map[string]constraintEntry, len(info.Constraints))

	for i, ok := result.NextSet(0); ok; i, ok = result.NextSet(i + 1) {
		name := names[i]
		out[name] = constraintEntry{formula: info.Constraints[name], placeholder: true}
	}

	for name, c := range info.Constraints {
		if _, ok := out[name]; !ok {
			out[name] = constraintEntry{formula: c}
		}
	}

	return out
}

func signatureMetavars(e edge, idx func(string) uint) *bitset.BitSet {
	set := bitset.New(0)
	if e.kind == endEdge {
		return set
	}

	typeName := func(t model.TypeNamePattern) {
		if t.Kind == model.MetavarType {
			set.Set(idx(t.Name))
		}
	}

	modifier := func(m model.SignatureModifier) {
		typeName(m.Type)

		if m.Value.Kind == model.MetavarModifierValue {
			set.Set(idx(m.Value.Value))
		}
	}

	visit := func(p methodPredicate) {
		sig := p.predicate.Signature
		typeName(sig.Class)

		if sig.Name.Kind == model.MetavarMethodName {
			set.Set(idx(sig.Name.Name))
		}

		switch c := p.predicate.Constraint.(type) {
		case formula.ClassModifier:
			modifier(c.Modifier)
		case formula.MethodModifier:
			modifier(c.Modifier)
		case formula.ParamConstraint:
			switch atom := c.Condition.(type) {
			case model.ParamModifier:
				modifier(atom.Modifier)
			case model.TypeIs:
				typeName(atom.Type)
			case model.StaticFieldValue:
				typeName(atom.Class)
			}
		}
	}

	for _, p := range e.cond.read.all() {
		visit(p)
	}

	for _, p := range e.cond.other {
		visit(p)
	}

	for _, p := range e.effect.assign.all() {
		visit(p)
	}

	return set
}

// ensurePositive gives a negation-only edge the positive predicate the
// analyzer needs to select call sites. It is possible only when all
// literals share one signature.
func (c *converter) ensurePositive(e edge) (edge, bool) {
	if e.kind == endEdge {
		return e, true
	}

	if _, ok := e.cond.positivePredicate(); ok {
		return e, true
	}

	signatures := make(map[formula.Signature]struct{})
	for _, p := range e.cond.other {
		signatures[p.predicate.Signature] = struct{}{}
	}

	for _, p := range e.cond.read.all() {
		signatures[p.predicate.Signature] = struct{}{}
	}

	if len(signatures) == 1 {
		var sig formula.Signature
		for s := range signatures {
			sig = s
		}

		other := append(append([]methodPredicate(nil), e.cond.other...), methodPredicate{
			predicate: formula.Predicate{Signature: sig},
		})

		return e.withCondition(condition{read: e.cond.read, other: other}), true
	}

	c.diags.Add(model.Errorf(model.StepAutomataToTaintRule, "Edge without positive predicate"))

	return edge{}, false
}
