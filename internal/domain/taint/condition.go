package taint

import (
	"sort"
	"strconv"
	"strings"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// ruleCondition is what selects a call site: the method matcher and the
// condition checked there.
type ruleCondition struct {
	function model.FunctionMatcher
	cond     model.Condition
}

// evaluated is an edge translated to analyzer terms. positions lists where
// each metavariable the edge binds occurs.
type evaluated struct {
	rule      ruleCondition
	fields    []model.StaticFieldRule
	positions map[model.MetavarAtom][]model.Position
}

func (e evaluated) boundVars() []model.MetavarAtom {
	out := make([]model.MetavarAtom, 0, len(e.positions))
	for m := range e.positions {
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })

	return out
}

type conditionSet struct {
	items []model.Condition
	keys  map[string]struct{}
}

func (s *conditionSet) add(c model.Condition) {
	if c.IsTrue() {
		return
	}

	if s.keys == nil {
		s.keys = make(map[string]struct{})
	}

	k := c.Key()
	if _, ok := s.keys[k]; ok {
		return
	}

	s.keys[k] = struct{}{}
	s.items = append(s.items, c)
}

func (s *conditionSet) and() model.Condition {
	return model.AndOf(s.items...)
}

type conditionBuilder struct {
	pkg, class, name *model.NameMatcher
	conds            conditionSet
}

func (b *conditionBuilder) build() ruleCondition {
	orAny := func(m *model.NameMatcher) model.NameMatcher {
		if m == nil {
			return model.AnyNameMatcher()
		}

		return *m
	}

	return ruleCondition{
		function: model.FunctionMatcher{Package: orAny(b.pkg), Class: orAny(b.class), Name: orAny(b.name)},
		cond:     b.conds.and(),
	}
}

func (g *generationCtx) evaluate(e edge, st State) evaluated {
	if e.kind == endEdge {
		return evaluated{rule: ruleCondition{function: model.AnyFunction(), cond: model.True()}}
	}

	b := &conditionBuilder{}

	var fields []model.StaticFieldRule

	sig := g.evaluateSignatures(e, b)

	for _, p := range append(e.cond.read.all(), e.cond.other...) {
		g.evaluatePredicate(notEvaluated(p.predicate.Signature, sig), p.predicate.Constraint, p.negated, st, b, &fields)
	}

	positions := make(map[model.MetavarAtom][]model.Position)

	for _, p := range e.effect.assign.all() {
		pc, ok := p.predicate.Constraint.(formula.ParamConstraint)
		if !ok {
			continue
		}

		mv, ok := pc.Condition.(model.IsMetavar)
		if !ok {
			continue
		}

		pos := analyzerPosition(pc.Position)
		if !containsPosition(positions[mv.Metavar], pos) {
			positions[mv.Metavar] = append(positions[mv.Metavar], pos)
		}
	}

	return evaluated{rule: b.build(), fields: fields, positions: positions}
}

func containsPosition(list []model.Position, p model.Position) bool {
	for _, q := range list {
		if q == p {
			return true
		}
	}

	return false
}

// notEvaluated returns the parts of sig the function matcher does not
// already cover, or nil when it covers all of them.
func notEvaluated(sig, evaluated formula.Signature) *formula.Signature {
	if sig == evaluated {
		return nil
	}

	out := sig
	if sig.Name == evaluated.Name {
		out.Name = model.AnySignatureName
	}

	if sig.Class == evaluated.Class {
		out.Class = model.AnyTypeName
	}

	return &out
}

func (g *generationCtx) evaluateSignatures(e edge, b *conditionBuilder) formula.Signature {
	var signatures []formula.Signature

	for _, p := range e.effect.assign.all() {
		if p.negated {
			panic("taint: negated effect")
		}

		signatures = append(signatures, p.predicate.Signature)
	}

	for _, p := range append(e.cond.read.all(), e.cond.other...) {
		if !p.negated {
			signatures = append(signatures, p.predicate.Signature)
		}
	}

	if len(signatures) == 0 {
		g.conv.fail("edge without positive predicate")
	}

	sig := signatures[0]

	for _, s := range signatures[1:] {
		if s != sig {
			g.conv.fail("signature mismatch: %s and %s", sig, s)
		}
	}

	if isHelper(sig, model.GeneratedAnyValue) {
		g.conv.fail("value generator was not eliminated")
	}

	b.name = g.methodName(sig.Name, &b.conds)

	tf, ok := g.typeMatcher(sig.Class)
	if !ok {
		return sig
	}

	m, single := tf.single()
	if !single {
		g.conv.fail("complex class signature matcher")
	}

	switch m.Kind {
	case model.ClassPatternMatcher:
		b.pkg, b.class = m.Package, m.Class
	case model.SimpleMatcher:
		pkg, cls := "", m.Value
		if i := strings.LastIndexByte(m.Value, '.'); i >= 0 {
			pkg, cls = m.Value[:i], m.Value[i+1:]
		}

		p, c := model.SimpleName(pkg), model.SimpleName(cls)
		b.pkg, b.class = &p, &c
	default:
		g.conv.fail("class name pattern %s in signature", m)
	}

	return sig
}

func (g *generationCtx) methodName(name model.SignatureName, conds *conditionSet) *model.NameMatcher {
	switch name.Kind {
	case model.AnyName:
		return nil
	case model.ConcreteMethodName:
		m := model.SimpleName(name.Name)
		return &m
	}

	entry, ok := g.constraints[name.Name]
	if !ok {
		return nil
	}

	if entry.placeholder {
		g.conv.diags.Add(model.NotImplementedf(model.StepAutomataToTaintRule, "Placeholder: method name"))
	}

	var concrete []string

	conds.add(constraintCondition(entry.formula, func(c model.MetavarConstraint, negated bool) model.Condition {
		switch c.Kind {
		case model.ConcreteConstraint:
			if negated {
				g.conv.fail("negated concrete method name constraint")
			}

			concrete = append(concrete, c.Value)

			return model.True()
		case model.RegexpConstraint:
			return model.MethodNameMatches(c.Value)
		}

		g.conv.fail("unresolved method name constraint %s", c.Value)

		return model.True()
	}))

	if len(concrete) > 1 {
		g.conv.fail("multiple concrete method names")
	}

	if len(concrete) == 0 {
		return nil
	}

	m := model.SimpleName(concrete[0])

	return &m
}

func (g *generationCtx) evaluatePredicate(
	sig *formula.Signature,
	c formula.Constraint,
	negated bool,
	st State,
	b *conditionBuilder,
	fields *[]model.StaticFieldRule,
) {
	if !negated {
		g.evaluateConstraint(sig, c, st, &b.conds, fields)
		return
	}

	var inner conditionSet

	g.evaluateConstraint(sig, c, st, &inner, fields)
	b.conds.add(model.NotOf(inner.and()))
}

func (g *generationCtx) evaluateConstraint(
	sig *formula.Signature,
	c formula.Constraint,
	st State,
	conds *conditionSet,
	fields *[]model.StaticFieldRule,
) {
	if sig != nil {
		if tf, ok := g.typeMatcher(sig.Class); ok {
			conds.add(tf.condition(g, model.ClassNameMatches))
		}

		if name := g.methodName(sig.Name, conds); name != nil {
			conds.add(model.MethodNameMatches("^" + name.Value + "$"))
		}
	}

	switch v := c.(type) {
	case nil:
	case formula.ClassModifier:
		conds.add(model.ClassAnnotated(g.annotation(v.Modifier)))
	case formula.MethodModifier:
		conds.add(model.MethodAnnotated(g.annotation(v.Modifier)))
	case formula.NumberOfArgs:
		conds.add(model.NumberOfArgs(v.N))
	case formula.ParamConstraint:
		conds.add(g.paramCondition(analyzerPosition(v.Position), v.Condition, st, fields))
	}
}

func analyzerPosition(p formula.Position) model.Position {
	switch p.Kind {
	case formula.ObjectPos:
		return model.ThisPosition
	case formula.ResultPos:
		return model.ResultPosition
	}

	if p.Arg.IsAny() {
		return model.AnyArgumentPosition(p.Arg.Classifier)
	}

	return model.ArgumentPosition(p.Arg.Index)
}

func (g *generationCtx) paramCondition(pos model.Position, atom model.Atom, st State, fields *[]model.StaticFieldRule) model.Condition {
	switch v := atom.(type) {
	case model.IsMetavar:
		if _, ok := g.constraints[v.Metavar.String()]; ok {
			g.conv.diags.Add(model.Warnf(model.StepAutomataToTaintRule,
				"Rule %s: metavar %s constraint ignored", g.uid, v.Metavar))
		}

		value, bound := st.Register.lookup(v.Metavar)
		if !bound {
			return model.True()
		}

		valueMark, stateMark := g.valueMark(v.Metavar), g.stateMark(v.Metavar, value)
		if valueMark == stateMark {
			return model.ContainsMark(valueMark, pos)
		}

		return model.OrOf(model.ContainsMark(valueMark, pos), model.ContainsMark(stateMark, pos))
	case model.TypeIs:
		tf, ok := g.typeMatcher(v.Type)
		if !ok {
			return model.True()
		}

		return tf.condition(g, func(m model.NameMatcher) model.Condition { return model.IsType(m, pos) })
	case model.StaticFieldValue:
		class := model.AnyNameMatcher()

		if tf, ok := g.typeMatcher(v.Class); ok {
			m, single := tf.single()
			if !single {
				g.conv.fail("complex static field class matcher")
			}

			class = m
		}

		mark := g.valueMark(model.NewMetavar("__STATIC_FIELD_VALUE__" + v.Field))

		*fields = append(*fields, model.StaticFieldRule{
			Class: class,
			Field: v.Field,
			Taint: []model.MarkAction{{Mark: mark, Pos: model.ResultPosition}},
		})

		return model.ContainsMark(mark, pos)
	case model.AnyStringLiteral:
		return model.IsConstant(pos)
	case model.BoolValue:
		return model.ConstantEq(pos, model.ConstantValue{Kind: model.ConstantBool, Value: strconv.FormatBool(v.Value)})
	case model.StringValue:
		return model.ConstantEq(pos, model.ConstantValue{Kind: model.ConstantString, Value: v.Value})
	case model.StringValueMetavar:
		entry := g.constraints[v.Metavar.String()]
		if entry.placeholder {
			g.conv.fail("placeholder: string value")
		}

		return constraintCondition(entry.formula, func(c model.MetavarConstraint, _ bool) model.Condition {
			if c.Kind == model.ConcreteConstraint {
				return model.ConstantEq(pos, model.ConstantValue{Kind: model.ConstantString, Value: c.Value})
			}

			return model.ConstantMatches(c.Value, pos)
		})
	case model.ParamModifier:
		return model.ParamAnnotated(pos, g.annotation(v.Modifier))
	}

	g.conv.fail("unexpected parameter condition %s", atom)

	return model.True()
}

func (g *generationCtx) annotation(m model.SignatureModifier) model.AnnotationConstraint {
	typ := model.AnyNameMatcher()

	if tf, ok := g.typeMatcher(m.Type); ok {
		single, isSingle := tf.single()
		if !isSingle {
			g.conv.fail("complex annotation type")
		}

		typ = single
	}

	out := model.AnnotationConstraint{Type: typ}

	switch m.Value.Kind {
	case model.AnyModifierValue:
	case model.NoModifierValue:
		out.Params = []model.AnnotationParam{}
	case model.StringModifierValue:
		out.Params = []model.AnnotationParam{{Name: m.Value.Param, Value: m.Value.Value}}
	case model.PatternModifierValue:
		out.Params = []model.AnnotationParam{{Name: m.Value.Param, Pattern: m.Value.Value}}
	case model.MetavarModifierValue:
		out.Params = []model.AnnotationParam{}

		entry := g.constraints[m.Value.Value]
		if entry.placeholder {
			g.conv.fail("placeholder: annotation")
		}

		constraintCondition(entry.formula, func(c model.MetavarConstraint, negated bool) model.Condition {
			if negated {
				g.conv.fail("negated annotation parameter constraint")
			}

			if c.Kind == model.ConcreteConstraint {
				out.Params = append(out.Params, model.AnnotationParam{Name: m.Value.Param, Value: c.Value})
			} else {
				out.Params = append(out.Params, model.AnnotationParam{Name: m.Value.Param, Pattern: c.Value})
			}

			return model.True()
		})
	}

	return out
}

// typeFormula is a type matcher: a single matcher, or a metavariable
// constraint whose leaves each become one.
type typeFormula struct {
	leaf    *model.NameMatcher
	formula model.ConstraintFormula
}

func (t typeFormula) single() (model.NameMatcher, bool) {
	if t.leaf != nil {
		return *t.leaf, true
	}

	if l, ok := t.formula.(model.ConstraintLeaf); ok {
		return constraintNameMatcher(l.Constraint), true
	}

	return model.NameMatcher{}, false
}

func (t typeFormula) condition(g *generationCtx, fn func(model.NameMatcher) model.Condition) model.Condition {
	if t.leaf != nil {
		return fn(*t.leaf)
	}

	return constraintCondition(t.formula, func(c model.MetavarConstraint, _ bool) model.Condition {
		if c.Kind == model.PatternConstraint {
			g.conv.fail("unresolved type constraint %s", c.Value)
		}

		return fn(constraintNameMatcher(c))
	})
}

func (g *generationCtx) typeMatcher(t model.TypeNamePattern) (typeFormula, bool) {
	switch t.Kind {
	case model.AnyType:
		return typeFormula{}, false
	case model.ClassNameType:
		m := model.ClassPattern(model.AnyNameMatcher(), model.SimpleName(t.Name))
		return typeFormula{leaf: &m}, true
	case model.FullyQualifiedType, model.PrimitiveType:
		m := model.SimpleName(t.Name)
		return typeFormula{leaf: &m}, true
	}

	entry, ok := g.constraints[t.Name]
	if !ok || entry.formula == nil {
		return typeFormula{}, false
	}

	if entry.placeholder {
		g.conv.fail("placeholder: type name")
	}

	return typeFormula{formula: entry.formula}, true
}

// constraintNameMatcher turns a type constraint into a matcher. A concrete
// name containing a dot is taken as fully qualified.
func constraintNameMatcher(c model.MetavarConstraint) model.NameMatcher {
	if c.Kind == model.ConcreteConstraint {
		if strings.Contains(c.Value, ".") {
			return model.SimpleName(c.Value)
		}

		return model.ClassPattern(model.AnyNameMatcher(), model.SimpleName(c.Value))
	}

	i := strings.LastIndex(c.Value, `\.`)
	if i <= 0 {
		return model.ClassPattern(model.AnyNameMatcher(), model.PatternName(c.Value))
	}

	pkg, cls := c.Value[:i], c.Value[i+2:]
	if patternCanMatchDot(cls) {
		return model.PatternName(c.Value)
	}

	return model.ClassPattern(model.PatternName(pkg), model.PatternName(cls))
}

func patternCanMatchDot(p string) bool {
	return strings.ContainsAny(p, ".-")
}

// constraintCondition folds a constraint formula into a condition. leaf
// receives each constraint with the polarity it appears under.
func constraintCondition(f model.ConstraintFormula, leaf func(model.MetavarConstraint, bool) model.Condition) model.Condition {
	var walk func(f model.ConstraintFormula, negated bool) model.Condition

	walk = func(f model.ConstraintFormula, negated bool) model.Condition {
		switch v := f.(type) {
		case model.ConstraintLeaf:
			return leaf(v.Constraint, negated)
		case model.ConstraintNot:
			return model.NotOf(walk(v.Negated, !negated))
		case model.ConstraintAnd:
			args := make([]model.Condition, 0, len(v.Args))
			for _, a := range v.Args {
				args = append(args, walk(a, negated))
			}

			return model.AndOf(args...)
		}

		return model.True()
	}

	if f == nil {
		return model.True()
	}

	return walk(f, false)
}
