package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MatcherKind selects how a NameMatcher compares names.
type MatcherKind string

const (
	// SimpleMatcher compares verbatim; "*" matches anything.
	SimpleMatcher MatcherKind = "simple"
	// PatternMatcher matches a regular expression.
	PatternMatcher MatcherKind = "pattern"
	// ClassPatternMatcher matches package and simple class name separately.
	ClassPatternMatcher MatcherKind = "classPattern"
)

// NameMatcher matches a package, class, method or type name.
type NameMatcher struct {
	Kind    MatcherKind  `json:"kind"`
	Value   string       `json:"value,omitempty"`
	Package *NameMatcher `json:"package,omitempty"`
	Class   *NameMatcher `json:"class,omitempty"`
}

// SimpleName returns a verbatim matcher.
func SimpleName(value string) NameMatcher {
	return NameMatcher{Kind: SimpleMatcher, Value: value}
}

// PatternName returns a regex matcher.
func PatternName(pattern string) NameMatcher {
	return NameMatcher{Kind: PatternMatcher, Value: pattern}
}

// ClassPattern returns a matcher over package and class name.
func ClassPattern(pkg, class NameMatcher) NameMatcher {
	return NameMatcher{Kind: ClassPatternMatcher, Package: &pkg, Class: &class}
}

// AnyNameMatcher matches every name.
func AnyNameMatcher() NameMatcher {
	return PatternName(".*")
}

// IsAny reports whether m is the match-everything pattern.
func (m NameMatcher) IsAny() bool {
	return m.Kind == PatternMatcher && m.Value == ".*"
}

// Equal reports structural equality.
func (m NameMatcher) Equal(other NameMatcher) bool {
	if m.Kind != other.Kind || m.Value != other.Value {
		return false
	}

	return equalMatcherPtr(m.Package, other.Package) && equalMatcherPtr(m.Class, other.Class)
}

func equalMatcherPtr(a, b *NameMatcher) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Equal(*b)
}

// Match reports whether name satisfies m.
func (m NameMatcher) Match(name string) bool {
	switch m.Kind {
	case SimpleMatcher:
		return m.Value == "*" || m.Value == name
	case PatternMatcher:
		re, err := regexp.Compile("^(?:" + m.Value + ")$")
		return err == nil && re.MatchString(name)
	case ClassPatternMatcher:
		pkg, cls := "", name
		if i := strings.LastIndex(name, "."); i >= 0 {
			pkg, cls = name[:i], name[i+1:]
		}

		return m.Package.Match(pkg) && m.Class.Match(cls)
	}

	return false
}

func (m NameMatcher) String() string {
	switch m.Kind {
	case PatternMatcher:
		return "/" + m.Value + "/"
	case ClassPatternMatcher:
		return m.Package.String() + "." + m.Class.String()
	default:
		return m.Value
	}
}

// FunctionMatcher selects methods by package, class and name.
type FunctionMatcher struct {
	Package NameMatcher `json:"package"`
	Class   NameMatcher `json:"class"`
	Name    NameMatcher `json:"name"`
}

// AnyFunction matches every method.
func AnyFunction() FunctionMatcher {
	return FunctionMatcher{Package: AnyNameMatcher(), Class: AnyNameMatcher(), Name: AnyNameMatcher()}
}

// MatchesAnything reports whether every part is the match-everything pattern.
func (f FunctionMatcher) MatchesAnything() bool {
	return f.Package.IsAny() && f.Class.IsAny() && f.Name.IsAny()
}

// PositionBase enumerates value locations at a call site.
type PositionBase int

const (
	PosThis PositionBase = iota
	PosResult
	PosArgument
	PosAnyArgument
	PosClassStatic
)

// Position is a value location at a call site. It encodes to JSON as a
// compact string such as "this", "arg(1)" or "any(tainted)".
type Position struct {
	Base       PositionBase
	Index      int
	Classifier string
	Class      string
}

var (
	ThisPosition   = Position{Base: PosThis}
	ResultPosition = Position{Base: PosResult}
)

// ArgumentPosition addresses argument idx.
func ArgumentPosition(idx int) Position {
	return Position{Base: PosArgument, Index: idx}
}

// AnyArgumentPosition addresses some argument tagged by classifier.
func AnyArgumentPosition(classifier string) Position {
	return Position{Base: PosAnyArgument, Classifier: classifier}
}

// ClassStaticPosition addresses a synthetic static slot of class.
func ClassStaticPosition(class string) Position {
	return Position{Base: PosClassStatic, Class: class}
}

func (p Position) String() string {
	switch p.Base {
	case PosThis:
		return "this"
	case PosResult:
		return "result"
	case PosArgument:
		return "arg(" + strconv.Itoa(p.Index) + ")"
	case PosAnyArgument:
		return "any(" + p.Classifier + ")"
	default:
		return "static(" + p.Class + ")"
	}
}

func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Position) UnmarshalText(text []byte) error {
	s := string(text)

	switch {
	case s == "this":
		*p = ThisPosition
	case s == "result":
		*p = ResultPosition
	case strings.HasPrefix(s, "arg(") && strings.HasSuffix(s, ")"):
		idx, err := strconv.Atoi(s[4 : len(s)-1])
		if err != nil {
			return fmt.Errorf("position %q: %w", s, err)
		}

		*p = ArgumentPosition(idx)
	case strings.HasPrefix(s, "any(") && strings.HasSuffix(s, ")"):
		*p = AnyArgumentPosition(s[4 : len(s)-1])
	case strings.HasPrefix(s, "static(") && strings.HasSuffix(s, ")"):
		*p = ClassStaticPosition(s[7 : len(s)-1])
	default:
		return fmt.Errorf("unknown position %q", s)
	}

	return nil
}

// ConditionType tags a Condition node.
type ConditionType string

const (
	CondTypeTrue              ConditionType = "true"
	CondTypeAnd               ConditionType = "and"
	CondTypeOr                ConditionType = "or"
	CondTypeNot               ConditionType = "not"
	CondTypeContainsMark      ConditionType = "containsMark"
	CondTypeIsConstant        ConditionType = "isConstant"
	CondTypeConstantEq        ConditionType = "constantEq"
	CondTypeConstantMatches   ConditionType = "constantMatches"
	CondTypeIsType            ConditionType = "isType"
	CondTypeClassAnnotated    ConditionType = "classAnnotated"
	CondTypeMethodAnnotated   ConditionType = "methodAnnotated"
	CondTypeParamAnnotated    ConditionType = "paramAnnotated"
	CondTypeNumberOfArgs      ConditionType = "numberOfArgs"
	CondTypeClassNameMatches  ConditionType = "classNameMatches"
	CondTypeMethodNameMatches ConditionType = "methodNameMatches"
)

// ConstantKind is the type of a compared constant.
type ConstantKind string

const (
	ConstantString ConstantKind = "str"
	ConstantBool   ConstantKind = "bool"
	ConstantInt    ConstantKind = "int"
)

// ConstantValue is a typed constant.
type ConstantValue struct {
	Kind  ConstantKind `json:"type"`
	Value string       `json:"value"`
}

// AnnotationParam matches one annotation argument.
type AnnotationParam struct {
	Name    string `json:"name"`
	Value   string `json:"value,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// AnnotationConstraint matches an annotation by type and arguments. Nil
// Params accepts any arguments.
type AnnotationConstraint struct {
	Type   NameMatcher       `json:"type"`
	Params []AnnotationParam `json:"params"`
}

// Condition is a boolean tree evaluated by the analyzer at a call site.
type Condition struct {
	Type         ConditionType         `json:"type"`
	AllOf        []Condition           `json:"allOf,omitempty"`
	AnyOf        []Condition           `json:"anyOf,omitempty"`
	Not          *Condition            `json:"not,omitempty"`
	Mark         string                `json:"mark,omitempty"`
	Pos          *Position             `json:"pos,omitempty"`
	Value        *ConstantValue        `json:"value,omitempty"`
	Regex        string                `json:"regex,omitempty"`
	TypeIs       *NameMatcher          `json:"typeIs,omitempty"`
	Annotation   *AnnotationConstraint `json:"annotation,omitempty"`
	NumberOfArgs *int                  `json:"numberOfArgs,omitempty"`
}

// True is the condition that always holds.
func True() Condition { return Condition{Type: CondTypeTrue} }

// False is the condition that never holds.
func False() Condition {
	t := True()
	return Condition{Type: CondTypeNot, Not: &t}
}

// IsTrue reports whether c always holds syntactically.
func (c Condition) IsTrue() bool { return c.Type == CondTypeTrue }

// IsFalse reports whether c is the canonical false.
func (c Condition) IsFalse() bool { return c.Type == CondTypeNot && c.Not.IsTrue() }

// AndOf conjoins conditions, flattening nested conjunctions and folding
// constants.
func AndOf(args ...Condition) Condition {
	var flat []Condition

	seen := make(map[string]struct{}, len(args))

	var add func(Condition) bool

	add = func(c Condition) bool {
		switch {
		case c.Type == CondTypeAnd:
			for _, sub := range c.AllOf {
				if !add(sub) {
					return false
				}
			}
		case c.IsTrue():
		case c.IsFalse():
			return false
		default:
			k := c.Key()
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				flat = append(flat, c)
			}
		}

		return true
	}

	for _, a := range args {
		if !add(a) {
			return False()
		}
	}

	switch len(flat) {
	case 0:
		return True()
	case 1:
		return flat[0]
	default:
		return Condition{Type: CondTypeAnd, AllOf: flat}
	}
}

// OrOf disjoins conditions, flattening nested disjunctions and folding
// constants.
func OrOf(args ...Condition) Condition {
	var flat []Condition

	for _, a := range args {
		switch {
		case a.Type == CondTypeOr:
			flat = append(flat, a.AnyOf...)
		case a.IsTrue():
			return True()
		case a.IsFalse():
		default:
			flat = append(flat, a)
		}
	}

	switch len(flat) {
	case 0:
		return False()
	case 1:
		return flat[0]
	default:
		return Condition{Type: CondTypeOr, AnyOf: flat}
	}
}

// NotOf negates c, cancelling double negation.
func NotOf(c Condition) Condition {
	if c.Type == CondTypeNot {
		return *c.Not
	}

	return Condition{Type: CondTypeNot, Not: &c}
}

// ContainsMark holds when the value at pos carries mark.
func ContainsMark(mark string, pos Position) Condition {
	return Condition{Type: CondTypeContainsMark, Mark: mark, Pos: &pos}
}

// IsConstant holds when the value at pos is a constant.
func IsConstant(pos Position) Condition {
	return Condition{Type: CondTypeIsConstant, Pos: &pos}
}

// ConstantEq holds when the value at pos equals v.
func ConstantEq(pos Position, v ConstantValue) Condition {
	return Condition{Type: CondTypeConstantEq, Pos: &pos, Value: &v}
}

// ConstantMatches holds when the string constant at pos matches regex.
func ConstantMatches(regex string, pos Position) Condition {
	return Condition{Type: CondTypeConstantMatches, Pos: &pos, Regex: regex}
}

// IsType holds when the value at pos has a type matching m.
func IsType(m NameMatcher, pos Position) Condition {
	return Condition{Type: CondTypeIsType, Pos: &pos, TypeIs: &m}
}

// ClassAnnotated holds when the enclosing class carries a.
func ClassAnnotated(a AnnotationConstraint) Condition {
	return Condition{Type: CondTypeClassAnnotated, Annotation: &a}
}

// MethodAnnotated holds when the method carries a.
func MethodAnnotated(a AnnotationConstraint) Condition {
	return Condition{Type: CondTypeMethodAnnotated, Annotation: &a}
}

// ParamAnnotated holds when the parameter at pos carries a.
func ParamAnnotated(pos Position, a AnnotationConstraint) Condition {
	return Condition{Type: CondTypeParamAnnotated, Pos: &pos, Annotation: &a}
}

// NumberOfArgs holds when the method takes n arguments.
func NumberOfArgs(n int) Condition {
	return Condition{Type: CondTypeNumberOfArgs, NumberOfArgs: &n}
}

// ClassNameMatches holds when the enclosing class matches m.
func ClassNameMatches(m NameMatcher) Condition {
	return Condition{Type: CondTypeClassNameMatches, TypeIs: &m}
}

// MethodNameMatches holds when the method name matches regex.
func MethodNameMatches(regex string) Condition {
	return Condition{Type: CondTypeMethodNameMatches, Regex: regex}
}

// Key returns a canonical text form usable for de-duplication.
func (c Condition) Key() string {
	return JSONKey(c)
}

// MapPositions rewrites every position in c.
func (c Condition) MapPositions(fn func(Position) Position) Condition {
	out := c

	if c.Pos != nil {
		p := fn(*c.Pos)
		out.Pos = &p
	}

	if c.Not != nil {
		n := c.Not.MapPositions(fn)
		out.Not = &n
	}

	out.AllOf = mapConditions(c.AllOf, fn)
	out.AnyOf = mapConditions(c.AnyOf, fn)

	return out
}

func mapConditions(cs []Condition, fn func(Position) Position) []Condition {
	if cs == nil {
		return nil
	}

	out := make([]Condition, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.MapPositions(fn))
	}

	return out
}

// MarkAction assigns or removes a mark at a position.
type MarkAction struct {
	Mark string   `json:"mark"`
	Pos  Position `json:"pos"`
}

// SinkMeta describes the finding a sink reports.
type SinkMeta struct {
	CWE      []int    `json:"cwe,omitempty"`
	Note     string   `json:"note"`
	Severity Severity `json:"severity"`
}

// TaintRule is one method-level rule of the analyzer configuration.
type TaintRule struct {
	Function  FunctionMatcher `json:"function"`
	Overrides bool            `json:"overrides"`
	Condition *Condition      `json:"condition,omitempty"`
	Taint     []MarkAction    `json:"taint,omitempty"`
	Cleans    []MarkAction    `json:"cleans,omitempty"`
	ID        string          `json:"id,omitempty"`
	Meta      *SinkMeta       `json:"meta,omitempty"`
}

// StaticFieldRule marks values read from a static field.
type StaticFieldRule struct {
	Class     NameMatcher  `json:"className"`
	Field     string       `json:"fieldName"`
	Condition *Condition   `json:"condition,omitempty"`
	Taint     []MarkAction `json:"taint"`
}

// TaintConfig is the analyzer configuration produced for a rule set.
type TaintConfig struct {
	Session           string            `json:"session,omitempty"`
	RuleIDs           []string          `json:"ruleIds,omitempty"`
	EntryPoint        []TaintRule       `json:"entryPoint,omitempty"`
	Source            []TaintRule       `json:"source,omitempty"`
	Sink              []TaintRule       `json:"sink,omitempty"`
	PassThrough       []TaintRule       `json:"passThrough,omitempty"`
	Cleaner           []TaintRule       `json:"cleaner,omitempty"`
	MethodExitSink    []TaintRule       `json:"methodExitSink,omitempty"`
	AnalysisEndSink   []TaintRule       `json:"analysisEndSink,omitempty"`
	MethodEntrySink   []TaintRule       `json:"methodEntrySink,omitempty"`
	StaticFieldSource []StaticFieldRule `json:"staticFieldSource,omitempty"`
}

// Len returns the number of rules of every kind.
func (c *TaintConfig) Len() int {
	return len(c.EntryPoint) + len(c.Source) + len(c.Sink) + len(c.PassThrough) + len(c.Cleaner) +
		len(c.MethodExitSink) + len(c.AnalysisEndSink) + len(c.MethodEntrySink) + len(c.StaticFieldSource)
}

// Append adds every rule of other to c.
func (c *TaintConfig) Append(other TaintConfig) {
	c.RuleIDs = append(c.RuleIDs, other.RuleIDs...)
	c.EntryPoint = append(c.EntryPoint, other.EntryPoint...)
	c.Source = append(c.Source, other.Source...)
	c.Sink = append(c.Sink, other.Sink...)
	c.PassThrough = append(c.PassThrough, other.PassThrough...)
	c.Cleaner = append(c.Cleaner, other.Cleaner...)
	c.MethodExitSink = append(c.MethodExitSink, other.MethodExitSink...)
	c.AnalysisEndSink = append(c.AnalysisEndSink, other.AnalysisEndSink...)
	c.MethodEntrySink = append(c.MethodEntrySink, other.MethodEntrySink...)
	c.StaticFieldSource = append(c.StaticFieldSource, other.StaticFieldSource...)
}

// Dedup drops structurally identical rules, keeping first occurrences.
func (c *TaintConfig) Dedup() {
	c.RuleIDs = dedupBy(c.RuleIDs, func(s string) string { return s })
	c.EntryPoint = dedupBy(c.EntryPoint, JSONKey[TaintRule])
	c.Source = dedupBy(c.Source, JSONKey[TaintRule])
	c.Sink = dedupBy(c.Sink, JSONKey[TaintRule])
	c.PassThrough = dedupBy(c.PassThrough, JSONKey[TaintRule])
	c.Cleaner = dedupBy(c.Cleaner, JSONKey[TaintRule])
	c.MethodExitSink = dedupBy(c.MethodExitSink, JSONKey[TaintRule])
	c.AnalysisEndSink = dedupBy(c.AnalysisEndSink, JSONKey[TaintRule])
	c.MethodEntrySink = dedupBy(c.MethodEntrySink, JSONKey[TaintRule])
	c.StaticFieldSource = dedupBy(c.StaticFieldSource, JSONKey[StaticFieldRule])
}

func dedupBy[T any](items []T, key func(T) string) []T {
	if len(items) < 2 {
		return items
	}

	out := items[:0:0]
	seen := make(map[string]struct{}, len(items))

	for _, it := range items {
		k := key(it)
		if _, ok := seen[k]; ok {
			continue
		}

		seen[k] = struct{}{}
		out = append(out, it)
	}

	return out
}
