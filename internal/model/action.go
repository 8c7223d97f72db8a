package model

import (
	"fmt"
	"slices"
	"strings"
)

// MetavarAtom identifies a metavariable. A composite atom is the union of
// several basic metavariables fused together by object-qualifier rewriting.
type MetavarAtom struct {
	key string
}

// NewMetavar returns the basic atom for name.
func NewMetavar(name string) MetavarAtom {
	return MetavarAtom{key: name}
}

// NewComplexMetavar returns the atom made of the given basics. A single
// distinct basic yields a basic atom.
func NewComplexMetavar(basics ...MetavarAtom) MetavarAtom {
	if len(basics) == 0 {
		panic("metavar atom: empty basic set")
	}

	names := make([]string, 0, len(basics))
	for _, b := range basics {
		names = append(names, b.Basics()...)
	}

	slices.Sort(names)
	names = slices.Compact(names)

	return MetavarAtom{key: strings.Join(names, "&")}
}

// Basics returns the sorted names of the basic metavariables in the atom.
func (m MetavarAtom) Basics() []string {
	return strings.Split(m.key, "&")
}

// IsBasic reports whether the atom is a single metavariable.
func (m MetavarAtom) IsBasic() bool {
	return !strings.Contains(m.key, "&")
}

// IsZero reports whether the atom is unset.
func (m MetavarAtom) IsZero() bool {
	return m.key == ""
}

func (m MetavarAtom) String() string {
	return m.key
}

// Equal reports whether both atoms name the same metavariables.
func (m MetavarAtom) Equal(other MetavarAtom) bool {
	return m.key == other.key
}

// Contains reports whether every basic of other is part of m.
func (m MetavarAtom) Contains(other MetavarAtom) bool {
	mine := m.Basics()
	for _, b := range other.Basics() {
		if !slices.Contains(mine, b) {
			return false
		}
	}

	return true
}

// Overlaps reports whether m and other share at least one basic.
func (m MetavarAtom) Overlaps(other MetavarAtom) bool {
	mine := m.Basics()
	for _, b := range other.Basics() {
		if slices.Contains(mine, b) {
			return true
		}
	}

	return false
}

// TypeKind enumerates the shapes of a TypeNamePattern.
type TypeKind int

const (
	// AnyType matches every type.
	AnyType TypeKind = iota
	// FullyQualifiedType is a dotted fully qualified name.
	FullyQualifiedType
	// ClassNameType is a simple class name in any package.
	ClassNameType
	// PrimitiveType is a Java primitive.
	PrimitiveType
	// MetavarType is a metavariable standing for a type.
	MetavarType
)

// TypeNamePattern describes the type a class or value is expected to have.
type TypeNamePattern struct {
	Kind TypeKind
	Name string
}

// AnyTypeName matches every type.
var AnyTypeName = TypeNamePattern{Kind: AnyType}

// FullyQualified returns a pattern for a fully qualified type name.
func FullyQualified(name string) TypeNamePattern {
	return TypeNamePattern{Kind: FullyQualifiedType, Name: name}
}

// ClassName returns a pattern for a simple class name in any package.
func ClassName(name string) TypeNamePattern {
	return TypeNamePattern{Kind: ClassNameType, Name: name}
}

// Primitive returns a pattern for a primitive type.
func Primitive(name string) TypeNamePattern {
	return TypeNamePattern{Kind: PrimitiveType, Name: name}
}

// TypeMetavar returns a pattern bound to a type metavariable.
func TypeMetavar(name string) TypeNamePattern {
	return TypeNamePattern{Kind: MetavarType, Name: name}
}

func (t TypeNamePattern) String() string {
	switch t.Kind {
	case AnyType:
		return "*"
	case ClassNameType:
		return "*." + t.Name
	default:
		return t.Name
	}
}

// NameKind enumerates the shapes of a SignatureName.
type NameKind int

const (
	// AnyName matches every method name.
	AnyName NameKind = iota
	// ConcreteMethodName is a literal method name.
	ConcreteMethodName
	// MetavarMethodName is a metavariable standing for a method name.
	MetavarMethodName
)

// SignatureName is the method-name part of a call signature.
type SignatureName struct {
	Kind NameKind
	Name string
}

// AnySignatureName matches every method name.
var AnySignatureName = SignatureName{Kind: AnyName}

// ConcreteSignatureName returns a literal method name.
func ConcreteSignatureName(name string) SignatureName {
	return SignatureName{Kind: ConcreteMethodName, Name: name}
}

// MetavarSignatureName returns a metavariable method name.
func MetavarSignatureName(name string) SignatureName {
	return SignatureName{Kind: MetavarMethodName, Name: name}
}

func (s SignatureName) String() string {
	if s.Kind == AnyName {
		return "*"
	}

	return s.Name
}

// ModifierValueKind enumerates annotation argument shapes.
type ModifierValueKind int

const (
	// NoModifierValue is an annotation without arguments.
	NoModifierValue ModifierValueKind = iota
	// AnyModifierValue matches any arguments.
	AnyModifierValue
	// StringModifierValue is a literal string argument.
	StringModifierValue
	// PatternModifierValue is a regex over the argument.
	PatternModifierValue
	// MetavarModifierValue binds the argument to a metavariable.
	MetavarModifierValue
)

// ModifierValue is the argument of an annotation modifier.
type ModifierValue struct {
	Kind  ModifierValueKind
	Param string
	Value string
}

// SignatureModifier is an annotation on a method, class or parameter.
type SignatureModifier struct {
	Type  TypeNamePattern
	Value ModifierValue
}

func (m SignatureModifier) String() string {
	switch m.Value.Kind {
	case NoModifierValue:
		return "@" + m.Type.String()
	case AnyModifierValue:
		return "@" + m.Type.String() + "(...)"
	default:
		return fmt.Sprintf("@%s(%s=%s)", m.Type, m.Value.Param, m.Value.Value)
	}
}

// ParamCondition constrains a value at a call-site position.
type ParamCondition interface {
	paramCondition()
	String() string
}

// Atom is a ParamCondition that is not a conjunction. All atoms are
// comparable.
type Atom interface {
	ParamCondition
	atom()
}

type (
	// CondAnd is a conjunction of conditions.
	CondAnd struct{ Conds []ParamCondition }
	// CondTrue holds for every value.
	CondTrue struct{}

	// TypeIs requires the value to have a type.
	TypeIs struct{ Type TypeNamePattern }
	// AnyStringLiteral requires a string constant.
	AnyStringLiteral struct{}
	// StringValueMetavar requires a string constant matching a metavariable.
	StringValueMetavar struct{ Metavar MetavarAtom }
	// ParamModifier requires a parameter annotation.
	ParamModifier struct{ Modifier SignatureModifier }
	// StaticFieldValue requires the value to come from a static field.
	StaticFieldValue struct {
		Field string
		Class TypeNamePattern
	}
	// BoolValue requires a boolean constant.
	BoolValue struct{ Value bool }
	// StringValue requires a string constant.
	StringValue struct{ Value string }
	// IsMetavar binds the value to a metavariable.
	IsMetavar struct{ Metavar MetavarAtom }
)

func (CondAnd) paramCondition()            {}
func (CondTrue) paramCondition()           {}
func (TypeIs) paramCondition()             {}
func (AnyStringLiteral) paramCondition()   {}
func (StringValueMetavar) paramCondition() {}
func (ParamModifier) paramCondition()      {}
func (StaticFieldValue) paramCondition()   {}
func (BoolValue) paramCondition()          {}
func (StringValue) paramCondition()        {}
func (IsMetavar) paramCondition()          {}

func (TypeIs) atom()             {}
func (AnyStringLiteral) atom()   {}
func (StringValueMetavar) atom() {}
func (ParamModifier) atom()      {}
func (StaticFieldValue) atom()   {}
func (BoolValue) atom()          {}
func (StringValue) atom()        {}
func (IsMetavar) atom()          {}

func (CondTrue) String() string             { return "true" }
func (c TypeIs) String() string             { return "type(" + c.Type.String() + ")" }
func (AnyStringLiteral) String() string     { return `"..."` }
func (c StringValueMetavar) String() string { return `"` + c.Metavar.String() + `"` }
func (c ParamModifier) String() string      { return c.Modifier.String() }
func (c BoolValue) String() string          { return fmt.Sprint(c.Value) }
func (c StringValue) String() string        { return fmt.Sprintf("%q", c.Value) }
func (c IsMetavar) String() string          { return c.Metavar.String() }

func (c StaticFieldValue) String() string {
	return c.Class.String() + "." + c.Field
}

func (c CondAnd) String() string {
	parts := make([]string, 0, len(c.Conds))
	for _, p := range c.Conds {
		parts = append(parts, p.String())
	}

	return "(" + strings.Join(parts, " & ") + ")"
}

// MkAnd joins conditions, dropping duplicates.
func MkAnd(conds ...ParamCondition) ParamCondition {
	var unique []ParamCondition

	seen := make(map[string]struct{}, len(conds))
	for _, c := range conds {
		key := fmt.Sprintf("%T:%s", c, c)
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		unique = append(unique, c)
	}

	switch len(unique) {
	case 0:
		return CondTrue{}
	case 1:
		return unique[0]
	default:
		return CondAnd{Conds: unique}
	}
}

// CollectMetavars appends every metavariable bound by c to dst.
func CollectMetavars(c ParamCondition, dst []MetavarAtom) []MetavarAtom {
	switch v := c.(type) {
	case CondAnd:
		for _, sub := range v.Conds {
			dst = CollectMetavars(sub, dst)
		}
	case IsMetavar:
		if !slices.Contains(dst, v.Metavar) {
			dst = append(dst, v.Metavar)
		}
	}

	return dst
}

// ParamPosition addresses an argument. An empty Classifier means a concrete
// index; otherwise the position is "some argument" tagged by Classifier.
type ParamPosition struct {
	Index      int
	Classifier string
}

// ConcretePosition addresses argument idx.
func ConcretePosition(idx int) ParamPosition {
	return ParamPosition{Index: idx}
}

// AnyPosition addresses an argument somewhere in the list.
func AnyPosition(classifier string) ParamPosition {
	return ParamPosition{Index: -1, Classifier: classifier}
}

// IsAny reports whether the position is not anchored to an index.
func (p ParamPosition) IsAny() bool {
	return p.Classifier != ""
}

func (p ParamPosition) String() string {
	if p.IsAny() {
		return "*" + p.Classifier
	}

	return fmt.Sprint(p.Index)
}

// ParamPattern pairs a position with its condition.
type ParamPattern struct {
	Position  ParamPosition
	Condition ParamCondition
}

// ParamConstraint constrains the argument list of a call.
type ParamConstraint interface {
	Conditions() []ParamCondition
	paramConstraint()
}

// ConcreteParams fixes the arity; Params[i] constrains argument i.
type ConcreteParams struct {
	Params []ParamCondition
}

// PartialParams constrains some positions and leaves the arity open.
type PartialParams struct {
	Params []ParamPattern
}

func (ConcreteParams) paramConstraint() {}
func (PartialParams) paramConstraint()  {}

func (c ConcreteParams) Conditions() []ParamCondition { return c.Params }

func (c PartialParams) Conditions() []ParamCondition {
	conds := make([]ParamCondition, 0, len(c.Params))
	for _, p := range c.Params {
		conds = append(conds, p.Condition)
	}

	return conds
}

// Action is one step of a linearized pattern.
type Action interface {
	// Metavars lists the metavariables the action binds.
	Metavars() []MetavarAtom
	// ResultCondition constrains the value the action produces, or nil.
	ResultCondition() ParamCondition
	// WithResult returns a copy with the result constrained. Panics if the
	// action already has a result or cannot produce one.
	WithResult(c ParamCondition) Action
	String() string
}

// MethodCall is a call to a method.
type MethodCall struct {
	Method         SignatureName
	Result         ParamCondition
	Params         ParamConstraint
	Object         ParamCondition
	EnclosingClass TypeNamePattern
}

// ConstructorCall is `new Class(...)`.
type ConstructorCall struct {
	Class  TypeNamePattern
	Result ParamCondition
	Params ParamConstraint
}

// MethodSignature matches entering a method whose declaration fits.
type MethodSignature struct {
	Method            SignatureName
	ReturnTypeMetavar string
	Params            PartialParams
	Modifiers         []SignatureModifier
	ClassMetavar      string
	ClassModifiers    []SignatureModifier
}

func (a MethodCall) Metavars() []MetavarAtom {
	var vars []MetavarAtom
	for _, c := range a.Params.Conditions() {
		vars = CollectMetavars(c, vars)
	}

	if a.Object != nil {
		vars = CollectMetavars(a.Object, vars)
	}

	if a.Result != nil {
		vars = CollectMetavars(a.Result, vars)
	}

	return vars
}

func (a ConstructorCall) Metavars() []MetavarAtom {
	var vars []MetavarAtom
	for _, c := range a.Params.Conditions() {
		vars = CollectMetavars(c, vars)
	}

	if a.Result != nil {
		vars = CollectMetavars(a.Result, vars)
	}

	return vars
}

func (a MethodSignature) Metavars() []MetavarAtom {
	var vars []MetavarAtom
	for _, c := range a.Params.Conditions() {
		vars = CollectMetavars(c, vars)
	}

	return vars
}

func (a MethodCall) ResultCondition() ParamCondition      { return a.Result }
func (a ConstructorCall) ResultCondition() ParamCondition { return a.Result }
func (MethodSignature) ResultCondition() ParamCondition   { return nil }

func (a MethodCall) WithResult(c ParamCondition) Action {
	if a.Result != nil {
		panic("method call: result condition already set")
	}

	a.Result = c

	return a
}

func (a ConstructorCall) WithResult(c ParamCondition) Action {
	if a.Result != nil {
		panic("constructor call: result condition already set")
	}

	a.Result = c

	return a
}

func (MethodSignature) WithResult(ParamCondition) Action {
	panic("method signature has no result")
}

func (a MethodCall) String() string {
	var b strings.Builder

	if a.Result != nil {
		b.WriteString(a.Result.String() + " = ")
	}

	if a.Object != nil {
		b.WriteString(a.Object.String() + ".")
	} else if a.EnclosingClass != AnyTypeName {
		b.WriteString(a.EnclosingClass.String() + ".")
	}

	b.WriteString(a.Method.String())
	b.WriteString("(" + paramsString(a.Params) + ")")

	return b.String()
}

func (a ConstructorCall) String() string {
	var b strings.Builder

	if a.Result != nil {
		b.WriteString(a.Result.String() + " = ")
	}

	b.WriteString("new " + a.Class.String() + "(" + paramsString(a.Params) + ")")

	return b.String()
}

func (a MethodSignature) String() string {
	var b strings.Builder

	for _, m := range a.ClassModifiers {
		b.WriteString(m.String() + " ")
	}

	if a.ClassMetavar != "" {
		b.WriteString("class " + a.ClassMetavar + " { ")
	}

	for _, m := range a.Modifiers {
		b.WriteString(m.String() + " ")
	}

	if a.ReturnTypeMetavar != "" {
		b.WriteString(a.ReturnTypeMetavar + " ")
	}

	b.WriteString(a.Method.String() + "(" + paramsString(a.Params) + ")")

	if a.ClassMetavar != "" {
		b.WriteString(" }")
	}

	return b.String()
}

func paramsString(p ParamConstraint) string {
	var parts []string

	switch v := p.(type) {
	case ConcreteParams:
		for _, c := range v.Params {
			parts = append(parts, c.String())
		}
	case PartialParams:
		for _, pp := range v.Params {
			parts = append(parts, pp.Position.String()+":"+pp.Condition.String())
		}

		parts = append(parts, "...")
	}

	return strings.Join(parts, ", ")
}

// ActionList is a linearized pattern: actions separated by implicit
// ellipses, with explicit ellipsis flags at both ends.
type ActionList struct {
	Actions         []Action
	EllipsisAtStart bool
	EllipsisAtEnd   bool
}

func (l ActionList) String() string {
	parts := make([]string, 0, len(l.Actions)+2)
	if l.EllipsisAtStart {
		parts = append(parts, "...")
	}

	for _, a := range l.Actions {
		parts = append(parts, a.String())
	}

	if l.EllipsisAtEnd {
		parts = append(parts, "...")
	}

	return strings.Join(parts, "; ")
}

// Key returns a structural identity for the list.
func (l ActionList) Key() string {
	return fmt.Sprintf("%t|%t|%#v", l.EllipsisAtStart, l.EllipsisAtEnd, l.Actions)
}

// Names of the helper methods the rewrite passes synthesize. They never
// reach the analyzer.
const (
	GeneratedStringConcat = "__genStringConcat__"
	GeneratedAnyValue     = "__genAnyValue__"
	GeneratedReturnValue  = "__genReturnValue__"
)
