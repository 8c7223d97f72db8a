package adapter

import (
	"errors"
	"fmt"
	"strings"

	"semtaint.dev/pkg/semtaint/internal/model"
)

// ErrParse wraps every pattern syntax error.
var ErrParse = errors.New("pattern parse error")

// PatternParser turns pattern text into a pattern AST.
type PatternParser interface {
	Parse(text string) (model.Node, error)
}

type javaPatternParser struct{}

// NewJavaPatternParser returns a parser for Java-syntax patterns with
// metavariables and ellipses.
func NewJavaPatternParser() PatternParser {
	return &javaPatternParser{}
}

// Parse implements PatternParser.
func (javaPatternParser) Parse(text string) (node model.Node, err error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}

	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(parseError)
			if !ok {
				panic(r)
			}

			node, err = nil, pe.err
		}
	}()

	return p.patterns(), nil
}

type parseError struct{ err error }

type parser struct {
	tokens []token
	pos    int
}

var controlFlowKeywords = map[string]bool{
	"if": true, "else": true, "for": true, "while": true, "do": true, "switch": true, "case": true,
	"try": true, "finally": true, "throw": true, "break": true, "continue": true, "synchronized": true,
	"yield": true, "assert": true,
}

var declarationModifiers = map[string]bool{
	"public": true, "protected": true, "private": true, "static": true, "final": true, "abstract": true,
	"native": true, "transient": true, "volatile": true, "strictfp": true, "default": true,
}

var primitiveTypes = map[string]bool{
	"boolean": true, "byte": true, "char": true, "short": true, "int": true, "long": true,
	"float": true, "double": true, "void": true,
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}

	return p.tokens[p.pos+offset]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}

	return t
}

func (p *parser) failAt(t token, format string, args ...any) {
	panic(parseError{err: fmt.Errorf("%w: line %d:%d %s", ErrParse, t.line, t.col, fmt.Sprintf(format, args...))})
}

func (p *parser) fail(format string, args ...any) {
	p.failAt(p.peek(), format, args...)
}

func (p *parser) is(text string) bool {
	t := p.peek()
	return (t.kind == tokPunct || t.kind == tokIdent) && t.text == text
}

func (p *parser) accept(text string) bool {
	if p.is(text) {
		p.next()
		return true
	}

	return false
}

func (p *parser) expect(text string) token {
	if !p.is(text) {
		p.fail("expected %q, got %s", text, p.peek())
	}

	return p.next()
}

// attempt runs fn and rewinds when it fails.
func (p *parser) attempt(fn func() model.Node) (node model.Node, ok bool) {
	saved := p.pos

	defer func() {
		if r := recover(); r != nil {
			if _, isParse := r.(parseError); !isParse {
				panic(r)
			}

			p.pos = saved
			node, ok = nil, false
		}
	}()

	return fn(), true
}

func (p *parser) patterns() model.Node {
	var statements []model.Node

	for p.peek().kind != tokEOF {
		if p.accept(";") {
			continue
		}

		statements = append(statements, p.statement())
	}

	return model.MakeSequence(statements)
}

func (p *parser) block() model.Node {
	p.expect("{")

	var statements []model.Node

	for !p.is("}") {
		if p.peek().kind == tokEOF {
			p.fail("unterminated block")
		}

		if p.accept(";") {
			continue
		}

		statements = append(statements, p.statement())
	}

	p.expect("}")

	return model.MakeSequence(statements)
}

func (p *parser) endStatement() {
	if p.accept(";") || p.peek().kind == tokEOF || p.is("}") {
		return
	}

	p.fail("expected end of statement, got %s", p.peek())
}

func (p *parser) statement() model.Node {
	t := p.peek()

	switch {
	case t.kind == tokIdent && controlFlowKeywords[t.text]:
		p.fail("control flow statements are not supported: %s", t.text)
	case p.is("{"):
		return p.block()
	case p.is("return"):
		p.next()

		if p.accept(";") || p.peek().kind == tokEOF || p.is("}") {
			return model.Return{}
		}

		value := p.expression()
		p.endStatement()

		return model.Return{Value: value}
	case p.is("import"):
		return p.importDecl()
	case p.is("catch"):
		return p.catchClause()
	case t.kind == tokEllipsis && p.ellipsisLine():
		p.next()
		p.accept(";")

		return model.Ellipsis{}
	}

	if n, ok := p.attempt(p.declaration); ok {
		return n
	}

	if n, ok := p.attempt(p.localVariable); ok {
		return n
	}

	expr := p.expression()
	p.endStatement()

	return expr
}

// ellipsisLine reports whether the ellipsis at the cursor is a statement of
// its own: it is followed by a newline, `;`, `}` or the end of the pattern.
func (p *parser) ellipsisLine() bool {
	after := p.peekAt(1)

	switch {
	case after.kind == tokEOF:
		return true
	case after.kind == tokPunct && (after.text == ";" || after.text == "}"):
		return true
	}

	return after.line > p.peek().line
}

func (p *parser) importDecl() model.Node {
	p.expect("import")
	p.accept("static")

	var parts []model.Name

	parts = append(parts, p.name())

	concrete := true

	for p.accept(".") {
		if p.accept("*") {
			concrete = false
			break
		}

		parts = append(parts, p.name())
	}

	p.endStatement()

	return model.Import{Parts: parts, Concrete: concrete}
}

func (p *parser) catchClause() model.Node {
	p.expect("catch")
	p.expect("(")

	types := []model.TypeName{p.typeName()}
	for p.accept("|") {
		types = append(types, p.typeName())
	}

	variable := p.name()
	p.expect(")")

	return model.Catch{Types: types, Variable: variable, Handler: p.block()}
}

func (p *parser) name() model.Name {
	t := p.next()

	switch t.kind {
	case tokIdent:
		return model.ConcreteName{Value: t.text}
	case tokMetavar:
		return model.MetavarName{Value: t.text}
	}

	p.failAt(t, "expected identifier, got %s", t)

	return nil
}

func (p *parser) typeName() model.TypeName {
	t := p.peek()
	if t.kind == tokIdent && primitiveTypes[t.text] {
		p.next()
		return p.arraySuffix(model.Simple(t.text))
	}

	tn := model.TypeName{Parts: []model.Name{p.name()}}

	for p.is(".") && (p.peekAt(1).kind == tokIdent || p.peekAt(1).kind == tokMetavar) {
		p.next()
		tn.Parts = append(tn.Parts, p.name())
	}

	if p.accept("<") {
		for !p.accept(">") {
			if p.accept("?") {
				if p.accept("extends") || p.accept("super") {
					p.fail("bounded wildcards are not supported")
				}
			} else {
				tn.TypeArgs = append(tn.TypeArgs, p.typeName())
			}

			if !p.is(">") {
				p.expect(",")
			}
		}
	}

	return p.arraySuffix(tn)
}

func (p *parser) arraySuffix(tn model.TypeName) model.TypeName {
	for p.is("[") && p.peekAt(1).kind == tokPunct && p.peekAt(1).text == "]" {
		p.next()
		p.next()

		last := tn.Parts[len(tn.Parts)-1]
		if c, ok := last.(model.ConcreteName); ok {
			tn.Parts[len(tn.Parts)-1] = model.ConcreteName{Value: c.Value + "[]"}
		} else {
			p.fail("array of metavariable type is not supported")
		}
	}

	return tn
}

func (p *parser) annotations() []model.Annotation {
	var out []model.Annotation

	for {
		switch {
		case p.is("@") && !(p.peekAt(1).kind == tokIdent && p.peekAt(1).text == "interface"):
			out = append(out, p.annotation())
		case p.peek().kind == tokIdent && declarationModifiers[p.peek().text]:
			p.next()
		default:
			return out
		}
	}
}

func (p *parser) annotation() model.Annotation {
	p.expect("@")

	a := model.Annotation{Name: p.qualifiedName(), Args: model.NoArgs{}}

	if !p.accept("(") {
		return a
	}

	var args []model.Node

	for !p.accept(")") {
		if p.peek().kind == tokEllipsis {
			p.next()

			args = append(args, model.Ellipsis{})
		} else if (p.peek().kind == tokIdent || p.peek().kind == tokMetavar) && p.peekAt(1).text == "=" {
			name := p.name()
			p.expect("=")
			args = append(args, model.NamedValue{Name: name, Value: p.elementValue()})
		} else {
			args = append(args, p.elementValue())
		}

		if !p.is(")") {
			p.expect(",")
		}
	}

	a.Args = model.MakeArgs(args...)

	return a
}

func (p *parser) elementValue() model.Node {
	if p.is("@") {
		return p.annotation()
	}

	return p.expression()
}

func (p *parser) qualifiedName() model.TypeName {
	tn := model.TypeName{Parts: []model.Name{p.name()}}
	for p.is(".") && (p.peekAt(1).kind == tokIdent || p.peekAt(1).kind == tokMetavar) {
		p.next()
		tn.Parts = append(tn.Parts, p.name())
	}

	return tn
}

// declaration parses class and method declarations and standalone
// annotations.
func (p *parser) declaration() model.Node {
	mods := p.annotations()

	switch {
	case p.is("class"):
		return p.classDecl(mods)
	case p.is("interface") || p.is("enum") || p.is("record"):
		p.fail("unsupported declaration: %s", p.peek().text)
	}

	if n, ok := p.attempt(func() model.Node { return p.methodDecl(mods, true) }); ok {
		return n
	}

	if n, ok := p.attempt(func() model.Node { return p.methodDecl(mods, false) }); ok {
		return n
	}

	if len(mods) == 1 && (p.peek().kind == tokEOF || p.is(";")) {
		p.accept(";")
		return mods[0]
	}

	p.fail("not a declaration")

	return nil
}

func (p *parser) classDecl(mods []model.Annotation) model.Node {
	p.expect("class")

	c := model.ClassDeclaration{Name: p.name(), Modifiers: mods}

	if p.accept("extends") {
		ext := p.typeName()
		c.Extends = &ext
	}

	if p.accept("implements") {
		c.Implements = append(c.Implements, p.typeName())
		for p.accept(",") {
			c.Implements = append(c.Implements, p.typeName())
		}
	}

	if p.is("{") {
		c.Body = p.block()
	} else {
		c.Body = model.Ellipsis{}
	}

	return c
}

func (p *parser) methodDecl(mods []model.Annotation, withReturnType bool) model.Node {
	m := model.MethodDeclaration{Modifiers: mods}

	if withReturnType {
		rt := p.typeName()
		m.ReturnType = &rt
	}

	m.Name = p.name()
	m.Args = p.formalParameters()

	if p.accept("throws") {
		p.typeName()
		for p.accept(",") {
			p.typeName()
		}
	}

	if !p.is("{") {
		p.fail("method declaration without body")
	}

	m.Body = p.block()

	return m
}

func (p *parser) formalParameters() model.Args {
	p.expect("(")

	var params []model.Node

	for !p.accept(")") {
		switch {
		case p.peek().kind == tokEllipsis:
			p.next()

			params = append(params, model.Ellipsis{})
		case p.peek().kind == tokMetavar && (p.peekAt(1).text == "," || p.peekAt(1).text == ")"):
			params = append(params, model.Metavar{Name: p.next().text})
		default:
			mods := p.annotations()
			typ := p.typeName()
			params = append(params, model.FormalArgument{Name: p.name(), Type: typ, Modifiers: mods})
		}

		if !p.is(")") {
			p.expect(",")
		}
	}

	return model.MakeArgs(params...)
}

// localVariable parses `Type a = x, b;` into assignments.
func (p *parser) localVariable() model.Node {
	p.annotations()

	var typ *model.TypeName

	if !p.accept("var") {
		tn := p.typeName()
		typ = &tn
	}

	var decls []model.Node

	for {
		variable := p.variable()

		var value model.Node
		if p.accept("=") {
			value = p.expression()
		}

		decls = append(decls, model.VariableAssignment{Type: typ, Variable: variable, Value: value})

		if !p.accept(",") {
			break
		}
	}

	p.endStatement()

	return model.MakeSequence(decls)
}

func (p *parser) variable() model.Node {
	t := p.next()

	switch t.kind {
	case tokMetavar:
		return model.Metavar{Name: t.text}
	case tokIdent:
		return model.Identifier{Name: t.text}
	}

	p.failAt(t, "expected variable name, got %s", t)

	return nil
}

func (p *parser) expression() model.Node {
	lhs := p.additive()

	switch {
	case p.accept("="):
		return model.VariableAssignment{Variable: lhs, Value: p.expression()}
	case p.accept("+="):
		return model.VariableAssignment{Variable: lhs, Value: model.AddExpr{Left: lhs, Right: p.expression()}}
	}

	t := p.peek()
	if t.kind == tokPunct && isUnsupportedOperator(t.text) {
		p.fail("unsupported operator %s", t)
	}

	return lhs
}

func isUnsupportedOperator(op string) bool {
	switch op {
	case "-", "*", "/", "%", "==", "!=", "<", ">", "<=", ">=", "&&", "||", "&", "|", "^", "?",
		"-=", "*=", "/=", "&=", "|=", "^=", "%=", "<<=", ">>=", ">>>=", "->", "::", "++", "--":
		return true
	}

	return false
}

func (p *parser) additive() model.Node {
	lhs := p.postfix()

	for p.accept("+") {
		lhs = model.AddExpr{Left: lhs, Right: p.postfix()}
	}

	return lhs
}

func (p *parser) postfix() model.Node {
	expr := p.primary()

	for {
		switch {
		case p.is("."):
			p.next()

			if p.peek().kind == tokEllipsis {
				p.next()

				expr = model.EllipsisMethodInvocations{Object: expr}

				continue
			}

			if p.is("<") {
				p.fail("explicit generic invocations are not supported")
			}

			name := p.name()
			if p.is("(") {
				expr = model.MethodInvocation{Method: name, Object: expr, Args: p.arguments()}
			} else {
				expr = model.FieldAccess{Field: name, Object: expr}
			}
		case p.is("["):
			p.next()

			index := p.expression()
			p.expect("]")

			expr = model.ArrayAccess{Object: expr, Index: index}
		default:
			return expr
		}
	}
}

func (p *parser) arguments() model.Args {
	p.expect("(")

	var args []model.Node

	for !p.accept(")") {
		args = append(args, p.expression())

		if !p.is(")") {
			p.expect(",")
		}
	}

	return model.MakeArgs(args...)
}

func (p *parser) primary() model.Node {
	t := p.peek()

	switch t.kind {
	case tokEllipsis:
		p.next()
		return model.Ellipsis{}
	case tokEllipsisMetavar:
		p.next()
		return model.EllipsisMetavar{Name: t.text}
	case tokDeepOpen:
		p.next()

		expr := p.expression()
		if p.peek().kind != tokDeepClose {
			p.fail("expected ...>, got %s", p.peek())
		}

		p.next()

		return model.DeepExpr{Expr: expr}
	case tokString:
		p.next()
		return stringLiteral(t.text)
	case tokInt:
		p.next()
		return model.IntLiteral{Value: t.text}
	case tokChar:
		p.fail("char literals are not supported")
	case tokMetavar:
		p.next()

		if p.is("(") {
			return model.MethodInvocation{Method: model.MetavarName{Value: t.text}, Args: p.arguments()}
		}

		return model.Metavar{Name: t.text}
	case tokIdent:
		return p.identifierPrimary()
	case tokPunct:
		if t.text == "(" {
			return p.parenthesized()
		}
	}

	p.fail("unexpected %s", t)

	return nil
}

func stringLiteral(text string) model.Node {
	if text == "..." {
		return model.StringEllipsis{}
	}

	if strings.HasPrefix(text, "$") && len(text) > 1 && !strings.ContainsAny(text, " .") {
		return model.StringLiteral{Content: model.MetavarName{Value: text}}
	}

	return model.StringLiteral{Content: model.ConcreteName{Value: text}}
}

func (p *parser) identifierPrimary() model.Node {
	t := p.next()

	switch t.text {
	case "this":
		return model.This{}
	case "null":
		return model.NullLiteral{}
	case "true":
		return model.BoolLiteral{Value: true}
	case "false":
		return model.BoolLiteral{Value: false}
	case "super":
		if !p.is(".") {
			p.failAt(t, "bare super is not supported")
		}

		p.next()

		name := p.name()
		if p.is("(") {
			p.failAt(t, "super invocations are not supported")
		}

		return model.FieldAccess{Field: name}
	case "new":
		typ := p.typeName()
		if p.is("[") {
			p.fail("array creation is not supported")
		}

		args := p.arguments()
		if p.is("{") {
			p.fail("anonymous classes are not supported")
		}

		return model.ObjectCreation{Type: typ, Args: args}
	}

	if controlFlowKeywords[t.text] {
		p.failAt(t, "control flow statements are not supported: %s", t.text)
	}

	if p.is("(") {
		return model.MethodInvocation{Method: model.ConcreteName{Value: t.text}, Args: p.arguments()}
	}

	return model.Identifier{Name: t.text}
}

// parenthesized parses `(Type $X)` typed metavariables and grouping.
func (p *parser) parenthesized() model.Node {
	if n, ok := p.attempt(func() model.Node {
		p.expect("(")

		typ := p.typeName()

		mv := p.next()
		if mv.kind != tokMetavar {
			p.failAt(mv, "expected metavariable")
		}

		p.expect(")")

		return model.TypedMetavar{Name: mv.text, Type: typ}
	}); ok {
		return n
	}

	p.expect("(")

	expr := p.expression()
	p.expect(")")

	if k := p.peek().kind; k == tokIdent || k == tokMetavar || k == tokString || k == tokInt {
		p.fail("cast expressions are not supported")
	}

	return expr
}
