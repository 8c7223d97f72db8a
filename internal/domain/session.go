package domain

import (
	"sync"

	"github.com/google/uuid"

	"semtaint.dev/pkg/semtaint/internal/adapter"
	"semtaint.dev/pkg/semtaint/internal/domain/actions"
	"semtaint.dev/pkg/semtaint/internal/model"
)

// Session is the state shared by every worker of one compile run. Patterns
// repeated across rules are parsed and linearized once.
type Session struct {
	ID string

	parser   adapter.PatternParser
	patterns sync.Map // pattern text -> parsedPattern
	lists    sync.Map // node key -> builtList

	// The builder numbers artificial metavariables, so it is not shared
	// concurrently.
	mu      sync.Mutex
	builder *actions.Builder
}

type parsedPattern struct {
	node model.Node
	err  error
}

type builtList struct {
	list model.ActionList
	err  error
}

// NewSession starts a session with a fresh id.
func NewSession(parser adapter.PatternParser) *Session {
	return &Session{
		ID:      uuid.NewString(),
		parser:  parser,
		builder: actions.NewBuilder(),
	}
}

// Parse returns the AST of a pattern text. Failures are cached too.
func (s *Session) Parse(text string) (model.Node, error) {
	if v, ok := s.patterns.Load(text); ok {
		p := v.(parsedPattern)
		return p.node, p.err
	}

	node, err := s.parser.Parse(text)
	v, _ := s.patterns.LoadOrStore(text, parsedPattern{node: node, err: err})
	p := v.(parsedPattern)

	return p.node, p.err
}

// ActionList linearizes a rewritten pattern.
func (s *Session) ActionList(n model.Node) (model.ActionList, error) {
	key := model.NodeKey(n)
	if v, ok := s.lists.Load(key); ok {
		b := v.(builtList)
		return b.list, b.err
	}

	s.mu.Lock()
	list, err := s.builder.Build(n)
	s.mu.Unlock()

	v, _ := s.lists.LoadOrStore(key, builtList{list: list, err: err})
	b := v.(builtList)

	return b.list, b.err
}

// ActionListFailures returns how often each linearization failure reason
// was hit.
func (s *Session) ActionListFailures() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.builder.Failures()
}
