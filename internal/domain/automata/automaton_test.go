package automata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semtaint.dev/pkg/semtaint/internal/domain/formula"
	"semtaint.dev/pkg/semtaint/internal/model"
)

func call(name string) model.MethodCall {
	return model.MethodCall{
		Method:         model.ConcreteSignatureName(name),
		Params:         model.PartialParams{},
		EnclosingClass: model.AnyTypeName,
	}
}

func signature(name string) model.MethodSignature {
	return model.MethodSignature{Method: model.ConcreteSignatureName(name)}
}

func actions(list ...model.Action) model.ActionList {
	return model.ActionList{Actions: list}
}

func countKind(a *Automaton, id int, kind EdgeKind) int {
	n := 0

	for _, e := range a.Nodes[id].Edges {
		if e.Type.Kind == kind {
			n++
		}
	}

	return n
}

func TestFromActionList(t *testing.T) {
	t.Run("two calls without ellipsis", func(t *testing.T) {
		a := FromActionList(formula.NewManager(), actions(call("foo"), call("bar")))

		require.True(t, a.Deterministic)
		assert.False(t, a.HasMethodEnter)

		root := a.Root()
		require.Len(t, a.Nodes[root].Edges, 1, "no loop before the first call")

		middle := a.Nodes[root].Edges[0].To
		assert.Len(t, a.Nodes[middle].Edges, 2, "complement loop and next call")

		last := -1
		for _, e := range a.Nodes[middle].Edges {
			if e.To != middle {
				last = e.To
			}
		}

		require.NotEqual(t, -1, last)
		assert.True(t, a.Nodes[last].Accept)
		assert.Len(t, a.Nodes[last].Edges, 2, "repeat loop and back edge")
	})

	t.Run("leading and trailing ellipsis", func(t *testing.T) {
		list := actions(call("foo"))
		list.EllipsisAtStart = true
		list.EllipsisAtEnd = true

		a := FromActionList(formula.NewManager(), list)

		root := a.Root()
		assert.Len(t, a.Nodes[root].Edges, 2)

		var accept int
		for _, e := range a.Nodes[root].Edges {
			if e.To != root {
				accept = e.To
			}
		}

		require.True(t, a.Nodes[accept].Accept)
		require.Len(t, a.Nodes[accept].Edges, 1)
		assert.Equal(t, formula.True, a.Nodes[accept].Edges[0].Type.Formula)
	})

	t.Run("method signature becomes an enter edge", func(t *testing.T) {
		a := FromActionList(formula.NewManager(), actions(signature("handler"), call("sink")))

		assert.True(t, a.HasMethodEnter)
		assert.Equal(t, 1, countKind(a, a.Root(), MethodEnter))
		assert.Equal(t, 0, countKind(a, a.Root(), MethodCall))
	})

	t.Run("signature after leading ellipsis panics", func(t *testing.T) {
		list := actions(signature("handler"))
		list.EllipsisAtStart = true

		assert.Panics(t, func() { FromActionList(formula.NewManager(), list) })
	})
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("rule without patterns", func(t *testing.T) {
		_, err := Build(ctx, model.ActionListRule{}, model.MetavarInfo{}, time.Second)
		require.ErrorIs(t, err, ErrNoPattern)
	})

	t.Run("single call", func(t *testing.T) {
		rule := model.ActionListRule{Patterns: []model.ActionList{actions(call("foo"))}}

		a, err := Build(ctx, rule, model.MetavarInfo{}, time.Second)
		require.NoError(t, err)

		assert.True(t, a.Deterministic)
		assert.True(t, a.ContainsAccept())

		hasDeadEdge := false
		for _, e := range a.Nodes[a.Root()].Edges {
			if e.To == a.Dead {
				hasDeadEdge = true
			}
		}

		assert.True(t, hasDeadEdge, "root must be totalized")
	})

	t.Run("pattern excluded by an identical pattern-not", func(t *testing.T) {
		rule := model.ActionListRule{
			Patterns: []model.ActionList{actions(call("foo"))},
			Nots:     []model.ActionList{actions(call("foo"))},
		}

		a, err := Build(ctx, rule, model.MetavarInfo{}, time.Second)
		require.NoError(t, err)
		assert.False(t, a.ContainsAccept())
	})

	t.Run("unrelated pattern-not keeps the match", func(t *testing.T) {
		rule := model.ActionListRule{
			Patterns: []model.ActionList{actions(call("foo"))},
			Nots:     []model.ActionList{actions(call("bar"))},
		}

		a, err := Build(ctx, rule, model.MetavarInfo{}, time.Second)
		require.NoError(t, err)
		assert.True(t, a.ContainsAccept())
	})

	t.Run("conflicting positive patterns", func(t *testing.T) {
		rule := model.ActionListRule{
			Patterns: []model.ActionList{actions(call("foo")), actions(call("bar"))},
		}

		a, err := Build(ctx, rule, model.MetavarInfo{}, time.Second)
		require.NoError(t, err)
		assert.False(t, a.ContainsAccept())
	})

	t.Run("method signature keeps enter edges", func(t *testing.T) {
		rule := model.ActionListRule{
			Patterns: []model.ActionList{actions(signature("handler"), call("sink"))},
		}

		a, err := Build(ctx, rule, model.MetavarInfo{}, time.Second)
		require.NoError(t, err)

		assert.True(t, a.HasMethodEnter)
		assert.True(t, a.ContainsAccept())
		assert.Positive(t, countKind(a, a.Root(), MethodEnter))
	})

	t.Run("pattern inside", func(t *testing.T) {
		inside := actions(call("open"))
		inside.EllipsisAtEnd = true

		rule := model.ActionListRule{
			Patterns: []model.ActionList{actions(call("read"))},
			Insides:  []model.ActionList{inside},
		}

		a, err := Build(ctx, rule, model.MetavarInfo{}, time.Second)
		require.NoError(t, err)
		assert.True(t, a.ContainsAccept())

		for _, id := range a.Reachable() {
			assert.Zero(t, countKind(a, id, PatternStart))
			assert.Zero(t, countKind(a, id, PatternEnd))
		}
	})
}

func TestOperations(t *testing.T) {
	t.Run("reverse swaps initial and accept", func(t *testing.T) {
		a := FromActionList(formula.NewManager(), actions(call("foo")))
		r := a.reverse()

		assert.False(t, r.Deterministic)
		require.Len(t, r.Initial, 1)
		assert.True(t, r.ContainsAccept())
	})

	t.Run("addEndEdges moves acceptance", func(t *testing.T) {
		a := FromActionList(formula.NewManager(), actions(call("foo")))
		a.addEndEdges()

		assert.True(t, a.HasEndEdges)

		for _, id := range a.Reachable() {
			assert.Equal(t, 1, countKind(a, id, End), "node %d", id)
		}
	})

	t.Run("withDummyMethodEnter leaves the source untouched", func(t *testing.T) {
		a := FromActionList(formula.NewManager(), actions(call("foo")))
		nodes := len(a.Nodes)

		w := a.withDummyMethodEnter()

		assert.Len(t, a.Nodes, nodes)
		assert.True(t, w.HasMethodEnter)
		assert.Equal(t, 1, countKind(w, w.Root(), MethodEnter))
	})

	t.Run("complement of NFA panics", func(t *testing.T) {
		a := FromActionList(formula.NewManager(), actions(call("foo")))
		a.acceptSuffix()

		assert.Panics(t, a.complement)
	})
}
