package pkg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spilledRule struct {
	RuleSet  string
	ID       string
	Errors   int
	Children []spilledRule
	Note     *string
}

func TestFileSpill(t *testing.T) {
	t.Run("NewFileSpill creates file in dir", func(t *testing.T) {
		dir := t.TempDir()

		spill, err := NewFileSpill[int](dir)
		require.NoError(t, err)
		defer spill.Remove()

		assert.Equal(t, dir, filepath.Dir(spill.Path()))
		assert.FileExists(t, spill.Path())
	})

	t.Run("NewFileSpill defaults to temp dir", func(t *testing.T) {
		spill, err := NewFileSpill[int]("")
		require.NoError(t, err)
		defer spill.Remove()

		assert.Equal(t, filepath.Clean(os.TempDir()), filepath.Dir(spill.Path()))
	})

	t.Run("Append and Get", func(t *testing.T) {
		spill, err := NewFileSpill[string](t.TempDir())
		require.NoError(t, err)
		defer spill.Close()

		require.NoError(t, spill.Append("first"))
		require.NoError(t, spill.Append("second"))

		val, err := spill.Get(0)
		require.NoError(t, err)
		assert.Equal(t, "first", val)

		val, err = spill.Get(1)
		require.NoError(t, err)
		assert.Equal(t, "second", val)

		val, err = spill.Get(3)
		require.Error(t, err)
		assert.Empty(t, val)
	})

	t.Run("Len tracks appends", func(t *testing.T) {
		spill, err := NewFileSpill[int](t.TempDir())
		require.NoError(t, err)
		defer spill.Close()

		assert.Equal(t, uint64(0), spill.Len())

		require.NoError(t, spill.AppendBatch([]int{10, 20, 30}))
		assert.Equal(t, uint64(3), spill.Len())

		val, err := spill.Get(2)
		require.NoError(t, err)
		assert.Equal(t, 30, val)
	})

	t.Run("Range iterates in order", func(t *testing.T) {
		spill, err := NewFileSpill[int](t.TempDir())
		require.NoError(t, err)
		defer spill.Close()

		expected := []int{100, 200, 300}
		require.NoError(t, spill.AppendBatch(expected))

		var collected []int
		err = spill.Range(func(_ uint64, item int) error {
			collected = append(collected, item)
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, expected, collected)
	})

	t.Run("Range stops on callback error", func(t *testing.T) {
		spill, err := NewFileSpill[int](t.TempDir())
		require.NoError(t, err)
		defer spill.Close()

		require.NoError(t, spill.AppendBatch([]int{1, 2, 3}))

		stop := errors.New("stop")
		count := 0
		err = spill.Range(func(index uint64, _ int) error {
			count++
			if index == 1 {
				return stop
			}

			return nil
		})

		require.ErrorIs(t, err, stop)
		assert.Equal(t, 2, count)
	})

	t.Run("Range on empty spill", func(t *testing.T) {
		spill, err := NewFileSpill[int](t.TempDir())
		require.NoError(t, err)
		defer spill.Close()

		called := false
		require.NoError(t, spill.Range(func(uint64, int) error {
			called = true
			return nil
		}))
		assert.False(t, called)

		_, err = spill.Get(0)
		require.Error(t, err)
	})

	t.Run("Range does not leak fields between items", func(t *testing.T) {
		spill, err := NewFileSpill[spilledRule](t.TempDir())
		require.NoError(t, err)
		defer spill.Close()

		note := "skipped"
		items := []spilledRule{
			{RuleSet: "java.a", ID: "r1", Errors: 2, Note: &note, Children: []spilledRule{{ID: "c"}}},
			{RuleSet: "java.a", ID: "r2"},
		}
		require.NoError(t, spill.AppendBatch(items))

		var collected []spilledRule
		require.NoError(t, spill.Range(func(_ uint64, item spilledRule) error {
			collected = append(collected, item)
			return nil
		}))

		assert.Equal(t, items, collected)

		second, err := spill.Get(1)
		require.NoError(t, err)
		assert.Equal(t, items[1], second)
	})

	t.Run("items readable after Close", func(t *testing.T) {
		spill, err := NewFileSpill[int](t.TempDir())
		require.NoError(t, err)

		require.NoError(t, spill.Append(1))
		require.NoError(t, spill.Close())
		require.NoError(t, spill.Close())

		val, err := spill.Get(0)
		require.NoError(t, err)
		assert.Equal(t, 1, val)

		require.Error(t, spill.Append(2))
	})

	t.Run("Remove deletes the file", func(t *testing.T) {
		spill, err := NewFileSpill[int](t.TempDir())
		require.NoError(t, err)

		require.NoError(t, spill.Append(1))
		require.NoError(t, spill.Remove())

		assert.NoFileExists(t, spill.Path())
		assert.Equal(t, uint64(0), spill.Len())
		require.NoError(t, spill.Remove())
	})
}
