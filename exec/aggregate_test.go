package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jobala/pysqlite/record"
)

func TestAggState(t *testing.T) {
	t.Run("count star counts every row including nulls", func(t *testing.T) {
		state := &aggState{fn: "COUNT"}

		assert.NoError(t, state.update(true, record.Value{}))
		assert.NoError(t, state.update(true, record.Value{}))
		assert.Equal(t, record.Int(2), state.final())
	})

	t.Run("count of a column skips nulls", func(t *testing.T) {
		state := &aggState{fn: "COUNT"}

		assert.NoError(t, state.update(false, record.Int(1)))
		assert.NoError(t, state.update(false, record.Null()))
		assert.NoError(t, state.update(false, record.Int(3)))
		assert.Equal(t, record.Int(2), state.final())
	})

	t.Run("avg is fractional and skips nulls", func(t *testing.T) {
		state := &aggState{fn: "AVG"}

		assert.NoError(t, state.update(false, record.Int(1)))
		assert.NoError(t, state.update(false, record.Null()))
		assert.NoError(t, state.update(false, record.Int(2)))
		assert.Equal(t, record.Float(1.5), state.final())
	})

	t.Run("avg of zero non-null rows is null", func(t *testing.T) {
		state := &aggState{fn: "AVG"}

		assert.NoError(t, state.update(false, record.Null()))
		assert.Equal(t, record.Null(), state.final())
	})

	t.Run("sum stays integral", func(t *testing.T) {
		state := &aggState{fn: "SUM"}

		assert.NoError(t, state.update(false, record.Int(2)))
		assert.NoError(t, state.update(false, record.Int(3)))
		assert.Equal(t, record.Int(5), state.final())
	})

	t.Run("sum over strings is a type error", func(t *testing.T) {
		state := &aggState{fn: "SUM"}
		assert.Error(t, state.update(false, record.Str("oops")))
	})

	t.Run("min and max track extremes", func(t *testing.T) {
		minState := &aggState{fn: "MIN"}
		maxState := &aggState{fn: "MAX"}

		for _, v := range []record.Value{record.Int(5), record.Int(1), record.Null(), record.Int(9)} {
			assert.NoError(t, minState.update(false, v))
			assert.NoError(t, maxState.update(false, v))
		}

		assert.Equal(t, record.Int(1), minState.final())
		assert.Equal(t, record.Int(9), maxState.final())
	})
}
