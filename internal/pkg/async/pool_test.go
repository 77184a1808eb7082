package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecute(t *testing.T) {
	var calls atomic.Int32
	task := func(n int) func(context.Context) (int, error) {
		return func(context.Context) (int, error) {
			calls.Add(1)
			return n * 10, nil
		}
	}

	pool := NewPool[int](2)
	results := pool.Execute(context.Background(), []Task[int]{
		{Name: "a", Execute: task(1)},
		{Name: "b", Execute: task(2)},
		{Name: "c", Execute: task(3)},
		{Name: "fail", Execute: func(context.Context) (int, error) { return 0, errors.New("nope") }},
		{Name: "panic", Execute: func(context.Context) (int, error) { panic("boom") }},
	})

	require.Len(t, results, 5)
	assert.Equal(t, 10, results["a"].Data)
	assert.Equal(t, 20, results["b"].Data)
	assert.Equal(t, 30, results["c"].Data)
	assert.EqualError(t, results["fail"].Err, "nope")
	assert.ErrorContains(t, results["panic"].Err, "panicked")
	assert.Equal(t, int32(3), calls.Load())
}

func TestPoolCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewPool[string](1).Execute(ctx, []Task[string]{
		{Name: "x", Execute: func(context.Context) (string, error) { return "ran", nil }},
	})

	require.Contains(t, results, "x")
	assert.ErrorIs(t, results["x"].Err, context.Canceled)
	assert.Empty(t, results["x"].Data)
}
