package workerpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool, err := New(4, zap.NewNop())
	require.NoError(t, err)
	defer pool.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	sum := 0
	for i := 1; i <= 10; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			mu.Lock()
			sum += i
			mu.Unlock()
		}))
	}
	wg.Wait()
	assert.Equal(t, 55, sum)

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	pool, err := New(2, zap.NewNop())
	require.NoError(t, err)
	defer pool.Release()

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, pool.Submit(func() {
		defer wg.Done()
		panic("boom")
	}))
	wg.Wait()

	wg.Add(1)
	ran := false
	require.NoError(t, pool.Submit(func() {
		defer wg.Done()
		ran = true
	}))
	wg.Wait()
	assert.True(t, ran)
}

func TestPoolRejectsAfterRelease(t *testing.T) {
	pool, err := New(2, zap.NewNop())
	require.NoError(t, err)
	pool.Release()

	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolClosed)
}
