package coalesce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoTypedDedupesConcurrentCalls(t *testing.T) {
	var g Group
	var calls int64
	start := make(chan struct{})

	fn := func() (int, error) {
		atomic.AddInt64(&calls, 1)
		<-start
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := DoTyped(&g, "key", fn)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, calls)
	for _, r := range results {
		assert.Equal(t, 7, r)
	}
}

func TestDoTypedRunsAgainAfterCompletion(t *testing.T) {
	var g Group
	var calls int64
	fn := func() (int, error) {
		atomic.AddInt64(&calls, 1)
		return int(calls), nil
	}

	v1, err := DoTyped(&g, "key", fn)
	require.NoError(t, err)
	v2, err := DoTyped(&g, "key", fn)
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}
