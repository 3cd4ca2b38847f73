package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissAndSet(t *testing.T) {
	c := New[string, int](4, time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestExpiry(t *testing.T) {
	c := New[string, int](4, 10*time.Millisecond)
	c.Set("a", 1)
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestGetOrComputeCachesOnce(t *testing.T) {
	c := New[string, int](4, time.Minute)
	calls := 0
	compute := func() (int, error) {
		calls++
		return 42, nil
	}

	v, err := c.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v2, err := c.GetOrCompute("k", compute)
	require.NoError(t, err)
	assert.Equal(t, 42, v2)
	assert.Equal(t, 1, calls)
}

func TestGetOrComputeDoesNotCacheError(t *testing.T) {
	c := New[string, int](4, time.Minute)
	_, err := c.GetOrCompute("k", func() (int, error) {
		return 0, errors.New("boom")
	})
	assert.Error(t, err)
	_, ok := c.Get("k")
	assert.False(t, ok)
}
