package ingestion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSigDedupDetectsRepeat(t *testing.T) {
	d := newSigDedup()
	assert.False(t, d.SeenOrAdd("a"))
	assert.True(t, d.SeenOrAdd("a"))
}

func TestSigDedupEvictsOldestPastCap(t *testing.T) {
	d := newSigDedup()
	d.cap = 10
	d.trim = 5

	for i := 0; i < 11; i++ {
		d.SeenOrAdd(fmt.Sprintf("sig-%d", i))
	}

	assert.Equal(t, 5, d.Len())
	assert.False(t, d.SeenOrAdd("sig-0"), "evicted signature should be re-processable")
	assert.True(t, d.SeenOrAdd("sig-10"), "recent signature should still be tracked")
}
