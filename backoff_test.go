package discussions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSquares(t *testing.T) {
	b := newBackoff(backoffBase, backoffMax)

	want := []float64{1.4, 1.96, 3.8416, 14.7579}
	for _, w := range want {
		assert.InDelta(t, w, b.Next().Seconds(), 0.001)
	}
	assert.InDelta(t, 217.80, b.Next().Seconds(), 0.01)
	assert.Equal(t, backoffMax, b.Next())
	assert.Equal(t, backoffMax, b.Next())
}

func TestBackoffReset(t *testing.T) {
	b := newBackoff(backoffBase, backoffMax)
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, backoffBase, b.Next())
}

func TestBackoffSmallBase(t *testing.T) {
	b := newBackoff(10*time.Millisecond, time.Second)
	first := b.Next()
	second := b.Next()
	assert.Equal(t, 10*time.Millisecond, first)
	assert.Greater(t, b.Next(), second)
}
