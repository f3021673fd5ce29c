package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := Every(time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("AAPL"))
	assert.False(t, l.Allow("AAPL"))
	assert.True(t, l.Allow("MSFT"), "keys are independent")

	now = now.Add(30 * time.Second)
	assert.False(t, l.Allow("AAPL"))

	now = now.Add(31 * time.Second)
	assert.True(t, l.Allow("AAPL"))
}

func TestLimiterForget(t *testing.T) {
	l := New(1, 0)
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
	l.Forget("k")
	assert.True(t, l.Allow("k"))
}
