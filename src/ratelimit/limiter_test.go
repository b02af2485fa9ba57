package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFirstRequestAllowed(t *testing.T) {
	l := NewLimiter(time.Second)
	assert.True(t, l.Allow("s1", "orders.place"))
}

func TestSecondRequestWithinIntervalRejected(t *testing.T) {
	l := NewLimiter(time.Second)
	assert.True(t, l.Allow("s1", "orders.place"))
	assert.False(t, l.Allow("s1", "orders.place"))
}

func TestRequestAfterIntervalAllowed(t *testing.T) {
	l := NewLimiter(20 * time.Millisecond)
	assert.True(t, l.Allow("s1", "orders.place"))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.Allow("s1", "orders.place"))
}

func TestSessionsAreIndependent(t *testing.T) {
	l := NewLimiter(time.Second)
	assert.True(t, l.Allow("s1", "orders.place"))
	assert.True(t, l.Allow("s2", "orders.place"))
}

func TestMethodsAreIndependent(t *testing.T) {
	l := NewLimiter(time.Second)
	assert.True(t, l.Allow("s1", "orders.place"))
	assert.True(t, l.Allow("s1", "orders.cancel"))
}

func TestRejectedRequestDoesNotResetWindow(t *testing.T) {
	l := NewLimiter(50 * time.Millisecond)
	assert.True(t, l.Allow("s1", "orders.place"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, l.Allow("s1", "orders.place"))

	// The window counts from the accepted request, not the rejected one
	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.Allow("s1", "orders.place"))
}

func TestZeroIntervalDisablesLimiting(t *testing.T) {
	l := NewLimiter(0)
	assert.True(t, l.Allow("s1", "orders.place"))
	assert.True(t, l.Allow("s1", "orders.place"))
}

func TestForgetClearsSessionState(t *testing.T) {
	l := NewLimiter(time.Minute)
	assert.True(t, l.Allow("s1", "orders.place"))
	l.Forget("s1")
	assert.True(t, l.Allow("s1", "orders.place"))
}
