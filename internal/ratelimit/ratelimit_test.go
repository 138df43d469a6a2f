package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinWindow(t *testing.T) {
	k := New(10, time.Minute)

	for i := 0; i < 10; i++ {
		assert.True(t, k.Allow("client-1"), "request %d should be admitted", i+1)
	}
	assert.False(t, k.Allow("client-1"), "11th request should be rejected")
}

func TestSpreadSubmissionsStillCapped(t *testing.T) {
	k := New(3, 500*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, k.Allow("client-1"), "request %d should be admitted", i+1)
		time.Sleep(100 * time.Millisecond)
	}
	// Paced submissions must not earn extra capacity inside the window.
	assert.False(t, k.Allow("client-1"))
}

func TestClientsAreIndependent(t *testing.T) {
	k := New(1, time.Minute)

	assert.True(t, k.Allow("client-1"))
	assert.False(t, k.Allow("client-1"))
	assert.True(t, k.Allow("client-2"))
}

func TestNextWindowAdmitsFullQuota(t *testing.T) {
	k := New(2, 100*time.Millisecond)

	assert.True(t, k.Allow("client-1"))
	assert.True(t, k.Allow("client-1"))
	assert.False(t, k.Allow("client-1"))

	time.Sleep(120 * time.Millisecond)
	assert.True(t, k.Allow("client-1"))
	assert.True(t, k.Allow("client-1"))
	assert.False(t, k.Allow("client-1"))
}
