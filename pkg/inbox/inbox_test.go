package inbox_test

import (
	"testing"
	"time"

	"github.com/caster-hub/validator-core/pkg/inbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	b := inbox.New[int]()
	b.Put(1)
	b.Put(2)
	b.Put(3)

	v, ok := b.Next()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = b.Next()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestNextOnEmptyDoesNotBlock(t *testing.T) {
	b := inbox.New[string]()
	done := make(chan struct{})
	go func() {
		_, ok := b.Next()
		assert.False(t, ok)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next() blocked on empty inbox")
	}
}

func TestGetWakesOnPut(t *testing.T) {
	b := inbox.New[string]()
	result := make(chan string, 1)
	go func() {
		v, ok := b.Get(5*time.Second, nil)
		if ok {
			result <- v
		}
	}()
	time.Sleep(20 * time.Millisecond)
	b.Put("hello")

	select {
	case v := <-result:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake on Put")
	}
}

func TestGetZeroTimeoutOnEmptyDoesNotBlock(t *testing.T) {
	b := inbox.New[string]()
	done := make(chan struct{})
	go func() {
		_, ok := b.Get(0, nil)
		assert.False(t, ok)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get(timeout=0) blocked on empty inbox")
	}
}

func TestGetTimesOut(t *testing.T) {
	b := inbox.New[string]()
	start := time.Now()
	_, ok := b.Get(50*time.Millisecond, nil)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestGetWakesOnStopSignal(t *testing.T) {
	b := inbox.New[string]()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, ok := b.Get(5*time.Second, stop)
		assert.False(t, ok)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get did not wake on stop signal")
	}
}

func TestWakeReleasesWaitersWithoutEnqueueing(t *testing.T) {
	b := inbox.New[string]()
	done := make(chan struct{})
	go func() {
		_, ok := b.Get(5*time.Second, nil)
		assert.False(t, ok)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	b.Wake()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake did not release waiter")
	}
}
