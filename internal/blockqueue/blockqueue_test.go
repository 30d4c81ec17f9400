package blockqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushPopOrderPerSide(t *testing.T) {
	d := New[int](4)
	for i := 0; i < 4; i++ {
		d.PushBack(i)
	}
	for i := 0; i < 4; i++ {
		v, ok := d.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestPushBackBlocksWhileFull(t *testing.T) {
	d := New[int](1)
	d.PushBack(1)

	done := make(chan struct{})
	go func() {
		d.PushBack(2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("PushBack should have blocked while full")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := d.Pop()
	require.True(t, ok)
	require.Equal(t, 1, v)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PushBack did not unblock after Pop freed capacity")
	}
}

func TestCloseUnblocksAllWaiters(t *testing.T) {
	d := New[int](1)
	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := d.Pop()
			results[i] = ok
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	d.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock all waiters in time")
	}
	for _, ok := range results {
		require.False(t, ok)
	}
}

func TestPopTimeoutExpires(t *testing.T) {
	d := New[int](1)
	start := time.Now()
	_, ok := d.PopTimeout(30 * time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPopTimeoutReceivesBeforeDeadline(t *testing.T) {
	d := New[int](1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		d.PushBack(42)
	}()
	v, ok := d.PopTimeout(time.Second)
	require.True(t, ok)
	require.Equal(t, 42, v)
}
