package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounded_PutGet_FIFO(t *testing.T) {
	q := NewBounded[int](4)
	q.Put(1)
	q.Put(2)
	q.Put(3)
	require.Equal(t, 1, q.Get())
	require.Equal(t, 2, q.Get())
	require.Equal(t, 3, q.Get())
}

func TestBounded_Put_BlocksWhenFull(t *testing.T) {
	q := NewBounded[int](2)
	q.Put(1)
	q.Put(2)

	done := make(chan struct{})
	go func() {
		q.Put(3) // should block until a Get happens
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Put on a full queue returned before room was made")
	case <-time.After(50 * time.Millisecond):
	}

	q.Get()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put did not unblock after Get freed capacity")
	}
}

func TestBounded_JoinBlocksUntilTaskDone(t *testing.T) {
	q := NewBounded[int](4)
	q.Put(1)

	joined := make(chan struct{})
	go func() {
		q.Join()
		close(joined)
	}()

	select {
	case <-joined:
		t.Fatal("Join returned before TaskDone")
	case <-time.After(30 * time.Millisecond):
	}

	q.Get()
	q.TaskDone()

	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("Join did not return after TaskDone")
	}
}

func TestBounded_Len(t *testing.T) {
	q := NewBounded[int](4)
	assert.Equal(t, 0, q.Len())
	q.Put(1)
	q.Put(2)
	assert.Equal(t, 2, q.Len())
	q.Get()
	assert.Equal(t, 1, q.Len())
}

func TestUnbounded_PutGet_FIFO(t *testing.T) {
	q := NewUnbounded[int]()
	q.Put(1)
	q.Put(2)
	require.Equal(t, 1, q.Get())
	require.Equal(t, 2, q.Get())
}

func TestUnbounded_GetBlocksUntilPut(t *testing.T) {
	q := NewUnbounded[int]()
	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	go func() {
		defer wg.Done()
		got = q.Get()
	}()
	time.Sleep(20 * time.Millisecond)
	q.Put(42)
	wg.Wait()
	require.Equal(t, 42, got)
}

func TestUnbounded_NeverBlocksOnPut(t *testing.T) {
	q := NewUnbounded[int]()
	for i := 0; i < 10000; i++ {
		q.Put(i)
	}
	require.Equal(t, 10000, q.Len())
}
