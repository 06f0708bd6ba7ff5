package workqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]("test")

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New[string]("test")

	got := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push("job"))

	select {
	case v := <-got:
		assert.Equal(t, "job", v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := New[int]("test")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_ConcurrentPushKeepsEveryItem(t *testing.T) {
	q := New[int]("test")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Push(i)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < 50; i++ {
		v, err := q.Pop(context.Background())
		require.NoError(t, err)
		seen[v] = true
	}
	assert.Len(t, seen, 50)
}

func TestQueue_CloseReturnsRemaining(t *testing.T) {
	q := New[string]("test")
	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Push("b"))

	remaining := q.Close()
	assert.Equal(t, []string{"a", "b"}, remaining)
	assert.Nil(t, q.Close())

	assert.ErrorIs(t, q.Push("c"), ErrClosed)
	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_CloseWakesBlockedPop(t *testing.T) {
	q := New[int]("test")

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop not released by Close")
	}
}

func TestQueue_Events(t *testing.T) {
	q := New[int]("chatgpt")

	var mu sync.Mutex
	var events []Event
	record := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	q.On(EventEnqueued, record)
	q.On(EventDequeued, record)

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	_, err := q.Pop(context.Background())
	require.NoError(t, err)

	mu.Lock()
	got := append([]Event(nil), events...)
	events = nil
	mu.Unlock()

	require.Len(t, got, 3)
	assert.Equal(t, EventEnqueued, got[0].Type)
	assert.Equal(t, 1, got[0].Depth)
	assert.Equal(t, 2, got[1].Depth)
	assert.Equal(t, EventDequeued, got[2].Type)
	assert.Equal(t, 1, got[2].Depth)
	assert.Equal(t, "chatgpt", got[2].Name)

	q.Off(EventEnqueued)
	require.NoError(t, q.Push(3))

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, events)
}
