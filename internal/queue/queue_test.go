package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueRunsJobsInFIFOOrder(t *testing.T) {
	q := New(8)
	q.Start(context.Background())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)

	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue(Job{Run: func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}})
	}

	wg.Wait()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueueShutdownDrainsAndStops(t *testing.T) {
	q := New(4)
	q.Start(context.Background())

	ran := make(chan struct{}, 1)
	q.Enqueue(Job{Run: func(context.Context) { ran <- struct{}{} }})

	done := make(chan struct{})
	go func() {
		q.Shutdown()
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("queued job never ran before shutdown")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown never returned")
	}
}
