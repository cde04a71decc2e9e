package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"diffusion-server/internal/domain"
)

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := New(capacity); err == nil {
			t.Fatalf("New(%d) returned no error", capacity)
		}
	}
}

func TestTryEnqueueFailsFastWhenFull(t *testing.T) {
	q, err := New(1)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := q.TryEnqueue(uuid.New()); err != nil {
		t.Fatalf("first TryEnqueue returned error: %v", err)
	}
	if err := q.TryEnqueue(uuid.New()); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("second TryEnqueue: error = %v, want ErrQueueFull", err)
	}
	if q.Depth() != 1 {
		t.Fatalf("Depth = %d, want 1", q.Depth())
	}
}

func TestDequeuePreservesFIFO(t *testing.T) {
	q, _ := New(8)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := q.TryEnqueue(id); err != nil {
			t.Fatalf("TryEnqueue returned error: %v", err)
		}
	}
	for i, want := range ids {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d reported stopped queue", i)
		}
		if got != want {
			t.Fatalf("Dequeue %d = %s, want %s", i, got, want)
		}
	}
}

func TestConcurrentAdmissionNeverExceedsCapacity(t *testing.T) {
	const capacity = 10
	q, _ := New(capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var accepted, rejected int
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.TryEnqueue(uuid.New())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrQueueFull):
				rejected++
			default:
				t.Errorf("TryEnqueue returned unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != capacity {
		t.Fatalf("accepted = %d, want %d", accepted, capacity)
	}
	if rejected != 100-capacity {
		t.Fatalf("rejected = %d, want %d", rejected, 100-capacity)
	}
	if q.Depth() != capacity {
		t.Fatalf("Depth = %d, want %d", q.Depth(), capacity)
	}
}

func TestStopWakesBlockedDequeue(t *testing.T) {
	q, _ := New(1)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Stop()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Dequeue returned an id after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue still blocked after Stop")
	}
}

func TestStopBeatsBufferedWork(t *testing.T) {
	q, _ := New(4)
	for i := 0; i < 3; i++ {
		_ = q.TryEnqueue(uuid.New())
	}
	q.Stop()

	if _, ok := q.Dequeue(); ok {
		t.Fatal("Dequeue returned an id from a stopped queue")
	}
	if err := q.TryEnqueue(uuid.New()); !errors.Is(err, domain.ErrQueueClosed) {
		t.Fatalf("TryEnqueue after Stop: error = %v, want ErrQueueClosed", err)
	}
	// Buffered ids are abandoned here; their records stay queued in the store.
	if q.Depth() != 3 {
		t.Fatalf("Depth = %d, want 3", q.Depth())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	q, _ := New(1)
	q.Stop()
	q.Stop()
}
