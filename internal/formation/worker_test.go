package formation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestWorkerProcessesTasks(t *testing.T) {
	w := NewWorker()

	var mu sync.Mutex
	var seen []int64
	done := make(chan struct{})
	w.Register("test", func(ctx context.Context, memoryID int64) error {
		mu.Lock()
		seen = append(seen, memoryID)
		if len(seen) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	w.Start()
	defer w.Stop()

	for i := int64(1); i <= 3; i++ {
		if id := w.Enqueue("test", i); id == "" {
			t.Fatalf("enqueue %d failed", i)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks not processed in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("processed %d tasks, want 3", len(seen))
	}
}

func TestWorkerRetriesFailedTasks(t *testing.T) {
	w := NewWorker()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	w.Register("flaky", func(ctx context.Context, memoryID int64) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return fmt.Errorf("transient")
		}
		close(done)
		return nil
	})
	w.Start()
	defer w.Stop()

	w.Enqueue("flaky", 1)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("task was not retried")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestWorkerUnknownKindIsDropped(t *testing.T) {
	w := NewWorker()
	w.Start()
	defer w.Stop()

	// Should not panic or block.
	w.Enqueue("unregistered", 1)
	time.Sleep(50 * time.Millisecond)
}

func TestWorkerTaskIDsUnique(t *testing.T) {
	w := NewWorker()
	w.Register("noop", func(ctx context.Context, memoryID int64) error { return nil })

	ids := map[string]bool{}
	for i := 0; i < 10; i++ {
		id := w.Enqueue("noop", int64(i))
		if id == "" {
			t.Fatal("enqueue failed")
		}
		if ids[id] {
			t.Fatalf("duplicate task id %q", id)
		}
		ids[id] = true
	}
}
