package formation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task kinds processed by the worker.
const (
	TaskFormEvent    = "form_event"
	TaskInferContext = "infer_context"
)

const (
	defaultQueueSize = 64
	maxAttempts      = 3
	retryBackoff     = 2 * time.Second
)

// Task is one unit of background work tied to a memory. Delivery is
// at-least-once; handlers must be idempotent.
type Task struct {
	ID       string
	Kind     string
	MemoryID int64
	Attempts int
}

// Handler processes one task kind.
type Handler func(ctx context.Context, memoryID int64) error

// Worker runs background tasks off a bounded in-process queue.
type Worker struct {
	tasks    chan Task
	handlers map[string]Handler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker creates a worker with no registered handlers.
func NewWorker() *Worker {
	return &Worker{
		tasks:    make(chan Task, defaultQueueSize),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task kind. Must be called before Start.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Start launches the processing loop. Safe to call once.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx)
}

// Stop shuts the loop down and waits for the in-flight task to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.started = false
	w.cancel()
	<-w.done
}

// Enqueue queues a task for a memory. Returns the task ID, or "" when the
// queue is full (the caller may retry later; nothing is lost from the store).
func (w *Worker) Enqueue(kind string, memoryID int64) string {
	t := Task{ID: uuid.NewString(), Kind: kind, MemoryID: memoryID}
	select {
	case w.tasks <- t:
		return t.ID
	default:
		log.Printf("task queue full, dropping %s for memory %d", kind, memoryID)
		return ""
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.tasks:
			w.process(ctx, t)
		}
	}
}

func (w *Worker) process(ctx context.Context, t Task) {
	h, ok := w.handlers[t.Kind]
	if !ok {
		log.Printf("task %s: no handler for kind %q", t.ID, t.Kind)
		return
	}

	t.Attempts++
	err := h(ctx, t.MemoryID)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	if t.Attempts >= maxAttempts {
		log.Printf("task %s (%s, memory %d) failed after %d attempts: %v",
			t.ID, t.Kind, t.MemoryID, t.Attempts, err)
		return
	}

	log.Printf("task %s (%s, memory %d) attempt %d failed, retrying: %v",
		t.ID, t.Kind, t.MemoryID, t.Attempts, err)

	select {
	case <-ctx.Done():
	case <-time.After(retryBackoff * time.Duration(t.Attempts)):
		select {
		case w.tasks <- t:
		default:
			log.Printf("task %s: queue full on retry, dropping", t.ID)
		}
	}
}
