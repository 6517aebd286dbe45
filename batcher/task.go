package batcher

import (
	"github.com/google/uuid"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/kvcache"
	"github.com/kilnrun/kiln/ml"
)

// Task is a submission to the Dispatcher, per spec.md §3: it owns its cache
// until the submitter takes it back, carries the sampling configuration to
// apply once this task's next logits row is ready, and streams sampled
// tokens back over Out.
type Task struct {
	// ID correlates a task across Trace log lines spanning its whole
	// lifetime (submit, per-cycle forward errors, cancellation), grounded in
	// the teacher's own use of google/uuid to identify a chat stream
	// (app/ui/chat_stream.go) across its async lifetime.
	ID string

	Cache  *kvcache.Cache
	Sample backend.SampleMeta

	// Out delivers sampled tokens in generation order. The Dispatcher uses a
	// non-blocking send.
	Out chan ml.Token

	// Done is closed by the task's owner (BusySession/Generator) on drop or
	// cancellation. The Dispatcher checks it instead of sending on Out after
	// close, since sending on a channel the receiver closed would panic
	// (spec.md §5: "dropping a BusySession... closes the output channel" —
	// modeled here as closing Done rather than Out itself, which only the
	// Dispatcher, the sole producer, may close).
	Done chan struct{}

	// Retired is closed by the Dispatcher once it observes Done closed and
	// has permanently dropped this task from its active list — the
	// acknowledgment spec.md §5 requires ("the task finishes its current
	// step, then is evicted") before Cache may change hands back to its
	// owner. The owner closes Done, then waits on Retired before touching
	// Cache again, so the Dispatcher's step() and the owner's reclaim of the
	// cache never run concurrently.
	Retired chan struct{}
}

// NewTask allocates a Task with its channels ready.
func NewTask(cache *kvcache.Cache, sample backend.SampleMeta) *Task {
	return &Task{
		ID:      uuid.NewString(),
		Cache:   cache,
		Sample:  sample,
		Out:     make(chan ml.Token, 8),
		Done:    make(chan struct{}),
		Retired: make(chan struct{}),
	}
}
