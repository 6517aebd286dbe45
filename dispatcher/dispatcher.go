// Package dispatcher implements the Dispatcher (C5): the single inference
// worker that pulls every pending task, performs one fused forward + decode
// + sample pass, and routes each sampled token back to its task, per
// spec.md §4.5. Grounded directly in the teacher's
// runner/ollamarunner/runner_batch.go forwardBatch/computeBatch split and
// runner_compute.go's per-token sampling loop, collapsed into one fused
// pass per Batcher drain as spec.md §4.5's closing sentence permits.
package dispatcher

import (
	"golang.org/x/sync/semaphore"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/batcher"
	"github.com/kilnrun/kiln/logutil"
	"github.com/kilnrun/kiln/ml"
)

// Dispatcher owns one backend and one Batcher, per spec.md §3's Dispatcher
// state. maxTokensPerBatch bounds how many tokens one fused forward pass may
// contain, enforced with a semaphore the same way the teacher bounds
// parallel sequences with seqsSem in runner_types.go.
type Dispatcher struct {
	backend backend.Backend
	batcher *batcher.Batcher[*batcher.Task]
	sem     *semaphore.Weighted

	maxTokensPerBatch int
	done              chan struct{}
}

// New constructs a Dispatcher and starts its worker goroutine.
func New(be backend.Backend, maxTokensPerBatch int) *Dispatcher {
	d := &Dispatcher{
		backend:           be,
		batcher:           batcher.New[*batcher.Task](),
		sem:               semaphore.NewWeighted(int64(maxTokensPerBatch)),
		maxTokensPerBatch: maxTokensPerBatch,
		done:              make(chan struct{}),
	}
	go d.run()
	return d
}

// Submit enqueues a task for the worker to pick up on its next cycle.
func (d *Dispatcher) Submit(t *batcher.Task) {
	logutil.Trace("dispatcher: task submitted", "task", t.ID)
	d.batcher.Enq(t)
}

// Shutdown calls batcher.shutdown() and waits for the worker to observe the
// dead state and exit, per spec.md §4.5.
func (d *Dispatcher) Shutdown() {
	d.batcher.Shutdown()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)

	var active []*batcher.Task
	for {
		var fresh []*batcher.Task
		if len(active) == 0 {
			fresh = d.batcher.Deq()
			if len(fresh) == 0 && !d.batcher.Alive() {
				return
			}
		} else {
			fresh = d.batcher.Poll()
		}
		active = append(active, fresh...)
		if len(active) == 0 {
			continue
		}
		active = d.step(active)
	}
}

// step runs one fused forward+decode+sample pass over tasks, per spec.md
// §4.5 steps 3-6 (prefill and decode collapsed into a single pass: every
// task contributes the range [cache.End(), cache.Len()), which is length 1
// for an already-caught-up continuation and len(prompt) for a fresh
// submission). It returns the tasks that remain active.
func (d *Dispatcher) step(tasks []*batcher.Task) []*batcher.Task {
	ctx := ml.NewContext()
	defer ctx.Close()

	var queries []backend.QueryContext
	var tokens []ml.Token
	var meta []backend.DecodingMeta
	var queryTasks []*batcher.Task
	var acting []*batcher.Task

	acquired := int64(0)
	for _, t := range tasks {
		select {
		case <-t.Done:
			// This cycle is the first (and only) time this task is
			// dropped from acting, so Retired closes exactly once here:
			// the owner's close() blocks on it to know the Dispatcher
			// will never touch Cache again before reclaiming it.
			close(t.Retired)
			continue
		default:
		}

		start := t.Cache.End()
		end := t.Cache.Len()
		if end <= start {
			// spec.md §4.2: a request with seq_len_i == 0 is skipped
			// entirely, but it is still active for the next cycle.
			acting = append(acting, t)
			continue
		}
		n := int(end - start)
		if !d.sem.TryAcquire(int64(n)) {
			acting = append(acting, t)
			continue
		}
		acquired += int64(n)

		tokens = append(tokens, t.Cache.SliceTail(start)...)
		queries = append(queries, backend.QueryContext{Cache: t.Cache, Pos: start, Len: int32(n)})
		meta = append(meta, backend.DecodingMeta{NumQueryTokens: n, NumDecode: 1})
		queryTasks = append(queryTasks, t)
		acting = append(acting, t)
	}

	if len(queries) == 0 {
		return acting
	}
	defer d.sem.Release(acquired)

	ids := make([]string, len(queryTasks))
	for i, t := range queryTasks {
		ids[i] = t.ID
	}

	embedded := d.backend.TokenEmbed(ctx, tokens)
	hidden, err := d.backend.Forward(ctx, queries, embedded)
	if err != nil {
		logutil.Trace("dispatcher: forward failed", "tasks", ids, "error", err)
		return acting
	}

	logits, err := d.backend.Decode(ctx, meta, hidden)
	if err != nil {
		logutil.Trace("dispatcher: decode failed", "tasks", ids, "error", err)
		return acting
	}

	args := make([]backend.SampleMeta, len(queryTasks))
	for i, t := range queryTasks {
		args[i] = t.Sample
	}

	sampled, err := d.backend.Sample(args, logits)
	if err != nil {
		logutil.Trace("dispatcher: sample failed", "tasks", ids, "error", err)
		return acting
	}

	for i, t := range queryTasks {
		tok := sampled[i]
		t.Cache.Push(tok)
		select {
		case <-t.Done:
		case t.Out <- tok:
		default:
		}
	}

	return acting
}
