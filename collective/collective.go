// Package collective simulates the NCCL-like collective-communication layer
// spec.md §4.2's tensor-parallel variant calls out ("collective.all_reduce",
// "collective.broadcast"), across in-process goroutines standing in for
// devices rather than real GPUs. Grounded in the teacher's ml.Backend
// multi-device synchronization pattern (each device advances a step, then
// blocks at a barrier before the next), generalized here to a reusable
// barrier-based SUM all-reduce since the teacher's own code is cgo-bound to
// a real NCCL/RCCL call this module cannot link against.
package collective

import "sync"

// Group coordinates numDevices goroutines through repeated all-reduce and
// broadcast rounds. Each device calls AllReduce/Broadcast with its own rank;
// every call blocks until all ranks have arrived for that round.
type Group struct {
	n int

	mu      sync.Mutex
	cond    *sync.Cond
	round   int
	arrived int
	bufs    [][]float32
	bcastBuf []float32
	reduced  [][]float32 // the completed round's inputs
	bcastOut []float32   // the completed round's broadcast value
}

// New creates a Group for n devices.
func New(n int) *Group {
	g := &Group{n: n}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Size returns the number of participating devices.
func (g *Group) Size() int { return g.n }

// AllReduce performs an elementwise SUM reduction of local across all n
// ranks, returning the summed result to every caller. Every rank must call
// this the same number of times in the same order (spec.md's forward pass
// does so implicitly: all shards run the identical layer sequence).
func (g *Group) AllReduce(rank int, local []float32) []float32 {
	g.mu.Lock()
	myRound := g.round
	if g.bufs == nil {
		g.bufs = make([][]float32, g.n)
	}
	g.bufs[rank] = local
	g.arrived++
	if g.arrived == g.n {
		g.arrived = 0
		g.round++
		g.reduced = g.bufs
		g.bufs = make([][]float32, g.n)
		g.cond.Broadcast()
	} else {
		for g.round == myRound {
			g.cond.Wait()
		}
	}
	sum := make([]float32, len(local))
	for _, buf := range g.reduced {
		for i, v := range buf {
			sum[i] += v
		}
	}
	g.mu.Unlock()
	return sum
}

// Broadcast sends src's value (only meaningful when rank == root) to every
// rank, blocking until all ranks have called Broadcast for this round.
func (g *Group) Broadcast(rank, root int, src []float32) []float32 {
	g.mu.Lock()
	myRound := g.round
	if rank == root {
		g.bcastBuf = src
	}
	g.arrived++
	if g.arrived == g.n {
		g.arrived = 0
		g.round++
		g.bcastOut = g.bcastBuf
		g.cond.Broadcast()
	} else {
		for g.round == myRound {
			g.cond.Wait()
		}
	}
	out := append([]float32{}, g.bcastOut...)
	g.mu.Unlock()
	return out
}
