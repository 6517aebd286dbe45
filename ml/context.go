package ml

// Context is a scoped allocation arena for one forward pass's scratch tensors
// (Q/K/V projections, attention intermediates, MLP activations). It mirrors
// the teacher's ml.Context / per-stream memory pool: every tensor allocated
// through a Context is released when the Context is closed, per the design
// note that scratch buffers "should be allocated per-call from the stream
// pool, not cached in the backend" and "released on the stream after the
// last kernel that uses them." There is no device stream in this pure-Go
// implementation, so Close simply drops the Context's bookkeeping and lets
// the garbage collector reclaim the tensors — but the scoped-acquisition
// shape (New → use → Close) is preserved so a future device-backed Context
// can slot in without changing call sites.
type Context struct {
	device   int
	tensors  []*Tensor
	closed   bool
}

// NewContext opens a scratch arena for device 0 (the only device in a
// single-backend configuration).
func NewContext() *Context { return &Context{} }

// NewContextForDevice opens a scratch arena bound to a particular shard in a
// tensor-parallel backend.
func NewContextForDevice(device int) *Context { return &Context{device: device} }

func (c *Context) Device() int { return c.device }

// Zeros allocates a tracked scratch tensor.
func (c *Context) Zeros(dtype DType, dims ...int) *Tensor {
	t := Zeros(dtype, dims...)
	c.tensors = append(c.tensors, t)
	return t
}

// Track registers a tensor (e.g. one returned by an arithmetic op) as owned
// by this context, so Close's accounting reflects it even though Go's GC -
// not this call - is what actually reclaims the memory.
func (c *Context) Track(t *Tensor) *Tensor {
	c.tensors = append(c.tensors, t)
	return t
}

// Close releases the context's scratch allocations. Safe to call more than
// once.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.tensors = nil
	c.closed = true
}
