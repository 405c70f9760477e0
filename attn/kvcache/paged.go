// Package kvcache implements the paged key/value store the attention
// core reads and writes. Pages are addressed by integer index into one
// contiguous pool, never by pointer, and a block table is a plain
// []int, so the pool owns all memory and accelerator kernels can
// consume the raw tensors directly.
package kvcache

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jlnh/ScaleLLM/attn/errs"
	"github.com/jlnh/ScaleLLM/attn/ml"
)

// Config describes a paged cache pool's fixed geometry. All fields are
// fixed at construction and never change across the pool's lifetime.
type Config struct {
	NumLayers  int
	NumPages   int
	BlockSize  int // B: positions per page
	NumKVHeads int
	HeadDim    int
	DType      ml.DType
	Device     ml.Device
}

func (c Config) validate() error {
	switch {
	case c.NumLayers <= 0:
		return fmt.Errorf("%w: num_layers must be positive, got %d", errs.ErrConfig, c.NumLayers)
	case c.NumPages <= 0:
		return fmt.Errorf("%w: num_pages must be positive, got %d", errs.ErrConfig, c.NumPages)
	case c.BlockSize <= 0:
		return fmt.Errorf("%w: block_size must be positive, got %d", errs.ErrConfig, c.BlockSize)
	case c.NumKVHeads <= 0:
		return fmt.Errorf("%w: num_kv_heads must be positive, got %d", errs.ErrConfig, c.NumKVHeads)
	case c.HeadDim <= 0:
		return fmt.Errorf("%w: head_dim must be positive, got %d", errs.ErrConfig, c.HeadDim)
	}
	return nil
}

// Capacity is the total number of addressable slots in the pool
// (NumPages * BlockSize).
func (c Config) Capacity() int {
	return c.NumPages * c.BlockSize
}

// Pool is one layer's paged K/V store: two dense buffers of shape
// [NumPages*BlockSize, NumKVHeads, HeadDim], indexed by slot.
type Pool struct {
	K *ml.Tensor
	V *ml.Tensor
}

// Cache owns NumLayers independent paged pools sharing one Config. It
// is allocated once at model load (see Config) and never grows or
// shrinks; the core does not allocate or free slots, only read and
// write them.
type Cache struct {
	id    uuid.UUID
	cfg   Config
	pools []Pool
}

// ID uniquely identifies this pool instance, used only in logs and test
// fixtures to disambiguate multiple pools constructed in the same
// process.
func (c *Cache) ID() uuid.UUID { return c.id }

// New allocates a paged cache pool for every layer described by cfg.
func New(cfg Config) (*Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Cache{id: uuid.New(), cfg: cfg, pools: make([]Pool, cfg.NumLayers)}
	shape := []int{cfg.Capacity(), cfg.NumKVHeads, cfg.HeadDim}
	for i := range c.pools {
		c.pools[i] = Pool{
			K: ml.New(shape, cfg.DType, cfg.Device),
			V: ml.New(shape, cfg.DType, cfg.Device),
		}
	}
	return c, nil
}

// Config returns the cache's fixed construction parameters.
func (c *Cache) Config() Config { return c.cfg }

// Close releases the cache's backing buffers. The pool owns no
// external resources (no file descriptors, no device handles in this
// implementation), so Close is a drop of references and is safe to
// call more than once.
func (c *Cache) Close() {
	c.pools = nil
}

// Layer returns a handle scoped to one layer's pool. A forward pass
// obtains its layer view once and issues every Put/Get through it.
func (c *Cache) Layer(layer int) (*LayerView, error) {
	if layer < 0 || layer >= len(c.pools) {
		return nil, fmt.Errorf("%w: layer %d out of range [0,%d)", errs.ErrConfig, layer, len(c.pools))
	}
	return &LayerView{cfg: c.cfg, pool: c.pools[layer]}, nil
}

// LayerView exposes the read/write contract for one layer's pool.
type LayerView struct {
	cfg  Config
	pool Pool
}

// elemsPerSlot is the flattened stride between consecutive slots in the
// pool's [capacity, heads, dim] layout.
func (v *LayerView) elemsPerSlot() int {
	return v.cfg.NumKVHeads * v.cfg.HeadDim
}

func (v *LayerView) slotRange(slot int) (int, int, error) {
	capacity := v.cfg.Capacity()
	if slot < 0 || slot >= capacity {
		return 0, 0, fmt.Errorf("%w: slot %d exceeds pool capacity %d", errs.ErrOutOfRangeSlot, slot, capacity)
	}
	stride := v.elemsPerSlot()
	return slot * stride, (slot + 1) * stride, nil
}

// Pool returns the raw paged tensors for the accelerator kernel, which
// performs its own gather from (block_tables, context_lens, block_size).
func (v *LayerView) Pool() (k, val *ml.Tensor) {
	return v.pool.K, v.pool.V
}

// BlockSize returns the pool's fixed page size B.
func (v *LayerView) BlockSize() int { return v.cfg.BlockSize }
