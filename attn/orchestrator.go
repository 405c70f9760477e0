// Package attn implements the attention orchestrator: the component
// that splits a forward pass's input batch into prefill and decode
// regions, writes fresh K/V into the paged cache, dispatches each
// region to the backend the selector chooses, and concatenates one
// flat output.
package attn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jlnh/ScaleLLM/attn/backend/accelerator"
	"github.com/jlnh/ScaleLLM/attn/backend/reference"
	"github.com/jlnh/ScaleLLM/attn/errs"
	"github.com/jlnh/ScaleLLM/attn/input"
	"github.com/jlnh/ScaleLLM/attn/kvcache"
	"github.com/jlnh/ScaleLLM/attn/ml"
)

// Config holds the constants fixed at module construction; they may
// not change across forward passes on the same Orchestrator.
type Config struct {
	HQ, HKV, HeadDim int
	Scale            float64
	Selector         SelectorConfig
	Logger           *slog.Logger
}

// Orchestrator runs forward passes over a heterogeneous batch mixing
// prefill subsequences and single-token decode queries.
type Orchestrator struct {
	id            uuid.UUID
	cfg           Config
	kvHeadMapping []int
	log           *slog.Logger
}

// ID uniquely identifies this orchestrator instance, used only in logs
// and test fixtures.
func (o *Orchestrator) ID() uuid.UUID { return o.id }

// New validates cfg and constructs an Orchestrator. Head-count
// indivisibility is rejected here, once, rather than on every call.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.HKV <= 0 || cfg.HQ <= 0 || cfg.HQ%cfg.HKV != 0 {
		return nil, fmt.Errorf("%w: H_q=%d not divisible by H_kv=%d", errs.ErrShapeMismatch, cfg.HQ, cfg.HKV)
	}
	if cfg.HeadDim <= 0 {
		return nil, fmt.Errorf("%w: head_dim must be positive, got %d", errs.ErrConfig, cfg.HeadDim)
	}
	mapping, err := input.KVHeadMapping(cfg.HQ, cfg.HKV)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	id := uuid.New()
	log.Info("attention orchestrator constructed",
		"id", id, "h_q", cfg.HQ, "h_kv", cfg.HKV, "head_dim", cfg.HeadDim,
		"prefill_backend", cfg.Selector.PrefillBackend, "decode_backend", cfg.Selector.DecodeBackend)
	return &Orchestrator{id: id, cfg: cfg, kvHeadMapping: mapping, log: log}, nil
}

// Forward writes K/V into cache at the slots params names, then
// dispatches the prefill region (if any) and the decode region (if
// any) to their selected backends, returning one flat [T, Hq*D]
// output. Q may arrive flat ([T, Hq*D]) or already viewed by head
// ([T, Hq, D]); likewise K and V with Hkv heads.
func (o *Orchestrator) Forward(ctx context.Context, layer int, cache *kvcache.Cache, q, k, v *ml.Tensor, params *input.Parameters) (*ml.Tensor, error) {
	view, err := cache.Layer(layer)
	if err != nil {
		return nil, err
	}

	t := len(params.SlotIDs)
	if err := params.Validate(t, view.BlockSize()); err != nil {
		return nil, err
	}
	q, err = viewByHead(q, "query", t, o.cfg.HQ, o.cfg.HeadDim)
	if err != nil {
		return nil, err
	}
	k, err = viewByHead(k, "key", t, o.cfg.HKV, o.cfg.HeadDim)
	if err != nil {
		return nil, err
	}
	v, err = viewByHead(v, "value", t, o.cfg.HKV, o.cfg.HeadDim)
	if err != nil {
		return nil, err
	}

	// The cache write strictly happens-before both kernels, so the
	// decode kernel sees the freshly written row for its own sequence.
	// It runs to completion before the fan-out below starts.
	if err := view.Put(params.SlotIDs, k, v); err != nil {
		return nil, err
	}

	out := ml.New([]int{t, o.cfg.HQ * o.cfg.HeadDim}, q.DType, q.Device)
	p := params.NumPromptTokens

	// Prefill and decode read disjoint cache regions, so they have no
	// ordering requirement between them and run concurrently, bounded
	// by an errgroup so a precondition violation in either region is
	// surfaced from Forward. The kernels do not observe the group
	// context, so the other region still runs to completion.
	g, gctx := errgroup.WithContext(ctx)
	if p > 0 {
		g.Go(func() error {
			return o.runPrefill(gctx, q, k, v, params, out)
		})
	}
	if p < t {
		g.Go(func() error {
			return o.runDecode(gctx, view, q, params, p, t, out)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Scores accumulate in float32 inside the kernels; narrow the
	// result back through the activations' declared storage format.
	ml.CastTensor(out)
	return out, nil
}

// viewByHead checks a projection's shape against the fixed head
// geometry and reshapes a flat [T, heads*dim] tensor to [T, heads,
// dim]. The backing data is shared, not copied.
func viewByHead(t *ml.Tensor, name string, tokens, heads, dim int) (*ml.Tensor, error) {
	if err := t.CheckShape(tokens, heads, dim); err == nil {
		return t, nil
	}
	if err := t.CheckShape(tokens, heads*dim); err != nil {
		return nil, fmt.Errorf("%w: %s %v", errs.ErrShapeMismatch, name, err)
	}
	return &ml.Tensor{
		Data:   t.Data,
		Shape:  []int{tokens, heads, dim},
		DType:  t.DType,
		Device: t.Device,
	}, nil
}

func (o *Orchestrator) runPrefill(_ context.Context, q, k, v *ml.Tensor, params *input.Parameters, out *ml.Tensor) error {
	kind, err := resolve(q.Device, o.cfg.Selector.PrefillBackend)
	if err != nil {
		return err
	}
	switch kind {
	case kindAccelerator:
		o.log.Debug("dispatching prefill", "backend", "accelerator")
		return accelerator.Prefill(q.Data, k.Data, v.Data, accelerator.PrefillConfig{
			HQ: o.cfg.HQ, HKV: o.cfg.HKV, HeadDim: o.cfg.HeadDim,
			Scale: o.cfg.Scale, CuSeqLens: params.CuSeqLens, AlibiSlopes: params.AlibiSlopes,
		}, out.Data)
	default:
		o.log.Debug("dispatching prefill", "backend", "reference")
		return reference.Prefill(q.Data, k.Data, v.Data, o.cfg.HQ, o.cfg.HKV, o.cfg.HeadDim,
			params.CuSeqLens, o.cfg.Scale, params.AlibiSlopes, out.Data)
	}
}

func (o *Orchestrator) runDecode(_ context.Context, view *kvcache.LayerView, q *ml.Tensor, params *input.Parameters, p, t int, out *ml.Tensor) error {
	kind, err := resolve(q.Device, o.cfg.Selector.DecodeBackend)
	if err != nil {
		return err
	}

	rows := t - p
	decodeQ := q.Data[p*o.cfg.HQ*o.cfg.HeadDim : t*o.cfg.HQ*o.cfg.HeadDim]

	var result []float32
	switch kind {
	case kindAccelerator:
		o.log.Debug("dispatching decode", "backend", "accelerator")
		result, err = accelerator.Decode(decodeQ, accelerator.DecodeConfig{
			HQ: o.cfg.HQ, HKV: o.cfg.HKV, HeadDim: o.cfg.HeadDim,
			Scale: o.cfg.Scale, KVHeadMapping: o.kvHeadMapping, AlibiSlopes: params.AlibiSlopes,
		}, func(row int) ([]float32, []float32, int, error) {
			kpool, vpool := view.Pool()
			return gatherPoolRow(kpool, vpool, view.BlockSize(), params.BlockTables[row], params.ContextLens[row], o.cfg.HKV, o.cfg.HeadDim)
		}, rows)
	default:
		o.log.Debug("dispatching decode", "backend", "reference")
		result, err = reference.Decode(decodeQ, o.cfg.HQ, o.cfg.HKV, o.cfg.HeadDim, func(row int) ([]float32, []float32, int, error) {
			ctxLen := params.ContextLens[row]
			k, v, gerr := view.Get(params.BlockTables[row], ctxLen)
			if gerr != nil {
				return nil, nil, 0, gerr
			}
			return k.Data, v.Data, ctxLen, nil
		}, rows, o.cfg.Scale, params.AlibiSlopes)
	}
	if err != nil {
		return err
	}

	copy(out.Data[p*o.cfg.HQ*o.cfg.HeadDim:t*o.cfg.HQ*o.cfg.HeadDim], result)
	return nil
}

// gatherPoolRow performs the accelerator primitive's internal gather
// from the raw paged pool, rather than materializing a per-sequence
// contiguous buffer through kvcache.LayerView.Get the way the
// reference path does.
func gatherPoolRow(kpool, vpool *ml.Tensor, blockSize int, blockTable []int, contextLen, hkv, d int) ([]float32, []float32, int, error) {
	if contextLen == 0 {
		return nil, nil, 0, nil
	}
	need := (contextLen + blockSize - 1) / blockSize
	if len(blockTable) < need {
		return nil, nil, 0, fmt.Errorf("%w: need %d pages for context_len %d, got %d",
			errs.ErrUnderprovisionedBlockTable, need, contextLen, len(blockTable))
	}

	stride := hkv * d
	k := make([]float32, contextLen*stride)
	v := make([]float32, contextLen*stride)
	for t := 0; t < contextLen; t++ {
		slot := kvcache.SlotForPosition(blockTable, blockSize, t)
		lo, hi := slot*stride, (slot+1)*stride
		if slot < 0 || hi > len(kpool.Data) {
			return nil, nil, 0, fmt.Errorf("%w: slot %d exceeds pool capacity %d",
				errs.ErrOutOfRangeSlot, slot, len(kpool.Data)/stride)
		}
		copy(k[t*stride:(t+1)*stride], kpool.Data[lo:hi])
		copy(v[t*stride:(t+1)*stride], vpool.Data[lo:hi])
	}
	return k, v, contextLen, nil
}
