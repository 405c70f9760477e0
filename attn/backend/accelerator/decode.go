package accelerator

import (
	"fmt"

	"github.com/jlnh/ScaleLLM/attn/errs"
	"github.com/jlnh/ScaleLLM/attn/ml"
)

// PagedGather fetches the raw K/V pool slices a block table points at,
// plus the row's context length. The orchestrator supplies a closure
// bound to the cache's Pool() tensors so this package never imports
// kvcache directly. The closure gathers from the raw pool by
// block_tables/context_lens (not through kvcache.LayerView.Get) and
// returns one contiguous [context_len, H_kv, D] K and V buffer per row.
type PagedGather func(row int) (k, v []float32, contextLen int, err error)

// DecodeConfig mirrors the paged-attention primitive's parameter list:
// (kv_head_mapping, s, block_tables, context_lens, block_size,
// max_context_len, alibi_slopes?), minus the parameters already
// encoded in the gather closure.
type DecodeConfig struct {
	HQ, HKV, HeadDim int
	Scale            float64
	KVHeadMapping    []int
	AlibiSlopes      []float32
}

// Decode computes the same result as reference.Decode, but dispatches
// through the precomputed kv_head_mapping table instead of repeating KV
// heads into a fresh buffer.
func Decode(q []float32, cfg DecodeConfig, gather PagedGather, rows int) ([]float32, error) {
	hq, hkv, d := cfg.HQ, cfg.HKV, cfg.HeadDim
	if hkv <= 0 || hq <= 0 || hq%hkv != 0 {
		return nil, fmt.Errorf("%w: H_q=%d not divisible by H_kv=%d", errs.ErrShapeMismatch, hq, hkv)
	}
	if len(cfg.KVHeadMapping) != hq {
		return nil, fmt.Errorf("%w: kv_head_mapping length %d != H_q %d", errs.ErrShapeMismatch, len(cfg.KVHeadMapping), hq)
	}

	out := make([]float32, rows*hq*d)
	for i := 0; i < rows; i++ {
		k, v, contextLen, err := gather(i)
		if err != nil {
			return nil, err
		}
		if contextLen == 0 {
			continue
		}

		qi := q[i*hq*d : (i+1)*hq*d]
		dst := out[i*hq*d : (i+1)*hq*d]
		scores := make([]float32, contextLen)

		for h := 0; h < hq; h++ {
			kvh := cfg.KVHeadMapping[h]
			qih := qi[h*d : h*d+d]
			for j := 0; j < contextLen; j++ {
				kj := k[j*hkv*d+kvh*d : j*hkv*d+kvh*d+d]
				score := float32(cfg.Scale) * ml.DotF32(qih, kj)
				if cfg.AlibiSlopes != nil {
					score += ml.AlibiBias(cfg.AlibiSlopes[h], contextLen-1, j)
				}
				scores[j] = score
			}
			ml.SoftmaxRowF32Accum32(scores)

			dsth := dst[h*d : h*d+d]
			for j := 0; j < contextLen; j++ {
				w := scores[j]
				if w == 0 {
					continue
				}
				vj := v[j*hkv*d+kvh*d : j*hkv*d+kvh*d+d]
				for x := 0; x < d; x++ {
					dsth[x] += w * vj[x]
				}
			}
		}
	}
	return out, nil
}
