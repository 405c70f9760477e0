// Package accelerator implements the fused kernel entry points: a
// variable-length flash-attention-shaped prefill call and a
// paged-attention-shaped decode call. This module has no native GPU
// binding, so "fused" here means one call per batch that walks
// cu_seq_lens/block_tables internally, rather than one call per
// subsequence or decode row. It is
// a structurally distinct code path from the reference package and is
// held to the same output within a documented tolerance by the
// equivalence tests.
package accelerator

import (
	"fmt"

	"github.com/jlnh/ScaleLLM/attn/errs"
	"github.com/jlnh/ScaleLLM/attn/ml"
)

// PrefillConfig mirrors the fused flash-attention call signature:
// one cumulative-length table shared by Q and K, a fixed
// causal+unbounded-past window, zero dropout and no softmax return,
// baked in rather than parameterized since this core never varies
// them.
type PrefillConfig struct {
	HQ, HKV, HeadDim int
	Scale            float64
	CuSeqLens        []int
	AlibiSlopes      []float32
}

// Prefill computes the same result as reference.Prefill but by
// precomputing an additive bias matrix per subsequence (the causal
// mask, plus a per-head copy with the ALiBi term when slopes are
// given) and adding it while filling a materialized score matrix,
// rather than computing the bias terms inline for each score.
func Prefill(q, k, v []float32, cfg PrefillConfig, out []float32) error {
	if cfg.HKV <= 0 || cfg.HQ <= 0 || cfg.HQ%cfg.HKV != 0 {
		return fmt.Errorf("%w: H_q=%d not divisible by H_kv=%d", errs.ErrShapeMismatch, cfg.HQ, cfg.HKV)
	}
	g := cfg.HQ / cfg.HKV
	if len(cfg.CuSeqLens) < 2 {
		return fmt.Errorf("%w: cu_seq_lens must have at least 2 entries", errs.ErrShapeMismatch)
	}

	for s := 0; s+1 < len(cfg.CuSeqLens); s++ {
		lo, hi := cfg.CuSeqLens[s], cfg.CuSeqLens[s+1]
		l := hi - lo
		if l <= 0 {
			continue
		}
		if err := fusedSubsequence(q, k, v, cfg, g, lo, l, out); err != nil {
			return err
		}
	}
	return nil
}

func fusedSubsequence(q, k, v []float32, cfg PrefillConfig, g, lo, l int, out []float32) error {
	hq, d := cfg.HQ, cfg.HeadDim
	hkv := cfg.HKV

	bias := make([]float32, l*l)
	for i := 0; i < l; i++ {
		for j := 0; j < l; j++ {
			bias[i*l+j] = ml.CausalMaskValue(i, j)
		}
	}

	kRep := gatherAndRepeat(k, hkv, d, lo, l, g)
	vRep := gatherAndRepeat(v, hkv, d, lo, l, g)
	qSub := gather(q, hq, d, lo, l)

	scores := make([]float32, l*l)
	for h := 0; h < hq; h++ {
		var headBias []float32
		if cfg.AlibiSlopes != nil {
			headBias = make([]float32, l*l)
			slope := cfg.AlibiSlopes[h]
			for i := 0; i < l; i++ {
				for j := 0; j < l; j++ {
					headBias[i*l+j] = bias[i*l+j] + ml.AlibiBias(slope, i, j)
				}
			}
		} else {
			headBias = bias
		}

		for i := 0; i < l; i++ {
			qi := qSub[i*hq*d+h*d : i*hq*d+h*d+d]
			row := scores[i*l : (i+1)*l]
			for j := 0; j < l; j++ {
				kj := kRep[j*hq*d+h*d : j*hq*d+h*d+d]
				row[j] = float32(cfg.Scale)*ml.DotF32(qi, kj) + headBias[i*l+j]
			}
			ml.SoftmaxRowF32Accum32(row)
		}

		for i := 0; i < l; i++ {
			dst := out[(lo+i)*hq*d+h*d : (lo+i)*hq*d+h*d+d]
			row := scores[i*l : (i+1)*l]
			for j := 0; j < l; j++ {
				w := row[j]
				if w == 0 {
					continue
				}
				vj := vRep[j*hq*d+h*d : j*hq*d+h*d+d]
				for x := 0; x < d; x++ {
					dst[x] += w * vj[x]
				}
			}
		}
	}
	return nil
}

func gather(buf []float32, heads, d, lo, l int) []float32 {
	stride := heads * d
	out := make([]float32, l*stride)
	copy(out, buf[lo*stride:(lo+l)*stride])
	return out
}

func gatherAndRepeat(buf []float32, hkv, d, lo, l, g int) []float32 {
	sub := gather(buf, hkv, d, lo, l)
	if g <= 1 {
		return sub
	}
	return ml.RepeatKV(sub, l, hkv, d, g)
}
