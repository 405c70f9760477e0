// Package reference implements the portable attention kernels: plain
// Go loops over flat float32 buffers, with softmax accumulated in
// float32 regardless of the tensors' declared dtype. These are the
// ground-truth implementations the accelerator package is held
// equivalent to.
package reference

import (
	"fmt"

	"github.com/jlnh/ScaleLLM/attn/errs"
	"github.com/jlnh/ScaleLLM/attn/ml"
)

// Prefill computes causal masked self-attention across packed prompt
// subsequences. q, k, v are [T, Hq or Hkv, D] flattened row-major
// buffers whose first P = cuSeqLens[len(cuSeqLens)-1] rows are the
// prefill region; rows past P are not read. out is a [T, Hq, D] buffer
// whose rows [0, P) are accumulated into in place.
func Prefill(q, k, v []float32, hq, hkv, d int, cuSeqLens []int, scale float64, alibiSlopes []float32, out []float32) error {
	if hkv <= 0 || hq <= 0 || hq%hkv != 0 {
		return fmt.Errorf("%w: H_q=%d not divisible by H_kv=%d", errs.ErrShapeMismatch, hq, hkv)
	}
	g := hq / hkv
	if len(cuSeqLens) < 2 {
		return fmt.Errorf("%w: cu_seq_lens must have at least 2 entries", errs.ErrShapeMismatch)
	}

	for s := 0; s+1 < len(cuSeqLens); s++ {
		lo, hi := cuSeqLens[s], cuSeqLens[s+1]
		l := hi - lo
		if l <= 0 {
			continue
		}
		if err := prefillSubsequence(q, k, v, hq, hkv, g, d, lo, l, scale, alibiSlopes, out); err != nil {
			return err
		}
	}
	return nil
}

func prefillSubsequence(q, k, v []float32, hq, hkv, g, d, lo, l int, scale float64, alibiSlopes []float32, out []float32) error {
	// kRep/vRep are [l, hq, d], built by repeating the KV heads G times
	// when H_q != H_kv.
	kRep := gather(k, hkv, d, lo, l)
	vRep := gather(v, hkv, d, lo, l)
	if g > 1 {
		kRep = ml.RepeatKV(kRep, l, hkv, d, g)
		vRep = ml.RepeatKV(vRep, l, hkv, d, g)
	}
	qSub := gather(q, hq, d, lo, l)

	scores := make([]float32, l)
	for h := 0; h < hq; h++ {
		for i := 0; i < l; i++ {
			qi := qSub[i*hq*d+h*d : i*hq*d+h*d+d]
			for j := 0; j < l; j++ {
				kj := kRep[j*hq*d+h*d : j*hq*d+h*d+d]
				score := float32(scale) * ml.DotF32(qi, kj)
				if l > 1 {
					score += ml.CausalMaskValue(i, j)
				}
				if alibiSlopes != nil {
					score += ml.AlibiBias(alibiSlopes[h], i, j)
				}
				scores[j] = score
			}
			ml.SoftmaxRowF32Accum32(scores)

			dst := out[(lo+i)*hq*d+h*d : (lo+i)*hq*d+h*d+d]
			for j := 0; j < l; j++ {
				w := scores[j]
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

// gather extracts rows [lo, lo+l) from a [T, heads, d] buffer.
func gather(buf []float32, heads, d, lo, l int) []float32 {
	stride := heads * d
	out := make([]float32, l*stride)
	copy(out, buf[lo*stride:(lo+l)*stride])
	return out
}
