package reference

import (
	"fmt"

	"github.com/jlnh/ScaleLLM/attn/errs"
	"github.com/jlnh/ScaleLLM/attn/ml"
)

// CacheGather fetches one decode row's past K/V, abstracted behind a
// function value so this package stays independent of the kvcache
// package's concrete layout (the orchestrator supplies the closure).
type CacheGather func(row int) (k, v []float32, contextLen int, err error)

// Decode computes attention for a batch of single-token queries against
// their own cached past. q is [rows, Hq, D]; the returned buffer has
// shape [rows, Hq, D]. No causal mask is applied: the gathered past is
// exactly the causal history including the just-written token, which
// the caller guarantees by including that token's slot in the block
// table before decoding.
func Decode(q []float32, hq, hkv, d int, gather CacheGather, rows int, scale float64, alibiSlopes []float32) ([]float32, error) {
	if hkv <= 0 || hq <= 0 || hq%hkv != 0 {
		return nil, fmt.Errorf("%w: H_q=%d not divisible by H_kv=%d", errs.ErrShapeMismatch, hq, hkv)
	}
	g := hq / hkv
	out := make([]float32, rows*hq*d)

	for i := 0; i < rows; i++ {
		k, v, contextLen, err := gather(i)
		if err != nil {
			return nil, err
		}
		if contextLen == 0 {
			continue
		}
		kRep := k
		vRep := v
		if g > 1 {
			kRep = ml.RepeatKV(k, contextLen, hkv, d, g)
			vRep = ml.RepeatKV(v, contextLen, hkv, d, g)
		}

		qi := q[i*hq*d : (i+1)*hq*d]
		scores := make([]float32, contextLen)
		dst := out[i*hq*d : (i+1)*hq*d]
		for h := 0; h < hq; h++ {
			qih := qi[h*d : h*d+d]
			for j := 0; j < contextLen; j++ {
				kj := kRep[j*hq*d+h*d : j*hq*d+h*d+d]
				score := float32(scale) * ml.DotF32(qih, kj)
				if alibiSlopes != nil {
					// j-L+1 across the gathered past; the query occupies
					// logical position contextLen-1, so j-i in the
					// prefill formula becomes j-(contextLen-1).
					score += ml.AlibiBias(alibiSlopes[h], contextLen-1, j)
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
				vj := vRep[j*hq*d+h*d : j*hq*d+h*d+d]
				for x := 0; x < d; x++ {
					dsth[x] += w * vj[x]
				}
			}
		}
	}
	return out, nil
}
