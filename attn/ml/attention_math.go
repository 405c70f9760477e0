package ml

import "math"

// RepeatKV expands a [tokens, hkv, d] buffer into a [tokens, hkv*g, d]
// buffer by repeating each KV head g times along the head axis, per the
// grouped-query-attention rule: kv_head_mapping[h] = h/g. This is used
// by both prefill kernels and the reference decode kernel when
// H_q != H_kv; the accelerator decode kernel instead consumes
// kv_head_mapping directly and never materializes the repeated buffer.
func RepeatKV(data []float32, tokens, hkv, d, g int) []float32 {
	hq := hkv * g
	out := make([]float32, tokens*hq*d)
	for t := 0; t < tokens; t++ {
		srcBase := t * hkv * d
		dstBase := t * hq * d
		for h := 0; h < hq; h++ {
			kvh := h / g
			copy(out[dstBase+h*d:dstBase+(h+1)*d], data[srcBase+kvh*d:srcBase+(kvh+1)*d])
		}
	}
	return out
}

// DotF32 computes the inner product of a and b in float32.
func DotF32(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SoftmaxRowF32Accum32 applies softmax to row in place, accumulating
// the max and the normalizing sum in float32. The 32-bit accumulation
// is a correctness requirement downstream accuracy depends on, not a
// performance optimization, so this helper is used regardless of the
// tensor's declared DType.
func SoftmaxRowF32Accum32(row []float32) {
	if len(row) == 0 {
		return
	}
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	if math.IsInf(float64(max), -1) {
		// every entry is masked to -inf; leave the row as a uniform
		// zero distribution rather than producing NaNs from exp(-inf -
		// (-inf)).
		for i := range row {
			row[i] = 0
		}
		return
	}

	var sum float32
	for i, v := range row {
		e := float32(math.Exp(float64(v - max)))
		row[i] = e
		sum += e
	}
	if sum == 0 {
		return
	}
	for i := range row {
		row[i] /= sum
	}
}

// CausalMaskValue returns the additive mask term for attending from
// query position i to key position j within one subsequence: 0 on and
// below the diagonal, -Inf strictly above it.
func CausalMaskValue(i, j int) float32 {
	if j > i {
		return float32(math.Inf(-1))
	}
	return 0
}

// AlibiBias returns slope*(j-i), the per-head linear positional bias
// added to the pre-softmax score at query position i, key position j.
func AlibiBias(slope float32, i, j int) float32 {
	return slope * float32(j-i)
}
