package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftmaxRowF32Accum32_Normalizes(t *testing.T) {
	row := []float32{1, 2, 3}
	SoftmaxRowF32Accum32(row)

	var sum float32
	for _, v := range row {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-6)
	assert.Less(t, row[0], row[1])
	assert.Less(t, row[1], row[2])
}

func TestSoftmaxRowF32Accum32_MaskedEntriesAreZero(t *testing.T) {
	row := []float32{0, float32(math.Inf(-1)), float32(math.Inf(-1))}
	SoftmaxRowF32Accum32(row)

	assert.InDelta(t, 1.0, float64(row[0]), 1e-9)
	assert.Equal(t, float32(0), row[1])
	assert.Equal(t, float32(0), row[2])
}

func TestSoftmaxRowF32Accum32_AllMaskedIsZeroRow(t *testing.T) {
	row := []float32{float32(math.Inf(-1)), float32(math.Inf(-1))}
	SoftmaxRowF32Accum32(row)
	assert.Equal(t, []float32{0, 0}, row)
}

func TestCausalMaskValue(t *testing.T) {
	assert.Equal(t, float32(0), CausalMaskValue(2, 0))
	assert.Equal(t, float32(0), CausalMaskValue(2, 2))
	assert.True(t, math.IsInf(float64(CausalMaskValue(0, 1)), -1))
}

func TestAlibiBias(t *testing.T) {
	assert.Equal(t, float32(-1.0), AlibiBias(0.5, 2, 0))
	assert.Equal(t, float32(0), AlibiBias(0.5, 2, 2))
	assert.Equal(t, float32(1.0), AlibiBias(0.5, 0, 2))
}

func TestRepeatKV(t *testing.T) {
	// 1 token, hkv=2, d=1: [h0=10, h1=20], g=2 -> hq=4: [10,10,20,20]
	data := []float32{10, 20}
	out := RepeatKV(data, 1, 2, 1, 2)
	assert.Equal(t, []float32{10, 10, 20, 20}, out)
}

func TestDotF32(t *testing.T) {
	assert.Equal(t, float32(11), DotF32([]float32{1, 2}, []float32{3, 4}))
}
