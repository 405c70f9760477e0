package ml

import (
	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Cast narrows src's values through dtype's storage format and widens
// them back to float32, in place. This simulates the precision loss a
// real fp16/bf16 tensor would have incurred on the wire, which the
// equivalence tolerances in the testable-properties section are sized
// against. DTypeF32 is a no-op.
func Cast(data []float32, dtype DType) {
	switch dtype {
	case DTypeF32:
		return
	case DTypeF16:
		for i, v := range data {
			data[i] = float16.Fromfloat32(v).Float32()
		}
	case DTypeBF16:
		buf := bfloat16.EncodeFloat32(data)
		decoded := bfloat16.DecodeFloat32(buf)
		copy(data, decoded)
	}
}

// CastTensor narrows and widens t.Data through t.DType in place.
func CastTensor(t *Tensor) {
	Cast(t.Data, t.DType)
}
