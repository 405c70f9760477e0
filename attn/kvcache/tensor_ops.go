package kvcache

import (
	"fmt"

	"github.com/jlnh/ScaleLLM/attn/errs"
	"github.com/jlnh/ScaleLLM/attn/ml"
)

// Put implements set_kv_cache: for each token t, writes K[t] and V[t]
// to the slot named by slotIDs[t]. Order across t is irrelevant because
// the caller guarantees slot disjointness within one pass.
func (v *LayerView) Put(slotIDs []int, k, val *ml.Tensor) error {
	if err := k.CheckShape(len(slotIDs), v.cfg.NumKVHeads, v.cfg.HeadDim); err != nil {
		return fmt.Errorf("%w: key %v", errs.ErrShapeMismatch, err)
	}
	if err := val.CheckShape(len(slotIDs), v.cfg.NumKVHeads, v.cfg.HeadDim); err != nil {
		return fmt.Errorf("%w: value %v", errs.ErrShapeMismatch, err)
	}

	stride := v.elemsPerSlot()
	for t, slot := range slotIDs {
		lo, hi, err := v.slotRange(slot)
		if err != nil {
			return err
		}
		srcLo := t * stride
		copy(v.pool.K.Data[lo:hi], k.Data[srcLo:srcLo+stride])
		copy(v.pool.V.Data[lo:hi], val.Data[srcLo:srcLo+stride])
	}
	return nil
}

// Get implements get_kv_cache(block_table, context_len): gathers a
// logically contiguous [context_len, H_kv, D] view of one sequence's
// past by walking its block table page by page. The last position
// returned equals the most recently written token, by construction of
// the caller-supplied block table.
func (v *LayerView) Get(blockTable []int, contextLen int) (k, val *ml.Tensor, err error) {
	need := 0
	if contextLen > 0 {
		need = (contextLen + v.cfg.BlockSize - 1) / v.cfg.BlockSize
	}
	if len(blockTable) < need {
		return nil, nil, fmt.Errorf("%w: need %d pages for context_len %d, got %d",
			errs.ErrUnderprovisionedBlockTable, need, contextLen, len(blockTable))
	}

	shape := []int{contextLen, v.cfg.NumKVHeads, v.cfg.HeadDim}
	k = ml.New(shape, v.cfg.DType, v.cfg.Device)
	val = ml.New(shape, v.cfg.DType, v.cfg.Device)

	stride := v.elemsPerSlot()
	for t := 0; t < contextLen; t++ {
		page := blockTable[t/v.cfg.BlockSize]
		offset := t % v.cfg.BlockSize
		slot := page*v.cfg.BlockSize + offset
		lo, hi, err := v.slotRange(slot)
		if err != nil {
			return nil, nil, err
		}
		dstLo := t * stride
		copy(k.Data[dstLo:dstLo+stride], v.pool.K.Data[lo:hi])
		copy(val.Data[dstLo:dstLo+stride], v.pool.V.Data[lo:hi])
	}
	return k, val, nil
}

// SlotForPosition resolves the (page, offset) pair for a logical
// position t in a sequence's timeline, per the data model's addressing
// rule: offset = slot % B, page = slot / B, inverted via the block
// table: block_table[t/B], t%B.
func SlotForPosition(blockTable []int, blockSize, t int) int {
	page := blockTable[t/blockSize]
	offset := t % blockSize
	return page*blockSize + offset
}
