// Package input defines the batched descriptor passed across the
// boundary between callers and the attention core: slot assignments,
// the prefill/decode split point, and the two region-specific index
// structures (cumulative prompt lengths for prefill, block tables for
// decode).
package input

import (
	"fmt"

	"github.com/jlnh/ScaleLLM/attn/errs"
)

// Parameters is the descriptor threaded through a forward pass.
// Fields are partitioned into always-present, prefill-only and
// decode-only groups.
type Parameters struct {
	// SlotIDs gives the destination cache slot for each of the T
	// tokens' K and V.
	SlotIDs []int

	// NumPromptTokens is P, the boundary between prefill and decode.
	NumPromptTokens int

	// CuSeqLens is the cumulative prompt length table; prefill-only.
	// len(CuSeqLens) == S+1 where S is the number of packed prompts.
	CuSeqLens []int

	// MaxSeqLen is the longest prompt length; prefill-only, an upper
	// bound rather than a requirement.
	MaxSeqLen int

	// BlockTables holds one ordered page-index list per decode row;
	// decode-only. len(BlockTables) == T-P.
	BlockTables [][]int

	// ContextLens holds the current logical length of each decoding
	// sequence, including the just-written token; decode-only.
	ContextLens []int

	// MaxContextLen is the longest context across decode rows;
	// decode-only.
	MaxContextLen int

	// AlibiSlopes, if non-nil, holds one slope per query head and is
	// consumed by both the prefill and decode kernels.
	AlibiSlopes []float32
}

// NumDecodeTokens returns T-P.
func (p *Parameters) NumDecodeTokens(total int) int {
	return total - p.NumPromptTokens
}

// Validate checks the structural preconditions the orchestrator and
// kernels rely on, given the total token count T and the cache's block
// size B. It does not validate tensor shapes — that is the caller's
// (orchestrator's) job once Q/K/V are in hand.
func (p *Parameters) Validate(total, blockSize int) error {
	if p.NumPromptTokens < 0 || p.NumPromptTokens > total {
		return fmt.Errorf("%w: num_prompt_tokens %d out of range [0,%d]", errs.ErrShapeMismatch, p.NumPromptTokens, total)
	}
	if len(p.SlotIDs) != total {
		return fmt.Errorf("%w: slot_ids length %d != T %d", errs.ErrShapeMismatch, len(p.SlotIDs), total)
	}

	decodeCount := total - p.NumPromptTokens
	if decodeCount > 0 {
		if len(p.BlockTables) != decodeCount {
			return fmt.Errorf("%w: block_tables length %d != decode token count %d", errs.ErrShapeMismatch, len(p.BlockTables), decodeCount)
		}
		if len(p.ContextLens) != decodeCount {
			return fmt.Errorf("%w: context_lens length %d != decode token count %d", errs.ErrShapeMismatch, len(p.ContextLens), decodeCount)
		}
		for i, ctxLen := range p.ContextLens {
			need := (ctxLen + blockSize - 1) / blockSize
			if ctxLen > 0 {
				if need <= 0 {
					need = 1
				}
			} else {
				need = 0
			}
			if len(p.BlockTables[i]) < need {
				return fmt.Errorf("%w: row %d needs %d pages for context_len %d, block table has %d",
					errs.ErrUnderprovisionedBlockTable, i, need, ctxLen, len(p.BlockTables[i]))
			}
		}
	}

	if p.NumPromptTokens > 0 {
		if len(p.CuSeqLens) < 2 {
			return fmt.Errorf("%w: cu_seq_lens must have at least 2 entries for a nonempty prefill region", errs.ErrShapeMismatch)
		}
		if p.CuSeqLens[0] != 0 {
			return fmt.Errorf("%w: cu_seq_lens[0] must be 0, got %d", errs.ErrShapeMismatch, p.CuSeqLens[0])
		}
		if last := p.CuSeqLens[len(p.CuSeqLens)-1]; last != p.NumPromptTokens {
			return fmt.Errorf("%w: cu_seq_lens last entry %d != num_prompt_tokens %d", errs.ErrShapeMismatch, last, p.NumPromptTokens)
		}
		for i := 1; i < len(p.CuSeqLens); i++ {
			if p.CuSeqLens[i] < p.CuSeqLens[i-1] {
				return fmt.Errorf("%w: cu_seq_lens must be nondecreasing", errs.ErrShapeMismatch)
			}
		}
	}

	return nil
}

// KVHeadMapping constructs mapping[h] = h/G for Hq query heads sharing
// Hkv KV heads, where G = Hq/Hkv.
func KVHeadMapping(hq, hkv int) ([]int, error) {
	if hkv <= 0 || hq <= 0 || hq%hkv != 0 {
		return nil, fmt.Errorf("%w: H_q=%d not divisible by H_kv=%d", errs.ErrShapeMismatch, hq, hkv)
	}
	g := hq / hkv
	mapping := make([]int, hq)
	for h := range mapping {
		mapping[h] = h / g
	}
	return mapping, nil
}
