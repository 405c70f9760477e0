package input

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlnh/ScaleLLM/attn/errs"
)

func TestKVHeadMapping(t *testing.T) {
	mapping, err := KVHeadMapping(4, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1}, mapping)
}

func TestKVHeadMapping_RejectsIndivisible(t *testing.T) {
	_, err := KVHeadMapping(5, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrShapeMismatch))
}

func TestValidate_PrefillOnly(t *testing.T) {
	p := &Parameters{
		SlotIDs:         []int{0, 1, 2},
		NumPromptTokens: 3,
		CuSeqLens:       []int{0, 3},
		MaxSeqLen:       3,
	}
	require.NoError(t, p.Validate(3, 2))
}

func TestValidate_DecodeOnly(t *testing.T) {
	p := &Parameters{
		SlotIDs:         []int{3},
		NumPromptTokens: 0,
		BlockTables:     [][]int{{0, 1}},
		ContextLens:     []int{4},
		MaxContextLen:   4,
	}
	require.NoError(t, p.Validate(1, 2))
}

func TestValidate_RejectsMismatchedSlotLength(t *testing.T) {
	p := &Parameters{SlotIDs: []int{0, 1}, NumPromptTokens: 0}
	err := p.Validate(3, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrShapeMismatch))
}

func TestValidate_RejectsUnderprovisionedBlockTable(t *testing.T) {
	p := &Parameters{
		SlotIDs:         []int{0},
		NumPromptTokens: 0,
		BlockTables:     [][]int{{0}},
		ContextLens:     []int{5}, // needs ceil(5/2)=3 pages, has 1
		MaxContextLen:   5,
	}
	err := p.Validate(1, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnderprovisionedBlockTable))
}

func TestValidate_RejectsBadCuSeqLens(t *testing.T) {
	p := &Parameters{
		SlotIDs:         []int{0, 1, 2},
		NumPromptTokens: 3,
		CuSeqLens:       []int{1, 3},
	}
	err := p.Validate(3, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrShapeMismatch))
}
