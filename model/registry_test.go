package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlnh/ScaleLLM/attn"
	"github.com/jlnh/ScaleLLM/attn/errs"
)

func TestRegistry_RegisterAndNew(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("llama", attn.New))

	o, err := r.New("llama", attn.Config{HQ: 4, HKV: 2, HeadDim: 8, Scale: 0.25})
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("llama", attn.New))

	err := r.Register("llama", attn.New)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

func TestRegistry_UnknownArchitecture(t *testing.T) {
	r := NewRegistry()
	_, err := r.New("gpt-oss", attn.Config{HQ: 2, HKV: 2, HeadDim: 4, Scale: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

func TestRegistry_ArchitecturesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("mistral", attn.New))
	require.NoError(t, r.Register("llama", attn.New))
	assert.Equal(t, []string{"llama", "mistral"}, r.Architectures())
}
