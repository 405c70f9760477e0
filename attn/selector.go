package attn

import (
	"fmt"

	"github.com/jlnh/ScaleLLM/attn/errs"
	"github.com/jlnh/ScaleLLM/attn/ml"
)

// BackendMode is one of the three settable states of a per-operation
// backend override.
type BackendMode int

const (
	BackendAuto BackendMode = iota
	BackendReference
	BackendAccelerator
)

func (m BackendMode) String() string {
	switch m {
	case BackendAuto:
		return "auto"
	case BackendReference:
		return "reference"
	case BackendAccelerator:
		return "accelerator"
	default:
		return "unknown"
	}
}

// ParseBackendMode rejects unrecognized override strings at startup.
// Empty is equivalent to auto.
func ParseBackendMode(s string) (BackendMode, error) {
	switch s {
	case "", "auto":
		return BackendAuto, nil
	case "reference":
		return BackendReference, nil
	case "accelerator":
		return BackendAccelerator, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized backend override %q", errs.ErrConfig, s)
	}
}

// SelectorConfig holds the independent prefill/decode overrides.
type SelectorConfig struct {
	PrefillBackend BackendMode
	DecodeBackend  BackendMode
}

// backendKind is the tagged-dispatch result: which concrete kernel
// package services a call. Modeled as an enum switched on at the call
// site rather than as an interface hierarchy; the decision is per-call
// and cheap.
type backendKind int

const (
	kindReference backendKind = iota
	kindAccelerator
)

// resolve picks the kernel implementation from the tensor's residency
// crossed with the configured mode. Host-resident tensors always run
// reference; the accelerator only runs when the tensor lives in
// accelerator memory. Explicitly selecting the accelerator for a
// host-resident tensor has no valid choice and fails with
// ErrBackendUnavailable rather than silently falling back.
func resolve(device ml.Device, mode BackendMode) (backendKind, error) {
	switch {
	case device == ml.DeviceAccelerator && mode == BackendAuto:
		return kindAccelerator, nil
	case device == ml.DeviceAccelerator && mode == BackendAccelerator:
		return kindAccelerator, nil
	case device == ml.DeviceAccelerator && mode == BackendReference:
		return kindReference, nil
	case device == ml.DeviceHost && mode == BackendAccelerator:
		return 0, fmt.Errorf("%w: accelerator backend selected but tensor resides on host memory", errs.ErrBackendUnavailable)
	case device == ml.DeviceHost:
		// mode is auto or reference; host memory always runs reference.
		return kindReference, nil
	default:
		return 0, fmt.Errorf("%w: unhandled device %v mode %v", errs.ErrConfig, device, mode)
	}
}
