package ffi

import (
	"errors"
	"testing"

	"github.com/edge-veda/runtime/pkg/runtime"
)

func TestMapErrorSuccessIsNil(t *testing.T) {
	if err := mapError(codeSuccess, "ctx"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMapErrorExhaustiveMapping(t *testing.T) {
	cases := []struct {
		code int32
		want any
	}{
		{codeInvalidParam, &runtime.ConfigError{}},
		{codeOutOfMemory, &runtime.MemoryError{}},
		{codeModelLoadFailed, &runtime.ModelLoadError{}},
		{codeBackendInitFailed, &runtime.InitError{}},
		{codeInferenceFailed, &runtime.GenerationError{}},
		{codeContextInvalid, &runtime.InitError{}},
		{codeStreamEnded, &runtime.GenerationError{}},
		{codeNotImplemented, &runtime.ConfigError{}},
		{codeMemoryLimitExceeded, &runtime.MemoryError{}},
		{codeUnsupportedBackend, &runtime.InitError{}},
	}
	for _, c := range cases {
		err := mapError(c.code, "ctx")
		if err == nil {
			t.Errorf("code %d: expected error, got nil", c.code)
			continue
		}
		switch c.want.(type) {
		case *runtime.ConfigError:
			var target *runtime.ConfigError
			if !errors.As(err, &target) {
				t.Errorf("code %d: expected *runtime.ConfigError, got %T", c.code, err)
			}
		case *runtime.MemoryError:
			var target *runtime.MemoryError
			if !errors.As(err, &target) {
				t.Errorf("code %d: expected *runtime.MemoryError, got %T", c.code, err)
			}
		case *runtime.ModelLoadError:
			var target *runtime.ModelLoadError
			if !errors.As(err, &target) {
				t.Errorf("code %d: expected *runtime.ModelLoadError, got %T", c.code, err)
			}
		case *runtime.InitError:
			var target *runtime.InitError
			if !errors.As(err, &target) {
				t.Errorf("code %d: expected *runtime.InitError, got %T", c.code, err)
			}
		case *runtime.GenerationError:
			var target *runtime.GenerationError
			if !errors.As(err, &target) {
				t.Errorf("code %d: expected *runtime.GenerationError, got %T", c.code, err)
			}
		}
	}
}

func TestMapErrorUnknownCodeCarriesRawValue(t *testing.T) {
	err := mapError(-999, "ctx")
	if err == nil {
		t.Fatal("expected error for unknown code")
	}
	err2 := mapError(-42, "ctx")
	if err2 == nil {
		t.Fatal("expected error for arbitrary unmapped code")
	}
}
