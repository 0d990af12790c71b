package statechart

import (
	"errors"

	"dario.cat/mergo"
	"github.com/tiendc/go-deepcopy"
)

// deepClone copies v so that no service shares mutable data with the
// machine definition or with another service.
func deepClone[C any](v C) (C, error) {
	var out C
	if err := deepcopy.Copy(&out, &v); err != nil {
		return out, errors.Join(ErrCloneContext, err)
	}
	return out, nil
}

// mergeOverride lays the non-zero fields of override onto base. Context types
// mergo cannot walk (scalars, slices) are replaced wholesale.
func mergeOverride[C any](base C, override C) (C, error) {
	err := mergo.Merge(&base, override, mergo.WithOverride)
	switch {
	case err == nil:
		return base, nil
	case errors.Is(err, mergo.ErrNilArguments):
		return base, nil
	case errors.Is(err, mergo.ErrNotSupported), errors.Is(err, mergo.ErrNonPointerArgument):
		return override, nil
	default:
		return base, errors.Join(ErrMergeContext, err)
	}
}
