package model

import (
	"math"

	"github.com/rotisserie/eris"
)

// WeightTolerance bounds the drift of renormalized weights from 1.0.
const WeightTolerance = 1e-9

// FeatureSpec selects one indicator column for a composite index.
type FeatureSpec struct {
	Name           string  `json:"name" yaml:"name" mapstructure:"name"`
	Label          string  `json:"label,omitempty" yaml:"label" mapstructure:"label"`
	Active         bool    `json:"active" yaml:"active" mapstructure:"active"`
	Weight         float64 `json:"weight" yaml:"weight" mapstructure:"weight"`
	HigherIsBetter bool    `json:"higher_is_better" yaml:"higher_is_better" mapstructure:"higher_is_better"`
}

// Family is a named selection of FeatureSpecs defining one composite index,
// e.g. "capacity" or "accessibility".
type Family struct {
	Name     string        `json:"name" yaml:"name" mapstructure:"name"`
	Features []FeatureSpec `json:"features" yaml:"features" mapstructure:"features"`
}

// ActiveFeatures returns the active specs in declaration order.
func (f Family) ActiveFeatures() []FeatureSpec {
	var out []FeatureSpec
	for _, spec := range f.Features {
		if spec.Active {
			out = append(out, spec)
		}
	}
	return out
}

// NormalizedWeights returns the active specs' weights rescaled to sum to 1,
// aligned with ActiveFeatures.
func (f Family) NormalizedWeights() ([]float64, error) {
	active := f.ActiveFeatures()
	if len(active) == 0 {
		return nil, eris.Wrapf(ErrEmptySelection, "model: family %q", f.Name)
	}

	var sum float64
	for _, spec := range active {
		if spec.Weight < 0 || math.IsNaN(spec.Weight) || math.IsInf(spec.Weight, 0) {
			return nil, eris.Wrapf(ErrInvalidWeight, "model: feature %q weight %v", spec.Name, spec.Weight)
		}
		sum += spec.Weight
	}
	if sum <= 0 {
		return nil, eris.Wrapf(ErrInvalidWeight, "model: family %q active weights sum to zero", f.Name)
	}

	weights := make([]float64, len(active))
	for i, spec := range active {
		weights[i] = spec.Weight / sum
	}
	return weights, nil
}

// Validate checks the family against a table: a name, non-negative finite
// weights, and every feature name resolvable as a column.
func (f Family) Validate(t *Table) error {
	if f.Name == "" {
		return eris.New("model: family name is required")
	}
	seen := make(map[string]bool, len(f.Features))
	for _, spec := range f.Features {
		if spec.Name == "" {
			return eris.Wrapf(ErrUnknownFeature, "model: family %q has a feature with no name", f.Name)
		}
		if seen[spec.Name] {
			return eris.Errorf("model: family %q lists feature %q twice", f.Name, spec.Name)
		}
		seen[spec.Name] = true
		if spec.Weight < 0 || math.IsNaN(spec.Weight) || math.IsInf(spec.Weight, 0) {
			return eris.Wrapf(ErrInvalidWeight, "model: feature %q weight %v", spec.Name, spec.Weight)
		}
		if t != nil && !t.Has(spec.Name) {
			return eris.Wrapf(ErrUnknownFeature, "model: family %q feature %q", f.Name, spec.Name)
		}
	}
	return nil
}
