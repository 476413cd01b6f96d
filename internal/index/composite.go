package index

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/hexspot/internal/model"
)

// Composite is one composite index computed over a table.
type Composite struct {
	Family   string    `json:"family"`
	Features []string  `json:"features"`
	Weights  []float64 `json:"weights"` // renormalized, aligned with Features
	Scores   []float64 `json:"scores"`  // aligned with table rows
}

// Build computes the composite index of a family over t. Only active
// features take part; their weights are renormalized to sum to 1. Features
// with HigherIsBetter=false are negated before normalization so that a
// higher score always means a better cell.
func Build(t *model.Table, fam model.Family) (*Composite, error) {
	if err := fam.Validate(t); err != nil {
		return nil, eris.Wrap(err, "index: validate family")
	}
	active := fam.ActiveFeatures()
	weights, err := fam.NormalizedWeights()
	if err != nil {
		return nil, eris.Wrap(err, "index: weights")
	}
	if t.Len() == 0 {
		return nil, eris.Wrapf(model.ErrEmptyExtent, "index: family %q", fam.Name)
	}

	c := &Composite{
		Family:   fam.Name,
		Features: make([]string, len(active)),
		Weights:  weights,
		Scores:   make([]float64, t.Len()),
	}
	for i, spec := range active {
		c.Features[i] = spec.Name
		col, _ := t.Column(spec.Name) // Validate guarantees presence
		if floats.HasNaN(col) {
			return nil, eris.Wrapf(model.ErrMissingFeatureData, "index: feature %q", spec.Name)
		}
		if !spec.HigherIsBetter {
			floats.Scale(-1, col)
		}
		norm, err := MinMax(col)
		if err != nil {
			return nil, eris.Wrapf(err, "index: feature %q", spec.Name)
		}
		floats.AddScaled(c.Scores, weights[i], norm)
	}

	// Rounding in the weighted sum can step just outside [0, 1].
	for i, s := range c.Scores {
		c.Scores[i] = math.Min(1, math.Max(0, s))
	}
	return c, nil
}
