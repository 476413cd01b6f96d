// Package cluster cross-classifies two local statistics into quadrant labels.
package cluster

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/hexspot/internal/gstar"
	"github.com/sells-group/hexspot/internal/model"
)

// DefaultSignificance is the p-value cutoff used when none is configured.
const DefaultSignificance = 0.05

// Counts is a per-label histogram.
type Counts map[model.ClusterLabel]int

// Total returns the number of labelled cells.
func (c Counts) Total() int {
	var n int
	for _, v := range c {
		n += v
	}
	return n
}

// Significant returns the number of cells in one of the four quadrants.
func (c Counts) Significant() int {
	return c.Total() - c[model.LabelN]
}

// Classify labels each cell by the sign and significance of score A and
// score B. A side is high when p < significance and z > 0, low when
// p < significance and z < 0. Two highs give HH, high A with low B gives HL,
// and so on; anything else is N.
func Classify(a, b *gstar.Result, significance float64) ([]model.ClusterLabel, error) {
	if a == nil || b == nil {
		return nil, eris.New("cluster: both results are required")
	}
	if a.Len() != b.Len() || len(a.P) != len(a.Z) || len(b.P) != len(b.Z) {
		return nil, eris.Errorf("cluster: result lengths differ (%d vs %d)", a.Len(), b.Len())
	}
	if significance <= 0 || significance > 1 {
		return nil, eris.Errorf("cluster: significance %v outside (0, 1]", significance)
	}

	labels := make([]model.ClusterLabel, a.Len())
	for i := range labels {
		labels[i] = Label(a.Z[i], a.P[i], b.Z[i], b.P[i], significance)
	}
	return labels, nil
}

// Label classifies a single cell.
func Label(zA, pA, zB, pB, significance float64) model.ClusterLabel {
	hiA, loA := side(zA, pA, significance)
	hiB, loB := side(zB, pB, significance)
	switch {
	case hiA && hiB:
		return model.LabelHH
	case hiA && loB:
		return model.LabelHL
	case loA && hiB:
		return model.LabelLH
	case loA && loB:
		return model.LabelLL
	default:
		return model.LabelN
	}
}

func side(z, p, significance float64) (high, low bool) {
	sig := p < significance
	return sig && z > 0, sig && z < 0
}

// Count tallies labels. Every label is present in the result, zero or not.
func Count(labels []model.ClusterLabel) Counts {
	c := make(Counts, len(model.Labels))
	for _, l := range model.Labels {
		c[l] = 0
	}
	for _, l := range labels {
		c[l]++
	}
	return c
}
