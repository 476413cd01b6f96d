// Package index builds weighted composite indexes from min-max normalized
// feature columns.
package index

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/hexspot/internal/model"
)

// MinMax rescales col into [0, 1]. The input is not modified.
func MinMax(col []float64) ([]float64, error) {
	return MinMaxRange(col, 0, 1)
}

// MinMaxRange rescales col into [a, b]:
//
//	out[i] = (col[i] - min) * (b - a) / (max - min) + a
//
// A constant column cannot be rescaled and fails with ErrDegenerateColumn.
func MinMaxRange(col []float64, a, b float64) ([]float64, error) {
	if len(col) == 0 {
		return nil, eris.Wrap(model.ErrEmptyExtent, "index: normalize empty column")
	}
	if floats.HasNaN(col) {
		return nil, eris.Wrap(model.ErrMissingFeatureData, "index: normalize column with NaN")
	}

	lo, hi := floats.Min(col), floats.Max(col)
	if hi == lo {
		return nil, eris.Wrapf(model.ErrDegenerateColumn, "index: constant column (value %v)", lo)
	}

	scale := (b - a) / (hi - lo)
	out := make([]float64, len(col))
	for i, v := range col {
		out[i] = (v-lo)*scale + a
	}
	return out, nil
}
