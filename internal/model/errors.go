package model

import "github.com/rotisserie/eris"

// Engine failure kinds. Every engine function wraps one of these so callers
// can branch with errors.Is.
var (
	// ErrEmptySelection means a composite index was requested with no active features.
	ErrEmptySelection = eris.New("no active features selected")

	// ErrDegenerateColumn means a feature column has zero variance.
	ErrDegenerateColumn = eris.New("feature column has zero variance")

	// ErrDegenerateScore means a composite score is constant across the extent.
	ErrDegenerateScore = eris.New("score has zero variance across extent")

	// ErrEmptyExtent means a neighbor graph was requested over no cells.
	ErrEmptyExtent = eris.New("extent has no cells")

	// ErrResolutionMismatch means an aggregation target is not strictly coarser.
	ErrResolutionMismatch = eris.New("target resolution is not coarser than input")

	// ErrMissingFeatureData means a consumed column contains NaN.
	ErrMissingFeatureData = eris.New("missing feature data")

	// ErrEmptyNeighborhood means a cell has no neighbors, not even itself.
	ErrEmptyNeighborhood = eris.New("cell has an empty neighborhood")

	ErrUnknownFeature = eris.New("unknown feature")
	ErrInvalidWeight  = eris.New("invalid feature weight")
	ErrInvalidCell    = eris.New("invalid cell id")
)
