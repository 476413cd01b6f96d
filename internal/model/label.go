package model

// ClusterLabel is the quadrant category of a cell under two local statistics.
type ClusterLabel string

// Cluster labels. The first letter describes score A, the second score B.
const (
	LabelHH ClusterLabel = "HH"
	LabelHL ClusterLabel = "HL"
	LabelLH ClusterLabel = "LH"
	LabelLL ClusterLabel = "LL"
	LabelN  ClusterLabel = "N"
)

// Labels lists every label in display order.
var Labels = []ClusterLabel{LabelHH, LabelHL, LabelLH, LabelLL, LabelN}

// Significant reports whether the label marks a significant cluster.
func (l ClusterLabel) Significant() bool {
	return l == LabelHH || l == LabelHL || l == LabelLH || l == LabelLL
}

// Valid reports whether l is one of the five labels.
func (l ClusterLabel) Valid() bool {
	return l.Significant() || l == LabelN
}
