package metabolate

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ActivityMatrix holds per-sample bioactivity readouts: one row per
// sample, one column per assay. Rows are fingerprints used to score how
// strongly a basket's sample set associates with bioactivity.
type ActivityMatrix struct {
	assays []string
	rows   map[string][]float64
}

// NewActivityMatrix validates and wraps bioactivity readouts. Every row
// must have one finite value per assay. Readout slices are copied.
func NewActivityMatrix(assays []string, readouts map[string][]float64) (*ActivityMatrix, error) {
	if len(assays) == 0 {
		return nil, fmt.Errorf("metabolate: activity matrix needs at least one assay column")
	}
	m := &ActivityMatrix{
		assays: append([]string(nil), assays...),
		rows:   make(map[string][]float64, len(readouts)),
	}
	for sample, row := range readouts {
		if sample == "" {
			return nil, fmt.Errorf("metabolate: activity matrix has a row with an empty sample id")
		}
		if len(row) != len(assays) {
			return nil, fmt.Errorf("metabolate: activity row for %q has %d values, want %d",
				sample, len(row), len(assays))
		}
		for j, v := range row {
			if !isFinite(v) {
				return nil, fmt.Errorf("metabolate: activity row for %q has non-finite %s value",
					sample, assays[j])
			}
		}
		m.rows[sample] = append([]float64(nil), row...)
	}
	return m, nil
}

// Assays returns the assay column names in input order.
func (m *ActivityMatrix) Assays() []string { return m.assays }

// Row returns the fingerprint for a sample, or false if the sample has
// no bioactivity data.
func (m *ActivityMatrix) Row(sample string) ([]float64, bool) {
	row, ok := m.rows[sample]
	return row, ok
}

// Score is the bioactivity association for one basket.
type Score struct {
	// Activity is the squared magnitude of the basket's synthetic
	// fingerprint (the element-wise mean of its samples' readouts).
	// Baskets detected only in inactive samples score near zero.
	Activity float64

	// Cluster is the mean off-diagonal Pearson correlation between the
	// basket's samples' fingerprints: high when the samples the basket
	// appears in respond alike. 0 when fewer than two samples have data.
	Cluster float64
}

// ScoreBasket computes the activity and cluster score for one basket.
// Samples missing from the matrix are skipped; a basket with no scored
// samples gets the zero Score.
func ScoreBasket(b Basket, m *ActivityMatrix) Score {
	fps := make([][]float64, 0, len(b.Samples))
	for _, s := range b.Samples {
		if row, ok := m.Row(s); ok {
			fps = append(fps, row)
		}
	}
	if len(fps) == 0 {
		return Score{}
	}

	synthetic := make([]float64, len(m.assays))
	for _, fp := range fps {
		floats.Add(synthetic, fp)
	}
	floats.Scale(1/float64(len(fps)), synthetic)

	return Score{
		Activity: floats.Dot(synthetic, synthetic),
		Cluster:  meanPairwiseCorrelation(fps),
	}
}

// ScoreBaskets computes scores for all baskets, parallel to the input slice.
func ScoreBaskets(baskets []Basket, m *ActivityMatrix) []Score {
	scores := make([]Score, len(baskets))
	for i, b := range baskets {
		scores[i] = ScoreBasket(b, m)
	}
	return scores
}

// meanPairwiseCorrelation averages the Pearson correlation over all
// fingerprint pairs, ignoring undefined pairs (zero-variance rows).
func meanPairwiseCorrelation(fps [][]float64) float64 {
	if len(fps) < 2 {
		return 0
	}
	sum, pairs := 0.0, 0
	for i := 0; i < len(fps); i++ {
		for j := i + 1; j < len(fps); j++ {
			r := stat.Correlation(fps[i], fps[j], nil)
			if math.IsNaN(r) {
				continue
			}
			sum += r
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

// AutoThreshold picks a score cutoff from the empirical distribution:
// the q-quantile of the values (q in [0,1]). Used when no fixed
// activity or cluster threshold is configured. Returns 0 for no values.
func AutoThreshold(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

// FilterActive returns the baskets whose scores meet both thresholds,
// preserving order. Used to select which baskets enter the exported
// association network when bioactivity data is available.
func FilterActive(baskets []Basket, scores []Score, actThresh, clustThresh float64) []Basket {
	out := make([]Basket, 0, len(baskets))
	for i, b := range baskets {
		if scores[i].Activity >= actThresh && scores[i].Cluster >= clustThresh {
			out = append(out, b)
		}
	}
	return out
}
