package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Clustering Entropy Scorer
//
// Judges a candidate clustering against a reference clustering using the
// candidate-label distribution inside every reference cluster:
//
//   E_r     = -Σ_c p_c · log₂(p_c)        p_c = n(r,c) / n_r
//   E       =  Σ_r (n_r / N) · E_r
//   quality =  1 - E / log₂(K)            K = observed candidate labels
//
// quality is 1 when every reference cluster maps onto a single candidate
// label and 0 when every cluster is spread uniformly over all K labels.
// All sums run over lexically sorted labels so identical inputs produce
// bit-identical output.

// qualityEpsilon absorbs floating-point overshoot at the [0,1] bounds.
const qualityEpsilon = 1e-12

// ClusterEntropy is the entropy of one reference cluster.
type ClusterEntropy struct {
	Label   Label   `json:"label"`
	Size    int     `json:"size"`
	Entropy float64 `json:"entropy"`
}

// QualityResult holds the scores of one evaluation run. It is immutable
// once built and safe for concurrent readers.
type QualityResult struct {
	clusters []ClusterEntropy
	byLabel  map[Label]int
	overall  float64
	quality  float64
	k        int
	total    int
	ari      float64
	vi       float64
}

// Calculate scores a contingency table. An empty table yields an
// EmptyInputError; there is no degenerate zero-entropy result.
func Calculate(t *ContingencyTable) (*QualityResult, error) {
	if t.Empty() {
		return nil, &EmptyInputError{Side: "contingency"}
	}

	refs := t.ReferenceLabels()
	clusters := make([]ClusterEntropy, 0, len(refs))
	weights := make([]float64, 0, len(refs))
	entropies := make([]float64, 0, len(refs))
	n := float64(t.Total())

	for _, r := range refs {
		size := t.ReferenceTotal(r)
		e := clusterEntropy(t.Row(r), size)
		clusters = append(clusters, ClusterEntropy{Label: r, Size: size, Entropy: e})
		weights = append(weights, float64(size)/n)
		entropies = append(entropies, e)
	}

	overall := floats.Dot(weights, entropies)
	k := len(t.CandidateLabels())

	return newQualityResult(clusters, overall, NormalizedQuality(overall, k), k, t.Total(),
		AdjustedRandIndex(t), VariationOfInformation(t)), nil
}

// clusterEntropy returns -Σ p·log₂(p) over the non-zero counts of one row.
// A pure row (single count) and an empty row both score 0.
func clusterEntropy(counts []int, size int) float64 {
	if size == 0 || len(counts) <= 1 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(size)
		h -= p * math.Log2(p)
	}
	return h
}

// RowEntropy is the entropy of one reference cluster of t.
func RowEntropy(t *ContingencyTable, ref Label) float64 {
	return clusterEntropy(t.Row(ref), t.ReferenceTotal(ref))
}

// NormalizedQuality maps overall entropy to [0,1]. With a single candidate
// label every cluster is pure and quality is 1 without dividing by log₂(1).
func NormalizedQuality(overall float64, k int) float64 {
	if k <= 1 {
		return 1
	}
	q := 1 - overall/math.Log2(float64(k))
	if q < 0 && q > -qualityEpsilon {
		q = 0
	}
	if q > 1 && q < 1+qualityEpsilon {
		q = 1
	}
	return q
}

func newQualityResult(clusters []ClusterEntropy, overall, quality float64, k, total int, ari, vi float64) *QualityResult {
	byLabel := make(map[Label]int, len(clusters))
	for i, c := range clusters {
		byLabel[c.Label] = i
	}
	return &QualityResult{
		clusters: clusters,
		byLabel:  byLabel,
		overall:  overall,
		quality:  quality,
		k:        k,
		total:    total,
		ari:      ari,
		vi:       vi,
	}
}

// ResultState is the flat form of a QualityResult, used when restoring
// persisted state.
type ResultState struct {
	Clusters       []ClusterEntropy
	OverallEntropy float64
	Quality        float64
	K              int
	Total          int
	ARI            float64
	VI             float64
}

// RestoreQualityResult rebuilds a result without recomputation. It checks
// the value ranges but not agreement with any table; that is the caller's job.
func RestoreQualityResult(s ResultState) (*QualityResult, error) {
	if s.Quality < 0 || s.Quality > 1 || math.IsNaN(s.Quality) {
		return nil, fmt.Errorf("quality %v outside [0,1]", s.Quality)
	}
	if s.OverallEntropy < 0 || math.IsNaN(s.OverallEntropy) {
		return nil, fmt.Errorf("negative overall entropy %v", s.OverallEntropy)
	}
	clusters := make([]ClusterEntropy, len(s.Clusters))
	copy(clusters, s.Clusters)
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Label < clusters[j].Label })
	for i, c := range clusters {
		if c.Entropy < 0 || math.IsNaN(c.Entropy) {
			return nil, fmt.Errorf("cluster %q has negative entropy %v", c.Label, c.Entropy)
		}
		if i > 0 && clusters[i-1].Label == c.Label {
			return nil, fmt.Errorf("duplicate cluster entropy for %q", c.Label)
		}
	}
	return newQualityResult(clusters, s.OverallEntropy, s.Quality, s.K, s.Total, s.ARI, s.VI), nil
}

// State flattens the result for persistence.
func (r *QualityResult) State() ResultState {
	return ResultState{
		Clusters:       r.Clusters(),
		OverallEntropy: r.overall,
		Quality:        r.quality,
		K:              r.k,
		Total:          r.total,
		ARI:            r.ari,
		VI:             r.vi,
	}
}

// Clusters returns a copy of the per-cluster entropies ordered by label.
func (r *QualityResult) Clusters() []ClusterEntropy {
	out := make([]ClusterEntropy, len(r.clusters))
	copy(out, r.clusters)
	return out
}

// ClusterEntropy returns the entropy of one reference cluster.
func (r *QualityResult) ClusterEntropy(l Label) (float64, bool) {
	i, ok := r.byLabel[l]
	if !ok {
		return 0, false
	}
	return r.clusters[i].Entropy, true
}

// OverallEntropy is the size-weighted mean of the cluster entropies, in bits.
func (r *QualityResult) OverallEntropy() float64 { return r.overall }

// Quality is the normalized agreement score in [0,1].
func (r *QualityResult) Quality() float64 { return r.quality }

// CandidateLabelCount is K, the number of candidate labels observed.
func (r *QualityResult) CandidateLabelCount() int { return r.k }

// Total is N, the number of entities scored.
func (r *QualityResult) Total() int { return r.total }

// ARI is the adjusted Rand index of the same table.
func (r *QualityResult) ARI() float64 { return r.ari }

// VI is the variation of information of the same table, in bits.
func (r *QualityResult) VI() float64 { return r.vi }
