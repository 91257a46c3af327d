package metrics

import "math"

// AdjustedRandIndex computes the Adjusted Rand Index (ARI) between the two
// partitions tabulated in t. It is reported next to the entropy score so a
// collapsed candidate clustering is visible even when its entropy looks fine.
//
// ARI = (RI - Expected_RI) / (Max_RI - Expected_RI)
// where RI = (a + b) / C(n, 2)
//   a = number of pairs in same cluster in both partitions
//   b = number of pairs in different clusters in both partitions
//
// Values range from -1 (worse than random) to 1 (perfect agreement). 0 = random.
func AdjustedRandIndex(t *ContingencyTable) float64 {
	n := t.Total()
	if n < 2 {
		return 0.0
	}

	// sum of C(n_ij, 2)
	sumNijC2 := 0.0
	for _, c := range t.Cells() {
		sumNijC2 += comb2(c.Count)
	}

	sumAiC2 := 0.0
	for _, r := range t.ReferenceLabels() {
		sumAiC2 += comb2(t.ReferenceTotal(r))
	}

	sumBjC2 := 0.0
	for _, c := range t.CandidateLabels() {
		sumBjC2 += comb2(t.CandidateTotal(c))
	}

	nC2 := comb2(n)
	if nC2 == 0 {
		return 0.0
	}

	expectedIndex := (sumAiC2 * sumBjC2) / nC2
	maxIndex := 0.5 * (sumAiC2 + sumBjC2)

	denominator := maxIndex - expectedIndex
	if math.Abs(denominator) < 1e-12 {
		return 1.0 // Perfect agreement (both are 0)
	}

	return (sumNijC2 - expectedIndex) / denominator
}

// VariationOfInformation computes the VI distance between the two
// partitions tabulated in t: the information lost and gained when moving
// from one clustering to the other.
//
// VI(R, C) = H(R|C) + H(C|R)
// where H is the conditional entropy in bits.
//
// Lower is better. 0 = identical partitions.
func VariationOfInformation(t *ContingencyTable) float64 {
	n := t.Total()
	if n < 2 {
		return 0.0
	}
	nf := float64(n)

	// H(R|C) = -sum_ij (n_ij/n) * log(n_ij / b_j)
	// H(C|R) = -sum_ij (n_ij/n) * log(n_ij / a_i)
	hRgivenC := 0.0
	hCgivenR := 0.0
	for _, c := range t.Cells() {
		pij := float64(c.Count) / nf
		if b := t.CandidateTotal(c.Candidate); b > 0 {
			hRgivenC -= pij * math.Log2(float64(c.Count)/float64(b))
		}
		if a := t.ReferenceTotal(c.Reference); a > 0 {
			hCgivenR -= pij * math.Log2(float64(c.Count)/float64(a))
		}
	}

	return hRgivenC + hCgivenR
}

// comb2 computes C(n, 2) = n*(n-1)/2
func comb2(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2.0
}
