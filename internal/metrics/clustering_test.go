package metrics

import (
	"math"
	"sort"
	"testing"
)

// labels is a minimal Labeling for tests.
type labels map[EntityID]Label

func (l labels) IDs() []EntityID {
	ids := make([]EntityID, 0, len(l))
	for id := range l {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l labels) LabelOf(id EntityID) (Label, bool) {
	v, ok := l[id]
	return v, ok
}

func (l labels) Len() int { return len(l) }

func fromSlices(predicted, groundTruth []string) (labels, labels) {
	pred, gt := labels{}, labels{}
	for i := range predicted {
		id := EntityID(string(rune('a' + i)))
		pred[id] = Label(predicted[i])
		gt[id] = Label(groundTruth[i])
	}
	return gt, pred
}

func TestAdjustedRandIndex_PerfectAgreement(t *testing.T) {
	gt, pred := fromSlices(
		[]string{"0", "0", "1", "1", "2", "2"},
		[]string{"0", "0", "1", "1", "2", "2"},
	)

	ari := AdjustedRandIndex(BuildContingency(gt, pred))

	if math.Abs(ari-1.0) > 0.01 {
		t.Errorf("Expected ARI=1.0 for perfect agreement. Got: %f", ari)
	}
}

func TestAdjustedRandIndex_RandomPartition(t *testing.T) {
	// Two very different partitions should yield ARI near 0
	gt, pred := fromSlices(
		[]string{"0", "0", "0", "1", "1", "1"},
		[]string{"0", "1", "0", "1", "0", "1"},
	)

	ari := AdjustedRandIndex(BuildContingency(gt, pred))

	if ari > 0.5 {
		t.Errorf("Expected ARI near 0 for dissimilar partitions. Got: %f", ari)
	}
}

func TestAdjustedRandIndex_RenamedLabels(t *testing.T) {
	gt, pred := fromSlices(
		[]string{"x", "x", "y", "y"},
		[]string{"1", "1", "2", "2"},
	)

	ari := AdjustedRandIndex(BuildContingency(gt, pred))

	if math.Abs(ari-1.0) > 1e-9 {
		t.Errorf("Expected ARI=1.0 when only label names differ. Got: %f", ari)
	}
}

func TestVariationOfInformation_Identical(t *testing.T) {
	gt, pred := fromSlices(
		[]string{"0", "0", "1", "1", "2", "2"},
		[]string{"0", "0", "1", "1", "2", "2"},
	)

	vi := VariationOfInformation(BuildContingency(gt, pred))

	if vi > 0.01 {
		t.Errorf("Expected VI=0.0 for identical partitions. Got: %f", vi)
	}
}

func TestVariationOfInformation_Different(t *testing.T) {
	gt, pred := fromSlices(
		[]string{"0", "0", "0", "1", "1", "1"},
		[]string{"0", "1", "0", "1", "0", "1"},
	)

	vi := VariationOfInformation(BuildContingency(gt, pred))

	if vi < 0.1 {
		t.Errorf("Expected VI > 0 for different partitions. Got: %f", vi)
	}
}

func TestComb2(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0}, {1, 0}, {2, 1}, {5, 10},
	}
	for _, tt := range tests {
		if got := comb2(tt.n); got != tt.want {
			t.Errorf("comb2(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}
