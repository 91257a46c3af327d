package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rawblock/entropy-scorer/internal/metrics"
)

// FormatVersion is the only encoding version this build reads and writes.
const FormatVersion = 1

// consistencyTolerance bounds the drift allowed between stored scores and
// the scores implied by the stored table.
const consistencyTolerance = 1e-9

// Snapshot is the complete derived state of one evaluation run. The raw
// partitions are not part of it.
type Snapshot struct {
	RunID     string
	CreatedAt time.Time
	Table     *metrics.ContingencyTable
	Result    *metrics.QualityResult
	Index     *metrics.ClusterIndex
}

// record is the on-disk layout.
type record struct {
	Version        int                      `json:"version"`
	RunID          string                   `json:"runId"`
	CreatedAt      time.Time                `json:"createdAt"`
	Total          int                      `json:"total"`
	Cells          []metrics.Cell           `json:"cells"`
	Clusters       []metrics.ClusterEntropy `json:"clusterEntropy"`
	OverallEntropy float64                  `json:"overallEntropy"`
	Quality        float64                  `json:"quality"`
	K              int                      `json:"candidateLabels"`
	ARI            float64                  `json:"ari"`
	VI             float64                  `json:"vi"`
	Groups         []metrics.Group          `json:"groups"`
}

// CorruptStateError reports persisted state that violates the structural
// invariants. It is never repaired.
type CorruptStateError struct {
	Reason string
	Err    error
}

func (e *CorruptStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt evaluation state: %s: %v", e.Reason, e.Err)
	}
	return "corrupt evaluation state: " + e.Reason
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// VersionMismatchError reports an encoding version this build cannot read.
type VersionMismatchError struct {
	Got, Want int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("evaluation state version %d not supported (want %d)", e.Got, e.Want)
}

func corrupt(reason string, err error) error {
	return &CorruptStateError{Reason: reason, Err: err}
}

// Encode writes snap to w.
func Encode(w io.Writer, snap *Snapshot) error {
	if snap == nil || snap.Table == nil || snap.Result == nil || snap.Index == nil {
		return errors.New("incomplete snapshot")
	}
	state := snap.Result.State()
	rec := record{
		Version:        FormatVersion,
		RunID:          snap.RunID,
		CreatedAt:      snap.CreatedAt.UTC(),
		Total:          snap.Table.Total(),
		Cells:          snap.Table.Cells(),
		Clusters:       state.Clusters,
		OverallEntropy: state.OverallEntropy,
		Quality:        state.Quality,
		K:              state.K,
		ARI:            state.ARI,
		VI:             state.VI,
		Groups:         snap.Index.Groups(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// Decode reads and validates a snapshot. Structural violations yield
// *CorruptStateError, an unknown version *VersionMismatchError.
func Decode(r io.Reader) (*Snapshot, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}

	// Version first, leniently: a newer layout may add or reshape fields.
	var tag struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(payload, &tag); err != nil {
		return nil, corrupt("unparsable payload", err)
	}
	if tag.Version == nil {
		return nil, corrupt("missing version tag", nil)
	}
	if *tag.Version != FormatVersion {
		return nil, &VersionMismatchError{Got: *tag.Version, Want: FormatVersion}
	}

	var rec record
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return nil, corrupt("unparsable payload", err)
	}
	if _, err := uuid.Parse(rec.RunID); err != nil {
		return nil, corrupt(fmt.Sprintf("run id %q", rec.RunID), err)
	}

	table, err := metrics.NewContingencyTable(rec.Cells)
	if err != nil {
		return nil, corrupt("contingency table", err)
	}
	if table.Total() != rec.Total {
		return nil, corrupt(fmt.Sprintf("cell sum %d does not match total %d", table.Total(), rec.Total), nil)
	}
	if table.Empty() {
		return nil, corrupt("empty contingency table", nil)
	}

	k := len(table.CandidateLabels())
	if rec.K != k {
		return nil, corrupt(fmt.Sprintf("candidate label count %d does not match table (%d)", rec.K, k), nil)
	}
	if len(rec.Clusters) != len(table.ReferenceLabels()) {
		return nil, corrupt(fmt.Sprintf("%d cluster entropies for %d reference labels", len(rec.Clusters), len(table.ReferenceLabels())), nil)
	}
	weighted := 0.0
	for _, c := range rec.Clusters {
		size := table.ReferenceTotal(c.Label)
		if size == 0 {
			return nil, corrupt(fmt.Sprintf("entropy for unknown reference label %q", c.Label), nil)
		}
		if c.Size != size {
			return nil, corrupt(fmt.Sprintf("cluster %q size %d does not match marginal %d", c.Label, c.Size, size), nil)
		}
		if want := metrics.RowEntropy(table, c.Label); math.Abs(want-c.Entropy) > consistencyTolerance {
			return nil, corrupt(fmt.Sprintf("cluster %q entropy %v does not match its counts (%v)", c.Label, c.Entropy, want), nil)
		}
		weighted += float64(size) / float64(table.Total()) * c.Entropy
	}
	if math.Abs(weighted-rec.OverallEntropy) > consistencyTolerance {
		return nil, corrupt(fmt.Sprintf("overall entropy %v does not match cluster entropies (%v)", rec.OverallEntropy, weighted), nil)
	}
	if want := metrics.NormalizedQuality(rec.OverallEntropy, k); math.Abs(want-rec.Quality) > consistencyTolerance {
		return nil, corrupt(fmt.Sprintf("quality %v does not match overall entropy and K (%v)", rec.Quality, want), nil)
	}

	result, err := metrics.RestoreQualityResult(metrics.ResultState{
		Clusters:       rec.Clusters,
		OverallEntropy: rec.OverallEntropy,
		Quality:        rec.Quality,
		K:              rec.K,
		Total:          rec.Total,
		ARI:            rec.ARI,
		VI:             rec.VI,
	})
	if err != nil {
		return nil, corrupt("quality result", err)
	}

	index, err := metrics.RestoreClusterIndex(rec.Groups)
	if err != nil {
		return nil, corrupt("cluster index", err)
	}
	for _, l := range table.ReferenceLabels() {
		if len(index.Entities(l)) < table.ReferenceTotal(l) {
			return nil, corrupt(fmt.Sprintf("cluster %q holds fewer entities than it scored", l), nil)
		}
	}

	return &Snapshot{
		RunID:     rec.RunID,
		CreatedAt: rec.CreatedAt,
		Table:     table,
		Result:    result,
		Index:     index,
	}, nil
}
