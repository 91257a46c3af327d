package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rawblock/entropy-scorer/internal/hilite"
	"github.com/rawblock/entropy-scorer/internal/logging"
	"github.com/rawblock/entropy-scorer/internal/metrics"
	"github.com/rawblock/entropy-scorer/internal/partition"
	"github.com/rawblock/entropy-scorer/internal/persist"
)

// ErrNotExecuted is returned when derived state is requested before an
// execute or load, or after a reset.
var ErrNotExecuted = errors.New("no evaluation state: execute or load first")

// Settings names the label columns of the two inputs.
type Settings struct {
	ReferenceColumn  string `toml:"reference_column" json:"referenceColumn"`
	ClusteringColumn string `toml:"clustering_column" json:"clusteringColumn"`
}

// ConfigurationError reports settings that cannot work with the declared
// input schemas. It is raised before any data is read.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %s: %v", e.Reason, e.Err)
	}
	return "invalid configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Node is the entropy scorer as the host sees it: configure, execute,
// reset and save/load of its internals.
//
// Execute, Reset, LoadInternals and Restore are serialized by a single
// writer lock. The published snapshot is immutable and read through an
// atomic pointer, so readers (result queries, SaveInternals) never block
// on a running execute.
type Node struct {
	mu         sync.Mutex
	settings   Settings
	current    atomic.Pointer[persist.Snapshot]
	translator *hilite.Translator
	now        func() time.Time
}

// New creates a node. A nil translator gets one linking two entity views.
func New(settings Settings, translator *hilite.Translator) *Node {
	if translator == nil {
		translator = hilite.NewTranslator(hilite.Entities, hilite.Entities)
	}
	return &Node{settings: settings, translator: translator, now: time.Now}
}

// Settings returns the current column settings.
func (n *Node) Settings() Settings {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.settings
}

// SetSettings replaces the column settings. Both columns are required.
func (n *Node) SetSettings(s Settings) error {
	if s.ReferenceColumn == "" || s.ClusteringColumn == "" {
		return &ConfigurationError{Reason: "reference and clustering columns must both be set"}
	}
	n.mu.Lock()
	n.settings = s
	n.mu.Unlock()
	return nil
}

// Configure checks that both declared label columns exist, without reading data.
func (n *Node) Configure(reference, candidate partition.Schema) error {
	return checkSchemas(n.Settings(), reference, candidate)
}

// Reconfigure checks s against both schemas and installs it only when the
// check passes; on error the previous settings stay in place.
func (n *Node) Reconfigure(s Settings, reference, candidate partition.Schema) error {
	if err := checkSchemas(s, reference, candidate); err != nil {
		return err
	}
	n.mu.Lock()
	n.settings = s
	n.mu.Unlock()
	return nil
}

func checkSchemas(s Settings, reference, candidate partition.Schema) error {
	if s.ReferenceColumn == "" || s.ClusteringColumn == "" {
		return &ConfigurationError{Reason: "no auto configuration available, set the reference and clustering columns"}
	}
	if !reference.Contains(s.ReferenceColumn) {
		return &ConfigurationError{Reason: "invalid reference column name " + s.ReferenceColumn,
			Err: &partition.ColumnNotFoundError{Column: s.ReferenceColumn}}
	}
	if !candidate.Contains(s.ClusteringColumn) {
		return &ConfigurationError{Reason: "invalid clustering column name " + s.ClusteringColumn,
			Err: &partition.ColumnNotFoundError{Column: s.ClusteringColumn}}
	}
	return nil
}

// Execute runs the whole pipeline once. On success the new table, result
// and index replace the previous ones together and the translator is
// rewired; on failure the previous state is left as it was.
func (n *Node) Execute(ctx context.Context, reference, candidate partition.Source) (*metrics.QualityResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := checkSchemas(n.settings, reference.Schema(), candidate.Schema()); err != nil {
		return nil, err
	}

	start := n.now()
	refPart, err := partition.Build(ctx, reference, n.settings.ReferenceColumn)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	if refPart.Len() == 0 {
		return nil, &metrics.EmptyInputError{Side: "reference"}
	}
	candPart, err := partition.Build(ctx, candidate, n.settings.ClusteringColumn)
	if err != nil {
		return nil, fmt.Errorf("candidate: %w", err)
	}
	if candPart.Len() == 0 {
		return nil, &metrics.EmptyInputError{Side: "candidate"}
	}

	table := metrics.BuildContingency(refPart, candPart)
	result, err := metrics.Calculate(table)
	if err != nil {
		return nil, err
	}
	index := metrics.BuildClusterIndex(refPart)

	snap := &persist.Snapshot{
		RunID:     uuid.NewString(),
		CreatedAt: n.now().UTC(),
		Table:     table,
		Result:    result,
		Index:     index,
	}
	n.publish(snap)

	skipped := candPart.Len() - table.Total()
	logging.L().Infof("[Node] run %s scored %d entities (%d skipped) in %s: entropy=%.4f quality=%.4f K=%d",
		snap.RunID, table.Total(), skipped, n.now().Sub(start), result.OverallEntropy(), result.Quality(), result.CandidateLabelCount())
	return result, nil
}

// publish installs snap and points the translator at its index.
// Caller holds n.mu.
func (n *Node) publish(snap *persist.Snapshot) {
	n.current.Store(snap)
	if snap == nil {
		n.translator.SetIndex(nil)
		return
	}
	n.translator.SetIndex(snap.Index)
}

// Reset discards the table, result and index.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.publish(nil)
	logging.L().Infof("[Node] state reset")
}

// SaveInternals writes the current state into dir.
func (n *Node) SaveInternals(dir string) error {
	snap := n.current.Load()
	if snap == nil {
		return ErrNotExecuted
	}
	if err := persist.Save(dir, snap); err != nil {
		return err
	}
	logging.L().Infof("[Node] run %s saved to %s", snap.RunID, dir)
	return nil
}

// LoadInternals restores the state saved in dir without recomputing it.
func (n *Node) LoadInternals(dir string) (*metrics.QualityResult, error) {
	snap, err := persist.Load(dir)
	if err != nil {
		return nil, err
	}
	n.Restore(snap)
	logging.L().Infof("[Node] run %s loaded from %s", snap.RunID, dir)
	return snap.Result, nil
}

// Restore installs an already validated snapshot, e.g. one read back from
// the run archive.
func (n *Node) Restore(snap *persist.Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.publish(snap)
}

// Snapshot returns the current state, or nil.
func (n *Node) Snapshot() *persist.Snapshot { return n.current.Load() }

// Result returns the current quality result.
func (n *Node) Result() (*metrics.QualityResult, error) {
	snap := n.current.Load()
	if snap == nil {
		return nil, ErrNotExecuted
	}
	return snap.Result, nil
}

// Contingency returns the current contingency table.
func (n *Node) Contingency() (*metrics.ContingencyTable, error) {
	snap := n.current.Load()
	if snap == nil {
		return nil, ErrNotExecuted
	}
	return snap.Table, nil
}

// ClusterIndex returns the current reference cluster index.
func (n *Node) ClusterIndex() (*metrics.ClusterIndex, error) {
	snap := n.current.Load()
	if snap == nil {
		return nil, ErrNotExecuted
	}
	return snap.Index, nil
}

// RunID identifies the current state; empty when there is none.
func (n *Node) RunID() string {
	if snap := n.current.Load(); snap != nil {
		return snap.RunID
	}
	return ""
}

// Translator returns the selection translator wired to this node.
func (n *Node) Translator() *hilite.Translator { return n.translator }
