package models

import (
	"time"

	"github.com/rawblock/entropy-scorer/internal/metrics"
	"github.com/rawblock/entropy-scorer/internal/partition"
)

// TableInput is a partition source sent over the API: either inline rows
// or a path to a CSV/XLSX file readable by the server.
type TableInput struct {
	Path    string          `json:"path,omitempty"`
	Columns []string        `json:"columns,omitempty"`
	Rows    []partition.Row `json:"rows,omitempty"`
}

// ConfigureRequest validates column settings against declared schemas.
type ConfigureRequest struct {
	ReferenceColumn  string   `json:"referenceColumn" binding:"required"`
	ClusteringColumn string   `json:"clusteringColumn" binding:"required"`
	ReferenceSchema  []string `json:"referenceSchema"`
	ClusteringSchema []string `json:"clusteringSchema"`
}

// ExecuteRequest runs the scorer on two inputs.
type ExecuteRequest struct {
	Reference  TableInput `json:"reference"`
	Clustering TableInput `json:"clustering"`
}

// EvaluationResult is the read-only view of a quality result.
type EvaluationResult struct {
	RunID          string                   `json:"runId"`
	CreatedAt      time.Time                `json:"createdAt"`
	TotalEntities  int                      `json:"totalEntities"`
	CandidateCount int                      `json:"candidateLabels"`
	OverallEntropy float64                  `json:"overallEntropy"`
	Quality        float64                  `json:"quality"`
	ARI            float64                  `json:"ari"`
	VI             float64                  `json:"vi"`
	Clusters       []metrics.ClusterEntropy `json:"clusters"`
	Summary        metrics.EntropySummary   `json:"summary"`
}

// ContingencyView is the wire form of a contingency table.
type ContingencyView struct {
	Total           int            `json:"total"`
	Cells           []metrics.Cell `json:"cells"`
	ReferenceTotals map[string]int `json:"referenceTotals"`
	CandidateTotals map[string]int `json:"candidateTotals"`
}

// InternalsRequest names the directory for save/load of internals. An
// empty dir means the configured default.
type InternalsRequest struct {
	Dir string `json:"dir"`
}

// SelectionEvent is a selection notification (inbound) or command
// (outbound) for one linked endpoint.
type SelectionEvent struct {
	Type   string   `json:"type"`
	Origin string   `json:"origin"`
	Target string   `json:"target,omitempty"`
	Keys   []string `json:"keys"`
	Seq    uint64   `json:"seq,omitempty"`
}
