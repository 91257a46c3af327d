package metrics

import (
	"github.com/montanaflynn/stats"
)

// EntropySummary describes the spread of the per-cluster entropies.
type EntropySummary struct {
	Clusters     int     `json:"clusters"`
	PureClusters int     `json:"pureClusters"`
	Mean         float64 `json:"mean"`
	Median       float64 `json:"median"`
	Max          float64 `json:"max"`
	StdDev       float64 `json:"stdDev"`
}

// Summarize computes descriptive statistics over the cluster entropies of r.
func Summarize(r *QualityResult) (EntropySummary, error) {
	clusters := r.Clusters()
	summary := EntropySummary{Clusters: len(clusters)}
	if len(clusters) == 0 {
		return summary, nil
	}

	data := make(stats.Float64Data, 0, len(clusters))
	for _, c := range clusters {
		data = append(data, c.Entropy)
		if c.Entropy == 0 {
			summary.PureClusters++
		}
	}

	var err error
	if summary.Mean, err = stats.Mean(data); err != nil {
		return summary, err
	}
	if summary.Median, err = stats.Median(data); err != nil {
		return summary, err
	}
	if summary.Max, err = stats.Max(data); err != nil {
		return summary, err
	}
	if summary.StdDev, err = stats.StandardDeviation(data); err != nil {
		return summary, err
	}
	return summary, nil
}
