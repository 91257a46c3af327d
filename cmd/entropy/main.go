// Command entropy scores one clustering against a reference classification
// from two CSV/XLSX files and prints the per-cluster entropies.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/rawblock/entropy-scorer/internal/logging"
	"github.com/rawblock/entropy-scorer/internal/metrics"
	"github.com/rawblock/entropy-scorer/internal/node"
	"github.com/rawblock/entropy-scorer/internal/partition"
	flag "github.com/spf13/pflag"
)

func main() {
	refPath := flag.StringP("reference", "r", "", "reference table (.csv or .xlsx)")
	candPath := flag.StringP("clustering", "c", "", "clustering table (.csv or .xlsx)")
	refCol := flag.String("reference-column", "class", "label column of the reference table")
	candCol := flag.String("clustering-column", "cluster", "label column of the clustering table")
	saveDir := flag.String("save", "", "write the evaluation internals into this directory")
	loadDir := flag.String("load", "", "print the internals saved in this directory instead of scoring")
	asJSON := flag.Bool("json", false, "print the result as JSON")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	if _, err := logging.Init(*logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	n := node.New(node.Settings{ReferenceColumn: *refCol, ClusteringColumn: *candCol}, nil)

	var (
		result *metrics.QualityResult
		err    error
	)
	if *loadDir != "" {
		result, err = n.LoadInternals(*loadDir)
	} else {
		if strings.TrimSpace(*refPath) == "" || strings.TrimSpace(*candPath) == "" {
			fmt.Fprintln(os.Stderr, "--reference and --clustering are required")
			flag.Usage()
			os.Exit(2)
		}
		result, err = score(ctx, n, *refPath, *candPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if *saveDir != "" {
		if err := n.SaveInternals(*saveDir); err != nil {
			fmt.Fprintln(os.Stderr, "error saving internals:", err)
			os.Exit(1)
		}
	}

	if *asJSON {
		err = printJSON(n.RunID(), result)
	} else {
		err = printTable(n.RunID(), result)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func score(ctx context.Context, n *node.Node, refPath, candPath string) (*metrics.QualityResult, error) {
	ref, err := partition.OpenFile(refPath)
	if err != nil {
		return nil, err
	}
	cand, err := partition.OpenFile(candPath)
	if err != nil {
		return nil, err
	}
	if err := n.Configure(ref.Schema(), cand.Schema()); err != nil {
		return nil, err
	}
	return n.Execute(ctx, ref, cand)
}

func printJSON(runID string, r *metrics.QualityResult) error {
	summary, err := metrics.Summarize(r)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"runId":           runID,
		"totalEntities":   r.Total(),
		"candidateLabels": r.CandidateLabelCount(),
		"overallEntropy":  r.OverallEntropy(),
		"quality":         r.Quality(),
		"ari":             r.ARI(),
		"vi":              r.VI(),
		"clusters":        r.Clusters(),
		"summary":         summary,
	})
}

func printTable(runID string, r *metrics.QualityResult) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tSIZE\tENTROPY")
	for _, c := range r.Clusters() {
		fmt.Fprintf(w, "%s\t%d\t%.6f\n", c.Label, c.Size, c.Entropy)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nrun %s: %d entities, K=%d\n", runID, r.Total(), r.CandidateLabelCount())
	fmt.Printf("overall entropy  %.6f\n", r.OverallEntropy())
	fmt.Printf("quality          %.6f\n", r.Quality())
	fmt.Printf("ARI              %.6f\n", r.ARI())
	fmt.Printf("VI               %.6f\n", r.VI())
	return nil
}
