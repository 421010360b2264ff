package eval

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"stackcast/internal/features"
)

// JSON renders the result as an indented document for files or pipes.
func (r *Result) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteText renders a human-readable summary.
func (r *Result) WriteText(w io.Writer) {
	fmt.Fprintf(w, "WALK-FORWARD EVALUATION\n")
	fmt.Fprintf(w, "=======================\n\n")

	if r.Asset != "" {
		fmt.Fprintf(w, "Asset: %s\n", r.Asset)
	}
	fmt.Fprintf(w, "Observations: %d (train %d, graded %d)\n", r.Observations, r.TrainObs, r.Graded)
	fmt.Fprintf(w, "Training: %s over %d samples, combined holdout accuracy %.2f%%\n",
		r.Training.Elapsed.Round(time.Millisecond), r.Training.Samples, r.Training.CombinedAccuracy*100)
	if len(r.Training.Degraded) > 0 {
		fmt.Fprintf(w, "Degraded learners:\n")
		for _, d := range r.Training.Degraded {
			fmt.Fprintf(w, "  %s: %s\n", d.Name, d.Reason)
		}
	}
	if r.Training.SequenceSkipped != "" {
		fmt.Fprintf(w, "Sequence learner skipped: %s\n", r.Training.SequenceSkipped)
	}

	fmt.Fprintf(w, "\nDIRECTION QUALITY\n")
	fmt.Fprintf(w, "-----------------\n")
	fmt.Fprintf(w, "Accuracy: %.2f%%\n", r.Accuracy*100)
	fmt.Fprintf(w, "Macro F1: %.3f\n", r.MacroF1)
	fmt.Fprintf(w, "Mean confidence: %.3f\n", r.MeanConfidence)

	fmt.Fprintf(w, "\nPER-CLASS METRICS\n")
	fmt.Fprintf(w, "-----------------\n")
	for _, name := range r.Classes {
		m := r.PerClass[name]
		fmt.Fprintf(w, "%-8s precision %.3f, recall %.3f, f1 %.3f (support %d)\n",
			name, m.Precision, m.Recall, m.F1, m.Support)
	}

	fmt.Fprintf(w, "\nCONFUSION MATRIX (rows actual, columns predicted)\n")
	fmt.Fprintf(w, "-------------------------------------------------\n")
	fmt.Fprintf(w, "%-8s", "")
	for _, name := range r.Classes {
		fmt.Fprintf(w, "%9s", name)
	}
	fmt.Fprintf(w, "\n")
	for a := 0; a < features.NumLabels; a++ {
		fmt.Fprintf(w, "%-8s", r.Classes[a])
		for p := 0; p < features.NumLabels; p++ {
			fmt.Fprintf(w, "%9d", r.Confusion[a][p])
		}
		fmt.Fprintf(w, "\n")
	}
}
