package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"stackcast/internal/features"
	"stackcast/internal/synthetic"
)

func main() {
	var (
		outPath    = flag.String("out", "sample_observations.csv", "Output CSV path")
		n          = flag.Int("n", 720, "Number of observations to generate")
		seed       = flag.Int64("seed", 7, "Generator seed")
		drift      = flag.Float64("drift", 0.0002, "Fractional price drift per step")
		volatility = flag.Float64("volatility", 0.004, "Std dev of the random fractional move")
		stepMin    = flag.Int("step", 60, "Minutes between observations")
	)
	flag.Parse()

	fmt.Printf("Generating sample observations...\n")
	fmt.Printf("  Rows: %d\n", *n)
	fmt.Printf("  Seed: %d\n", *seed)
	fmt.Printf("  Output: %s\n", *outPath)

	p := synthetic.DefaultParams()
	p.N = *n
	p.Seed = *seed
	p.Drift = *drift
	p.Volatility = *volatility
	p.StepMinutes = *stepMin

	obs := synthetic.Generate(p)
	if len(obs) == 0 {
		log.Fatalf("No observations generated, check -n")
	}

	if err := writeCSV(*outPath, obs); err != nil {
		log.Fatalf("Failed to write CSV: %v", err)
	}

	fmt.Printf("✓ Wrote %d observations spanning %s\n", len(obs), obs[len(obs)-1].Ts.Sub(obs[0].Ts))
	fmt.Printf("  Final price: $%.2f\n", obs[len(obs)-1].Price)
}

// writeCSV emits the column layout the evaluate command and the file source
// read back: ts, price, volume, then one column per pillar score.
func writeCSV(path string, obs []features.Observation) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"ts", "price", "volume"}
	for pl := features.Pillar(0); pl < features.NumPillars; pl++ {
		header = append(header, pl.ScoreKey())
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, o := range obs {
		row := []string{
			o.Ts.UTC().Format(time.RFC3339),
			strconv.FormatFloat(o.Price, 'f', -1, 64),
			strconv.FormatFloat(o.Volume, 'f', -1, 64),
		}
		for pl := features.Pillar(0); pl < features.NumPillars; pl++ {
			row = append(row, strconv.FormatFloat(o.Score(pl), 'f', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
