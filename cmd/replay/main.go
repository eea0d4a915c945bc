// Command replay scores a labeled CSV dataset against the saved model and
// reports per-tier hit rates, accuracy and AUC. It is the offline check that
// a trained generation behaves sensibly before its predictions are trusted.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"signal-scorer/internal/cfg"
	"signal-scorer/internal/ingest"
	"signal-scorer/internal/ml"

	"github.com/rs/zerolog/log"
)

func main() {
	csvPath := flag.String("csv", "", "labeled dataset to replay (required)")
	modelDir := flag.String("models", "", "model store directory (default: MODEL_DIR)")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	dir := *modelDir
	if dir == "" {
		c, err := cfg.Load()
		if err != nil {
			log.Fatal().Err(err).Msg("config load failed")
		}
		dir = c.ModelDir
	}

	store, err := ml.NewModelStore(dir, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("model store open failed")
	}
	cls, err := ml.NewClassifier(ml.DefaultClassifierConfig(), ml.DefaultPipelineConfig(), store, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("classifier initialization failed")
	}
	if err := cls.Load(); err != nil {
		log.Fatal().Err(err).Msg("no model to replay against")
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open dataset failed")
	}
	defer f.Close()

	samples, err := ingest.DecodeCSV(f)
	if err != nil {
		log.Fatal().Err(err).Msg("decode dataset failed")
	}

	type tierStats struct {
		count int
		wins  int
	}
	byTier := map[ml.Tier]*tierStats{}
	scores := make([]float64, 0, len(samples))
	labels := make([]int, 0, len(samples))

	for _, sm := range samples {
		pred, err := cls.PredictVector(sm.Features)
		if err != nil {
			log.Fatal().Err(err).Msg("prediction failed")
		}

		ts, ok := byTier[pred.Tier]
		if !ok {
			ts = &tierStats{}
			byTier[pred.Tier] = ts
		}
		ts.count++
		ts.wins += sm.Label

		scores = append(scores, pred.Probability)
		labels = append(labels, sm.Label)
	}

	auc, aucOK := ml.AUC(scores, labels)
	acc := ml.Accuracy(scores, labels)

	fmt.Printf("model %s over %d samples\n\n", cls.Version(), len(samples))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tCOUNT\tSHARE\tWIN RATE")
	for _, tier := range []ml.Tier{ml.TierHigh, ml.TierMedium, ml.TierLow, ml.TierFilter} {
		ts, ok := byTier[tier]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1f%%\n",
			tier, ts.count,
			100*float64(ts.count)/float64(len(samples)),
			100*float64(ts.wins)/float64(ts.count))
	}
	w.Flush()

	fmt.Printf("\naccuracy %.3f", acc)
	if aucOK {
		fmt.Printf("  auc %.3f", auc)
	}
	fmt.Println()
}
