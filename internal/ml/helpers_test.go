package ml

import (
	"github.com/rs/zerolog"

	"signal-scorer/internal/features"
)

// sepDataset builds a deterministic, linearly separable dataset: the label
// follows smart_confidence, with a second correlated column and a noise
// column. Timestamps increase with the index so chronological order equals
// slice order.
func sepDataset(n int) []TrainingSample {
	out := make([]TrainingSample, n)
	for i := 0; i < n; i++ {
		conf := float64(i % 100)

		var v features.Vector
		v[features.IdxSmartConfidence] = conf
		v[features.IdxRSI1h] = 30 + conf*0.4
		v[features.IdxPriceChange1h] = float64((i*37)%100)/50 - 1 // noise
		v[features.IdxVolumeMultiplier] = 1

		label := 0
		if conf >= 50 {
			label = 1
		}

		out[i] = TrainingSample{
			Timestamp: int64(i+1) * 1000,
			Features:  v,
			Label:     label,
		}
	}
	return out
}

// fastConfig shrinks the trees so tests that run many fits stay quick.
func fastConfig(base BoostConfig) BoostConfig {
	base.Trees = 20
	base.MaxDepth = 3
	return base
}

func fastPipelineConfig() PipelineConfig {
	pc := DefaultPipelineConfig()
	pc.ConfigA = fastConfig(pc.ConfigA)
	pc.ConfigB = fastConfig(pc.ConfigB)
	return pc
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
