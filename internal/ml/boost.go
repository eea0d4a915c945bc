package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"signal-scorer/internal/features"
)

// boostNode is one node of a fitted tree, stored in a flat slice so the
// whole tree serializes as a single JSON array.
type boostNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Leaf      bool    `json:"leaf"`
}

type boostTree struct {
	Nodes []boostNode `json:"nodes"`
}

func (t *boostTree) predict(row features.Vector) float64 {
	idx := 0
	for {
		n := &t.Nodes[idx]
		if n.Leaf {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

// Boost is a gradient-boosted tree classifier on the logistic loss. Trees
// are grown greedily on histogram-binned features with a second-order split
// gain. Training is deterministic for a given config (the subsample RNG is
// seeded), so a persisted model reproduces its predictions exactly.
type Boost struct {
	Config BoostConfig             `json:"config"`
	Base   float64                 `json:"base_score"`
	Trees  []boostTree             `json:"trees"`
	Gains  [features.Count]float64 `json:"feature_gains"`
}

// NewBoost constructs an untrained predictor, validating the configuration.
func NewBoost(cfg BoostConfig) (*Boost, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Boost{Config: cfg}, nil
}

// Fit trains the predictor. Labels must be 0 or 1.
func (b *Boost) Fit(rows []features.Vector, labels []int) error {
	if len(rows) == 0 {
		return fmt.Errorf("boost fit: empty training set")
	}
	if len(rows) != len(labels) {
		return fmt.Errorf("boost fit: %d rows but %d labels", len(rows), len(labels))
	}
	for i, y := range labels {
		if y != 0 && y != 1 {
			return fmt.Errorf("boost fit: label at row %d must be 0 or 1, got %d", i, y)
		}
	}

	n := len(rows)
	weights := make([]float64, n)
	for i, y := range labels {
		if y == 1 {
			weights[i] = b.Config.ScalePosWeight
		} else {
			weights[i] = 1
		}
	}

	var sumWY, sumW float64
	for i, y := range labels {
		sumW += weights[i]
		if y == 1 {
			sumWY += weights[i]
		}
	}
	p0 := clampProb(sumWY / sumW)
	b.Base = math.Log(p0 / (1 - p0))
	b.Trees = b.Trees[:0]
	b.Gains = [features.Count]float64{}

	edges, bins := binFeatures(rows, b.Config.MaxBins)

	rng := rand.New(rand.NewSource(b.Config.Seed))
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = b.Base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)

	tb := &treeBuilder{
		cfg:   b.Config,
		edges: edges,
		bins:  bins,
		grad:  grad,
		hess:  hess,
		gains: &b.Gains,
	}

	for m := 0; m < b.Config.Trees; m++ {
		for i := range rows {
			p := sigmoid(scores[i])
			grad[i] = weights[i] * (p - float64(labels[i]))
			hess[i] = weights[i] * p * (1 - p)
		}

		sample := make([]int, 0, n)
		if b.Config.Subsample < 1 {
			for i := 0; i < n; i++ {
				if rng.Float64() < b.Config.Subsample {
					sample = append(sample, i)
				}
			}
			if len(sample) < 2*b.Config.MinLeafSamples {
				// Degenerate draw on tiny datasets; fall back to the full set.
				sample = sample[:0]
				for i := 0; i < n; i++ {
					sample = append(sample, i)
				}
			}
		} else {
			for i := 0; i < n; i++ {
				sample = append(sample, i)
			}
		}

		tree := boostTree{}
		tb.nodes = tree.Nodes[:0]
		tb.build(sample, 0)
		tree.Nodes = tb.nodes
		b.Trees = append(b.Trees, tree)

		for i := range rows {
			scores[i] += tree.predict(rows[i])
		}
	}

	return nil
}

// PredictProba returns the predicted win probability for one row.
func (b *Boost) PredictProba(row features.Vector) float64 {
	score := b.Base
	for i := range b.Trees {
		score += b.Trees[i].predict(row)
	}
	return sigmoid(score)
}

// FeatureImportance returns accumulated split gain per feature.
func (b *Boost) FeatureImportance() [features.Count]float64 {
	return b.Gains
}

// Trained reports whether Fit has completed at least once.
func (b *Boost) Trained() bool { return len(b.Trees) > 0 }

type treeBuilder struct {
	cfg   BoostConfig
	edges [features.Count][]float64
	bins  [][features.Count]uint8
	grad  []float64
	hess  []float64
	gains *[features.Count]float64
	nodes []boostNode
}

// build grows a node over the given sample indices and returns its position
// in the flat node slice.
func (tb *treeBuilder) build(sample []int, depth int) int {
	var gSum, hSum float64
	for _, i := range sample {
		gSum += tb.grad[i]
		hSum += tb.hess[i]
	}

	pos := len(tb.nodes)
	tb.nodes = append(tb.nodes, boostNode{})

	makeLeaf := func() int {
		tb.nodes[pos] = boostNode{
			Leaf:  true,
			Value: tb.cfg.LearningRate * (-gSum / (hSum + tb.cfg.Lambda)),
		}
		return pos
	}

	if depth >= tb.cfg.MaxDepth || len(sample) < 2*tb.cfg.MinLeafSamples {
		return makeLeaf()
	}

	feat, splitBin, gain := tb.findBestSplit(sample, gSum, hSum)
	if feat < 0 {
		return makeLeaf()
	}
	tb.gains[feat] += gain

	left := make([]int, 0, len(sample))
	right := make([]int, 0, len(sample))
	for _, i := range sample {
		if int(tb.bins[i][feat]) <= splitBin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	leftPos := tb.build(left, depth+1)
	rightPos := tb.build(right, depth+1)
	tb.nodes[pos] = boostNode{
		Feature:   feat,
		Threshold: tb.edges[feat][splitBin],
		Left:      leftPos,
		Right:     rightPos,
	}
	return pos
}

// findBestSplit scans histogram bins for the split maximizing the
// second-order gain. Returns feature -1 when no admissible split improves
// the objective.
func (tb *treeBuilder) findBestSplit(sample []int, gSum, hSum float64) (int, int, float64) {
	const minGain = 1e-12

	bestFeat, bestBin := -1, -1
	bestGain := minGain
	lambda := tb.cfg.Lambda
	parentScore := gSum * gSum / (hSum + lambda)

	var gBin, hBin [256]float64
	var cBin [256]int

	for feat := 0; feat < features.Count; feat++ {
		edgeCount := len(tb.edges[feat])
		if edgeCount == 0 {
			continue
		}

		for b := 0; b <= edgeCount; b++ {
			gBin[b], hBin[b], cBin[b] = 0, 0, 0
		}
		for _, i := range sample {
			bin := tb.bins[i][feat]
			gBin[bin] += tb.grad[i]
			hBin[bin] += tb.hess[i]
			cBin[bin]++
		}

		var gLeft, hLeft float64
		var cLeft int
		for b := 0; b < edgeCount; b++ {
			gLeft += gBin[b]
			hLeft += hBin[b]
			cLeft += cBin[b]

			cRight := len(sample) - cLeft
			if cLeft < tb.cfg.MinLeafSamples || cRight < tb.cfg.MinLeafSamples {
				continue
			}

			gRight := gSum - gLeft
			hRight := hSum - hLeft
			gain := 0.5 * (gLeft*gLeft/(hLeft+lambda) + gRight*gRight/(hRight+lambda) - parentScore)
			if gain > bestGain {
				bestGain = gain
				bestFeat = feat
				bestBin = b
			}
		}
	}

	if bestFeat < 0 {
		return -1, -1, 0
	}
	return bestFeat, bestBin, bestGain
}

// binFeatures computes quantile bin edges per feature and assigns each row a
// bin index per feature. Rows in bin b satisfy value <= edges[b]; the last
// bin catches everything above the final edge.
func binFeatures(rows []features.Vector, maxBins int) ([features.Count][]float64, [][features.Count]uint8) {
	n := len(rows)
	var edges [features.Count][]float64

	col := make([]float64, n)
	for feat := 0; feat < features.Count; feat++ {
		for i := range rows {
			col[i] = rows[i][feat]
		}
		sort.Float64s(col)

		var e []float64
		for k := 1; k < maxBins; k++ {
			v := col[k*n/maxBins]
			if len(e) == 0 || v > e[len(e)-1] {
				e = append(e, v)
			}
		}
		// Drop a trailing edge equal to the maximum: it would produce an
		// empty right partition for every split.
		for len(e) > 0 && e[len(e)-1] >= col[n-1] {
			e = e[:len(e)-1]
		}
		edges[feat] = e
	}

	bins := make([][features.Count]uint8, n)
	for i := range rows {
		for feat := 0; feat < features.Count; feat++ {
			bins[i][feat] = uint8(sort.SearchFloat64s(edges[feat], rows[i][feat]))
		}
	}
	return edges, bins
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func clampProb(p float64) float64 {
	const eps = 1e-6
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}
