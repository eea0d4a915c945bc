package ml

import (
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// AUC computes the area under the ROC curve for blended probabilities
// against binary labels. The second return is false when the labels contain a
// single class, where AUC is undefined and the fold must be excluded from
// aggregation rather than scored as zero.
func AUC(scores []float64, labels []int) (float64, bool) {
	pos, neg := 0, 0
	for _, y := range labels {
		if y == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0, false
	}

	type scored struct {
		s   float64
		pos bool
	}
	pairs := make([]scored, len(scores))
	for i := range scores {
		pairs[i] = scored{scores[i], labels[i] == 1}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].s < pairs[j].s })

	y := make([]float64, len(pairs))
	classes := make([]bool, len(pairs))
	for i, p := range pairs {
		y[i] = p.s
		classes[i] = p.pos
	}

	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), true
}

// Accuracy is the fraction of labels matched by thresholding the blended
// probability at 0.5.
func Accuracy(scores []float64, labels []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	correct := 0
	for i, s := range scores {
		pred := 0
		if s >= 0.5 {
			pred = 1
		}
		if pred == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(scores))
}
