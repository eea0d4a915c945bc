package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAUC_PerfectSeparation(t *testing.T) {
	scores := []float64{0.1, 0.2, 0.8, 0.9}
	labels := []int{0, 0, 1, 1}

	auc, ok := AUC(scores, labels)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, auc, 1e-9)
}

func TestAUC_PerfectlyWrong(t *testing.T) {
	scores := []float64{0.9, 0.8, 0.2, 0.1}
	labels := []int{0, 0, 1, 1}

	auc, ok := AUC(scores, labels)
	assert.True(t, ok)
	assert.InDelta(t, 0.0, auc, 1e-9)
}

func TestAUC_SingleClassUndefined(t *testing.T) {
	_, ok := AUC([]float64{0.3, 0.6, 0.9}, []int{1, 1, 1})
	assert.False(t, ok)

	_, ok = AUC([]float64{0.3, 0.6}, []int{0, 0})
	assert.False(t, ok)
}

func TestAccuracy(t *testing.T) {
	scores := []float64{0.9, 0.4, 0.6, 0.1}
	labels := []int{1, 0, 0, 0}

	assert.InDelta(t, 0.75, Accuracy(scores, labels), 1e-9)
	assert.Equal(t, 0.0, Accuracy(nil, nil))
}
