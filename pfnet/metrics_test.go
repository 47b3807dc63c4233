package pfnet

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openfluke/mlpf/ad"
)

func TestFlattenedCategoricalAccuracy(t *testing.T) {
	yTrue := ad.FromSlice([]float32{
		1, 0, // class 0
		0, 1, // class 1
		0, 1, // class 1
		1, 0, // class 0, padded below
	}, 1, 4, 2)
	yPred := ad.FromSlice([]float32{
		0.9, 0.1, // hit
		0.2, 0.8, // hit
		0.7, 0.3, // miss
		0.6, 0.4, // would be a hit, but padded
	}, 1, 4, 2)
	sw := ad.FromSlice([]float32{1, 1, 1, 0}, 1, 4)

	var m FlattenedCategoricalAccuracy
	m.Update(yTrue, yPred, sw)
	assert.InDelta(t, 2.0/3, m.Value(), 1e-9)

	// Without weights every slot counts.
	var all FlattenedCategoricalAccuracy
	all.Update(yTrue, yPred, nil)
	assert.InDelta(t, 3.0/4, all.Value(), 1e-9)
}

func TestFlattenedCategoricalAccuracyWeighted(t *testing.T) {
	yTrue := ad.FromSlice([]float32{1, 0, 0, 1}, 1, 2, 2)
	yPred := ad.FromSlice([]float32{0.9, 0.1, 0.9, 0.1}, 1, 2, 2) // hit, miss
	sw := ad.FromSlice([]float32{3, 1}, 1, 2)

	m := FlattenedCategoricalAccuracy{UseWeights: true}
	m.Update(yTrue, yPred, sw)
	assert.InDelta(t, 3.0/4, m.Value(), 1e-9)
}

func TestAccuracyAccumulatesAndResets(t *testing.T) {
	yTrue := ad.FromSlice([]float32{1, 0}, 1, 1, 2)
	hit := ad.FromSlice([]float32{0.9, 0.1}, 1, 1, 2)
	miss := ad.FromSlice([]float32{0.1, 0.9}, 1, 1, 2)

	var m FlattenedCategoricalAccuracy
	assert.Zero(t, m.Value())

	m.Update(yTrue, hit, nil)
	m.Update(yTrue, miss, nil)
	assert.InDelta(t, 0.5, m.Value(), 1e-9)

	m.Reset()
	assert.Zero(t, m.Value())

	// A long evaluation run keeps the ratio exact; the metric carries two
	// scalars of state no matter how many batches it has seen.
	for i := 0; i < 1000; i++ {
		m.Update(yTrue, hit, nil)
		m.Update(yTrue, miss, nil)
		m.Update(yTrue, miss, nil)
	}
	assert.InDelta(t, 1.0/3, m.Value(), 1e-9)
}
