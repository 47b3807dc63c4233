package pfnet

import (
	"github.com/openfluke/mlpf/ad"
)

// FlattenedCategoricalAccuracy accumulates classification accuracy over the
// flattened element slots of every batch it sees. With UseWeights the
// per-slot sample weights scale both the hit count and the normalization,
// otherwise only zero weights matter (they drop padded slots).
type FlattenedCategoricalAccuracy struct {
	UseWeights bool

	hits  float64
	total float64
}

// Update folds one batch into the metric. yTrue and yPred are
// [batch, N, numClasses]; sw is [batch, N] and may be nil to count every
// slot.
func (m *FlattenedCategoricalAccuracy) Update(yTrue, yPred, sw *ad.Tensor) {
	pred := ad.Argmax(yPred)
	truth := ad.Argmax(yTrue)
	for i := range pred.Data {
		w := 1.0
		if sw != nil {
			w = float64(sw.Data[i])
			if !m.UseWeights && w > 0 {
				w = 1
			}
		}
		if w == 0 {
			continue
		}
		m.total += w
		if pred.Data[i] == truth.Data[i] {
			m.hits += w
		}
	}
}

// Value is the accuracy accumulated so far, zero before any update.
func (m *FlattenedCategoricalAccuracy) Value() float64 {
	if m.total == 0 {
		return 0
	}
	return m.hits / m.total
}

// Reset clears the accumulated state.
func (m *FlattenedCategoricalAccuracy) Reset() {
	m.hits = 0
	m.total = 0
}
