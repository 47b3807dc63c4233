package pfnet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/mlpf/ad"
)

func TestCategoricalCrossEntropy(t *testing.T) {
	yTrue := ad.FromSlice([]float32{1, 0, 0, 1}, 1, 2, 2)
	perfect := ad.FromSlice([]float32{1, 0, 0, 1}, 1, 2, 2)
	uniform := ad.FromSlice([]float32{0.5, 0.5, 0.5, 0.5}, 1, 2, 2)

	assert.InDelta(t, 0, CategoricalCrossEntropy(yTrue, perfect, nil).Data[0], 1e-4)
	assert.InDelta(t, math.Log(2), CategoricalCrossEntropy(yTrue, uniform, nil).Data[0], 1e-5)
}

func TestCrossEntropyRespectsWeights(t *testing.T) {
	yTrue := ad.FromSlice([]float32{1, 0, 0, 1}, 1, 2, 2)
	yPred := ad.FromSlice([]float32{0.5, 0.5, 0.5, 0.5}, 1, 2, 2)

	// Zero weight on the second slot halves the mean.
	sw := ad.FromSlice([]float32{1, 0}, 1, 2)
	got := CategoricalCrossEntropy(yTrue, yPred, sw).Data[0]
	assert.InDelta(t, math.Log(2)/2, got, 1e-5)
}

func TestSigmoidFocalCrossEntropy(t *testing.T) {
	yTrue := ad.FromSlice([]float32{1, 0}, 1, 1, 2)
	good := ad.FromSlice([]float32{0.99, 0.01}, 1, 1, 2)
	bad := ad.FromSlice([]float32{0.01, 0.99}, 1, 1, 2)

	lGood := SigmoidFocalCrossEntropy(yTrue, good, nil).Data[0]
	lBad := SigmoidFocalCrossEntropy(yTrue, bad, nil).Data[0]
	assert.Less(t, lGood, lBad)
	// Confident correct predictions are strongly down-weighted.
	assert.Less(t, lGood, float32(1e-3))
}

func TestRegressionLosses(t *testing.T) {
	yTrue := ad.FromSlice([]float32{1, 2}, 1, 2, 1)
	yPred := ad.FromSlice([]float32{2, 4}, 1, 2, 1)

	assert.InDelta(t, (1.0+4.0)/2, MeanSquaredError(yTrue, yPred, nil).Data[0], 1e-5)
	assert.InDelta(t, (1.0+2.0)/2, MeanAbsoluteError(yTrue, yPred, nil).Data[0], 1e-5)
}

func TestLossRegistries(t *testing.T) {
	for _, name := range []string{"categorical_cross_entropy", "sigmoid_focal_crossentropy"} {
		l, err := ClassificationLossByName(name)
		require.NoError(t, err)
		require.NotNil(t, l)
	}
	_, err := ClassificationLossByName("hinge")
	assert.ErrorIs(t, err, ErrUnknownLoss)

	for _, name := range []string{"mean_squared_error", "mean_absolute_error"} {
		l, err := RegressionLossByName(name)
		require.NoError(t, err)
		require.NotNil(t, l)
	}
	_, err = RegressionLossByName("huber")
	assert.ErrorIs(t, err, ErrUnknownLoss)
}

func TestSplitTargets(t *testing.T) {
	y := ad.New(1, 2, 7)
	copy(y.Data[:7], []float32{2, -1, 1.5, 0.3, 0.6, 0.8, 2.5})

	targets, err := SplitTargets(y, 4)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 4}, targets.Cls.Shape)
	assert.Equal(t, []float32{0, 0, 1, 0}, targets.Cls.Data[:4])
	assert.Equal(t, float32(-1), targets.Charge.Data[0])
	assert.Equal(t, float32(1.5), targets.Pt.Data[0])
	assert.Equal(t, float32(2.5), targets.Energy.Data[0])

	// Padded slot: class 0 one-hot.
	assert.Equal(t, []float32{1, 0, 0, 0}, targets.Cls.Data[4:])

	_, err = SplitTargets(ad.New(1, 2, 5), 4)
	assert.ErrorIs(t, err, ErrBadInputShape)
}

func TestNewSampleWeights(t *testing.T) {
	X := ad.New(1, 4, 3)
	X.Data[0] = 1 // only the first slot is real
	X.Data[3] = 2

	sw, err := NewSampleWeights("none", X, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 0, 0}, sw.Cls.Data)
	assert.Same(t, sw.Cls, sw.Energy)

	_, err = NewSampleWeights("inverse_sqrt", X, nil)
	assert.ErrorIs(t, err, ErrUnknownWeightScheme)

	occ := ad.FromSlice([]float32{4, 16, 1, 1}, 1, 4)
	sw, err = NewSampleWeights("inverse_sqrt", X, occ)
	require.NoError(t, err)
	assert.InDelta(t, 4.0/2, sw.Cls.Data[0], 1e-3)
	assert.InDelta(t, 4.0/4, sw.Cls.Data[1], 1e-3)
	assert.Zero(t, sw.Cls.Data[2])

	_, err = NewSampleWeights("uniform", X, nil)
	assert.ErrorIs(t, err, ErrUnknownWeightScheme)
}

func TestMultiHeadLoss(t *testing.T) {
	cfg := testConfig()
	l, err := NewMultiHeadLoss(cfg.Dataset, cfg.Setup)
	require.NoError(t, err)

	m, err := New(cfg)
	require.NoError(t, err)
	X, y := testBatch(cfg, 1, 40, 40)
	preds, err := m.Forward(X, false)
	require.NoError(t, err)
	targets, err := SplitTargets(y, cfg.Dataset.NumOutputClasses)
	require.NoError(t, err)
	sw, err := NewSampleWeights("none", X, nil)
	require.NoError(t, err)

	total, parts := l.Compute(targets, preds, sw)
	require.Len(t, parts, 7)
	assert.Greater(t, total.Data[0], float32(0))
	for name, v := range parts {
		assert.False(t, math.IsNaN(float64(v)), name)
	}
}

func TestMultiHeadLossPhaseZeroesCoefs(t *testing.T) {
	cfg := testConfig()
	cfg.Setup.Trainable = "classification"
	l, err := NewMultiHeadLoss(cfg.Dataset, cfg.Setup)
	require.NoError(t, err)
	assert.Zero(t, l.energyCoef)
	assert.Zero(t, l.etaCoef)
	assert.NotZero(t, l.clsCoef)

	cfg.Setup.Trainable = "regression"
	l, err = NewMultiHeadLoss(cfg.Dataset, cfg.Setup)
	require.NoError(t, err)
	assert.Zero(t, l.clsCoef)
	assert.NotZero(t, l.energyCoef)

	cfg.Setup.Trainable = "finetune"
	_, err = NewMultiHeadLoss(cfg.Dataset, cfg.Setup)
	assert.ErrorIs(t, err, ErrUnknownPhase)
}
