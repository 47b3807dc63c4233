package pfnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/mlpf/ad"
)

func TestPFNetForwardShapes(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg)
	require.NoError(t, err)

	X, _ := testBatch(cfg, 2, 100, 20)
	preds, err := m.Forward(X, false)
	require.NoError(t, err)

	n := cfg.Dataset.PaddedNumElemSize
	assert.Equal(t, []int{2, n, 8}, preds.Cls.Shape)
	for _, head := range []*ad.Tensor{preds.Charge, preds.Pt, preds.Eta, preds.SinPhi, preds.CosPhi, preds.Energy} {
		assert.Equal(t, []int{2, n, 1}, head.Shape)
	}

	concat := preds.Concat()
	assert.Equal(t, []int{2, n, 8 + 6}, concat.Shape)
}

func TestPFNetPaddedSlotsAreZero(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg)
	require.NoError(t, err)

	const real = 100
	X, _ := testBatch(cfg, 2, real, 21)
	preds, err := m.Forward(X, false)
	require.NoError(t, err)

	n := cfg.Dataset.PaddedNumElemSize
	heads := []*ad.Tensor{preds.Cls, preds.Charge, preds.Pt, preds.Eta, preds.SinPhi, preds.CosPhi, preds.Energy}
	for b := 0; b < 2; b++ {
		for i := real; i < n; i++ {
			for _, head := range heads {
				k := head.Dim(-1)
				for c := 0; c < k; c++ {
					assert.Zero(t, head.Data[(b*n+i)*k+c])
				}
			}
		}
	}
}

func TestPFNetClassProbabilitiesSumToOne(t *testing.T) {
	cfg := testConfig()
	cfg.Parameters.OutputDecoding.MaskRegCls0 = false
	m, err := New(cfg)
	require.NoError(t, err)

	const real = 64
	X, _ := testBatch(cfg, 1, real, 22)
	preds, err := m.Forward(X, false)
	require.NoError(t, err)

	for i := 0; i < real; i++ {
		total := float32(0)
		for c := 0; c < 8; c++ {
			total += preds.Cls.Data[i*8+c]
		}
		assert.InDelta(t, 1, total, 1e-4, "slot %d", i)
	}
}

func TestPFNetDeterministicInference(t *testing.T) {
	cfg := testConfig()
	X, _ := testBatch(cfg, 1, 50, 23)

	m1, err := New(cfg)
	require.NoError(t, err)
	m2, err := New(cfg)
	require.NoError(t, err)

	p1, err := m1.Forward(X, false)
	require.NoError(t, err)
	p2, err := m2.Forward(X, false)
	require.NoError(t, err)

	assert.Equal(t, p1.Energy.Data, p2.Energy.Data)
	assert.Equal(t, p1.Cls.Data, p2.Cls.Data)
}

func TestPFNetInputContract(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg)
	require.NoError(t, err)

	_, err = m.Forward(ad.New(1, 128, 9), false)
	assert.ErrorIs(t, err, ErrBadInputShape)

	_, err = m.Forward(ad.New(1, 96, 15), false)
	assert.ErrorIs(t, err, ErrBadInputShape)
}

func TestNewRejectsBadVariants(t *testing.T) {
	cfg := testConfig()
	cfg.Dataset.Schema = "atlas"
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrUnknownSchema)

	cfg = testConfig()
	cfg.Parameters.InputEncoding = "none"
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrUnknownEncoding)

	cfg = testConfig()
	cfg.Parameters.CombinedGraphLayer.Kernel.Type = "cosine"
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrUnknownKernel)

	// GHConv cannot consume a multi-channel trainable kernel.
	cfg = testConfig()
	cfg.Parameters.CombinedGraphLayer.Kernel.Type = "trainable"
	cfg.Parameters.CombinedGraphLayer.Kernel.OutputDim = 4
	_, err = New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single-channel")

	cfg = testConfig()
	cfg.Dataset.PaddedNumElemSize = 100 // not divisible by 32
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNewRejectsNarrowSchema(t *testing.T) {
	cfg := testConfig()
	cfg.Dataset.NumInputFeatures = 10 // cms needs 13
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrBadInputShape)
}

func TestTrainableKernelWithLearnableMessages(t *testing.T) {
	cfg := testConfig()
	gl := &cfg.Parameters.CombinedGraphLayer
	gl.Kernel.Type = "trainable"
	gl.Kernel.OutputDim = 4
	gl.Kernel.HiddenDim = 8
	gl.Kernel.NumLayers = 1
	gl.NodeMessage.Type = "learnable"
	gl.NodeMessage.AggregationDirection = "src"

	m, err := New(cfg)
	require.NoError(t, err)

	X, _ := testBatch(cfg, 1, 60, 24)
	preds, err := m.Forward(X, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 128, 8}, preds.Cls.Shape)
}

func TestSetTrainablePhase(t *testing.T) {
	cfg := testConfig()
	m, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, m.SetTrainablePhase("classification"))
	for _, name := range m.Params().Trainable() {
		assert.NotContains(t, name, "ffn_energy")
		assert.NotContains(t, name, "cg_energy")
	}

	require.NoError(t, m.SetTrainablePhase("regression"))
	for _, name := range m.Params().Trainable() {
		assert.NotContains(t, name, "ffn_id")
		assert.NotContains(t, name, "cg_0")
	}

	require.NoError(t, m.SetTrainablePhase("all"))
	assert.ErrorIs(t, m.SetTrainablePhase("warmup"), ErrUnknownPhase)
}

func TestElementwiseNetForward(t *testing.T) {
	cfg := testConfig()
	m, err := NewElementwiseNet(cfg)
	require.NoError(t, err)

	const real = 40
	X, _ := testBatch(cfg, 1, real, 25)
	preds, err := m.Forward(X, false)
	require.NoError(t, err)

	n := cfg.Dataset.PaddedNumElemSize
	assert.Equal(t, []int{1, n, 8}, preds.Cls.Shape)
	assert.Equal(t, []int{1, n, 1}, preds.Pt.Shape)

	// Padding contract holds for the baseline too.
	for i := real; i < n; i++ {
		for c := 0; c < 8; c++ {
			assert.Zero(t, preds.Cls.Data[i*8+c])
		}
		assert.Zero(t, preds.Energy.Data[i])
	}
}
