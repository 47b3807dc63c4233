package pfnet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/mlpf/ad"
)

func TestMaskRegCls0ZeroesRegression(t *testing.T) {
	cfg := testConfig()
	cfg.Parameters.OutputDecoding.MaskRegCls0 = true
	m, err := New(cfg)
	require.NoError(t, err)

	const real = 80
	X, _ := testBatch(cfg, 1, real, 50)
	preds, err := m.Forward(X, false)
	require.NoError(t, err)

	// Wherever the sharpened classifier picks class 0, every regression
	// head is zero while the class probabilities stay informative.
	for i := 0; i < real; i++ {
		am := 0
		best := preds.Cls.Data[i*8]
		for c := 1; c < 8; c++ {
			if preds.Cls.Data[i*8+c] > best {
				best = preds.Cls.Data[i*8+c]
				am = c
			}
		}
		if am == 0 {
			assert.Zero(t, preds.Charge.Data[i])
			assert.Zero(t, preds.Pt.Data[i])
			assert.Zero(t, preds.Eta.Data[i])
			assert.Zero(t, preds.Energy.Data[i])
		}
	}
}

func TestEnergyCalibrationPath(t *testing.T) {
	cfg := testConfig()
	cfg.Parameters.OutputDecoding.EnergySkipGate = false
	m, err := New(cfg)
	require.NoError(t, err)

	// The per-class calibration weights only exist on this path.
	require.NotNil(t, m.Params().Get("classwise_energy_means"))
	require.NotNil(t, m.Params().Get("classwise_energy_stds"))

	X, _ := testBatch(cfg, 1, 60, 51)
	preds, err := m.Forward(X, false)
	require.NoError(t, err)
	for _, v := range preds.Energy.Data {
		assert.False(t, math.IsNaN(float64(v)))
	}
}

func TestSkipGatesOffUsesAffineBlend(t *testing.T) {
	cfg := testConfig()
	dec := &cfg.Parameters.OutputDecoding
	dec.PtSkipGate = false
	dec.EtaSkipGate = false
	dec.PhiSkipGate = false
	m, err := New(cfg)
	require.NoError(t, err)

	X, _ := testBatch(cfg, 1, 60, 52)
	preds, err := m.Forward(X, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 128, 1}, preds.Eta.Shape)
}

func TestRegressionWithoutClassConditioning(t *testing.T) {
	cfg := testConfig()
	cfg.Parameters.OutputDecoding.RegressionUseClassification = false
	m, err := New(cfg)
	require.NoError(t, err)

	X, _ := testBatch(cfg, 1, 60, 53)
	_, err = m.Forward(X, false)
	require.NoError(t, err)
}

func TestDecoderLayerNorm(t *testing.T) {
	cfg := testConfig()
	cfg.Parameters.OutputDecoding.LayerNorm = true
	m, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, m.Params().Get("output_layernorm/gamma"))

	X, _ := testBatch(cfg, 1, 60, 54)
	_, err = m.Forward(X, false)
	require.NoError(t, err)
}

func TestCls0VetoHelper(t *testing.T) {
	hard := ad.FromSlice([]float32{
		1, 0, 0, // class 0
		0, 1, 0, // class 1
	}, 1, 2, 3)
	veto := cls0Veto(hard)
	assert.Equal(t, []int{1, 2, 1}, veto.Shape)
	assert.Equal(t, []float32{0, 1}, veto.Data)
}

func TestLogEnergyRoundTrip(t *testing.T) {
	// The candidate stores log(E+1); the decoder recovers E with the clipped
	// exponential. The pair must invert exactly for any energy the clip
	// admits, up to float32 noise.
	energies := ad.FromSlice([]float32{0, 0.5, 10, 250}, 1, 4, 1)
	logE := ad.Log1p(energies)
	recovered := ad.AddScalar(ad.Exp(ad.Clip(logE, -6, 6)), -1)

	for i, want := range energies.Data {
		assert.InDelta(t, want, recovered.Data[i], 1e-3+1e-4*math.Abs(float64(want)))
	}

	// Beyond the clip the exponential saturates instead of overflowing.
	huge := ad.Log1p(ad.FromSlice([]float32{1e6}, 1, 1, 1))
	capped := ad.AddScalar(ad.Exp(ad.Clip(huge, -6, 6)), -1)
	assert.InDelta(t, math.Exp(6)-1, capped.Data[0], 1e-2)
}
