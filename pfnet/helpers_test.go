package pfnet

import (
	"math"
	"math/rand"

	"github.com/openfluke/mlpf/ad"
	"github.com/openfluke/mlpf/config"
)

// testConfig shrinks every width so a forward pass stays cheap: 128 padded
// elements in bins of 32, one graph layer per tower.
func testConfig() *config.Config {
	cfg := config.Default()

	cfg.Dataset.Schema = "cms"
	cfg.Dataset.NumInputFeatures = 15
	cfg.Dataset.PaddedNumElemSize = 128
	cfg.Dataset.NumInputClasses = 8
	cfg.Dataset.NumOutputClasses = 8

	cfg.Parameters.NumGraphLayersCommon = 1
	cfg.Parameters.NumGraphLayersEnergy = 1

	gl := &cfg.Parameters.CombinedGraphLayer
	gl.MaxNumBins = 4
	gl.BinSize = 32
	gl.DistanceDim = 8
	gl.HiddenDim = 8
	gl.NumNodeMessages = 1
	gl.NodeMessage.OutputDim = 16
	gl.NodeMessage.HiddenDim = 8

	dec := &cfg.Parameters.OutputDecoding
	dec.IDHiddenDim = 8
	dec.ChargeHiddenDim = 8
	dec.PtHiddenDim = 8
	dec.EtaHiddenDim = 8
	dec.PhiHiddenDim = 8
	dec.EnergyHiddenDim = 8
	dec.IDNumLayers = 1
	dec.ChargeNumLayers = 1
	dec.PtNumLayers = 1
	dec.EtaNumLayers = 1
	dec.PhiNumLayers = 1
	dec.EnergyNumLayers = 1

	return cfg
}

// testBatch builds a raw input [batch, N, f] with real elements in the
// first realPerEvent slots and zero padding after, plus matching packed
// targets [batch, N, 7].
func testBatch(cfg *config.Config, batch, realPerEvent int, seed int64) (X, y *ad.Tensor) {
	rng := rand.New(rand.NewSource(seed))
	n := cfg.Dataset.PaddedNumElemSize
	f := cfg.Dataset.NumInputFeatures

	X = ad.New(batch, n, f)
	y = ad.New(batch, n, 7)
	for b := 0; b < batch; b++ {
		for i := 0; i < realPerEvent; i++ {
			row := X.Data[(b*n+i)*f : (b*n+i+1)*f]
			row[0] = float32(1 + rng.Intn(cfg.Dataset.NumInputClasses-1))
			row[1] = float32(rng.Float64() * 20)                // pt
			row[2] = float32(rng.NormFloat64())                 // eta
			row[3] = float32(rng.Float64()*2*math.Pi - math.Pi) // phi
			row[4] = float32(rng.Float64() * 50)                // energy
			for c := 5; c < f; c++ {
				row[c] = float32(rng.NormFloat64())
			}

			tgt := y.Data[(b*n+i)*7 : (b*n+i+1)*7]
			tgt[0] = float32(rng.Intn(cfg.Dataset.NumOutputClasses))
			tgt[1] = float32(rng.Intn(3) - 1)
			tgt[2] = float32(math.Log1p(rng.Float64() * 20))
			tgt[3] = float32(rng.NormFloat64())
			phi := rng.Float64()*2*math.Pi - math.Pi
			tgt[4] = float32(math.Sin(phi))
			tgt[5] = float32(math.Cos(phi))
			tgt[6] = float32(math.Log1p(rng.Float64() * 50))
		}
	}
	return X, y
}
