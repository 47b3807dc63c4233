package pfnet

import (
	"math/rand"

	"github.com/openfluke/mlpf/ad"
	"github.com/openfluke/mlpf/config"
	"github.com/openfluke/mlpf/nn"
)

// OutputDecoding turns the graph-encoded element features into the per-slot
// particle candidate: class probabilities, charge and the regressed
// kinematics. The regression heads are residual corrections on physics
// seeds derived from the raw input (eta, sin/cos phi, log energy), so an
// untrained model already starts near the detector-level values.
type OutputDecoding struct {
	schema           Schema
	numOutputClasses int

	regressionUseClassification bool
	ptSkipGate                  bool
	etaSkipGate                 bool
	phiSkipGate                 bool
	energySkipGate              bool
	maskRegCls0                 bool

	ln        *nn.LayerNorm
	ffnID     *nn.FFN
	ffnCharge *nn.FFN
	ffnPt     *nn.FFN
	ffnEta    *nn.FFN
	ffnPhi    *nn.FFN
	ffnEnergy *nn.FFN

	// Per-class calibration used instead of the energy skip gate.
	energyMeans *ad.Tensor
	energyStds  *ad.Tensor
}

// NewOutputDecoding builds the decoder heads. encodedDim is the feature
// width of the common tower output, encodedEnergyDim that of the energy
// tower. When regression is conditioned on classification, the regression
// heads see the class logits appended to their input (through a stop
// gradient, so the classifier never trains against regression losses).
func NewOutputDecoding(ps *nn.ParamSet, schema Schema, numOutputClasses, encodedDim, encodedEnergyDim int, cfg config.Decoding, init *nn.RandomNormal) (*OutputDecoding, error) {
	d := &OutputDecoding{
		schema:                      schema,
		numOutputClasses:            numOutputClasses,
		regressionUseClassification: cfg.RegressionUseClassification,
		ptSkipGate:                  cfg.PtSkipGate,
		etaSkipGate:                 cfg.EtaSkipGate,
		phiSkipGate:                 cfg.PhiSkipGate,
		energySkipGate:              cfg.EnergySkipGate,
		maskRegCls0:                 cfg.MaskRegCls0,
	}
	if cfg.LayerNorm {
		d.ln = nn.NewLayerNorm(ps, "output_layernorm", encodedDim, 1e-6)
	}

	clsDim := 0
	if cfg.RegressionUseClassification {
		clsDim = numOutputClasses
	}

	var err error
	head := func(name string, inputDim, outputDim, hiddenDim, numLayers int, dimDecrease bool) *nn.FFN {
		if err != nil {
			return nil
		}
		var f *nn.FFN
		f, err = nn.NewFFN(ps, name, inputDim, nn.FFNConfig{
			OutputDim:   outputDim,
			HiddenDim:   hiddenDim,
			NumLayers:   numLayers,
			Activation:  cfg.Activation,
			DimDecrease: dimDecrease,
			Dropout:     cfg.Dropout,
		}, init)
		return f
	}

	d.ffnID = head("ffn_id", encodedDim, numOutputClasses, cfg.IDHiddenDim, cfg.IDNumLayers, cfg.IDDimDecrease)
	d.ffnCharge = head("ffn_charge", encodedDim, 1, cfg.ChargeHiddenDim, cfg.ChargeNumLayers, cfg.ChargeDimDecrease)
	d.ffnEta = head("ffn_eta", encodedDim+clsDim, 2, cfg.EtaHiddenDim, cfg.EtaNumLayers, cfg.EtaDimDecrease)
	d.ffnPhi = head("ffn_phi", encodedDim+clsDim, 4, cfg.PhiHiddenDim, cfg.PhiNumLayers, cfg.PhiDimDecrease)
	d.ffnEnergy = head("ffn_energy", encodedEnergyDim+clsDim, 4, cfg.EnergyHiddenDim, cfg.EnergyNumLayers, cfg.EnergyDimDecrease)
	d.ffnPt = head("ffn_pt", encodedEnergyDim+clsDim, 2, cfg.PtHiddenDim, cfg.PtNumLayers, cfg.PtDimDecrease)
	if err != nil {
		return nil, err
	}

	if !cfg.EnergySkipGate {
		d.energyMeans = ps.Register("classwise_energy_means", init.Scaled(0, 0.1).Tensor(numOutputClasses))
		d.energyStds = ps.Register("classwise_energy_stds", init.Scaled(1, 0.1).Tensor(numOutputClasses))
	}
	return d, nil
}

// Forward decodes the heads. xInput is the raw feature tensor
// [batch, N, numInputFeatures], xEncoded and xEncodedEnergy the tower
// outputs, msk the 0/1 padding mask [batch, N, 1]. Every head, class
// probabilities included, is zero at padded slots.
func (d *OutputDecoding) Forward(xInput, xEncoded, xEncodedEnergy, msk *ad.Tensor, training bool, rng *rand.Rand) *Predictions {
	if d.ln != nil {
		xEncoded = d.ln.Forward(xEncoded)
	}

	idLogits := ad.MulB(d.ffnID.Forward(xEncoded, training, rng), msk)
	idSoftmax := ad.Clip(ad.Softmax(idLogits), 0, 1)
	// Sharpened, gradient-free class assignment used for per-class
	// calibration and the class-0 regression veto.
	idHard := ad.Clip(ad.Detach(ad.Softmax(ad.MulScalar(idLogits, 100))), 0, 1)

	charge := ad.MulB(d.ffnCharge.Forward(xEncoded, training, rng), msk)

	origEta, origSinPhi, origCosPhi, origLogEnergy := d.schema.SkipSeeds(xInput, msk)

	if d.regressionUseClassification {
		xEncoded = ad.Concat(xEncoded, ad.Detach(idLogits))
		xEncodedEnergy = ad.Concat(xEncodedEnergy, ad.Detach(idLogits))
	}

	etaCorr := ad.MulB(d.ffnEta.Forward(xEncoded, training, rng), msk)
	phiCorr := ad.MulB(d.ffnPhi.Forward(xEncoded, training, rng), msk)

	var eta *ad.Tensor
	if d.etaSkipGate {
		eta = ad.Add(origEta, ad.SliceLast(etaCorr, 1, 2))
	} else {
		eta = ad.Add(ad.Mul(origEta, ad.SliceLast(etaCorr, 0, 1)), ad.SliceLast(etaCorr, 1, 2))
	}

	var sinPhi, cosPhi *ad.Tensor
	if d.phiSkipGate {
		sinPhi = ad.Add(origSinPhi, ad.SliceLast(phiCorr, 1, 2))
		cosPhi = ad.Add(origCosPhi, ad.SliceLast(phiCorr, 3, 4))
	} else {
		sinPhi = ad.Add(ad.Mul(origSinPhi, ad.SliceLast(phiCorr, 0, 1)), ad.SliceLast(phiCorr, 1, 2))
		cosPhi = ad.Add(ad.Mul(origCosPhi, ad.SliceLast(phiCorr, 2, 3)), ad.SliceLast(phiCorr, 3, 4))
	}

	energyCorr := ad.MulB(d.ffnEnergy.Forward(xEncodedEnergy, training, rng), msk)
	ptCorr := ad.MulB(d.ffnPt.Forward(xEncodedEnergy, training, rng), msk)

	var logEnergy *ad.Tensor
	if d.energySkipGate {
		gate := ad.Sigmoid(ad.SliceLast(energyCorr, 0, 1))
		logEnergy = ad.Add(origLogEnergy, ad.Mul(gate, ad.SliceLast(energyCorr, 1, 2)))
	} else {
		// Quadratic-plus-sqrt expansion of the seed, calibrated per
		// predicted class.
		logEnergy = ad.Add(
			ad.Add(ad.SliceLast(energyCorr, 0, 1), ad.Mul(ad.SliceLast(energyCorr, 1, 2), origLogEnergy)),
			ad.Add(
				ad.Mul(ad.SliceLast(energyCorr, 2, 3), ad.Mul(origLogEnergy, origLogEnergy)),
				ad.Mul(ad.SliceLast(energyCorr, 3, 4), ad.Sqrt(origLogEnergy)),
			),
		)
		batch, n := logEnergy.Shape[0], logEnergy.Shape[1]
		mean := ad.Reshape(ad.ReduceSum(ad.MulB(idHard, d.energyMeans), -1), batch, n, 1)
		std := ad.Reshape(ad.ReduceSum(ad.MulB(idHard, d.energyStds), -1), batch, n, 1)
		logEnergy = ad.Div(ad.Sub(logEnergy, mean), std)
	}

	// The candidate stores log(E+1); recover E to seed the transverse
	// momentum from E/cosh(eta) without backpropagating through it.
	energy := ad.AddScalar(ad.Exp(ad.Clip(logEnergy, -6, 6)), -1)
	origPt := ad.Detach(ad.Div(energy, ad.Cosh(ad.Clip(eta, -8, 8))))
	origLogPt := ad.Log1p(origPt)

	var logPt *ad.Tensor
	if d.ptSkipGate {
		gate := ad.Sigmoid(ad.SliceLast(ptCorr, 0, 1))
		logPt = ad.Add(origLogPt, ad.Mul(gate, ad.SliceLast(ptCorr, 1, 2)))
	} else {
		logPt = ad.Add(ad.Mul(origLogPt, ad.SliceLast(ptCorr, 0, 1)), ad.SliceLast(ptCorr, 1, 2))
	}

	if d.maskRegCls0 {
		// Slots the classifier calls "no particle" get zeroed regression
		// outputs, so downstream consumers can treat class 0 as absent.
		veto := cls0Veto(idHard)
		charge = ad.MulB(charge, veto)
		logPt = ad.MulB(logPt, veto)
		eta = ad.MulB(eta, veto)
		sinPhi = ad.MulB(sinPhi, veto)
		cosPhi = ad.MulB(cosPhi, veto)
		logEnergy = ad.MulB(logEnergy, veto)
	}

	return &Predictions{
		Cls:       ad.MulB(idSoftmax, msk),
		Charge:    ad.MulB(charge, msk),
		Pt:        ad.MulB(logPt, msk),
		Eta:       ad.MulB(eta, msk),
		SinPhi:    ad.MulB(sinPhi, msk),
		CosPhi:    ad.MulB(cosPhi, msk),
		Energy:    ad.MulB(logEnergy, msk),
		ClsLogits: idLogits,
	}
}

// cls0Veto builds a constant [batch, N, 1] mask that is zero wherever the
// sharpened classifier picks class 0.
func cls0Veto(idHard *ad.Tensor) *ad.Tensor {
	am := ad.Argmax(idHard)
	veto := ad.New(append(append([]int(nil), am.Shape...), 1)...)
	for i, c := range am.Data {
		if c != 0 {
			veto.Data[i] = 1
		}
	}
	return veto
}
