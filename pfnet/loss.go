package pfnet

import (
	"fmt"

	"github.com/openfluke/mlpf/ad"
	"github.com/openfluke/mlpf/config"
)

// Loss reduces a head's targets and predictions to a scalar. yTrue and
// yPred are [batch, N, k]; sw is a per-slot weight [batch, N, 1] and may be
// nil for uniform weighting. Padded slots carry zero weight, so they never
// contribute.
type Loss func(yTrue, yPred, sw *ad.Tensor) *ad.Tensor

// weightedMean averages a per-slot loss [batch, N] under the weights.
func weightedMean(perSlot, sw *ad.Tensor) *ad.Tensor {
	if sw != nil {
		w := sw
		if len(w.Shape) == 3 {
			w = ad.Reshape(w, w.Shape[0], w.Shape[1])
		}
		perSlot = ad.Mul(perSlot, w)
	}
	return ad.MeanAll(perSlot)
}

func oneMinus(t *ad.Tensor) *ad.Tensor { return ad.AddScalar(ad.Neg(t), 1) }

// CategoricalCrossEntropy consumes class probabilities (not logits) and
// one-hot targets.
func CategoricalCrossEntropy(yTrue, yPred, sw *ad.Tensor) *ad.Tensor {
	p := ad.Clip(yPred, 1e-7, 1)
	perSlot := ad.ReduceSum(ad.Mul(yTrue, ad.Neg(ad.Log(p))), -1)
	return weightedMean(perSlot, sw)
}

// SigmoidFocalCrossEntropy down-weights well-classified slots so the rare
// classes dominate the gradient. Uses the standard alpha=0.25, gamma=2
// setting on per-class probabilities.
func SigmoidFocalCrossEntropy(yTrue, yPred, sw *ad.Tensor) *ad.Tensor {
	const alpha = 0.25
	p := ad.Clip(yPred, 1e-7, 1-1e-7)
	ce := ad.Neg(ad.Add(ad.Mul(yTrue, ad.Log(p)), ad.Mul(oneMinus(yTrue), ad.Log(oneMinus(p)))))
	pt := ad.Add(ad.Mul(yTrue, p), ad.Mul(oneMinus(yTrue), oneMinus(p)))
	alphaF := ad.AddScalar(ad.MulScalar(yTrue, alpha-(1-alpha)), 1-alpha)
	perClass := ad.Mul(ad.Mul(alphaF, ad.Square(oneMinus(pt))), ce)
	return weightedMean(ad.ReduceSum(perClass, -1), sw)
}

// MeanSquaredError over the last axis per slot.
func MeanSquaredError(yTrue, yPred, sw *ad.Tensor) *ad.Tensor {
	return weightedMean(ad.ReduceMean(ad.Square(ad.Sub(yPred, yTrue)), -1), sw)
}

// MeanAbsoluteError over the last axis per slot.
func MeanAbsoluteError(yTrue, yPred, sw *ad.Tensor) *ad.Tensor {
	return weightedMean(ad.ReduceMean(ad.Abs(ad.Sub(yPred, yTrue)), -1), sw)
}

// ClassificationLossByName resolves the classifier loss.
func ClassificationLossByName(name string) (Loss, error) {
	switch name {
	case "categorical_cross_entropy":
		return CategoricalCrossEntropy, nil
	case "sigmoid_focal_crossentropy":
		return SigmoidFocalCrossEntropy, nil
	default:
		return nil, fmt.Errorf("%w: classification loss %q", ErrUnknownLoss, name)
	}
}

// RegressionLossByName resolves a regression-head loss.
func RegressionLossByName(name string) (Loss, error) {
	switch name {
	case "mean_squared_error":
		return MeanSquaredError, nil
	case "mean_absolute_error":
		return MeanAbsoluteError, nil
	default:
		return nil, fmt.Errorf("%w: regression loss %q", ErrUnknownLoss, name)
	}
}

// Targets holds the per-head ground truth in the same layout as
// Predictions.
type Targets struct {
	Cls    *ad.Tensor // one-hot [batch, N, numOutputClasses]
	Charge *ad.Tensor
	Pt     *ad.Tensor
	Eta    *ad.Tensor
	SinPhi *ad.Tensor
	CosPhi *ad.Tensor
	Energy *ad.Tensor
}

// SplitTargets unpacks the packed target tensor [batch, N, 7] with columns
// (class index, charge, log pt, eta, sin phi, cos phi, log energy) into
// per-head tensors, one-hot encoding the class column.
func SplitTargets(y *ad.Tensor, numOutputClasses int) (*Targets, error) {
	if len(y.Shape) != 3 || y.Shape[2] != 7 {
		return nil, fmt.Errorf("%w: targets want [batch, N, 7], got %v", ErrBadInputShape, y.Shape)
	}
	batch, n := y.Shape[0], y.Shape[1]
	cls := ad.NewIntTensor(batch, n)
	for i := 0; i < batch*n; i++ {
		cls.Data[i] = int(y.Data[i*7])
	}
	return &Targets{
		Cls:    ad.OneHot(cls, numOutputClasses),
		Charge: ad.SliceLast(y, 1, 2),
		Pt:     ad.SliceLast(y, 2, 3),
		Eta:    ad.SliceLast(y, 3, 4),
		SinPhi: ad.SliceLast(y, 4, 5),
		CosPhi: ad.SliceLast(y, 5, 6),
		Energy: ad.SliceLast(y, 6, 7),
	}, nil
}

// SampleWeights carries the per-slot weight of each head. The regression
// weights get further masked during training to slots the classifier got
// right.
type SampleWeights struct {
	Cls    *ad.Tensor
	Charge *ad.Tensor
	Pt     *ad.Tensor
	Eta    *ad.Tensor
	SinPhi *ad.Tensor
	CosPhi *ad.Tensor
	Energy *ad.Tensor
}

// NewSampleWeights builds the per-head weights [batch, N] for a batch.
// "none" weights every real slot equally; "inverse_sqrt" scales by
// N/sqrt(w) where w is a caller-provided per-slot occupancy tensor
// [batch, N], damping the loss contribution of crowded regions.
func NewSampleWeights(scheme string, X, w *ad.Tensor) (SampleWeights, error) {
	batch, n := X.Shape[0], X.Shape[1]
	msk := ad.Reshape(PaddingMask(X), batch, n)

	var base *ad.Tensor
	switch scheme {
	case "none":
		base = msk
	case "inverse_sqrt":
		if w == nil {
			return SampleWeights{}, fmt.Errorf("%w: inverse_sqrt needs an occupancy tensor", ErrUnknownWeightScheme)
		}
		base = ad.Mul(ad.MulScalar(ad.InvSqrtEps(w, 1e-9), float32(n)), msk)
	default:
		return SampleWeights{}, fmt.Errorf("%w: %q", ErrUnknownWeightScheme, scheme)
	}
	return SampleWeights{
		Cls:    base,
		Charge: base,
		Pt:     base,
		Eta:    base,
		SinPhi: base,
		CosPhi: base,
		Energy: base,
	}, nil
}

// MultiHeadLoss combines the per-head losses with the configured
// coefficients. Phase-restricted training additionally zeroes the
// coefficients of the frozen side, matching the parameter freeze.
type MultiHeadLoss struct {
	cls, charge, pt, eta, sinPhi, cosPhi, energy Loss

	clsCoef, chargeCoef, ptCoef, etaCoef, sinPhiCoef, cosPhiCoef, energyCoef float32
}

// NewMultiHeadLoss resolves every configured loss name. The setup's
// trainable phase adjusts the coefficients: "classification" drops the
// kinematic terms, "regression" drops the class and charge terms.
func NewMultiHeadLoss(ds config.Dataset, setup config.Setup) (*MultiHeadLoss, error) {
	l := &MultiHeadLoss{
		clsCoef:    float32(ds.ClassificationLossCoef),
		chargeCoef: float32(ds.ChargeLossCoef),
		ptCoef:     float32(ds.PtLossCoef),
		etaCoef:    float32(ds.EtaLossCoef),
		sinPhiCoef: float32(ds.SinPhiLossCoef),
		cosPhiCoef: float32(ds.CosPhiLossCoef),
		energyCoef: float32(ds.EnergyLossCoef),
	}
	switch setup.Trainable {
	case "all", "":
	case "classification":
		l.ptCoef, l.etaCoef, l.sinPhiCoef, l.cosPhiCoef, l.energyCoef = 0, 0, 0, 0, 0
	case "regression":
		l.clsCoef, l.chargeCoef = 0, 0
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, setup.Trainable)
	}

	var err error
	if l.cls, err = ClassificationLossByName(setup.ClassificationLossType); err != nil {
		return nil, err
	}
	for _, h := range []struct {
		name string
		dst  *Loss
	}{
		{ds.ChargeLoss, &l.charge},
		{ds.PtLoss, &l.pt},
		{ds.EtaLoss, &l.eta},
		{ds.SinPhiLoss, &l.sinPhi},
		{ds.CosPhiLoss, &l.cosPhi},
		{ds.EnergyLoss, &l.energy},
	} {
		if *h.dst, err = RegressionLossByName(h.name); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Compute returns the weighted total and the unweighted per-head values.
func (l *MultiHeadLoss) Compute(t *Targets, p *Predictions, sw SampleWeights) (*ad.Tensor, map[string]float32) {
	heads := []struct {
		name string
		loss Loss
		coef float32
		yT   *ad.Tensor
		yP   *ad.Tensor
		sw   *ad.Tensor
	}{
		{"cls", l.cls, l.clsCoef, t.Cls, p.Cls, sw.Cls},
		{"charge", l.charge, l.chargeCoef, t.Charge, p.Charge, sw.Charge},
		{"pt", l.pt, l.ptCoef, t.Pt, p.Pt, sw.Pt},
		{"eta", l.eta, l.etaCoef, t.Eta, p.Eta, sw.Eta},
		{"sin_phi", l.sinPhi, l.sinPhiCoef, t.SinPhi, p.SinPhi, sw.SinPhi},
		{"cos_phi", l.cosPhi, l.cosPhiCoef, t.CosPhi, p.CosPhi, sw.CosPhi},
		{"energy", l.energy, l.energyCoef, t.Energy, p.Energy, sw.Energy},
	}

	parts := make(map[string]float32, len(heads))
	var total *ad.Tensor
	for _, h := range heads {
		v := h.loss(h.yT, h.yP, h.sw)
		parts[h.name] = v.Data[0]
		if h.coef == 0 {
			continue
		}
		term := ad.MulScalar(v, h.coef)
		if total == nil {
			total = term
		} else {
			total = ad.Add(total, term)
		}
	}
	if total == nil {
		total = ad.New(1)
	}
	return total, parts
}
