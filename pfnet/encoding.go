package pfnet

import (
	"fmt"

	"github.com/openfluke/mlpf/ad"
)

// InputEncoder expands the raw per-element feature vector into the fixed
// wider embedding consumed by the graph layers. Encoders have no trainable
// parameters; the category count is their only state.
type InputEncoder interface {
	Encode(X *ad.Tensor) *ad.Tensor
	// OutputDim reports the encoded width for a raw feature width.
	OutputDim(numInputFeatures int) int
}

// EncoderByName resolves an input encoding variant ("default" or "cms").
func EncoderByName(name string, numInputClasses int) (InputEncoder, error) {
	switch name {
	case "default":
		return &OneHotEncoder{NumInputClasses: numInputClasses}, nil
	case "cms":
		return &CMSEncoder{NumInputClasses: numInputClasses}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
}

// classIndex reads column 0 as the categorical element type.
func classIndex(X *ad.Tensor) *ad.IntTensor {
	b, n := X.Shape[0], X.Shape[1]
	f := X.Shape[2]
	out := ad.NewIntTensor(b, n)
	for i := 0; i < b*n; i++ {
		out.Data[i] = int(X.Data[i*f])
	}
	return out
}

// OneHotEncoder is the generic encoding: one-hot of the element type
// concatenated with the remaining raw features.
type OneHotEncoder struct {
	NumInputClasses int
}

func (e *OneHotEncoder) Encode(X *ad.Tensor) *ad.Tensor {
	xid := ad.OneHot(classIndex(X), e.NumInputClasses)
	xprop := ad.SliceLast(X, 1, X.Dim(-1))
	return ad.Concat(xid, xprop)
}

func (e *OneHotEncoder) OutputDim(numInputFeatures int) int {
	return e.NumInputClasses + numInputFeatures - 1
}

// CMSEncoder precomputes additional physics features for the CMS layout:
// log-scaled pt and energy with their square and square root, clipped
// sinh/cosh and absolute value of eta, sin/cos of the detector-wide and
// subdetector phi angles, the transverse log-energy, and rescaled
// layer/depth indices. Hyperbolic terms are clipped to +-10 so large
// pseudorapidities cannot overflow.
type CMSEncoder struct {
	NumInputClasses int
}

func (e *CMSEncoder) Encode(X *ad.Tensor) *ad.Tensor {
	s, _ := SchemaByName("cms")

	col := func(c int) *ad.Tensor { return ad.SliceLast(X, c, c+1) }

	xid := ad.OneHot(classIndex(X), e.NumInputClasses)

	logPt := ad.Log1p(col(s.PtCol))
	logPtSqrt := ad.Sqrt(logPt)
	logPtSq := ad.Square(logPt)

	eta := col(s.EtaCol)
	eta1 := ad.Clip(ad.Sinh(eta), -10, 10)
	eta2 := ad.Clip(ad.Cosh(eta), -10, 10)
	absEta := ad.Abs(eta)

	phi := col(s.PhiCol)
	phi1 := ad.Sin(phi)
	phi2 := ad.Cos(phi)

	logE := ad.Log1p(col(s.EnergyCol))
	logESqrt := ad.Sqrt(logE)
	logESq := ad.Square(logE)

	// E_T in log space: log(E) - log(cosh(eta))
	eTransverse := ad.Sub(logE, ad.Log(eta2))

	layer := ad.MulScalar(col(s.LayerCol), 10)
	depth := ad.MulScalar(col(s.DepthCol), 10)

	phiECal := col(s.PhiECalCol)
	phiHCal := col(s.PhiHCalCol)

	return ad.Concat(
		xid,
		logPt, logPtSqrt, logPtSq,
		eta1, eta2,
		absEta,
		phi1, phi2,
		logE, logESqrt, logESq,
		eTransverse,
		layer, depth,
		ad.Sin(phiECal), ad.Cos(phiECal),
		ad.Sin(phiHCal), ad.Cos(phiHCal),
		X,
	)
}

func (e *CMSEncoder) OutputDim(numInputFeatures int) int {
	return e.NumInputClasses + 18 + numInputFeatures
}
