package pfnet

import (
	"fmt"

	"github.com/openfluke/mlpf/ad"
)

// Feature column layout of the raw input tensor. Column 0 is always the
// categorical element type; a zero there marks a padded slot. The remaining
// physics columns differ between dataset schemas, so the accessors are
// resolved once from the schema name at construction time and the forward
// pass never branches on strings.
type Schema struct {
	Name string

	PtCol     int
	EtaCol    int
	PhiCol    int // cms: azimuthal angle; delphes: sin(phi) directly
	CosPhiCol int // delphes only: cos(phi) stored raw
	EnergyCol int

	// PhiIsAngle is true when PhiCol stores the angle itself and sin/cos
	// must be derived, false when the input carries sin/cos columns.
	PhiIsAngle bool

	// CMS-only auxiliary columns used by the specialized input encoding.
	LayerCol, DepthCol, PhiECalCol, PhiHCalCol int

	// MinInputFeatures is the smallest raw feature width the schema can
	// address.
	MinInputFeatures int
}

// SchemaByName resolves a feature schema. Unknown names fail fast.
func SchemaByName(name string) (Schema, error) {
	switch name {
	case "cms":
		return Schema{
			Name:             "cms",
			PtCol:            1,
			EtaCol:           2,
			PhiCol:           3,
			EnergyCol:        4,
			PhiIsAngle:       true,
			LayerCol:         5,
			DepthCol:         6,
			PhiECalCol:       10,
			PhiHCalCol:       12,
			MinInputFeatures: 13,
		}, nil
	case "delphes":
		return Schema{
			Name:             "delphes",
			PtCol:            1,
			EtaCol:           2,
			PhiCol:           3,
			CosPhiCol:        4,
			EnergyCol:        5,
			PhiIsAngle:       false,
			MinInputFeatures: 6,
		}, nil
	default:
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
}

// SkipSeeds extracts the physics-derived seed values for the decoder's
// residual heads: eta, sin(phi), cos(phi) and log(energy+1), each masked to
// real elements. Shapes are [batch, elem, 1].
func (s Schema) SkipSeeds(X, msk *ad.Tensor) (eta, sinPhi, cosPhi, logEnergy *ad.Tensor) {
	eta = ad.SliceLast(X, s.EtaCol, s.EtaCol+1)
	if s.PhiIsAngle {
		phi := ad.SliceLast(X, s.PhiCol, s.PhiCol+1)
		sinPhi = ad.MulB(ad.Sin(phi), msk)
		cosPhi = ad.MulB(ad.Cos(phi), msk)
	} else {
		sinPhi = ad.MulB(ad.SliceLast(X, s.PhiCol, s.PhiCol+1), msk)
		cosPhi = ad.MulB(ad.SliceLast(X, s.CosPhiCol, s.CosPhiCol+1), msk)
	}
	logEnergy = ad.MulB(ad.Log1p(ad.SliceLast(X, s.EnergyCol, s.EnergyCol+1)), msk)
	return eta, sinPhi, cosPhi, logEnergy
}
