package pfnet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/mlpf/ad"
)

func TestSchemaByName(t *testing.T) {
	cms, err := SchemaByName("cms")
	require.NoError(t, err)
	assert.True(t, cms.PhiIsAngle)
	assert.Equal(t, 4, cms.EnergyCol)
	assert.Equal(t, 13, cms.MinInputFeatures)

	delphes, err := SchemaByName("delphes")
	require.NoError(t, err)
	assert.False(t, delphes.PhiIsAngle)
	assert.Equal(t, 5, delphes.EnergyCol)

	_, err = SchemaByName("atlas")
	assert.ErrorIs(t, err, ErrUnknownSchema)
}

func TestSkipSeedsCMS(t *testing.T) {
	s, _ := SchemaByName("cms")

	X := ad.New(1, 2, 13)
	phi := 0.7
	X.Data[2] = 1.5                // eta
	X.Data[3] = float32(phi)       // phi angle
	X.Data[4] = float32(math.E - 1) // energy, log1p = 1
	// Second element stays all zero (padded).

	msk := ad.New(1, 2, 1)
	msk.Data[0] = 1

	eta, sinPhi, cosPhi, logE := s.SkipSeeds(X, msk)
	assert.InDelta(t, 1.5, eta.Data[0], 1e-6)
	assert.InDelta(t, math.Sin(phi), sinPhi.Data[0], 1e-5)
	assert.InDelta(t, math.Cos(phi), cosPhi.Data[0], 1e-5)
	assert.InDelta(t, 1, logE.Data[0], 1e-5)

	// Padded slot seeds are zero: sin(0) is zero anyway, but cos(0) must be
	// masked away.
	assert.Zero(t, sinPhi.Data[1])
	assert.Zero(t, cosPhi.Data[1])
	assert.Zero(t, logE.Data[1])
}

func TestSkipSeedsDelphes(t *testing.T) {
	s, _ := SchemaByName("delphes")

	X := ad.New(1, 1, 6)
	X.Data[2] = -0.5 // eta
	X.Data[3] = 0.6  // sin phi stored raw
	X.Data[4] = 0.8  // cos phi stored raw
	X.Data[5] = 3    // energy

	msk := ad.New(1, 1, 1)
	msk.Data[0] = 1

	eta, sinPhi, cosPhi, logE := s.SkipSeeds(X, msk)
	assert.InDelta(t, -0.5, eta.Data[0], 1e-6)
	assert.InDelta(t, 0.6, sinPhi.Data[0], 1e-6)
	assert.InDelta(t, 0.8, cosPhi.Data[0], 1e-6)
	assert.InDelta(t, math.Log1p(3), logE.Data[0], 1e-5)
}
