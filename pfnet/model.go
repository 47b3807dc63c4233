// Package pfnet implements a graph neural network for particle-flow
// reconstruction. Detector elements are encoded, dynamically binned with
// locality-sensitive hashing, updated through several rounds of in-bin
// message passing, and decoded into per-slot particle candidates by a set
// of physics-seeded regression heads.
package pfnet

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/openfluke/mlpf/ad"
	"github.com/openfluke/mlpf/config"
	"github.com/openfluke/mlpf/nn"
)

// Predictions is the multi-head model output. All tensors are
// [batch, N, k] with k = number of output classes for Cls and 1 for the
// rest. Pt and Energy are in log space, log(x+1).
type Predictions struct {
	Cls    *ad.Tensor
	Charge *ad.Tensor
	Pt     *ad.Tensor
	Eta    *ad.Tensor
	SinPhi *ad.Tensor
	CosPhi *ad.Tensor
	Energy *ad.Tensor

	// ClsLogits are the raw classifier outputs before the softmax, kept
	// for losses that want logits.
	ClsLogits *ad.Tensor
}

// Concat flattens the heads into the legacy single-tensor layout
// [batch, N, numClasses+6]: class probabilities, charge, log pt, eta,
// sin phi, cos phi, log energy.
func (p *Predictions) Concat() *ad.Tensor {
	return ad.Concat(p.Cls, p.Charge, p.Pt, p.Eta, p.SinPhi, p.CosPhi, p.Energy)
}

// PFNet is the full model: input encoding, two towers of combined graph
// layers (one shared, one feeding only the energy and pt heads) and the
// output decoder.
type PFNet struct {
	cfg    *config.Config
	ps     *nn.ParamSet
	schema Schema
	enc    InputEncoder

	cg       []*CombinedGraphLayer
	cgEnergy []*CombinedGraphLayer
	dec      *OutputDecoding

	skipConnection bool
	rng            *rand.Rand
	log            *zap.Logger
}

// Option adjusts model construction.
type Option func(*PFNet)

// WithLogger attaches a structured logger; construction and phase changes
// are logged at debug level.
func WithLogger(log *zap.Logger) Option {
	return func(m *PFNet) { m.log = log }
}

// New builds the model from a validated configuration. All variant names
// (schema, encoding, kernel, message layer) are resolved here, so an
// unsupported configuration never reaches the forward pass.
func New(cfg *config.Config, opts ...Option) (*PFNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &PFNet{
		cfg:            cfg,
		ps:             nn.NewParamSet(),
		skipConnection: cfg.Parameters.SkipConnection,
		rng:            rand.New(rand.NewSource(int64(cfg.Setup.Seed))),
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	var err error
	m.schema, err = SchemaByName(cfg.Dataset.Schema)
	if err != nil {
		return nil, err
	}
	if cfg.Dataset.NumInputFeatures < m.schema.MinInputFeatures {
		return nil, fmt.Errorf("%w: schema %s needs at least %d input features, got %d",
			ErrBadInputShape, m.schema.Name, m.schema.MinInputFeatures, cfg.Dataset.NumInputFeatures)
	}
	m.enc, err = EncoderByName(cfg.Parameters.InputEncoding, cfg.Dataset.NumInputClasses)
	if err != nil {
		return nil, err
	}

	init := nn.NewRandomNormal(0, 0.02, cfg.Setup.Seed)
	encDim := m.enc.OutputDim(cfg.Dataset.NumInputFeatures)

	dim := encDim
	commonDim := 0
	for i := 0; i < cfg.Parameters.NumGraphLayersCommon; i++ {
		cg, err := NewCombinedGraphLayer(m.ps, fmt.Sprintf("cg_%d", i), dim, cfg.Parameters.CombinedGraphLayer, init)
		if err != nil {
			return nil, err
		}
		m.cg = append(m.cg, cg)
		dim = cg.OutputDim()
		commonDim += dim
	}
	if m.skipConnection {
		commonDim += encDim
	}

	dim = encDim
	energyDim := 0
	for i := 0; i < cfg.Parameters.NumGraphLayersEnergy; i++ {
		cg, err := NewCombinedGraphLayer(m.ps, fmt.Sprintf("cg_energy_%d", i), dim, cfg.Parameters.CombinedGraphLayer, init)
		if err != nil {
			return nil, err
		}
		m.cgEnergy = append(m.cgEnergy, cg)
		dim = cg.OutputDim()
		energyDim += dim
	}

	m.dec, err = NewOutputDecoding(m.ps, m.schema, cfg.Dataset.NumOutputClasses, commonDim, energyDim, cfg.Parameters.OutputDecoding, init)
	if err != nil {
		return nil, err
	}

	m.log.Debug("model constructed",
		zap.Int("num_params", m.ps.NumParams()),
		zap.Int("encoded_dim", encDim),
		zap.Int("common_dim", commonDim),
		zap.Int("energy_dim", energyDim),
	)
	return m, nil
}

// Params exposes the parameter registry for optimizers and checkpoints.
func (m *PFNet) Params() *nn.ParamSet { return m.ps }

// PaddingMask derives the 0/1 mask [batch, N, 1] from the element-type
// column: type zero marks a padded slot.
func PaddingMask(X *ad.Tensor) *ad.Tensor {
	batch, n, f := X.Shape[0], X.Shape[1], X.Shape[2]
	msk := ad.New(batch, n, 1)
	for i := 0; i < batch*n; i++ {
		if X.Data[i*f] != 0 {
			msk.Data[i] = 1
		}
	}
	return msk
}

// Forward runs the model over a raw input batch [batch, N, numInputFeatures].
// N must match the configured padded element count.
func (m *PFNet) Forward(X *ad.Tensor, training bool) (*Predictions, error) {
	if len(X.Shape) != 3 || X.Shape[2] != m.cfg.Dataset.NumInputFeatures {
		return nil, fmt.Errorf("%w: want [batch, N, %d], got %v", ErrBadInputShape, m.cfg.Dataset.NumInputFeatures, X.Shape)
	}
	if X.Shape[1] != m.cfg.Dataset.PaddedNumElemSize {
		return nil, fmt.Errorf("%w: want %d padded elements, got %d", ErrBadInputShape, m.cfg.Dataset.PaddedNumElemSize, X.Shape[1])
	}

	msk := PaddingMask(X)
	enc := m.enc.Encode(X)

	x := enc
	var encs []*ad.Tensor
	if m.skipConnection {
		encs = append(encs, enc)
	}
	for _, cg := range m.cg {
		x = cg.Forward(x, msk, training, m.rng)
		encs = append(encs, x)
	}
	decOutput := ad.MulB(ad.Concat(encs...), msk)

	x = enc
	var encsEnergy []*ad.Tensor
	for _, cg := range m.cgEnergy {
		x = cg.Forward(x, msk, training, m.rng)
		encsEnergy = append(encsEnergy, x)
	}
	decOutputEnergy := ad.MulB(ad.Concat(encsEnergy...), msk)

	return m.dec.Forward(X, decOutput, decOutputEnergy, msk, training, m.rng), nil
}

// SetTrainablePhase freezes parameters according to the named training
// phase. "all" trains everything, "classification" the encoders, common
// tower and the class and charge heads, "regression" the energy tower and
// the kinematic heads. Frozen parameters keep their values and accumulate
// exactly zero gradient until the phase changes back.
func (m *PFNet) SetTrainablePhase(phase string) error {
	mask, err := m.phaseMask(phase)
	if err != nil {
		return err
	}
	m.ps.SetTrainable(mask)
	m.log.Debug("trainable phase set", zap.String("phase", phase), zap.Int("trainable", len(m.ps.Trainable())))
	return nil
}

// SetTrainable applies an explicit parameter mask, for callers that want a
// custom subset such as fine-tuning a single head.
func (m *PFNet) SetTrainable(mask nn.TrainableMask) { m.ps.SetTrainable(mask) }

func (m *PFNet) phaseMask(phase string) (nn.TrainableMask, error) {
	switch phase {
	case "all":
		return nn.TrainAll(), nil
	case "classification":
		names := []string{"ffn_id", "ffn_charge", "output_layernorm"}
		for i := range m.cg {
			names = append(names, fmt.Sprintf("cg_%d", i))
		}
		return nn.NewTrainableMask(names...), nil
	case "regression":
		names := []string{"ffn_pt", "ffn_eta", "ffn_phi", "ffn_energy", "classwise_energy_means", "classwise_energy_stds"}
		for i := range m.cgEnergy {
			names = append(names, fmt.Sprintf("cg_energy_%d", i))
		}
		return nn.NewTrainableMask(names...), nil
	default:
		return nn.TrainableMask{}, fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
}

// ElementwiseNet is the no-graph baseline: the same input encoding feeding
// per-element heads with no message passing. It is useful as a sanity
// floor when evaluating the graph layers.
type ElementwiseNet struct {
	cfg *config.Config
	ps  *nn.ParamSet
	enc InputEncoder

	ffnID       *nn.FFN
	ffnCharge   *nn.FFN
	ffnMomentum *nn.FFN
	rng         *rand.Rand
}

// NewElementwiseNet builds the baseline with the same input contract as
// PFNet. The momentum head regresses log pt, eta, sin phi, cos phi and
// log energy in one block.
func NewElementwiseNet(cfg *config.Config) (*ElementwiseNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &ElementwiseNet{
		cfg: cfg,
		ps:  nn.NewParamSet(),
		rng: rand.New(rand.NewSource(int64(cfg.Setup.Seed))),
	}
	var err error
	m.enc, err = EncoderByName(cfg.Parameters.InputEncoding, cfg.Dataset.NumInputClasses)
	if err != nil {
		return nil, err
	}
	init := nn.NewRandomNormal(0, 0.02, cfg.Setup.Seed)
	encDim := m.enc.OutputDim(cfg.Dataset.NumInputFeatures)
	nc := cfg.Dataset.NumOutputClasses

	if m.ffnID, err = nn.NewFFN(m.ps, "ffn_id", encDim, nn.FFNConfig{OutputDim: nc, HiddenDim: 256, NumLayers: 1, Activation: "elu"}, init); err != nil {
		return nil, err
	}
	if m.ffnCharge, err = nn.NewFFN(m.ps, "ffn_charge", encDim, nn.FFNConfig{OutputDim: 1, HiddenDim: 256, NumLayers: 1, Activation: "elu"}, init); err != nil {
		return nil, err
	}
	if m.ffnMomentum, err = nn.NewFFN(m.ps, "ffn_momentum", encDim+nc, nn.FFNConfig{OutputDim: 5, HiddenDim: 256, NumLayers: 1, Activation: "elu"}, init); err != nil {
		return nil, err
	}
	return m, nil
}

// Params exposes the parameter registry.
func (m *ElementwiseNet) Params() *nn.ParamSet { return m.ps }

// Forward mirrors PFNet.Forward on the baseline.
func (m *ElementwiseNet) Forward(X *ad.Tensor, training bool) (*Predictions, error) {
	if len(X.Shape) != 3 || X.Shape[2] != m.cfg.Dataset.NumInputFeatures {
		return nil, fmt.Errorf("%w: want [batch, N, %d], got %v", ErrBadInputShape, m.cfg.Dataset.NumInputFeatures, X.Shape)
	}

	msk := PaddingMask(X)
	enc := m.enc.Encode(X)

	idLogits := ad.MulB(m.ffnID.Forward(enc, training, m.rng), msk)
	charge := ad.MulB(m.ffnCharge.Forward(enc, training, m.rng), msk)

	reg := ad.Concat(enc, idLogits)
	mom := ad.MulB(m.ffnMomentum.Forward(reg, training, m.rng), msk)

	return &Predictions{
		Cls:       ad.MulB(ad.Clip(ad.Softmax(idLogits), 0, 1), msk),
		Charge:    charge,
		Pt:        ad.SliceLast(mom, 0, 1),
		Eta:       ad.SliceLast(mom, 1, 2),
		SinPhi:    ad.SliceLast(mom, 2, 3),
		CosPhi:    ad.SliceLast(mom, 3, 4),
		Energy:    ad.SliceLast(mom, 4, 5),
		ClsLogits: idLogits,
	}, nil
}
