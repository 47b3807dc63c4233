package pfnet

import (
	"go.uber.org/zap"

	"github.com/openfluke/mlpf/ad"
	"github.com/openfluke/mlpf/nn"
)

// Trainer owns one optimization loop over a PFNet: loss computation with
// classification-conditioned regression masking, backpropagation and the
// optimizer update over the currently trainable parameter subset.
type Trainer struct {
	model *PFNet
	loss  *MultiHeadLoss
	opt   nn.Optimizer

	scheme     string
	numClasses int
	lr         float32
	step       int
	log        *zap.Logger
}

// NewTrainer wires the trainer from the model's configuration: loss
// variants, sample-weight scheme, trainable phase and optimizer. The phase
// both freezes parameters and zeroes the matching loss coefficients, so a
// frozen head neither updates nor pulls on shared layers.
func NewTrainer(m *PFNet, log *zap.Logger) (*Trainer, error) {
	cfg := m.cfg
	if log == nil {
		log = zap.NewNop()
	}

	loss, err := NewMultiHeadLoss(cfg.Dataset, cfg.Setup)
	if err != nil {
		return nil, err
	}
	phase := cfg.Setup.Trainable
	if phase == "" {
		phase = "all"
	}
	if err := m.SetTrainablePhase(phase); err != nil {
		return nil, err
	}
	mask, err := m.phaseMask(phase)
	if err != nil {
		return nil, err
	}
	opt, err := nn.OptimizerByName(cfg.Setup.Optimizer, m.ps, mask)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		model:      m,
		loss:       loss,
		opt:        opt,
		scheme:     cfg.Setup.SampleWeights,
		numClasses: cfg.Dataset.NumOutputClasses,
		lr:         float32(cfg.Setup.LR),
		log:        log,
	}, nil
}

// StepResult reports one optimization step.
type StepResult struct {
	Step  int
	Total float32
	Parts map[string]float32
}

// Step runs forward, loss, backward and the optimizer update on one batch.
// X is the raw input [batch, N, numInputFeatures], y the packed targets
// [batch, N, 7]. occupancy may be nil unless the inverse_sqrt weight
// scheme is configured.
func (t *Trainer) Step(X, y, occupancy *ad.Tensor) (*StepResult, error) {
	preds, err := t.model.Forward(X, true)
	if err != nil {
		return nil, err
	}
	targets, err := SplitTargets(y, t.numClasses)
	if err != nil {
		return nil, err
	}
	sw, err := NewSampleWeights(t.scheme, X, occupancy)
	if err != nil {
		return nil, err
	}

	// Kinematics are only supervised on slots where the classifier already
	// agrees with the truth and the truth is a real particle. Early in
	// training this keeps garbage classifications from dragging the
	// regression heads around.
	match := classMatchMask(preds.Cls, targets.Cls)
	sw.Pt = ad.Mul(sw.Pt, match)
	sw.Eta = ad.Mul(sw.Eta, match)
	sw.SinPhi = ad.Mul(sw.SinPhi, match)
	sw.CosPhi = ad.Mul(sw.CosPhi, match)
	sw.Energy = ad.Mul(sw.Energy, match)

	total, parts := t.loss.Compute(targets, preds, sw)

	t.model.ps.ZeroGrad()
	ad.Backward(total)
	t.opt.Step(t.lr)

	t.step++
	res := &StepResult{Step: t.step, Total: total.Data[0], Parts: parts}
	t.log.Debug("train step",
		zap.Int("step", res.Step),
		zap.Float32("loss", res.Total),
		zap.Float32("cls", parts["cls"]),
		zap.Float32("energy", parts["energy"]),
	)
	return res, nil
}

// Eval runs a forward pass without dropout and returns the loss parts for
// the batch, leaving parameters untouched.
func (t *Trainer) Eval(X, y, occupancy *ad.Tensor) (*StepResult, error) {
	preds, err := t.model.Forward(X, false)
	if err != nil {
		return nil, err
	}
	targets, err := SplitTargets(y, t.numClasses)
	if err != nil {
		return nil, err
	}
	sw, err := NewSampleWeights(t.scheme, X, occupancy)
	if err != nil {
		return nil, err
	}
	total, parts := t.loss.Compute(targets, preds, sw)
	return &StepResult{Step: t.step, Total: total.Data[0], Parts: parts}, nil
}

// classMatchMask is 1 where argmax(pred) == argmax(true) and the true class
// is not the null class, as a constant [batch, N] tensor.
func classMatchMask(predCls, trueCls *ad.Tensor) *ad.Tensor {
	pred := ad.Argmax(predCls)
	truth := ad.Argmax(trueCls)
	out := ad.New(pred.Shape...)
	for i := range pred.Data {
		if pred.Data[i] == truth.Data[i] && truth.Data[i] != 0 {
			out.Data[i] = 1
		}
	}
	return out
}

// LRSchedule maps a step index to a learning rate. The exponential decay
// matches a staircase decay of 1% per decaySteps.
type LRSchedule func(step int) float32

// ExponentialDecay returns a staircase schedule starting at base.
func ExponentialDecay(base float32, decaySteps int, rate float64) LRSchedule {
	return func(step int) float32 {
		lr := float64(base)
		for i := 0; i < step/decaySteps; i++ {
			lr *= rate
		}
		return float32(lr)
	}
}

// SetLR overrides the learning rate for subsequent steps, for callers
// driving a schedule.
func (t *Trainer) SetLR(lr float32) { t.lr = lr }
