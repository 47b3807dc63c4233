package pfnet

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/mlpf/ad"
	"github.com/openfluke/mlpf/config"
	"github.com/openfluke/mlpf/nn"
)

// CombinedGraphLayer is one full round of dynamic graph building and message
// passing: optional layer normalization, a distance-embedding network, LSH
// binning with the node-pair kernel, and a stack of message layers, finally
// scattered back to event order.
type CombinedGraphLayer struct {
	ln       *nn.LayerNorm
	ffnDist  *nn.FFN
	act      nn.Activation
	building *MessageBuildingLSH
	messages []MessageLayer
	dropout  float64
}

// NewCombinedGraphLayer builds one round under the given name prefix. Weights
// land under name+"/ffn_dist", name+"/kernel", name+"/msg_<i>" and, when
// enabled, name+"/layernorm".
func NewCombinedGraphLayer(ps *nn.ParamSet, name string, inputDim int, cfg config.GraphLayer, init *nn.RandomNormal) (*CombinedGraphLayer, error) {
	act, err := nn.ActivationByName(cfg.Activation)
	if err != nil {
		return nil, fmt.Errorf("graph layer %s: %w", name, err)
	}

	l := &CombinedGraphLayer{act: act, dropout: cfg.Dropout}
	if cfg.LayerNorm {
		l.ln = nn.NewLayerNorm(ps, name+"/layernorm", inputDim, 1e-6)
	}
	l.ffnDist, err = nn.NewFFN(ps, name+"/ffn_dist", inputDim, nn.FFNConfig{
		OutputDim:  cfg.DistanceDim,
		HiddenDim:  cfg.HiddenDim,
		NumLayers:  2,
		Activation: cfg.Activation,
		Dropout:    cfg.Dropout,
	}, init)
	if err != nil {
		return nil, err
	}

	kernel, err := KernelByConf(ps, name+"/kernel", cfg.DistanceDim, cfg.Kernel, init)
	if err != nil {
		return nil, err
	}
	l.building = NewMessageBuildingLSH(ps, name, cfg.DistanceDim, cfg.MaxNumBins, cfg.BinSize, kernel, init)

	dim := inputDim
	for i := 0; i < cfg.NumNodeMessages; i++ {
		msg, err := MessageLayerByConf(ps, fmt.Sprintf("%s/msg_%d", name, i), dim, kernel.OutputDim(), cfg.NodeMessage, init)
		if err != nil {
			return nil, err
		}
		l.messages = append(l.messages, msg)
		dim = msg.OutputDim()
	}
	return l, nil
}

// OutputDim is the feature width after the final message layer.
func (l *CombinedGraphLayer) OutputDim() int {
	return l.messages[len(l.messages)-1].OutputDim()
}

// Forward runs one round over x [batch, N, dim] with padding mask msk
// [batch, N, 1] and returns the updated features in event order.
func (l *CombinedGraphLayer) Forward(x, msk *ad.Tensor, training bool, rng *rand.Rand) *ad.Tensor {
	if l.ln != nil {
		x = l.ln.Forward(x)
	}

	xDist := l.act(l.ffnDist.Forward(x, training, rng))
	binned := l.building.Forward(xDist, x, msk, training, rng)

	xb := binned.XNode
	for _, msg := range l.messages {
		xb = msg.Forward(xb, binned.DM, binned.Msk, training, rng)
		if l.dropout > 0 {
			xb = ad.Dropout(xb, l.dropout, rng, training)
		}
	}
	return Unbin(xb, binned.Split)
}
