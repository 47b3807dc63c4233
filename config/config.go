// Package config defines the nested configuration mapping consumed by the
// particle-flow model and loads it from YAML. The layout mirrors the
// dataset / setup / parameters sections of the training configuration files,
// so an existing YAML config ports over key for key.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the root configuration document.
type Config struct {
	Dataset    Dataset `mapstructure:"dataset"`
	Setup      Setup   `mapstructure:"setup"`
	Parameters Model   `mapstructure:"parameters"`
}

// Dataset describes tensor shapes, the feature schema and per-head loss
// selection.
type Dataset struct {
	Schema            string `mapstructure:"schema"`
	NumInputFeatures  int    `mapstructure:"num_input_features"`
	NumOutputFeatures int    `mapstructure:"num_output_features"`
	PaddedNumElemSize int    `mapstructure:"padded_num_elem_size"`
	NumInputClasses   int    `mapstructure:"num_input_classes"`
	NumOutputClasses  int    `mapstructure:"num_output_classes"`

	ClassificationLossCoef float64 `mapstructure:"classification_loss_coef"`
	ChargeLossCoef         float64 `mapstructure:"charge_loss_coef"`
	PtLossCoef             float64 `mapstructure:"pt_loss_coef"`
	EtaLossCoef            float64 `mapstructure:"eta_loss_coef"`
	SinPhiLossCoef         float64 `mapstructure:"sin_phi_loss_coef"`
	CosPhiLossCoef         float64 `mapstructure:"cos_phi_loss_coef"`
	EnergyLossCoef         float64 `mapstructure:"energy_loss_coef"`

	ChargeLoss string `mapstructure:"charge_loss"`
	PtLoss     string `mapstructure:"pt_loss"`
	EtaLoss    string `mapstructure:"eta_loss"`
	SinPhiLoss string `mapstructure:"sin_phi_loss"`
	CosPhiLoss string `mapstructure:"cos_phi_loss"`
	EnergyLoss string `mapstructure:"energy_loss"`
}

// Setup holds training-phase switches used by the host loop.
type Setup struct {
	Trainable              string  `mapstructure:"trainable"`
	ClassificationLossType string  `mapstructure:"classification_loss_type"`
	SampleWeights          string  `mapstructure:"sample_weights"`
	Optimizer              string  `mapstructure:"optimizer"`
	LR                     float64 `mapstructure:"lr"`
	BatchSize              int     `mapstructure:"batch_size"`
	MultiOutput            bool    `mapstructure:"multi_output"`
	Seed                   uint64  `mapstructure:"seed"`
}

// Model mirrors the top-level model keyword arguments.
type Model struct {
	NumGraphLayersCommon int        `mapstructure:"num_graph_layers_common"`
	NumGraphLayersEnergy int        `mapstructure:"num_graph_layers_energy"`
	InputEncoding        string     `mapstructure:"input_encoding"`
	SkipConnection       bool       `mapstructure:"skip_connection"`
	CombinedGraphLayer   GraphLayer `mapstructure:"combined_graph_layer"`
	OutputDecoding       Decoding   `mapstructure:"output_decoding"`
}

// GraphLayer configures one combined graph layer (shared by every layer of
// both towers).
type GraphLayer struct {
	MaxNumBins      int     `mapstructure:"max_num_bins"`
	BinSize         int     `mapstructure:"bin_size"`
	DistanceDim     int     `mapstructure:"distance_dim"`
	HiddenDim       int     `mapstructure:"hidden_dim"`
	NumNodeMessages int     `mapstructure:"num_node_messages"`
	LayerNorm       bool    `mapstructure:"layernorm"`
	Dropout         float64 `mapstructure:"dropout"`
	Activation      string  `mapstructure:"activation"`

	Kernel      Kernel      `mapstructure:"kernel"`
	NodeMessage NodeMessage `mapstructure:"node_message"`
}

// Kernel selects and parameterizes the node-pair kernel.
type Kernel struct {
	Type         string  `mapstructure:"type"`
	DistMult     float64 `mapstructure:"dist_mult"`
	ClipValueLow float64 `mapstructure:"clip_value_low"`
	OutputDim    int     `mapstructure:"output_dim"`
	HiddenDim    int     `mapstructure:"hidden_dim"`
	NumLayers    int     `mapstructure:"num_layers"`
	Activation   string  `mapstructure:"activation"`
}

// NodeMessage selects and parameterizes the message-passing layer.
type NodeMessage struct {
	Type                 string `mapstructure:"type"`
	OutputDim            int    `mapstructure:"output_dim"`
	HiddenDim            int    `mapstructure:"hidden_dim"`
	NumLayers            int    `mapstructure:"num_layers"`
	Activation           string `mapstructure:"activation"`
	AggregationDirection string `mapstructure:"aggregation_direction"`
	NormalizeDegrees     bool   `mapstructure:"normalize_degrees"`
}

// Decoding configures the output decoder heads.
type Decoding struct {
	Activation                  string  `mapstructure:"activation"`
	RegressionUseClassification bool    `mapstructure:"regression_use_classification"`
	Dropout                     float64 `mapstructure:"dropout"`

	PtSkipGate     bool `mapstructure:"pt_skip_gate"`
	EtaSkipGate    bool `mapstructure:"eta_skip_gate"`
	PhiSkipGate    bool `mapstructure:"phi_skip_gate"`
	EnergySkipGate bool `mapstructure:"energy_skip_gate"`

	IDDimDecrease     bool `mapstructure:"id_dim_decrease"`
	ChargeDimDecrease bool `mapstructure:"charge_dim_decrease"`
	PtDimDecrease     bool `mapstructure:"pt_dim_decrease"`
	EtaDimDecrease    bool `mapstructure:"eta_dim_decrease"`
	PhiDimDecrease    bool `mapstructure:"phi_dim_decrease"`
	EnergyDimDecrease bool `mapstructure:"energy_dim_decrease"`

	IDHiddenDim     int `mapstructure:"id_hidden_dim"`
	ChargeHiddenDim int `mapstructure:"charge_hidden_dim"`
	PtHiddenDim     int `mapstructure:"pt_hidden_dim"`
	EtaHiddenDim    int `mapstructure:"eta_hidden_dim"`
	PhiHiddenDim    int `mapstructure:"phi_hidden_dim"`
	EnergyHiddenDim int `mapstructure:"energy_hidden_dim"`

	IDNumLayers     int `mapstructure:"id_num_layers"`
	ChargeNumLayers int `mapstructure:"charge_num_layers"`
	PtNumLayers     int `mapstructure:"pt_num_layers"`
	EtaNumLayers    int `mapstructure:"eta_num_layers"`
	PhiNumLayers    int `mapstructure:"phi_num_layers"`
	EnergyNumLayers int `mapstructure:"energy_num_layers"`

	LayerNorm   bool `mapstructure:"layernorm"`
	MaskRegCls0 bool `mapstructure:"mask_reg_cls0"`
}

// Load reads a YAML configuration file into a Config, applying defaults for
// keys the file does not set, and validates the shape contracts.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return FromViper(v)
}

// FromViper unmarshals and validates an already-populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the baseline configuration used by tests and as the
// starting point for YAML overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are statically known to unmarshal.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dataset.schema", "cms")
	v.SetDefault("dataset.num_input_features", 15)
	v.SetDefault("dataset.num_output_features", 7)
	v.SetDefault("dataset.padded_num_elem_size", 6400)
	v.SetDefault("dataset.num_input_classes", 8)
	v.SetDefault("dataset.num_output_classes", 8)
	v.SetDefault("dataset.classification_loss_coef", 1.0)
	v.SetDefault("dataset.charge_loss_coef", 0.01)
	v.SetDefault("dataset.pt_loss_coef", 0.0001)
	v.SetDefault("dataset.eta_loss_coef", 100.0)
	v.SetDefault("dataset.sin_phi_loss_coef", 10.0)
	v.SetDefault("dataset.cos_phi_loss_coef", 10.0)
	v.SetDefault("dataset.energy_loss_coef", 0.0001)
	v.SetDefault("dataset.charge_loss", "mean_squared_error")
	v.SetDefault("dataset.pt_loss", "mean_squared_error")
	v.SetDefault("dataset.eta_loss", "mean_squared_error")
	v.SetDefault("dataset.sin_phi_loss", "mean_squared_error")
	v.SetDefault("dataset.cos_phi_loss", "mean_squared_error")
	v.SetDefault("dataset.energy_loss", "mean_squared_error")

	v.SetDefault("setup.trainable", "all")
	v.SetDefault("setup.classification_loss_type", "categorical_cross_entropy")
	v.SetDefault("setup.sample_weights", "none")
	v.SetDefault("setup.optimizer", "adam")
	v.SetDefault("setup.lr", 1e-4)
	v.SetDefault("setup.batch_size", 4)
	v.SetDefault("setup.multi_output", true)
	v.SetDefault("setup.seed", 1)

	v.SetDefault("parameters.num_graph_layers_common", 3)
	v.SetDefault("parameters.num_graph_layers_energy", 3)
	v.SetDefault("parameters.input_encoding", "cms")
	v.SetDefault("parameters.skip_connection", true)

	v.SetDefault("parameters.combined_graph_layer.max_num_bins", 200)
	v.SetDefault("parameters.combined_graph_layer.bin_size", 128)
	v.SetDefault("parameters.combined_graph_layer.distance_dim", 128)
	v.SetDefault("parameters.combined_graph_layer.hidden_dim", 128)
	v.SetDefault("parameters.combined_graph_layer.num_node_messages", 2)
	v.SetDefault("parameters.combined_graph_layer.layernorm", false)
	v.SetDefault("parameters.combined_graph_layer.dropout", 0.0)
	v.SetDefault("parameters.combined_graph_layer.activation", "elu")
	v.SetDefault("parameters.combined_graph_layer.kernel.type", "gaussian")
	v.SetDefault("parameters.combined_graph_layer.kernel.dist_mult", 0.1)
	v.SetDefault("parameters.combined_graph_layer.kernel.clip_value_low", 0.0)
	v.SetDefault("parameters.combined_graph_layer.kernel.output_dim", 32)
	v.SetDefault("parameters.combined_graph_layer.kernel.hidden_dim", 32)
	v.SetDefault("parameters.combined_graph_layer.kernel.num_layers", 2)
	v.SetDefault("parameters.combined_graph_layer.kernel.activation", "elu")
	v.SetDefault("parameters.combined_graph_layer.node_message.type", "ghconv")
	v.SetDefault("parameters.combined_graph_layer.node_message.output_dim", 256)
	v.SetDefault("parameters.combined_graph_layer.node_message.hidden_dim", 128)
	v.SetDefault("parameters.combined_graph_layer.node_message.num_layers", 2)
	v.SetDefault("parameters.combined_graph_layer.node_message.activation", "elu")
	v.SetDefault("parameters.combined_graph_layer.node_message.aggregation_direction", "dst")
	v.SetDefault("parameters.combined_graph_layer.node_message.normalize_degrees", true)

	v.SetDefault("parameters.output_decoding.activation", "elu")
	v.SetDefault("parameters.output_decoding.regression_use_classification", true)
	v.SetDefault("parameters.output_decoding.dropout", 0.0)
	v.SetDefault("parameters.output_decoding.pt_skip_gate", true)
	v.SetDefault("parameters.output_decoding.eta_skip_gate", true)
	v.SetDefault("parameters.output_decoding.phi_skip_gate", true)
	v.SetDefault("parameters.output_decoding.energy_skip_gate", true)
	v.SetDefault("parameters.output_decoding.id_dim_decrease", true)
	v.SetDefault("parameters.output_decoding.charge_dim_decrease", true)
	v.SetDefault("parameters.output_decoding.pt_dim_decrease", false)
	v.SetDefault("parameters.output_decoding.eta_dim_decrease", false)
	v.SetDefault("parameters.output_decoding.phi_dim_decrease", false)
	v.SetDefault("parameters.output_decoding.energy_dim_decrease", false)
	v.SetDefault("parameters.output_decoding.id_hidden_dim", 128)
	v.SetDefault("parameters.output_decoding.charge_hidden_dim", 128)
	v.SetDefault("parameters.output_decoding.pt_hidden_dim", 128)
	v.SetDefault("parameters.output_decoding.eta_hidden_dim", 128)
	v.SetDefault("parameters.output_decoding.phi_hidden_dim", 128)
	v.SetDefault("parameters.output_decoding.energy_hidden_dim", 128)
	v.SetDefault("parameters.output_decoding.id_num_layers", 4)
	v.SetDefault("parameters.output_decoding.charge_num_layers", 2)
	v.SetDefault("parameters.output_decoding.pt_num_layers", 3)
	v.SetDefault("parameters.output_decoding.eta_num_layers", 3)
	v.SetDefault("parameters.output_decoding.phi_num_layers", 3)
	v.SetDefault("parameters.output_decoding.energy_num_layers", 3)
	v.SetDefault("parameters.output_decoding.layernorm", false)
	v.SetDefault("parameters.output_decoding.mask_reg_cls0", true)
}

// Validate enforces the shape contracts that must hold before any tensor is
// allocated. Model-variant names (kernel, message layer, losses, schema) are
// validated by the constructors that resolve them.
func (c *Config) Validate() error {
	gl := c.Parameters.CombinedGraphLayer
	if gl.BinSize <= 0 {
		return fmt.Errorf("config: bin_size must be positive, got %d", gl.BinSize)
	}
	if c.Dataset.PaddedNumElemSize <= 0 {
		return fmt.Errorf("config: padded_num_elem_size must be positive, got %d", c.Dataset.PaddedNumElemSize)
	}
	if c.Dataset.PaddedNumElemSize%gl.BinSize != 0 {
		return fmt.Errorf("config: padded_num_elem_size %d is not divisible by bin_size %d; trailing elements would be dropped from binning",
			c.Dataset.PaddedNumElemSize, gl.BinSize)
	}
	if gl.MaxNumBins < c.Dataset.PaddedNumElemSize/gl.BinSize {
		return fmt.Errorf("config: max_num_bins %d is below the %d bins needed for %d elements of bin_size %d",
			gl.MaxNumBins, c.Dataset.PaddedNumElemSize/gl.BinSize, c.Dataset.PaddedNumElemSize, gl.BinSize)
	}
	if c.Dataset.NumInputFeatures <= 0 || c.Dataset.NumOutputClasses <= 0 {
		return fmt.Errorf("config: feature and class counts must be positive")
	}
	if c.Parameters.NumGraphLayersCommon < 1 || c.Parameters.NumGraphLayersEnergy < 1 {
		return fmt.Errorf("config: both towers need at least one graph layer")
	}
	return nil
}
