package nn

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Checkpoint is the on-disk snapshot of a parameter registry: every
// parameter by name with its shape and raw float32 values.
type Checkpoint struct {
	Type    string       `json:"type"`
	Version int          `json:"version"`
	Params  []SavedParam `json:"params"`
}

// SavedParam stores a single named tensor, values base64-encoded as
// little-endian float32.
type SavedParam struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	Data  string `json:"data"`
}

const checkpointVersion = 1

// Snapshot captures the current parameter values.
func (s *ParamSet) Snapshot() *Checkpoint {
	ck := &Checkpoint{Type: "mlpf_checkpoint", Version: checkpointVersion}
	for _, name := range s.names {
		t := s.params[name]
		buf := make([]byte, 4*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
		ck.Params = append(ck.Params, SavedParam{
			Name:  name,
			Shape: append([]int(nil), t.Shape...),
			Data:  base64.StdEncoding.EncodeToString(buf),
		})
	}
	return ck
}

// Restore copies checkpoint values into the registry. Every checkpoint
// entry must match a registered parameter in name and shape; parameters
// missing from the checkpoint keep their current values, so partial
// checkpoints can seed a fine-tuning run.
func (s *ParamSet) Restore(ck *Checkpoint) error {
	if ck.Version != checkpointVersion {
		return fmt.Errorf("nn: unsupported checkpoint version %d", ck.Version)
	}
	for _, sp := range ck.Params {
		t := s.params[sp.Name]
		if t == nil {
			return fmt.Errorf("nn: checkpoint parameter %q not in model", sp.Name)
		}
		if !sameIntSlice(t.Shape, sp.Shape) {
			return fmt.Errorf("nn: checkpoint parameter %q shape %v does not match model shape %v", sp.Name, sp.Shape, t.Shape)
		}
		buf, err := base64.StdEncoding.DecodeString(sp.Data)
		if err != nil {
			return fmt.Errorf("nn: decoding %q: %w", sp.Name, err)
		}
		if len(buf) != 4*len(t.Data) {
			return fmt.Errorf("nn: checkpoint parameter %q has %d bytes, want %d", sp.Name, len(buf), 4*len(t.Data))
		}
		for i := range t.Data {
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
		}
	}
	return nil
}

// Save writes the registry to a JSON checkpoint file.
func (s *ParamSet) Save(filename string) error {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("nn: encoding checkpoint: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("nn: writing checkpoint: %w", err)
	}
	return nil
}

// Load reads a JSON checkpoint file into the registry.
func (s *ParamSet) Load(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("nn: reading checkpoint: %w", err)
	}
	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return fmt.Errorf("nn: decoding checkpoint: %w", err)
	}
	return s.Restore(&ck)
}

func sameIntSlice(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
