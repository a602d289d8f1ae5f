package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes the exported checkpoint. It is read from an optional
// JSON sidecar next to the model; missing fields keep their defaults.
type Metadata struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	InputNames  []string `json:"input_names"`
	OutputNames []string `json:"output_names"`
	PadModulo   int      `json:"pad_modulo"`
}

// DefaultMetadata matches the LaMa ONNX export: two inputs, one output.
func DefaultMetadata() Metadata {
	return Metadata{
		Name:        "big-lama",
		InputNames:  []string{"image", "mask"},
		OutputNames: []string{"output"},
		PadModulo:   8,
	}
}

// LoadMetadata overlays the sidecar at path onto DefaultMetadata. An empty
// path or a missing file is not an error.
func LoadMetadata(path string) (Metadata, error) {
	meta := DefaultMetadata()
	if path == "" {
		return meta, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}

	var file Metadata
	if err := json.Unmarshal(raw, &file); err != nil {
		return meta, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if file.Name != "" {
		meta.Name = file.Name
	}
	if file.Version != "" {
		meta.Version = file.Version
	}
	if len(file.InputNames) > 0 {
		meta.InputNames = file.InputNames
	}
	if len(file.OutputNames) > 0 {
		meta.OutputNames = file.OutputNames
	}
	if file.PadModulo > 0 {
		meta.PadModulo = file.PadModulo
	}

	if len(meta.InputNames) != 2 {
		return meta, fmt.Errorf("model needs exactly 2 inputs (image, mask), metadata lists %d", len(meta.InputNames))
	}
	return meta, nil
}

// IOInfo describes one model input or output.
type IOInfo struct {
	Name     string  `json:"name"`
	Shape    []int64 `json:"shape"`
	DataType string  `json:"data_type"`
}
