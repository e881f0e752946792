// Package onnx parses ONNX models and imports them as Torch dialect programs.
//
//   - Parse: decodes a serialized ONNX ModelProto into a Model.
//   - ReadFile: reads a file and calls Parse. Tensors stored as external data are read
//     relative to the model directory.
//   - Model.Import: builds an ir.Module with one function whose body is made of
//     torch.operator "onnx.<OpType>" nodes, ready to be lowered by onnxtotorch.
package onnx

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultDomain is the name of the standard ONNX operator domain. The empty string is
// accepted as an alias.
const DefaultDomain = "ai.onnx"

// Model represents a parsed ONNX file.
type Model struct {
	Proto *ModelProto

	// InputsNames and OutputsNames of the graph, in order. Inputs that are also
	// initializers (older IR versions) are not included.
	InputsNames, OutputsNames []string

	external *externalDataReader
}

// Parse parses an ONNX model.
func Parse(contents []byte) (*Model, error) {
	proto, err := decodeModel(contents)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse ONNX model proto")
	}
	if proto.Graph == nil {
		return nil, errors.New("ONNX model has no graph")
	}
	m := &Model{Proto: proto}
	initializers := make(map[string]bool, len(proto.Graph.Initializer))
	for _, t := range proto.Graph.Initializer {
		initializers[t.Name] = true
	}
	for _, input := range proto.Graph.Input {
		if !initializers[input.Name] {
			m.InputsNames = append(m.InputsNames, input.Name)
		}
	}
	for _, output := range proto.Graph.Output {
		m.OutputsNames = append(m.OutputsNames, output.Name)
	}
	return m, nil
}

// ReadFile parses an ONNX model file.
func ReadFile(filePath string) (*Model, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ONNX model file in %s", filePath)
	}
	m, err := Parse(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing %s", filePath)
	}
	m.external = newExternalDataReader(filepath.Dir(filePath))
	return m, nil
}

// Close releases the external data files mapped while importing.
func (m *Model) Close() error {
	if m.external == nil {
		return nil
	}
	return m.external.Close()
}

// OpsetVersion returns the version of the given operator domain imported by the model.
func (m *Model) OpsetVersion(domain string) (int64, bool) {
	domain = canonicalDomain(domain)
	for _, opset := range m.Proto.OpsetImport {
		if canonicalDomain(opset.Domain) == domain {
			return opset.Version, true
		}
	}
	return 0, false
}

func canonicalDomain(domain string) string {
	if domain == "" {
		return DefaultDomain
	}
	return domain
}

// tensorData returns the dense contents of an initializer or tensor attribute.
func (m *Model) tensorData(proto *TensorProto) ([]byte, error) {
	if proto.DataLocation != DataLocationExternal {
		return nil, nil
	}
	info, err := parseExternalData(proto)
	if err != nil {
		return nil, err
	}
	if m.external == nil {
		return nil, errors.Errorf("tensor %q uses external data, but the model was not read from a file", proto.Name)
	}
	size := int(proto.NumElements()) * proto.DataType.byteSize()
	return m.external.read(info, size)
}
