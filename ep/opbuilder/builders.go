package opbuilder

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/pkg/errors"
)

// SimpleOpBuilder validates operators whose support depends only on their input/output counts and
// element types.
type SimpleOpBuilder struct {
	BaseOpBuilder
}

var _ Validator = (*SimpleOpBuilder)(nil)

// NewSimpleOpBuilder creates a SimpleOpBuilder for opType.
func NewSimpleOpBuilder(opType string, arity Arity, policy ElementTypePolicy) *SimpleOpBuilder {
	return &SimpleOpBuilder{BaseOpBuilder{opType: opType, builderType: "SimpleOpBuilder", arity: arity, policy: policy}}
}

// Validate implements Validator.
func (b *SimpleOpBuilder) Validate(node hostgraph.Node) error {
	_, _, err := b.validate(node)
	return err
}

// VariadicOpBuilder validates operators with a variable number of inputs (Concat, Sum) or of
// outputs (Split). On top of the base checks, all the variadic values must share one element type.
type VariadicOpBuilder struct {
	BaseOpBuilder
	variadicOutputs bool
}

var _ Validator = (*VariadicOpBuilder)(nil)

// NewVariadicOpBuilder creates a VariadicOpBuilder for opType. If variadicOutputs is true the
// outputs are compared against the first input, otherwise all inputs and the outputs are compared.
func NewVariadicOpBuilder(opType string, arity Arity, policy ElementTypePolicy, variadicOutputs bool) *VariadicOpBuilder {
	return &VariadicOpBuilder{
		BaseOpBuilder:   BaseOpBuilder{opType: opType, builderType: "VariadicOpBuilder", arity: arity, policy: policy},
		variadicOutputs: variadicOutputs,
	}
}

// Validate implements Validator.
func (b *VariadicOpBuilder) Validate(node hostgraph.Node) error {
	inputs, outputs, err := b.validate(node)
	if err != nil {
		return err
	}
	values := inputs
	if b.variadicOutputs {
		// Split's optional second input holds the split sizes.
		values = inputs[:1]
	}
	// Omitted optional values (empty name) are skipped, also as the reference.
	var reference *hostgraph.TensorInfo
	for _, group := range [][]hostgraph.TensorInfo{values, outputs} {
		for idx := range group {
			info := &group[idx]
			if info.Name == "" {
				continue
			}
			if reference == nil {
				reference = info
				continue
			}
			if info.DType != reference.DType {
				return reject(node, ReasonUnsupportedType, "%s doesn't match the element type %s of %s",
					*info, reference.DType, reference.Name)
			}
		}
	}
	return nil
}

// QDQOpBuilder validates QuantizeLinear and DequantizeLinear.
//
// Besides the float/quantized policies, the zero point (if given) must have the same element type
// as the quantized value, and blocked quantization is not supported.
type QDQOpBuilder struct {
	BaseOpBuilder
}

var _ Validator = (*QDQOpBuilder)(nil)

// NewQDQOpBuilder creates the validator for QuantizeLinear (quantize=true) or DequantizeLinear.
func NewQDQOpBuilder(quantize bool) *QDQOpBuilder {
	opType, policy := "DequantizeLinear", Dequantize
	if quantize {
		opType, policy = "QuantizeLinear", Quantize
	}
	arity, _ := ExpectedArity(opType)
	return &QDQOpBuilder{BaseOpBuilder{opType: opType, builderType: "QDQOpBuilder", arity: arity, policy: policy}}
}

// Validate implements Validator.
func (b *QDQOpBuilder) Validate(node hostgraph.Node) error {
	inputs, outputs, err := b.validate(node)
	if err != nil {
		return err
	}
	if len(inputs) > 2 && inputs[2].Name != "" {
		quantized := inputs[0]
		if b.policy == Quantize {
			quantized = outputs[0]
		}
		if inputs[2].DType != quantized.DType {
			return reject(node, ReasonUnsupportedType, "zero point %s doesn't match quantized value %s", inputs[2], quantized)
		}
	}
	blockSize, found, err := node.IntAttr("block_size")
	if err != nil {
		return errors.WithMessagef(err, "failed to read attribute \"block_size\" of %s", hostgraph.NodeToString(node))
	}
	if found && blockSize != 0 {
		return reject(node, ReasonUnsupportedAttrVal, "blocked quantization (block_size=%d)", blockSize)
	}
	return nil
}

// RecurrentOpBuilder validates LSTM.
type RecurrentOpBuilder struct {
	BaseOpBuilder
}

var _ Validator = (*RecurrentOpBuilder)(nil)

// lstmSequenceLensInput is the index of the optional "sequence_lens" input of LSTM, the only one
// that is not a float.
const lstmSequenceLensInput = 4

// NewRecurrentOpBuilder creates the validator for LSTM.
func NewRecurrentOpBuilder() *RecurrentOpBuilder {
	arity, _ := ExpectedArity("LSTM")
	return &RecurrentOpBuilder{BaseOpBuilder{opType: "LSTM", builderType: "RecurrentOpBuilder", arity: arity, policy: FloatData}}
}

// Validate implements Validator.
func (b *RecurrentOpBuilder) Validate(node hostgraph.Node) error {
	inputs, _, err := b.validate(node)
	if err != nil {
		return err
	}
	for idx, input := range inputs {
		if input.Name == "" {
			continue
		}
		want := ComputeDType
		if idx == lstmSequenceLensInput {
			want = dtypes.Int32
		}
		if input.DType != want {
			return reject(node, ReasonUnsupportedType, "input #%d %s is not %s", idx, input, want)
		}
	}

	direction, found, err := node.StringAttr("direction")
	if err != nil {
		return errors.WithMessagef(err, "failed to read attribute \"direction\" of %s", hostgraph.NodeToString(node))
	}
	if found {
		switch strings.ToLower(direction) {
		case "forward", "reverse", "bidirectional":
		default:
			return reject(node, ReasonUnsupportedAttrVal, "direction=%q", direction)
		}
	}
	for _, attrName := range []string{"layout", "input_forget"} {
		value, found, err := node.IntAttr(attrName)
		if err != nil {
			return errors.WithMessagef(err, "failed to read attribute %q of %s", attrName, hostgraph.NodeToString(node))
		}
		if found && value != 0 {
			return reject(node, ReasonUnsupportedAttrVal, "%s=%d", attrName, value)
		}
	}
	return nil
}
