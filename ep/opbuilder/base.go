package opbuilder

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/pkg/errors"
)

// ComputeDType is the element type of the backend's primary compute path.
const ComputeDType = dtypes.Float32

// ElementTypePolicy selects which element types a validator accepts for the inputs and outputs of a node.
type ElementTypePolicy int

const (
	// AllFloat requires every input and output to be ComputeDType.
	AllFloat ElementTypePolicy = iota

	// TypeAgnostic skips the element type check: used for pure data movement ops.
	TypeAgnostic

	// FloatData requires the first input and every output to be ComputeDType. The remaining inputs
	// are parameters (axes, sizes, sequence lengths) and are not checked.
	FloatData

	// Comparison requires ComputeDType inputs and a boolean output.
	Comparison

	// Logical requires boolean inputs and outputs.
	Logical

	// Select requires a boolean condition followed by ComputeDType values, and a ComputeDType output.
	Select

	// ArgIndex requires a ComputeDType input and Int64 outputs.
	ArgIndex

	// TopKIndex requires ComputeDType values with an Int64 K, and outputs (values, Int64 indices).
	TopKIndex

	// Quantize requires ComputeDType input and scale, and a quantized integer output.
	Quantize

	// Dequantize requires a quantized integer input and a ComputeDType scale and output.
	Dequantize
)

// isQuantizedDType returns whether dtype is one of the integer types used for quantized tensors.
func isQuantizedDType(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Int8, dtypes.Uint8, dtypes.Int16, dtypes.Uint16:
		return true
	default:
		return false
	}
}

// BaseOpBuilder holds what is common to every validator: the op type it was registered for, its
// expected arity and its element type policy. It provides the two reusable checks.
type BaseOpBuilder struct {
	opType      string
	builderType string
	arity       Arity
	policy      ElementTypePolicy
}

// OpType implements Validator.
func (b *BaseOpBuilder) OpType() string { return b.opType }

// BuilderType implements Validator.
func (b *BaseOpBuilder) BuilderType() string { return b.builderType }

// QnnOpType implements Validator.
func (b *BaseOpBuilder) QnnOpType() string { return QnnOpType(b.opType) }

// Arity returns the accepted inputs/outputs counts.
func (b *BaseOpBuilder) Arity() Arity { return b.arity }

// Policy returns the element type policy.
func (b *BaseOpBuilder) Policy() ElementTypePolicy { return b.policy }

// queryIO reads the inputs and outputs of the node, wrapping any host fault.
func queryIO(node hostgraph.Node) (inputs, outputs []hostgraph.TensorInfo, err error) {
	inputs, err = node.Inputs()
	if err != nil {
		err = errors.WithMessagef(err, "failed to query inputs of %s", hostgraph.NodeToString(node))
		return
	}
	outputs, err = node.Outputs()
	if err != nil {
		err = errors.WithMessagef(err, "failed to query outputs of %s", hostgraph.NodeToString(node))
	}
	return
}

// ValidateInputOutputCounts rejects the node if its number of inputs or outputs is out of the expected arity.
func (b *BaseOpBuilder) ValidateInputOutputCounts(node hostgraph.Node, inputs, outputs []hostgraph.TensorInfo) error {
	if !b.arity.AcceptsInputs(len(inputs)) || !b.arity.AcceptsOutputs(len(outputs)) {
		return reject(node, ReasonInvalidCount, "got %d inputs/%d outputs, expected %s",
			len(inputs), len(outputs), b.arity)
	}
	return nil
}

// ValidateElementTypes rejects the node if its inputs or outputs element types don't follow the policy.
func (b *BaseOpBuilder) ValidateElementTypes(node hostgraph.Node, inputs, outputs []hostgraph.TensorInfo) error {
	c := typeChecker{node: node, inputs: inputs, outputs: outputs}
	isCompute := func(dtype dtypes.DType) bool { return dtype == ComputeDType }
	isBool := func(dtype dtypes.DType) bool { return dtype == dtypes.Bool }
	isInt64 := func(dtype dtypes.DType) bool { return dtype == dtypes.Int64 }
	compute := ComputeDType.String()
	const quantized = "a quantized integer type"

	switch b.policy {
	case TypeAgnostic:
		return nil
	case AllFloat:
		return c.firstError(
			c.inputsFrom(0, isCompute, compute),
			c.outputsFrom(0, isCompute, compute))
	case FloatData:
		return c.firstError(
			c.input(0, isCompute, compute),
			c.outputsFrom(0, isCompute, compute))
	case Comparison:
		return c.firstError(
			c.inputsFrom(0, isCompute, compute),
			c.outputsFrom(0, isBool, "Bool"))
	case Logical:
		return c.firstError(
			c.inputsFrom(0, isBool, "Bool"),
			c.outputsFrom(0, isBool, "Bool"))
	case Select:
		return c.firstError(
			c.input(0, isBool, "Bool"),
			c.inputsFrom(1, isCompute, compute),
			c.outputsFrom(0, isCompute, compute))
	case ArgIndex:
		return c.firstError(
			c.inputsFrom(0, isCompute, compute),
			c.outputsFrom(0, isInt64, "Int64"))
	case TopKIndex:
		return c.firstError(
			c.input(0, isCompute, compute),
			c.input(1, isInt64, "Int64"),
			c.output(0, isCompute, compute),
			c.output(1, isInt64, "Int64"))
	case Quantize:
		// Inputs are (x, scale, [zero point]): the zero point has the quantized type.
		return c.firstError(
			c.input(0, isCompute, compute),
			c.input(1, isCompute, compute),
			c.input(2, isQuantizedDType, quantized),
			c.outputsFrom(0, isQuantizedDType, quantized))
	case Dequantize:
		return c.firstError(
			c.input(0, isQuantizedDType, quantized),
			c.input(1, isCompute, compute),
			c.input(2, isQuantizedDType, quantized),
			c.outputsFrom(0, isCompute, compute))
	default:
		return errors.Errorf("unknown element type policy %d for %s", b.policy, b.opType)
	}
}

// typeChecker implements the individual element type checks of ValidateElementTypes.
// Checks on indices beyond the number of inputs/outputs pass, and so do values with an empty name:
// ONNX marks omitted optional inputs that way.
type typeChecker struct {
	node            hostgraph.Node
	inputs, outputs []hostgraph.TensorInfo
}

func (c typeChecker) check(direction string, infos []hostgraph.TensorInfo, from, to int, accept func(dtypes.DType) bool, what string) error {
	for idx := from; idx < to && idx < len(infos); idx++ {
		if infos[idx].Name == "" {
			continue
		}
		if !accept(infos[idx].DType) {
			return reject(c.node, ReasonUnsupportedType, "%s #%d %s is not %s", direction, idx, infos[idx], what)
		}
	}
	return nil
}

func (c typeChecker) input(idx int, accept func(dtypes.DType) bool, what string) error {
	return c.check("input", c.inputs, idx, idx+1, accept, what)
}

func (c typeChecker) inputsFrom(from int, accept func(dtypes.DType) bool, what string) error {
	return c.check("input", c.inputs, from, len(c.inputs), accept, what)
}

func (c typeChecker) output(idx int, accept func(dtypes.DType) bool, what string) error {
	return c.check("output", c.outputs, idx, idx+1, accept, what)
}

func (c typeChecker) outputsFrom(from int, accept func(dtypes.DType) bool, what string) error {
	return c.check("output", c.outputs, from, len(c.outputs), accept, what)
}

// firstError returns the first non-nil error, in order.
func (c typeChecker) firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// validate runs the count and the element type checks, in that order.
func (b *BaseOpBuilder) validate(node hostgraph.Node) (inputs, outputs []hostgraph.TensorInfo, err error) {
	inputs, outputs, err = queryIO(node)
	if err != nil {
		return
	}
	if err = b.ValidateInputOutputCounts(node, inputs, outputs); err != nil {
		return
	}
	err = b.ValidateElementTypes(node, inputs, outputs)
	return
}
