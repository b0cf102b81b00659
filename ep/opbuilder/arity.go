package opbuilder

import (
	"fmt"
	"math"
)

// Unbounded is used as the maximum count of variadic inputs or outputs.
const Unbounded = math.MaxInt

// Arity is the accepted range (inclusive) of inputs and outputs counts of an operator.
type Arity struct {
	MinInputs, MaxInputs   int
	MinOutputs, MaxOutputs int
}

// Fixed returns an Arity accepting exactly numInputs and numOutputs.
func Fixed(numInputs, numOutputs int) Arity {
	return Arity{numInputs, numInputs, numOutputs, numOutputs}
}

// AcceptsInputs returns whether n inputs is within range.
func (a Arity) AcceptsInputs(n int) bool { return n >= a.MinInputs && n <= a.MaxInputs }

// AcceptsOutputs returns whether n outputs is within range.
func (a Arity) AcceptsOutputs(n int) bool { return n >= a.MinOutputs && n <= a.MaxOutputs }

func rangeString(lo, hi int) string {
	switch {
	case lo == hi:
		return fmt.Sprintf("%d", lo)
	case hi == Unbounded:
		return fmt.Sprintf("%d+", lo)
	default:
		return fmt.Sprintf("%d-%d", lo, hi)
	}
}

// String implements fmt.Stringer.
func (a Arity) String() string {
	return fmt.Sprintf("%s inputs/%s outputs", rangeString(a.MinInputs, a.MaxInputs), rangeString(a.MinOutputs, a.MaxOutputs))
}

// arities is the static table of expected input/output counts per ONNX operator type.
//
// Operators with optional or variadic inputs use the range documented by ONNX, widened to
// include the nominal count the QNN backend was first modeled with.
var arities = map[string]Arity{
	// Binary ops.
	"Add":            Fixed(2, 1),
	"Mul":            Fixed(2, 1),
	"Sub":            Fixed(2, 1),
	"Div":            Fixed(2, 1),
	"Max":            Fixed(2, 1),
	"Min":            Fixed(2, 1),
	"Pow":            Fixed(2, 1),
	"Equal":          Fixed(2, 1),
	"Greater":        Fixed(2, 1),
	"GreaterOrEqual": Fixed(2, 1),
	"Less":           Fixed(2, 1),
	"LessOrEqual":    Fixed(2, 1),
	"And":            Fixed(2, 1),
	"Or":             Fixed(2, 1),
	"Where":          Fixed(3, 1),

	// Unary ops.
	"Abs":              Fixed(1, 1),
	"Asin":             Fixed(1, 1),
	"Atan":             Fixed(1, 1),
	"Ceil":             Fixed(1, 1),
	"Sign":             Fixed(1, 1),
	"Cast":             Fixed(1, 1),
	"Cos":              Fixed(1, 1),
	"Exp":              Fixed(1, 1),
	"Floor":            Fixed(1, 1),
	"Log":              Fixed(1, 1),
	"Neg":              Fixed(1, 1),
	"Not":              Fixed(1, 1),
	"Round":            Fixed(1, 1),
	"Sigmoid":          Fixed(1, 1),
	"Sin":              Fixed(1, 1),
	"Sqrt":             Fixed(1, 1),
	"Tanh":             Fixed(1, 1),
	"Relu":             Fixed(1, 1),
	"Gelu":             Fixed(1, 1),
	"Elu":              Fixed(1, 1),
	"HardSigmoid":      Fixed(1, 1),
	"HardSwish":        Fixed(1, 1),
	"Softmax":          Fixed(1, 1),
	"LogSoftmax":       Fixed(1, 1),
	"Transpose":        Fixed(1, 1),
	"Reshape":          Fixed(2, 1),
	"Squeeze":          Fixed(1, 1),
	"Unsqueeze":        Fixed(1, 1),
	"Flatten":          Fixed(1, 1),
	"DepthToSpace":     Fixed(1, 1),
	"SpaceToDepth":     Fixed(1, 1),
	"DequantizeLinear": {1, 3, 1, 1},
	"QuantizeLinear":   {1, 3, 1, 1},

	// Ops with optional inputs.
	"Clip":          {1, 3, 1, 1},
	"PRelu":         Fixed(2, 1),
	"LeakyRelu":     Fixed(1, 1),
	"MatMul":        Fixed(2, 1),
	"Gemm":          {2, 3, 1, 1},
	"Conv":          {2, 3, 1, 1},
	"ConvTranspose": {2, 3, 1, 1},

	// Pooling ops.
	"GlobalAveragePool": Fixed(1, 1),
	"AveragePool":       Fixed(1, 1),
	"MaxPool":           Fixed(1, 1),
	"GlobalMaxPool":     Fixed(1, 1),

	// Reduction ops.
	"ReduceMax":  Fixed(1, 1),
	"ReduceMean": Fixed(1, 1),
	"ReduceMin":  Fixed(1, 1),
	"ReduceProd": Fixed(1, 1),
	"ReduceSum":  Fixed(1, 1),

	// Other ops.
	"Gather":                Fixed(2, 1),
	"GatherElements":        Fixed(2, 1),
	"ScatterND":             Fixed(3, 1),
	"Slice":                 {1, 5, 1, 1},
	"Split":                 {1, 2, 1, Unbounded},
	"Resize":                {1, 4, 1, 1},
	"Upsample":              {1, 2, 1, 1},
	"Concat":                {1, Unbounded, 1, 1},
	"CumSum":                Fixed(2, 1),
	"ArgMax":                Fixed(1, 1),
	"ArgMin":                Fixed(1, 1),
	"Tile":                  Fixed(2, 1),
	"TopK":                  Fixed(2, 2),
	"InstanceNormalization": {1, 3, 1, 1},
	"BatchNormalization":    {1, 5, 1, 3},
	"LayerNormalization":    {1, 3, 1, 3},
	"LRN":                   Fixed(1, 1),
	"Pad":                   {1, 4, 1, 1},
	"Expand":                Fixed(2, 1),
	"GridSample":            Fixed(2, 1),
	"LpNormalization":       Fixed(1, 1),
	"LSTM":                  {3, 8, 1, 3},
	"Sum":                   {1, Unbounded, 1, 1},
}

// ExpectedArity returns the accepted input/output counts for the ONNX operator type.
func ExpectedArity(opType string) (arity Arity, found bool) {
	arity, found = arities[opType]
	return
}
