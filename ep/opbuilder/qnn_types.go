package opbuilder

// onnxToQnnOpType maps ONNX operator types to the name of the QNN operator they are lowered to.
var onnxToQnnOpType = map[string]string{
	"Add":                   "ElementWiseAdd",
	"Mul":                   "ElementWiseMultiply",
	"Abs":                   "ElementWiseAbs",
	"And":                   "ElementWiseAnd",
	"Asin":                  "ElementWiseAsin",
	"Atan":                  "ElementWiseAtan",
	"Ceil":                  "ElementWiseCeil",
	"Sign":                  "ElementWiseSign",
	"Cast":                  "Cast",
	"Clip":                  "ReluMinMax",
	"Cos":                   "ElementWiseCos",
	"Div":                   "ElementWiseDivide",
	"Equal":                 "ElementWiseEqual",
	"Exp":                   "ElementWiseExp",
	"Floor":                 "ElementWiseFloor",
	"Gather":                "Gather",
	"GatherElements":        "GatherElements",
	"Greater":               "ElementWiseGreater",
	"GreaterOrEqual":        "ElementWiseGreaterEqual",
	"Less":                  "ElementWiseLess",
	"LessOrEqual":           "ElementWiseLessEqual",
	"Log":                   "ElementWiseLog",
	"LSTM":                  "LSTM",
	"Max":                   "ElementWiseMaximum",
	"Min":                   "ElementWiseMinimum",
	"Neg":                   "ElementWiseNeg",
	"Not":                   "ElementWiseNot",
	"Or":                    "ElementWiseOr",
	"Pow":                   "ElementWisePower",
	"PRelu":                 "Prelu",
	"LeakyRelu":             "Prelu",
	"ReduceMax":             "ReduceMax",
	"ReduceMean":            "ReduceMean",
	"ReduceMin":             "ReduceMin",
	"ReduceProd":            "ReduceProd",
	"ReduceSum":             "ReduceSum",
	"Round":                 "ElementWiseRound",
	"Where":                 "ElementWiseSelect",
	"ScatterND":             "ScatterND",
	"Sigmoid":               "Sigmoid",
	"Sin":                   "ElementWiseSin",
	"Slice":                 "StridedSlice",
	"Split":                 "Split",
	"Softmax":               "Softmax",
	"Sqrt":                  "ElementWiseSquareRoot",
	"Sub":                   "ElementWiseSubtract",
	"Sum":                   "ElementWiseAdd",
	"Tanh":                  "Tanh",
	"Transpose":             "Transpose",
	"GridSample":            "GridSample",
	"LpNormalization":       "L2Norm",
	"DequantizeLinear":      "Dequantize",
	"QuantizeLinear":        "Quantize",
	"MatMul":                "MatMul",
	"Elu":                   "Elu",
	"Relu":                  "Relu",
	"Gelu":                  "Gelu",
	"HardSigmoid":           "ElementWiseNeuron",
	"HardSwish":             "HardSwish",
	"DepthToSpace":          "DepthToSpace",
	"SpaceToDepth":          "SpaceToDepth",
	"Conv":                  "Conv2d",
	"ConvTranspose":         "TransposeConv2d",
	"GlobalAveragePool":     "PoolAvg2d",
	"AveragePool":           "PoolAvg2d",
	"MaxPool":               "PoolMax2d",
	"GlobalMaxPool":         "PoolMax2d",
	"Reshape":               "Reshape",
	"Resize":                "Resize",
	"Upsample":              "Resize",
	"Flatten":               "Reshape",
	"Squeeze":               "Reshape",
	"Unsqueeze":             "Reshape",
	"LogSoftmax":            "LogSoftmax",
	"Concat":                "Concat",
	"CumSum":                "CumulativeSum",
	"Gemm":                  "FullyConnected",
	"ArgMax":                "ArgMax",
	"ArgMin":                "ArgMin",
	"Tile":                  "Tile",
	"TopK":                  "TopK",
	"InstanceNormalization": "InstanceNorm",
	"BatchNormalization":    "Batchnorm",
	"LayerNormalization":    "LayerNorm",
	"LRN":                   "LRN",
	"Pad":                   "Pad",
	"Expand":                "ElementWiseMultiply",
}

// QnnOpType returns the name of the QNN operator an ONNX operator type is lowered to.
// Operator types without a mapping are returned unchanged.
func QnnOpType(onnxOpType string) string {
	if qnnOpType, found := onnxToQnnOpType[onnxOpType]; found {
		return qnnOpType
	}
	return onnxOpType
}
