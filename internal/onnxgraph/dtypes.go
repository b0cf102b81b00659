package onnxgraph

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
)

// ONNX TensorProto.DataType values.
const (
	onnxUndefined  = 0
	onnxFloat      = 1
	onnxUint8      = 2
	onnxInt8       = 3
	onnxUint16     = 4
	onnxInt16      = 5
	onnxInt32      = 6
	onnxInt64      = 7
	onnxString     = 8
	onnxBool       = 9
	onnxFloat16    = 10
	onnxDouble     = 11
	onnxUint32     = 12
	onnxUint64     = 13
	onnxComplex64  = 14
	onnxComplex128 = 15
	onnxBFloat16   = 16
)

// DTypeForONNX converts an ONNX data type (TensorProto.DataType) to a gomlx data type. Types without an equivalent
// (strings, 8 and 4 bits floats, etc.) are converted to dtypes.InvalidDType: the host graph reports
// them as unknown.
func DTypeForONNX(onnxDType int64) dtypes.DType {
	switch onnxDType {
	case onnxFloat:
		return dtypes.Float32
	case onnxFloat16:
		return dtypes.Float16
	case onnxBFloat16:
		return dtypes.BFloat16
	case onnxDouble:
		return dtypes.Float64
	case onnxInt32:
		return dtypes.Int32
	case onnxInt64:
		return dtypes.Int64
	case onnxUint8:
		return dtypes.Uint8
	case onnxInt8:
		return dtypes.Int8
	case onnxInt16:
		return dtypes.Int16
	case onnxUint16:
		return dtypes.Uint16
	case onnxUint32:
		return dtypes.Uint32
	case onnxUint64:
		return dtypes.Uint64
	case onnxBool:
		return dtypes.Bool
	case onnxComplex64:
		return dtypes.Complex64
	case onnxComplex128:
		return dtypes.Complex128
	default:
		return dtypes.InvalidDType
	}
}
