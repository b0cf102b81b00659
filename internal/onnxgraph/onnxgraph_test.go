package onnxgraph

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// msg is a minimal protobuf encoder, used to write ONNX protos by field number.
type msg []byte

func (m msg) str(num protowire.Number, s string) msg {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendString(m, s)
}

func (m msg) sub(num protowire.Number, sub msg) msg {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(m, sub)
}

func (m msg) varint(num protowire.Number, v int64) msg {
	m = protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(m, uint64(v))
}

func (m msg) float(num protowire.Number, f float32) msg {
	m = protowire.AppendTag(m, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(m, math.Float32bits(f))
}

// tensorValue encodes a ValueInfoProto of a tensor. A negative dimension is written as symbolic.
func tensorValue(name string, elemType int64, dims ...int64) msg {
	var shape msg
	for _, d := range dims {
		if d < 0 {
			shape = shape.sub(1, msg{}.str(2, "batch"))
		} else {
			shape = shape.sub(1, msg{}.varint(1, d))
		}
	}
	tensorType := msg{}.varint(1, elemType).sub(2, shape)
	return msg{}.str(1, name).sub(2, msg{}.sub(1, tensorType))
}

func node(opType, name string, inputs, outputs []string, attrs ...msg) msg {
	n := msg{}
	for _, in := range inputs {
		n = n.str(1, in)
	}
	for _, out := range outputs {
		n = n.str(2, out)
	}
	n = n.str(3, name).str(4, opType)
	for _, attr := range attrs {
		n = n.sub(5, attr)
	}
	return n
}

func intAttr(name string, v int64) msg {
	return msg{}.str(1, name).varint(3, v).varint(20, attrInt)
}

func model(graph msg) []byte {
	return msg{}.varint(1, 8).str(2, "test").sub(7, graph).sub(8, msg{}.varint(2, 17))
}

func testModel() []byte {
	body := msg{}.str(2, "loop_body").
		sub(1, node("Add", "body_add", []string{"x", "acc"}, []string{"acc_out"}))
	graph := msg{}.str(2, "main_graph").
		sub(11, tensorValue("x", onnxFloat, -1, 3)).
		sub(12, tensorValue("y", onnxInt64, 2)).
		sub(13, tensorValue("relu_out", onnxFloat, -1, 3)).
		sub(5, msg{}.varint(1, 3).varint(2, onnxFloat).str(8, "w")).
		sub(1, node("MatMul", "matmul", []string{"x", "w"}, []string{"mm_out"})).
		sub(1, node("Relu", "relu", []string{"mm_out"}, []string{"relu_out"},
			msg{}.str(1, "alpha").float(2, 0.5).varint(20, attrFloat))).
		sub(1, node("ArgMax", "argmax", []string{"relu_out"}, []string{"y"},
			intAttr("axis", -1),
			msg{}.str(1, "mode").str(4, "fast").varint(20, attrString),
			msg{}.str(1, "perm").varint(8, 1).varint(8, 0).varint(20, attrInts))).
		sub(1, node("Loop", "loop", []string{"", "", "x"}, []string{"z"},
			msg{}.str(1, "body").sub(6, body).varint(20, attrGraph)))
	return model(graph)
}

func TestParse(t *testing.T) {
	g, err := Parse(testModel(), "/models/test.onnx")
	require.NoError(t, err)
	assert.Equal(t, "main_graph", g.Name())
	assert.Equal(t, "/models/test.onnx", g.ModelPath())
	require.Equal(t, 4, g.NumNodes())

	matmul := g.NodeByName("matmul")
	require.NotNil(t, matmul)
	inputs, err := matmul.Inputs()
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, hostgraph.TensorInfo{Name: "x", DType: dtypes.Float32, Shape: []int{-1, 3}}, inputs[0])
	assert.Equal(t, hostgraph.TensorInfo{Name: "w", DType: dtypes.Float32, Shape: []int{3}}, inputs[1])
	outputs, err := matmul.Outputs()
	require.NoError(t, err)
	assert.Equal(t, dtypes.InvalidDType, outputs[0].DType, "mm_out has no declared type")

	relu := g.NodeByName("relu")
	alpha, found := relu.Attribute("alpha")
	require.True(t, found)
	assert.Equal(t, hostgraph.AttrFloat, alpha.Type)
	assert.Equal(t, float32(0.5), alpha.Float)

	argmax := g.NodeByName("argmax")
	axis, found, err := argmax.IntAttr("axis")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(-1), axis)
	mode, found, err := argmax.StringAttr("mode")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "fast", mode)
	perm, found := argmax.Attribute("perm")
	require.True(t, found)
	assert.Equal(t, []int64{1, 0}, perm.Ints)
	outputs, err = argmax.Outputs()
	require.NoError(t, err)
	assert.Equal(t, dtypes.Int64, outputs[0].DType)

	// Subgraph: values of the outer scope are visible.
	subgraphs := g.Subgraphs()
	require.Len(t, subgraphs, 1)
	body := subgraphs[0]
	assert.Equal(t, "loop_body", body.Name())
	assert.Equal(t, "/models/test.onnx", body.ModelPath())
	parent, err := body.ParentNode()
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, "loop", parent.Name())
	inputs, err = body.NodeByName("body_add").Inputs()
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, inputs[0].DType)
	assert.Equal(t, dtypes.InvalidDType, inputs[1].DType)

	// Omitted optional inputs keep their empty names.
	inputs, err = g.NodeByName("loop").Inputs()
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.Equal(t, "", inputs[0].Name)
}

func TestReadFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(filePath, testModel(), 0o644))
	g, err := ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, filePath, g.ModelPath())
	assert.Equal(t, 4, g.NumNodes())

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte{0xff, 0xff, 0xff}, "bad.onnx")
	assert.Error(t, err)

	// A model without a graph fails inside the parser, and is reported as an error.
	require.NotPanics(t, func() { _, err = Parse(nil, "empty.onnx") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty.onnx")

	// Repeated node names are rejected by the host graph builder.
	graph := msg{}.str(2, "dup").
		sub(1, node("Relu", "a", []string{"x"}, []string{"y"})).
		sub(1, node("Relu", "a", []string{"y"}, []string{"z"}))
	_, err = Parse(model(graph), "dup.onnx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "used more than once")
}

func TestDTypeForONNX(t *testing.T) {
	assert.Equal(t, dtypes.Float32, DTypeForONNX(onnxFloat))
	assert.Equal(t, dtypes.Float16, DTypeForONNX(onnxFloat16))
	assert.Equal(t, dtypes.Uint8, DTypeForONNX(onnxUint8))
	assert.Equal(t, dtypes.Bool, DTypeForONNX(onnxBool))
	assert.Equal(t, dtypes.InvalidDType, DTypeForONNX(onnxString))
	assert.Equal(t, dtypes.InvalidDType, DTypeForONNX(onnxUndefined))
	assert.Equal(t, dtypes.InvalidDType, DTypeForONNX(17), "8 bits floats are not converted")
}
