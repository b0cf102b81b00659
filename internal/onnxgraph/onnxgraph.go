// Package onnxgraph converts ONNX models, as parsed by github.com/gomlx/onnx-gomlx/onnx/parser, to
// hostgraph.MemGraph, so they can be analyzed by the execution provider.
//
//   - ReadFile: reads an ONNX file and converts its main graph.
//   - Parse: converts a serialized ONNX ModelProto.
//   - FromModel, FromProto: converts an already parsed model.
//
// Only what is needed to analyze the graph is converted: node names, op types, domains, inputs,
// outputs, the element type and shapes of the values and the node attributes of types INT, FLOAT,
// STRING, INTS and GRAPH. Tensor contents are not read.
package onnxgraph

import (
	"bytes"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-gomlx/onnx"
	"github.com/gomlx/onnx-gomlx/onnx/parser"
	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// modelProtoName is the full name of the ModelProto message registered by onnx-gomlx.
const modelProtoName protoreflect.FullName = "protos.ModelProto"

// ONNX AttributeProto.AttributeType values converted.
const (
	attrFloat  = 1
	attrInt    = 2
	attrString = 3
	attrGraph  = 5
	attrInts   = 7
)

// ReadFile reads the ONNX model in filePath and converts its main graph.
// The returned graph's ModelPath is filePath.
func ReadFile(filePath string) (*hostgraph.MemGraph, error) {
	var m onnx.Model
	err := parseSafely(filePath, func() (err error) {
		m, err = parser.ParseFile(filePath)
		return
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = m.Close() }()
	return FromModel(m, filePath)
}

// Parse a serialized ONNX ModelProto and converts its main graph. modelPath is only used as the
// graph's ModelPath, it can be empty.
func Parse(contents []byte, modelPath string) (*hostgraph.MemGraph, error) {
	var m onnx.Model
	err := parseSafely(modelPath, func() (err error) {
		m, err = parser.Parse(contents)
		return
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = m.Close() }()
	return FromModel(m, modelPath)
}

// parseSafely runs the parser, converting its panics (e.g. a model without a graph) to errors.
func parseSafely(modelPath string, parse func() error) error {
	var err error
	exception := exceptions.Try(func() { err = parse() })
	if exception != nil {
		panicErr, ok := exception.(error)
		if !ok {
			panicErr = errors.Errorf("%v", exception)
		}
		err = panicErr
	}
	if err != nil {
		return errors.WithMessagef(err, "failed to parse ONNX model %q", modelPath)
	}
	return nil
}

// FromModel converts the main graph of a parsed ONNX model.
//
// onnx.Model doesn't expose its proto: it is serialized and read back as the ModelProto message
// onnx-gomlx registers in the global protobuf registry.
func FromModel(m onnx.Model, modelPath string) (*hostgraph.MemGraph, error) {
	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		return nil, errors.WithMessagef(err, "failed to serialize ONNX model %q", modelPath)
	}
	msgType, err := protoregistry.GlobalTypes.FindMessageByName(modelProtoName)
	if err != nil {
		return nil, errors.Wrapf(err, "ONNX message %s not registered", modelProtoName)
	}
	msg := msgType.New().Interface()
	if err := proto.Unmarshal(buf.Bytes(), msg); err != nil {
		return nil, errors.Wrapf(err, "failed to read back ONNX model %q", modelPath)
	}
	return FromProto(msg, modelPath)
}

// FromProto converts the main graph of an ONNX ModelProto message.
func FromProto(model proto.Message, modelPath string) (*hostgraph.MemGraph, error) {
	var b *hostgraph.Builder
	err := exceptions.TryCatch[error](func() {
		msg := model.ProtoReflect()
		if name := msg.Descriptor().Name(); name != "ModelProto" {
			exceptions.Panicf("expected an ONNX ModelProto, got %s", msg.Descriptor().FullName())
		}
		graph := getMessage(msg, "graph")
		b = convertGraph(graph, nil)
		b.WithModelPath(modelPath)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to convert ONNX model %q", modelPath)
	}
	return b.Build()
}

// valueInfo is the element type and shape of a value, as declared in the ONNX graph.
type valueInfo struct {
	dtype dtypes.DType
	dims  []int
}

// convertGraph converts a GraphProto. Values declared in the enclosing graphs (outer) are visible
// in subgraphs, as ONNX scoping rules define.
func convertGraph(graph protoreflect.Message, outer map[string]valueInfo) *hostgraph.Builder {
	b := hostgraph.NewBuilder(getString(graph, "name"))
	values := make(map[string]valueInfo, len(outer))
	for name, info := range outer {
		values[name] = info
	}
	for _, fieldName := range []string{"input", "output", "value_info"} {
		forEachMessage(graph, fieldName, func(vi protoreflect.Message) {
			name := getString(vi, "name")
			if name == "" {
				return
			}
			values[name] = valueInfoFromType(vi)
		})
	}
	forEachMessage(graph, "initializer", func(tensor protoreflect.Message) {
		name := getString(tensor, "name")
		if name == "" {
			return
		}
		dimsList := getList(tensor, "dims")
		dims := make([]int, dimsList.Len())
		for ii := range dims {
			dims[ii] = int(dimsList.Get(ii).Int())
		}
		values[name] = valueInfo{dtype: DTypeForONNX(getInt(tensor, "data_type")), dims: dims}
	})
	for name, info := range values {
		b.Value(name, info.dtype, info.dims...)
	}

	forEachMessage(graph, "node", func(node protoreflect.Message) {
		nb := b.Node(getString(node, "op_type"), getString(node, "name")).
			Domain(getString(node, "domain")).
			Inputs(getStrings(node, "input")...).
			Outputs(getStrings(node, "output")...)
		forEachMessage(node, "attribute", func(attr protoreflect.Message) {
			convertAttribute(nb, attr, values)
		})
	})
	return b
}

// valueInfoFromType reads the element type and shape from a ValueInfoProto. Values that are not
// tensors, or whose type is not given, have an unknown dtype. Symbolic or missing dimensions are
// converted to -1.
func valueInfoFromType(vi protoreflect.Message) valueInfo {
	info := valueInfo{dtype: dtypes.InvalidDType}
	if !hasField(vi, "type") {
		return info
	}
	typeProto := getMessage(vi, "type")
	if !hasField(typeProto, "tensor_type") {
		return info
	}
	tensorType := getMessage(typeProto, "tensor_type")
	info.dtype = DTypeForONNX(getInt(tensorType, "elem_type"))
	if !hasField(tensorType, "shape") {
		return info
	}
	dimsList := getList(getMessage(tensorType, "shape"), "dim")
	info.dims = make([]int, dimsList.Len())
	for ii := range info.dims {
		dim := dimsList.Get(ii).Message()
		if hasField(dim, "dim_value") {
			info.dims[ii] = int(getInt(dim, "dim_value"))
		} else {
			info.dims[ii] = -1
		}
	}
	return info
}

// convertAttribute sets the attribute in the node being built. Attributes of types not converted
// (tensors, sparse tensors, lists other than INTS) are ignored.
func convertAttribute(nb *hostgraph.NodeBuilder, attr protoreflect.Message, values map[string]valueInfo) {
	name := getString(attr, "name")
	switch getEnum(attr, "type") {
	case attrFloat:
		nb.FloatAttr(name, float32(getField(attr, "f").Float()))
	case attrInt:
		nb.IntAttr(name, getInt(attr, "i"))
	case attrString:
		nb.StringAttr(name, string(getField(attr, "s").Bytes()))
	case attrInts:
		list := getList(attr, "ints")
		ints := make([]int64, list.Len())
		for ii := range ints {
			ints[ii] = list.Get(ii).Int()
		}
		nb.IntsAttr(name, ints...)
	case attrGraph:
		nb.Subgraph(name, convertGraph(getMessage(attr, "g"), values))
	}
}

// fieldByName returns the descriptor of the named field, and panics if msg has no such field.
func fieldByName(msg protoreflect.Message, name string) protoreflect.FieldDescriptor {
	fd := msg.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		exceptions.Panicf("ONNX message %s has no field %q", msg.Descriptor().FullName(), name)
	}
	return fd
}

func hasField(msg protoreflect.Message, name string) bool {
	return msg.Has(fieldByName(msg, name))
}

func getField(msg protoreflect.Message, name string) protoreflect.Value {
	return msg.Get(fieldByName(msg, name))
}

func getString(msg protoreflect.Message, name string) string { return getField(msg, name).String() }
func getInt(msg protoreflect.Message, name string) int64     { return getField(msg, name).Int() }
func getList(msg protoreflect.Message, name string) protoreflect.List {
	return getField(msg, name).List()
}
func getMessage(msg protoreflect.Message, name string) protoreflect.Message {
	return getField(msg, name).Message()
}
func getEnum(msg protoreflect.Message, name string) protoreflect.EnumNumber {
	return getField(msg, name).Enum()
}

func getStrings(msg protoreflect.Message, name string) []string {
	list := getList(msg, name)
	values := make([]string, list.Len())
	for ii := range values {
		values[ii] = list.Get(ii).String()
	}
	return values
}

func forEachMessage(msg protoreflect.Message, name string, fn func(protoreflect.Message)) {
	list := getList(msg, name)
	for ii := range list.Len() {
		fn(list.Get(ii).Message())
	}
}
