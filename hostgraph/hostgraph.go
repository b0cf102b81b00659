// Package hostgraph defines the narrow query interface the execution provider uses to inspect
// the host engine's graph, plus an in-memory implementation of it.
//
//   - Graph: a (possibly nested) graph of nodes, in the host's iteration order.
//   - Node: a single operator, with its op type, inputs/outputs and attributes.
//   - MemGraph: an in-memory Graph, created with NewBuilder. Used by tests, by the ONNX adapter and
//     by the command line tools.
//
// Every query may fail: the host owns the graph and may report a fault (e.g. a malformed model).
// Callers must propagate those errors, they are never a "not supported" classification.
package hostgraph

import (
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
)

// TensorInfo describes one input or output of a node: only what is needed for type compatibility
// checks, no shape inference is done with it.
type TensorInfo struct {
	// Name of the tensor (the ONNX value name). It may be empty for anonymous values.
	Name string

	// DType is the element type, dtypes.InvalidDType if unknown.
	DType dtypes.DType

	// Shape holds the dimensions if known, with -1 for dynamic axes. It is nil if unknown.
	Shape []int
}

// String implements fmt.Stringer.
func (t TensorInfo) String() string {
	if t.Shape == nil {
		return fmt.Sprintf("%q(%s)", t.Name, t.DType)
	}
	return fmt.Sprintf("%q(%s%v)", t.Name, t.DType, t.Shape)
}

// Node is a read-only view of one operator of the host graph.
//
// Implementations must be safe for concurrent reads.
type Node interface {
	// ID is the stable node index within its graph.
	ID() int

	// Name of the node, unique within its graph. It may be empty.
	Name() string

	// OpType returns the operator type name (e.g. "Add", "EPContext").
	OpType() (string, error)

	// Inputs returns the ordered input tensor descriptors.
	Inputs() ([]TensorInfo, error)

	// Outputs returns the ordered output tensor descriptors.
	Outputs() ([]TensorInfo, error)

	// IntAttr reads an integer attribute. found is false if the node doesn't have it.
	// It returns an error if the attribute exists with a different type.
	IntAttr(name string) (value int64, found bool, err error)

	// StringAttr reads a string attribute. found is false if the node doesn't have it.
	// It returns an error if the attribute exists with a different type.
	StringAttr(name string) (value string, found bool, err error)
}

// Graph is a read-only view of a host graph.
type Graph interface {
	// Name of the graph, it may be empty.
	Name() string

	// ModelPath is the path of the model file the graph was loaded from, empty if loaded from memory.
	ModelPath() string

	// ParentNode returns the node owning this graph if it is a subgraph (e.g. the body of a Loop),
	// or nil for a main graph.
	ParentNode() (Node, error)

	// Nodes returns the nodes in the host's iteration order.
	Nodes() ([]Node, error)
}

// NodeToString returns a short description of the node for error and log messages.
// Errors querying the node are included in the description, never returned.
func NodeToString(node Node) string {
	if node == nil {
		return "<nil node>"
	}
	var buf strings.Builder
	opType, err := node.OpType()
	if err != nil {
		opType = fmt.Sprintf("<error: %v>", err)
	}
	_, _ = fmt.Fprintf(&buf, "%s(#%d", opType, node.ID())
	if name := node.Name(); name != "" {
		_, _ = fmt.Fprintf(&buf, ", name=%q", name)
	}
	buf.WriteString(")")
	return buf.String()
}
