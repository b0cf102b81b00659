package hostgraph

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
)

// AttributeType enumerates the attribute kinds supported by MemNode.
type AttributeType int

const (
	AttrUndefined AttributeType = iota
	AttrInt
	AttrFloat
	AttrString
	AttrInts
	AttrGraph
)

var attributeTypeNames = map[AttributeType]string{
	AttrUndefined: "UNDEFINED",
	AttrInt:       "INT",
	AttrFloat:     "FLOAT",
	AttrString:    "STRING",
	AttrInts:      "INTS",
	AttrGraph:     "GRAPH",
}

// String implements fmt.Stringer.
func (t AttributeType) String() string {
	if name, found := attributeTypeNames[t]; found {
		return name
	}
	return fmt.Sprintf("AttributeType(%d)", int(t))
}

// Attribute is a typed node attribute value.
type Attribute struct {
	Type   AttributeType
	Int    int64
	Float  float32
	String string
	Ints   []int64
	Graph  *MemGraph
}

// MemGraph is an immutable in-memory implementation of Graph.
// Create it with NewBuilder.
type MemGraph struct {
	name      string
	modelPath string
	parent    *MemNode
	nodes     []*MemNode
}

var _ Graph = (*MemGraph)(nil)

// Name implements Graph.
func (g *MemGraph) Name() string { return g.name }

// ModelPath implements Graph.
func (g *MemGraph) ModelPath() string { return g.modelPath }

// ParentNode implements Graph.
func (g *MemGraph) ParentNode() (Node, error) {
	if g.parent == nil {
		// Return an untyped nil, not a nil *MemNode.
		return nil, nil
	}
	return g.parent, nil
}

// Nodes implements Graph.
func (g *MemGraph) Nodes() ([]Node, error) {
	nodes := make([]Node, len(g.nodes))
	for ii, n := range g.nodes {
		nodes[ii] = n
	}
	return nodes, nil
}

// NumNodes returns the number of nodes in the graph.
func (g *MemGraph) NumNodes() int { return len(g.nodes) }

// NodeByName returns the node with the given name, or nil if not found.
func (g *MemGraph) NodeByName(name string) *MemNode {
	for _, n := range g.nodes {
		if n.name == name {
			return n
		}
	}
	return nil
}

// Subgraphs returns the graphs owned by nodes of this graph (only one level deep).
func (g *MemGraph) Subgraphs() []*MemGraph {
	var subgraphs []*MemGraph
	for _, n := range g.nodes {
		for _, attrName := range n.attrOrder {
			if attr := n.attributes[attrName]; attr.Type == AttrGraph {
				subgraphs = append(subgraphs, attr.Graph)
			}
		}
	}
	return subgraphs
}

// MemNode is the in-memory implementation of Node.
type MemNode struct {
	graph      *MemGraph
	id         int
	name       string
	opType     string
	domain     string
	inputs     []TensorInfo
	outputs    []TensorInfo
	attributes map[string]Attribute
	attrOrder  []string
}

var _ Node = (*MemNode)(nil)

// ID implements Node.
func (n *MemNode) ID() int { return n.id }

// Name implements Node.
func (n *MemNode) Name() string { return n.name }

// OpType implements Node.
func (n *MemNode) OpType() (string, error) { return n.opType, nil }

// Domain returns the operator set domain of the node, empty for the default ONNX domain.
func (n *MemNode) Domain() string { return n.domain }

// Graph returns the graph that owns the node.
func (n *MemNode) Graph() *MemGraph { return n.graph }

// Inputs implements Node.
func (n *MemNode) Inputs() ([]TensorInfo, error) { return n.inputs, nil }

// Outputs implements Node.
func (n *MemNode) Outputs() ([]TensorInfo, error) { return n.outputs, nil }

// Attribute returns the attribute with the given name, if present.
func (n *MemNode) Attribute(name string) (attr Attribute, found bool) {
	attr, found = n.attributes[name]
	return
}

// getAttr returns the attribute and checks its type. It mirrors the "missing is fine, wrong type
// is an error" rule used when reading ONNX attributes.
func (n *MemNode) getAttr(name string, attrType AttributeType) (attr Attribute, found bool, err error) {
	attr, found = n.attributes[name]
	if !found {
		return
	}
	if attr.Type != attrType {
		err = errors.Errorf("attribute %q of %s has type %s, wanted %s", name, NodeToString(n), attr.Type, attrType)
	}
	return
}

// IntAttr implements Node.
func (n *MemNode) IntAttr(name string) (value int64, found bool, err error) {
	attr, found, err := n.getAttr(name, AttrInt)
	if err != nil || !found {
		return
	}
	value = attr.Int
	return
}

// StringAttr implements Node.
func (n *MemNode) StringAttr(name string) (value string, found bool, err error) {
	attr, found, err := n.getAttr(name, AttrString)
	if err != nil || !found {
		return
	}
	value = attr.String
	return
}

// Builder accumulates the definition of a MemGraph. It is not safe for concurrent use.
//
// Errors (like duplicate node names) are only reported by Build.
type Builder struct {
	name      string
	modelPath string
	values    map[string]TensorInfo
	nodes     []*NodeBuilder
}

// NewBuilder starts the definition of a graph with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:   name,
		values: make(map[string]TensorInfo),
	}
}

// WithModelPath sets the path of the model file the graph is supposed to have been read from.
func (b *Builder) WithModelPath(modelPath string) *Builder {
	b.modelPath = modelPath
	return b
}

// Value declares the element type and shape of a named tensor: a graph input, an initializer or an
// intermediary value. Tensors referenced by nodes but never declared have an unknown dtype.
func (b *Builder) Value(name string, dtype dtypes.DType, dims ...int) *Builder {
	var shape []int
	if dims != nil {
		shape = append([]int{}, dims...)
	}
	b.values[name] = TensorInfo{Name: name, DType: dtype, Shape: shape}
	return b
}

// Node adds a node with the given op type and name, and returns its NodeBuilder.
// Nodes are given their ID in the order they are added.
func (b *Builder) Node(opType, name string) *NodeBuilder {
	nb := &NodeBuilder{
		graph:  b,
		opType: opType,
		name:   name,
		attrs:  make(map[string]Attribute),
	}
	b.nodes = append(b.nodes, nb)
	return nb
}

// NodeBuilder accumulates the definition of a node. See Builder.Node.
type NodeBuilder struct {
	graph                *Builder
	opType, name, domain string
	inputs, outputs      []string
	attrs                map[string]Attribute
	attrOrder            []string
	subgraphs            map[string]*Builder
	duplicateAttrs       []string
}

// Builder returns the graph Builder, to allow chaining the definition of the next node.
func (nb *NodeBuilder) Builder() *Builder {
	return nb.graph
}

// Domain sets the operator set domain (e.g. "com.microsoft").
func (nb *NodeBuilder) Domain(domain string) *NodeBuilder {
	nb.domain = domain
	return nb
}

// Inputs appends the names of the input tensors.
func (nb *NodeBuilder) Inputs(names ...string) *NodeBuilder {
	nb.inputs = append(nb.inputs, names...)
	return nb
}

// Outputs appends the names of the output tensors.
func (nb *NodeBuilder) Outputs(names ...string) *NodeBuilder {
	nb.outputs = append(nb.outputs, names...)
	return nb
}

func (nb *NodeBuilder) setAttr(name string, attr Attribute) *NodeBuilder {
	if _, found := nb.attrs[name]; found {
		nb.duplicateAttrs = append(nb.duplicateAttrs, name)
	} else {
		nb.attrOrder = append(nb.attrOrder, name)
	}
	nb.attrs[name] = attr
	return nb
}

// IntAttr sets an integer attribute.
func (nb *NodeBuilder) IntAttr(name string, value int64) *NodeBuilder {
	return nb.setAttr(name, Attribute{Type: AttrInt, Int: value})
}

// BoolAttr sets a boolean attribute, stored as an integer 0 or 1 as ONNX does.
func (nb *NodeBuilder) BoolAttr(name string, value bool) *NodeBuilder {
	var v int64
	if value {
		v = 1
	}
	return nb.IntAttr(name, v)
}

// FloatAttr sets a float attribute.
func (nb *NodeBuilder) FloatAttr(name string, value float32) *NodeBuilder {
	return nb.setAttr(name, Attribute{Type: AttrFloat, Float: value})
}

// StringAttr sets a string attribute.
func (nb *NodeBuilder) StringAttr(name string, value string) *NodeBuilder {
	return nb.setAttr(name, Attribute{Type: AttrString, String: value})
}

// IntsAttr sets a list of integers attribute.
func (nb *NodeBuilder) IntsAttr(name string, values ...int64) *NodeBuilder {
	return nb.setAttr(name, Attribute{Type: AttrInts, Ints: append([]int64{}, values...)})
}

// Subgraph sets a graph attribute. The subgraph is built together with the parent graph, and its
// ParentNode is the node being defined.
func (nb *NodeBuilder) Subgraph(name string, sub *Builder) *NodeBuilder {
	if nb.subgraphs == nil {
		nb.subgraphs = make(map[string]*Builder)
	}
	nb.subgraphs[name] = sub
	return nb.setAttr(name, Attribute{Type: AttrGraph})
}

// Build creates the immutable MemGraph.
//
// It returns an error if node names are repeated or an attribute is set twice.
func (b *Builder) Build() (*MemGraph, error) {
	var g *MemGraph
	err := exceptions.TryCatch[error](func() { g = b.build(nil) })
	if err != nil {
		return nil, errors.WithMessagef(err, "hostgraph.Builder(%q).Build()", b.name)
	}
	return g, nil
}

// build panics (with exceptions.Panicf) in case of errors.
func (b *Builder) build(parent *MemNode) *MemGraph {
	g := &MemGraph{
		name:      b.name,
		modelPath: b.modelPath,
		parent:    parent,
		nodes:     make([]*MemNode, 0, len(b.nodes)),
	}
	if parent != nil && g.modelPath == "" {
		g.modelPath = parent.graph.modelPath
	}
	usedNames := sets.Make[string](len(b.nodes))
	toInfo := func(name string) TensorInfo {
		if info, found := b.values[name]; found {
			return info
		}
		return TensorInfo{Name: name, DType: dtypes.InvalidDType}
	}
	for id, nb := range b.nodes {
		if nb.name != "" {
			if usedNames.Has(nb.name) {
				exceptions.Panicf("node name %q used more than once in graph %q", nb.name, b.name)
			}
			usedNames.Insert(nb.name)
		}
		if len(nb.duplicateAttrs) > 0 {
			exceptions.Panicf("attributes %q set more than once in node %q (%s)", nb.duplicateAttrs, nb.name, nb.opType)
		}
		n := &MemNode{
			graph:      g,
			id:         id,
			name:       nb.name,
			opType:     nb.opType,
			domain:     nb.domain,
			inputs:     sliceMap(nb.inputs, toInfo),
			outputs:    sliceMap(nb.outputs, toInfo),
			attributes: make(map[string]Attribute, len(nb.attrs)),
			attrOrder:  append([]string{}, nb.attrOrder...),
		}
		for attrName, attr := range nb.attrs {
			if attr.Type == AttrGraph {
				attr.Graph = nb.subgraphs[attrName].build(n)
			}
			n.attributes[attrName] = attr
		}
		g.nodes = append(g.nodes, n)
	}
	return g
}

// sliceMap executes the given function sequentially for every element on in, and returns a mapped slice.
func sliceMap[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}
