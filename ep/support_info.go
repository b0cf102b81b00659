package ep

import (
	"github.com/gomlx/qnn-ep/hostgraph"
)

// FusionOptions are the options the host receives with each partition.
type FusionOptions struct {
	// Name of the fused node, generated by the MetadefIDGenerator.
	Name string

	// DropConstantInitializers lets the host drop constant initializers consumed only by the partition,
	// since the backend embeds them when compiling. It is false for precompiled context partitions.
	DropConstantInitializers bool
}

// GraphSupportInfo is the host side collector of partitions. GetCapability calls AddNodesToFuse once
// per partition, in the order they are finalized.
type GraphSupportInfo interface {
	AddNodesToFuse(nodes []hostgraph.Node, options FusionOptions) error
}

// Partition is a set of nodes proposed to the host for fusion into one unit executed by the backend.
type Partition struct {
	Name string

	// Nodes in discovery order. Never empty.
	Nodes []hostgraph.Node

	DropConstantInitializers bool

	// IsContext is true for the singleton partitions of a precompiled context node.
	IsContext bool
}

// Summary of one capability analysis.
type Summary struct {
	NumNodes          int
	NumPartitions     int
	NumSupportedNodes int

	// IsContextModel is set if the graph had main precompiled context nodes of this backend.
	IsContextModel bool

	// SharedFastPath is set if all contexts were found in the SharedContext and backend setup was skipped.
	SharedFastPath bool
}

// RejectedNode is a node left to the host, with the reason it is not supported.
type RejectedNode struct {
	Node    hostgraph.Node
	OpType  string
	Reason  string // One of the opbuilder.Reason* constants.
	Details string
}

// Capability is the result of EP.Analyze.
type Capability struct {
	GraphName  string
	Partitions []*Partition

	// Rejected nodes, in graph order. Context models don't classify their nodes, so it is empty for them.
	Rejected []RejectedNode

	Summary Summary
}

// PartitionRecorder is a GraphSupportInfo that simply records the partitions it is given.
type PartitionRecorder struct {
	Partitions []*Partition
}

var _ GraphSupportInfo = (*PartitionRecorder)(nil)

// AddNodesToFuse implements GraphSupportInfo.
func (r *PartitionRecorder) AddNodesToFuse(nodes []hostgraph.Node, options FusionOptions) error {
	r.Partitions = append(r.Partitions, &Partition{
		Name:                     options.Name,
		Nodes:                    append([]hostgraph.Node(nil), nodes...),
		DropConstantInitializers: options.DropConstantInitializers,
	})
	return nil
}

