package ep

import (
	"container/heap"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/pkg/errors"
)

// Grouper builds the partitions out of the supported nodes of a graph.
type Grouper interface {
	// Group returns groups of supported nodes, each one fusable into a single node without creating
	// a cycle in the graph. supported holds the IDs of the supported nodes.
	Group(nodes []hostgraph.Node, supported sets.Set[int]) ([][]hostgraph.Node, error)
}

// TopologicalGrouper schedules the nodes in a topological order, always preferring ready
// supported nodes, in graph order. Consecutively scheduled supported nodes form a group, and a group
// is closed whenever an unsupported node has to be scheduled. Since every path between two nodes of a
// group only goes through nodes scheduled between them, groups never create cycles.
type TopologicalGrouper struct{}

var _ Grouper = TopologicalGrouper{}

// nodeIO queries the inputs and outputs of the node.
func nodeIO(node hostgraph.Node) (inputs, outputs []hostgraph.TensorInfo, err error) {
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

// buildConsumerMap maps each tensor name to the indices of the nodes that consume it, once per use.
func buildConsumerMap(inputs [][]hostgraph.TensorInfo) map[string][]int {
	consumers := make(map[string][]int)
	for nodeIdx, nodeInputs := range inputs {
		for _, input := range nodeInputs {
			if input.Name == "" {
				continue
			}
			consumers[input.Name] = append(consumers[input.Name], nodeIdx)
		}
	}
	return consumers
}

// indexHeap is a min-heap of node indices, used to keep graph order among ready nodes.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Group implements Grouper.
func (TopologicalGrouper) Group(nodes []hostgraph.Node, supported sets.Set[int]) ([][]hostgraph.Node, error) {
	numNodes := len(nodes)
	inputs := make([][]hostgraph.TensorInfo, numNodes)
	outputs := make([][]hostgraph.TensorInfo, numNodes)
	producer := make(map[string]int)
	for ii, node := range nodes {
		var err error
		inputs[ii], outputs[ii], err = nodeIO(node)
		if err != nil {
			return nil, err
		}
		for _, output := range outputs[ii] {
			if output.Name != "" {
				producer[output.Name] = ii
			}
		}
	}
	consumers := buildConsumerMap(inputs)

	// pending counts the uses of values produced by nodes not yet scheduled.
	pending := make([]int, numNodes)
	for ii := range nodes {
		for _, input := range inputs[ii] {
			if p, found := producer[input.Name]; found && input.Name != "" && p != ii {
				pending[ii]++
			}
		}
	}

	readySupported, readyUnsupported := &indexHeap{}, &indexHeap{}
	makeReady := func(ii int) {
		if supported.Has(nodes[ii].ID()) {
			heap.Push(readySupported, ii)
		} else {
			heap.Push(readyUnsupported, ii)
		}
	}
	for ii := range nodes {
		if pending[ii] == 0 {
			makeReady(ii)
		}
	}
	numScheduled := 0
	schedule := func(ii int) {
		numScheduled++
		for _, output := range outputs[ii] {
			if output.Name == "" || producer[output.Name] != ii {
				continue
			}
			for _, consumer := range consumers[output.Name] {
				if consumer == ii {
					continue
				}
				pending[consumer]--
				if pending[consumer] == 0 {
					makeReady(consumer)
				}
			}
		}
	}

	var groups [][]hostgraph.Node
	var current []hostgraph.Node
	closeGroup := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
	}
	for readySupported.Len() > 0 || readyUnsupported.Len() > 0 {
		if readySupported.Len() > 0 {
			ii := heap.Pop(readySupported).(int)
			current = append(current, nodes[ii])
			schedule(ii)
			continue
		}
		closeGroup()
		for readyUnsupported.Len() > 0 {
			schedule(heap.Pop(readyUnsupported).(int))
		}
	}
	closeGroup()
	if numScheduled != numNodes {
		return nil, errors.Errorf("graph has a cycle: only %d of %d nodes could be sorted topologically", numScheduled, numNodes)
	}
	return groups, nil
}
