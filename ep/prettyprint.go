package ep

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/qnn-ep/hostgraph"
)

// String implements fmt.Stringer, and pretty prints the partitions found.
func (c *Capability) String() string {
	var buf bytes.Buffer
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("Capability of graph %q:\n", c.GraphName)
	w("\t# nodes:\t%d\n", c.Summary.NumNodes)
	w("\t# supported:\t%d\n", c.Summary.NumSupportedNodes)
	w("\t# partitions:\t%d\n", c.Summary.NumPartitions)
	if c.Summary.IsContextModel {
		w("\tContext model:\ttrue")
		if c.Summary.SharedFastPath {
			w(" (shared contexts)")
		}
		w("\n")
	}
	for _, p := range c.Partitions {
		w("\t%s: %d nodes", p.Name, len(p.Nodes))
		if !p.DropConstantInitializers {
			w(", keep constant initializers")
		}
		w("\n")
		w("\t\tOp types:\t%#v\n", p.OpTypes())
	}
	return buf.String()
}

// OpTypes returns the sorted op types used in the partition.
func (p *Partition) OpTypes() []string {
	opTypes := sets.Make[string]()
	for _, node := range p.Nodes {
		opType, err := node.OpType()
		if err != nil {
			opType = hostgraph.NodeToString(node)
		}
		opTypes.Insert(opType)
	}
	return slices.Sorted(maps.Keys(opTypes))
}
