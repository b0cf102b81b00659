package ep

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/pkg/errors"
	"lukechampine.com/blake3"
)

// MetadefIDGenerator issues the names of the partitions: for each graph identity (a hash of the
// graph) it keeps the last issued sequence number.
//
// It is safe for concurrent use: concurrent calls for the same graph never get the same id.
type MetadefIDGenerator struct {
	mu     sync.Mutex
	lastID map[uint64]int
}

var defaultIDGenerator = NewMetadefIDGenerator()

// DefaultIDGenerator returns the process-wide MetadefIDGenerator.
func DefaultIDGenerator() *MetadefIDGenerator {
	return defaultIDGenerator
}

// NewMetadefIDGenerator creates a MetadefIDGenerator with no ids issued.
func NewMetadefIDGenerator() *MetadefIDGenerator {
	return &MetadefIDGenerator{lastID: make(map[uint64]int)}
}

// GraphHash returns the identity of the graph: the first 8 bytes (little-endian) of the blake3 digest
// of its model path, its name, and the name, op type and input/output names of every node, in order.
//
// It returns an error if querying the graph fails.
func (g *MetadefIDGenerator) GraphHash(graph hostgraph.Graph) (uint64, error) {
	hasher := blake3.New(32, nil)
	write := func(s string) {
		// Length prefix, so concatenations are not ambiguous.
		var lenBuf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
		_, _ = hasher.Write(lenBuf[:n])
		_, _ = hasher.Write([]byte(s))
	}
	write(graph.ModelPath())
	write(graph.Name())
	nodes, err := graph.Nodes()
	if err != nil {
		return 0, errors.WithMessagef(err, "failed to list nodes of graph %q", graph.Name())
	}
	for _, node := range nodes {
		opType, err := node.OpType()
		if err != nil {
			return 0, errors.WithMessagef(err, "failed to query op type of node #%d", node.ID())
		}
		inputs, outputs, err := nodeIO(node)
		if err != nil {
			return 0, err
		}
		write(node.Name())
		write(opType)
		write(strconv.Itoa(len(inputs)))
		for _, input := range inputs {
			write(input.Name)
		}
		for _, output := range outputs {
			write(output.Name)
		}
	}
	sum := hasher.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8]), nil
}

// NextID returns the graph hash and the next sequence number for it. The first id issued for a graph is 1.
func (g *MetadefIDGenerator) NextID(graph hostgraph.Graph) (hash uint64, id int, err error) {
	hash, err = g.GraphHash(graph)
	if err != nil {
		return
	}
	id = g.NextIDFor(hash)
	return
}

// NextIDFor returns the next sequence number for a graph hash returned by GraphHash.
func (g *MetadefIDGenerator) NextIDFor(hash uint64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.lastID[hash] + 1
	g.lastID[hash] = id
	return id
}

// MakeName returns the name for a new partition of the graph, see FormatName.
func (g *MetadefIDGenerator) MakeName(graph hostgraph.Graph, prefix string) (string, error) {
	hash, id, err := g.NextID(graph)
	if err != nil {
		return "", err
	}
	return FormatName(prefix, hash, id), nil
}

// FormatName formats a partition name as "QNN<prefix>_<hash>_<id>".
func FormatName(prefix string, hash uint64, id int) string {
	return fmt.Sprintf("QNN%s_%d_%d", prefix, hash, id)
}

// LastID returns the last sequence number issued for the graph hash, 0 if none was issued.
func (g *MetadefIDGenerator) LastID(hash uint64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastID[hash]
}

// Reset forgets all issued ids.
func (g *MetadefIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastID = make(map[uint64]int)
}
