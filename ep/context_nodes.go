package ep

import (
	"path/filepath"
	"strings"

	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/pkg/errors"
)

// EPContextOpType is the op type of the nodes holding a precompiled context.
const EPContextOpType = "EPContext"

// Attributes of EPContext nodes.
const (
	attrMainContext    = "main_context"
	attrSource         = "source"
	attrEPCacheContext = "ep_cache_context"
)

// contextNodes found in a graph.
type contextNodes struct {
	// main context nodes whose source is this backend: their presence makes the graph a context model.
	main []hostgraph.Node

	// own is every EPContext node whose source is this backend, main or not, in graph order.
	own []hostgraph.Node
}

// names of the main context nodes.
func (c *contextNodes) names() []string {
	names := make([]string, len(c.main))
	for ii, node := range c.main {
		names[ii] = node.Name()
	}
	return names
}

// isOwnContextNode returns whether node is an EPContext node compiled by this backend.
func (e *EP) isOwnContextNode(node hostgraph.Node, opType string) (bool, error) {
	if opType != EPContextOpType {
		return false, nil
	}
	source, found, err := node.StringAttr(attrSource)
	if err != nil {
		return false, errors.WithMessagef(err, "failed to read attribute %q of %s", attrSource, hostgraph.NodeToString(node))
	}
	return found && e.sourceNames.Has(strings.ToLower(source)), nil
}

// isMainContextNode returns whether the node has a non-zero "main_context" attribute.
func isMainContextNode(node hostgraph.Node) (bool, error) {
	mainContext, found, err := node.IntAttr(attrMainContext)
	if err != nil {
		return false, errors.WithMessagef(err, "failed to read attribute %q of %s", attrMainContext, hostgraph.NodeToString(node))
	}
	return found && mainContext != 0, nil
}

// findContextNodes scans the nodes for EPContext nodes of this backend.
func (e *EP) findContextNodes(nodes []hostgraph.Node) (*contextNodes, error) {
	c := &contextNodes{}
	for _, node := range nodes {
		opType, err := node.OpType()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to query op type of node #%d", node.ID())
		}
		own, err := e.isOwnContextNode(node, opType)
		if err != nil {
			return nil, err
		}
		if !own {
			continue
		}
		c.own = append(c.own, node)
		isMain, err := isMainContextNode(node)
		if err != nil {
			return nil, err
		}
		if isMain {
			e.logger.V(4).Info("EPContext node found", "id", node.ID(), "name", node.Name())
			c.main = append(c.main, node)
		}
	}
	return c, nil
}

// contextModelPath returns the path used to resolve the context binary files: the user configured
// context cache path if set, otherwise the model path.
func (e *EP) contextModelPath(graph hostgraph.Graph) string {
	if e.config.ContextCachePath != "" {
		return e.config.ContextCachePath
	}
	return graph.ModelPath()
}

// contextBinaries maps the resolved path of the context binary files to the names of the main
// context nodes loaded from them. Nodes without the "ep_cache_context" attribute are skipped.
func (e *EP) contextBinaries(graph hostgraph.Graph, mainNodes []hostgraph.Node) (map[string][]string, error) {
	dir := filepath.Dir(e.contextModelPath(graph))
	binaries := make(map[string][]string)
	for _, node := range mainNodes {
		cacheContext, found, err := node.StringAttr(attrEPCacheContext)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read attribute %q of %s", attrEPCacheContext, hostgraph.NodeToString(node))
		}
		if !found {
			continue
		}
		path := filepath.Join(dir, cacheContext)
		binaries[path] = append(binaries[path], node.Name())
	}
	return binaries, nil
}
