package ep

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/qnn-ep/ep/opbuilder"
	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/pkg/errors"
)

// requantizationOpTypes are not offloaded when they would be the only node offloaded.
var requantizationOpTypes = sets.MakeWith("QuantizeLinear", "DequantizeLinear")

// GetCapability analyzes the graph and reports to info the partitions that can run on the backend.
//
// Subgraphs (graphs with a parent node) and empty graphs yield no partitions. Nodes not supported by
// the backend are not an error. An error is returned if querying the graph fails, if the backend
// setup fails, or if info fails to accept a partition.
//
// Every partition is built and named before the first one is reported, so a fault of the graph
// queries never leaves info with a partial list. But if info itself fails to accept partition k,
// partitions 0..k-1 were already given to it: info is responsible for discarding them. Analyze
// doesn't have this issue, it returns no partitions on error.
func (e *EP) GetCapability(graph hostgraph.Graph, info GraphSupportInfo) error {
	_, err := e.getCapability(graph, info, nil)
	return err
}

// Analyze is like GetCapability, but returns the partitions, the rejected nodes and the summary of
// the analysis.
func (e *EP) Analyze(graph hostgraph.Graph) (*Capability, error) {
	recorder := &PartitionRecorder{}
	var rejected []RejectedNode
	summary, err := e.getCapability(graph, recorder, &rejected)
	if err != nil {
		return nil, err
	}
	for _, p := range recorder.Partitions {
		p.IsContext = summary.IsContextModel
	}
	return &Capability{
		GraphName:  graph.Name(),
		Partitions: recorder.Partitions,
		Rejected:   rejected,
		Summary:    summary,
	}, nil
}

// getCapability converts panics of the host graph (or of the collaborators) into errors, whatever
// the value they panic with.
// If rejected is not nil, the nodes not supported are appended to it.
func (e *EP) getCapability(graph hostgraph.Graph, info GraphSupportInfo, rejected *[]RejectedNode) (summary Summary, err error) {
	var analysisErr error
	exception := exceptions.Try(func() { summary, analysisErr = e.analyze(graph, info, rejected) })
	if exception != nil {
		panicErr, ok := exception.(error)
		if !ok {
			panicErr = errors.Errorf("%v", exception)
		}
		return summary, errors.WithMessagef(panicErr, "panic while analyzing graph %q", graph.Name())
	}
	return summary, analysisErr
}

func (e *EP) analyze(graph hostgraph.Graph, info GraphSupportInfo, rejected *[]RejectedNode) (summary Summary, err error) {
	parent, err := graph.ParentNode()
	if err != nil {
		return summary, errors.WithMessagef(err, "failed to query parent node of graph %q", graph.Name())
	}
	if parent != nil {
		e.logger.V(2).Info("skipping subgraph", "graph", graph.Name(), "parent", hostgraph.NodeToString(parent))
		return
	}
	nodes, err := graph.Nodes()
	if err != nil {
		return summary, errors.WithMessagef(err, "failed to list nodes of graph %q", graph.Name())
	}
	summary.NumNodes = len(nodes)
	if len(nodes) == 0 {
		return
	}

	ctxNodes, err := e.findContextNodes(nodes)
	if err != nil {
		return
	}
	summary.IsContextModel = len(ctxNodes.main) > 0

	if summary.IsContextModel && e.config.ShareEPContexts && e.shared.HasAny() {
		missing, found := e.shared.HasAll(ctxNodes.names())
		if found {
			summary.SharedFastPath = true
			err = e.partitionContextModel(graph, ctxNodes, info, &summary)
			return
		}
		e.logger.V(2).Info("Graph from EpContext node not found from shared EP contexts", "graph", missing)
	}

	if err = e.setupBackend(graph, ctxNodes, summary.IsContextModel); err != nil {
		return
	}
	if summary.IsContextModel {
		err = e.partitionContextModel(graph, ctxNodes, info, &summary)
		return
	}

	supported, err := e.classifyNodes(nodes, rejected)
	if err != nil {
		return
	}
	summary.NumSupportedNodes = len(supported)
	if len(supported) == 0 {
		e.logSummary(graph, &summary)
		return
	}
	groups, err := e.grouper.Group(nodes, supported)
	if err != nil {
		return summary, errors.WithMessagef(err, "failed to group supported nodes of graph %q", graph.Name())
	}
	if len(groups) == 1 && len(groups[0]) == 1 {
		opType, err := groups[0][0].OpType()
		if err != nil {
			return summary, errors.WithMessagef(err, "failed to query op type of node #%d", groups[0][0].ID())
		}
		if requantizationOpTypes.Has(opType) {
			e.logger.V(2).Info("not offloading a single requantization node", "node", hostgraph.NodeToString(groups[0][0]))
			e.logSummary(graph, &summary)
			return summary, nil
		}
	}
	err = e.reportPartitions(graph, groups, true, info, &summary)
	return
}

// setupBackend runs the one-time backend initialization for the graph.
func (e *EP) setupBackend(graph hostgraph.Graph, ctxNodes *contextNodes, isContextModel bool) error {
	setup := &BackendSetup{
		GraphName:                      graph.Name(),
		IsContextModel:                 isContextModel,
		EnableSpillFillBuffer:          e.config.EnableEPContext && e.config.EnableSpillFillBuffer,
		ShareEPContexts:                e.config.ShareEPContexts,
		EnableVTCMBackupBufferSharing:  e.config.EnableVTCMBackupBufferSharing,
		EnableHTPSharedMemoryAllocator: e.config.EnableHTPSharedMemoryAllocator,
		ContextNodes:                   ctxNodes.names(),
	}
	if e.config.EnableVTCMBackupBufferSharing && e.config.ShareEPContexts {
		binaries, err := e.contextBinaries(graph, ctxNodes.main)
		if err != nil {
			return err
		}
		setup.ContextBinaries = binaries
	}
	if err := e.backend.SetupBackend(e.logger, setup); err != nil {
		e.logger.Error(err, "QNN SetupBackend failed", "graph", graph.Name())
		return errors.WithMessagef(err, "QNN SetupBackend failed for graph %q", graph.Name())
	}
	return nil
}

// partitionContextModel reports one partition per EPContext node of this backend.
func (e *EP) partitionContextModel(graph hostgraph.Graph, ctxNodes *contextNodes, info GraphSupportInfo, summary *Summary) error {
	groups := make([][]hostgraph.Node, 0, len(ctxNodes.own))
	for _, node := range ctxNodes.own {
		e.logger.V(2).Info("Node supported", "id", node.ID(), "name", node.Name(), "op_type", EPContextOpType)
		groups = append(groups, []hostgraph.Node{node})
	}
	summary.NumSupportedNodes = len(groups)
	return e.reportPartitions(graph, groups, false, info, summary)
}

// classifyNodes returns the IDs of the nodes supported by the backend.
// Rejections are logged (and appended to rejected if not nil), while any other validation error is returned.
func (e *EP) classifyNodes(nodes []hostgraph.Node, rejected *[]RejectedNode) (sets.Set[int], error) {
	supported := sets.Make[int](len(nodes))
	reject := func(node hostgraph.Node, opType, reason, details string) {
		e.logger.V(2).Info("Node not supported", "node", hostgraph.NodeToString(node),
			"reason", reason, "details", details)
		if rejected != nil {
			*rejected = append(*rejected, RejectedNode{Node: node, OpType: opType, Reason: reason, Details: details})
		}
	}
	for _, node := range nodes {
		opType, err := node.OpType()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to query op type of node #%d", node.ID())
		}
		validator, found := e.registrations.Lookup(opType)
		if !found {
			reject(node, opType, opbuilder.ReasonUnsupportedOp, "")
			continue
		}
		err = validator.Validate(node)
		if err != nil {
			rejection, ok := opbuilder.AsRejection(err)
			if !ok {
				return nil, errors.WithMessagef(err, "failed to validate %s", hostgraph.NodeToString(node))
			}
			reject(node, opType, rejection.Reason, rejection.Details)
			continue
		}
		e.logger.V(2).Info("Node supported", "node", hostgraph.NodeToString(node),
			"qnn_op_type", validator.QnnOpType(), "builder", validator.BuilderType())
		supported.Insert(node.ID())
	}
	return supported, nil
}

// reportPartitions names the groups and reports them to info. Names are all generated before the
// first partition is reported.
func (e *EP) reportPartitions(graph hostgraph.Graph, groups [][]hostgraph.Node, dropConstantInitializers bool,
	info GraphSupportInfo, summary *Summary) error {
	if len(groups) > 0 {
		hash, err := e.ids.GraphHash(graph)
		if err != nil {
			return err
		}
		names := make([]string, len(groups))
		for ii := range groups {
			names[ii] = FormatName(e.config.ContextNodeNamePrefix, hash, e.ids.NextIDFor(hash))
		}
		for ii, group := range groups {
			options := FusionOptions{Name: names[ii], DropConstantInitializers: dropConstantInitializers}
			if err := info.AddNodesToFuse(group, options); err != nil {
				return errors.WithMessagef(err, "failed to report partition %q of graph %q", names[ii], graph.Name())
			}
		}
	}
	summary.NumPartitions = len(groups)
	e.logSummary(graph, summary)
	return nil
}

func (e *EP) logSummary(graph hostgraph.Graph, summary *Summary) {
	e.logger.V(1).Info("Number of partitions supported by QNN EP",
		"graph", graph.Name(),
		"partitions", summary.NumPartitions,
		"nodes", summary.NumNodes,
		"supported_nodes", summary.NumSupportedNodes,
		"context_model", summary.IsContextModel,
		"shared_fast_path", summary.SharedFastPath)
}
