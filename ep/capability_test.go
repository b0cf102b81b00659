package ep

import (
	"fmt"
	"testing"

	"github.com/go-logr/logr"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/qnn-ep/ep/opbuilder"
	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

// chainGraph builds x -> Relu -> Add(.., y) -> Sigmoid, all Float32.
func chainGraph(t *testing.T, name string) *hostgraph.MemGraph {
	b := floatValues(hostgraph.NewBuilder(name).WithModelPath("/models/"+name+".onnx"), "x", "y", "a", "b", "c")
	b.Node("Relu", "relu").Inputs("x").Outputs("a")
	b.Node("Add", "add").Inputs("a", "y").Outputs("b")
	b.Node("Sigmoid", "sigmoid").Inputs("b").Outputs("c")
	return buildGraph(t, b)
}

func TestAnalyzeAllSupported(t *testing.T) {
	e, _, ids := newTestEP(DefaultConfig())
	g := chainGraph(t, "chain")
	c, err := e.Analyze(g)
	require.NoError(t, err)
	require.Len(t, c.Partitions, 1)
	p := c.Partitions[0]
	assert.Equal(t, []string{"relu", "add", "sigmoid"}, nodeNames(p))
	assert.True(t, p.DropConstantInitializers)
	assert.False(t, p.IsContext)

	hash, err := ids.GraphHash(g)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("QNN_%d_1", hash), p.Name)
	assert.Equal(t, Summary{NumNodes: 3, NumPartitions: 1, NumSupportedNodes: 3}, c.Summary)
	assert.Equal(t, []string{"Add", "Relu", "Sigmoid"}, p.OpTypes())
	assert.Contains(t, c.String(), "# partitions:\t1")
}

func TestAnalyzeRejectionsDoNotAbort(t *testing.T) {
	e, _, _ := newTestEP(DefaultConfig())
	b := floatValues(hostgraph.NewBuilder("mixed"), "x", "a", "c")
	b.Value("i", dtypes.Int32, 1, 8)
	b.Node("Relu", "relu").Inputs("x").Outputs("a")
	// Rejected for the Int32 input.
	b.Node("Add", "add_int").Inputs("a", "i").Outputs("b")
	// Not registered.
	b.Node("NonMaxSuppression", "nms").Inputs("b").Outputs("c")
	// Rejected for having only 1 input.
	b.Node("Add", "add_arity").Inputs("c").Outputs("d")
	c, err := e.Analyze(buildGraph(t, b))
	require.NoError(t, err)
	require.Len(t, c.Partitions, 1)
	assert.Equal(t, []string{"relu"}, nodeNames(c.Partitions[0]))
	assert.Equal(t, 4, c.Summary.NumNodes)
	assert.Equal(t, 1, c.Summary.NumSupportedNodes)

	// Rejected nodes are reported in graph order, with their reasons.
	require.Len(t, c.Rejected, 3)
	for ii, want := range []struct{ name, opType, reason string }{
		{"add_int", "Add", opbuilder.ReasonUnsupportedType},
		{"nms", "NonMaxSuppression", opbuilder.ReasonUnsupportedOp},
		{"add_arity", "Add", opbuilder.ReasonInvalidCount},
	} {
		got := c.Rejected[ii]
		assert.Equal(t, want.name, got.Node.Name())
		assert.Equal(t, want.opType, got.OpType)
		assert.Equal(t, want.reason, got.Reason, "node %q", want.name)
	}
	assert.NotEmpty(t, c.Rejected[0].Details)
	assert.Empty(t, c.Rejected[1].Details)

	// Context models don't classify nodes.
	c, err = e.Analyze(contextGraph(t, "ctx", "QNN", true, "g0"))
	require.NoError(t, err)
	assert.Empty(t, c.Rejected)
}

func TestAnalyzeUnsupportedSplitsPartitions(t *testing.T) {
	e, _, ids := newTestEP(Config{ContextNodeNamePrefix: "Pre"})
	b := floatValues(hostgraph.NewBuilder("split"), "x", "a", "b", "c")
	b.Node("Relu", "relu1").Inputs("x").Outputs("a")
	b.Node("NonMaxSuppression", "nms").Inputs("a").Outputs("b")
	b.Node("Relu", "relu2").Inputs("b").Outputs("c")
	g := buildGraph(t, b)
	c, err := e.Analyze(g)
	require.NoError(t, err)
	require.Len(t, c.Partitions, 2)
	assert.Equal(t, []string{"relu1"}, nodeNames(c.Partitions[0]))
	assert.Equal(t, []string{"relu2"}, nodeNames(c.Partitions[1]))
	hash := issuedHash(t, ids, g)
	assert.Equal(t, fmt.Sprintf("QNNPre_%d_1", hash), c.Partitions[0].Name)
	assert.Equal(t, fmt.Sprintf("QNNPre_%d_2", hash), c.Partitions[1].Name)
}

// issuedHash returns the hash of the graph, and checks some id was issued for it.
func issuedHash(t *testing.T, ids *MetadefIDGenerator, graph hostgraph.Graph) uint64 {
	t.Helper()
	hash, err := ids.GraphHash(graph)
	require.NoError(t, err)
	require.Positive(t, ids.LastID(hash))
	return hash
}

func TestAnalyzeIdentifierUniqueness(t *testing.T) {
	e, _, _ := newTestEP(DefaultConfig())
	g := chainGraph(t, "twice")
	var names []string
	for range 3 {
		c, err := e.Analyze(g)
		require.NoError(t, err)
		require.Len(t, c.Partitions, 1)
		names = append(names, c.Partitions[0].Name)
	}
	hash, err := e.ids.GraphHash(g)
	require.NoError(t, err)
	for ii, name := range names {
		assert.Equal(t, FormatName("", hash, ii+1), name)
	}

	// Another graph has its own sequence.
	c, err := e.Analyze(chainGraph(t, "other"))
	require.NoError(t, err)
	assert.Regexp(t, `^QNN_\d+_1$`, c.Partitions[0].Name)
	assert.NotEqual(t, names[0], c.Partitions[0].Name)
}

func quantizeLinear(b *hostgraph.Builder, name, input, output string) {
	b.Value(name+"_scale", dtypes.Float32)
	b.Value(name+"_zp", dtypes.Uint8)
	b.Value(output, dtypes.Uint8, 1, 8)
	b.Node("QuantizeLinear", name).Inputs(input, name+"_scale", name+"_zp").Outputs(output)
}

func dequantizeLinear(b *hostgraph.Builder, name, input, output string) {
	b.Value(name+"_scale", dtypes.Float32)
	b.Value(output, dtypes.Float32, 1, 8)
	b.Node("DequantizeLinear", name).Inputs(input, name+"_scale").Outputs(output)
}

func TestAnalyzeSingleRequantizationSuppressed(t *testing.T) {
	e, _, _ := newTestEP(DefaultConfig())

	// A lone QuantizeLinear.
	b := floatValues(hostgraph.NewBuilder("q"), "x")
	quantizeLinear(b, "q", "x", "xq")
	c, err := e.Analyze(buildGraph(t, b))
	require.NoError(t, err)
	assert.Empty(t, c.Partitions)
	assert.Equal(t, 1, c.Summary.NumSupportedNodes)
	assert.Equal(t, 0, c.Summary.NumPartitions)

	// A lone DequantizeLinear, surrounded by unsupported nodes.
	b = hostgraph.NewBuilder("dq").Value("x", dtypes.Int8, 1, 8)
	b.Node("NonMaxSuppression", "nms1").Inputs("in").Outputs("x")
	dequantizeLinear(b, "dq", "x", "y")
	b.Node("NonMaxSuppression", "nms2").Inputs("y").Outputs("out")
	c, err = e.Analyze(buildGraph(t, b))
	require.NoError(t, err)
	assert.Empty(t, c.Partitions)

	// QuantizeLinear with another supported node is offloaded.
	b = floatValues(hostgraph.NewBuilder("relu_q"), "x", "a")
	b.Node("Relu", "relu").Inputs("x").Outputs("a")
	quantizeLinear(b, "q", "a", "aq")
	c, err = e.Analyze(buildGraph(t, b))
	require.NoError(t, err)
	require.Len(t, c.Partitions, 1)
	assert.Equal(t, []string{"relu", "q"}, nodeNames(c.Partitions[0]))

	// Two single node partitions are both kept.
	b = floatValues(hostgraph.NewBuilder("q_nms_dq"), "x")
	quantizeLinear(b, "q", "x", "xq")
	b.Value("yq", dtypes.Uint8, 1, 8)
	b.Node("NonMaxSuppression", "nms").Inputs("xq").Outputs("yq")
	dequantizeLinear(b, "dq", "yq", "y")
	c, err = e.Analyze(buildGraph(t, b))
	require.NoError(t, err)
	require.Len(t, c.Partitions, 2)

	// A lone node of another type is kept.
	b = floatValues(hostgraph.NewBuilder("relu"), "x", "a")
	b.Node("Relu", "relu").Inputs("x").Outputs("a")
	c, err = e.Analyze(buildGraph(t, b))
	require.NoError(t, err)
	require.Len(t, c.Partitions, 1)
}

// contextGraph builds a graph with one EPContext node per name, all with the given source.
func contextGraph(t *testing.T, graphName, source string, mainContext bool, names ...string) *hostgraph.MemGraph {
	b := hostgraph.NewBuilder(graphName).WithModelPath("/models/ctx/" + graphName + "_ctx.onnx")
	for ii, name := range names {
		b.Node(EPContextOpType, name).
			Inputs(fmt.Sprintf("in%d", ii)).Outputs(fmt.Sprintf("out%d", ii)).
			BoolAttr("main_context", mainContext).
			StringAttr("source", source).
			IntAttr("embed_mode", 0).
			StringAttr("ep_cache_context", graphName+"_qnn.bin")
	}
	return buildGraph(t, b)
}

func TestContextModelDetection(t *testing.T) {
	for _, source := range []string{"QNNExecutionProvider", "qnnExecutionProvider", "QNN", "qNn"} {
		t.Run(source, func(t *testing.T) {
			backend := &NopBackendManager{}
			e, _, _ := newTestEP(DefaultConfig(), WithBackendManager(backend))
			c, err := e.Analyze(contextGraph(t, "ctx", source, true, "QNN_main"))
			require.NoError(t, err)
			assert.True(t, c.Summary.IsContextModel)
			assert.False(t, c.Summary.SharedFastPath)
			require.Len(t, c.Partitions, 1)
			p := c.Partitions[0]
			assert.True(t, p.IsContext)
			assert.False(t, p.DropConstantInitializers)
			assert.Equal(t, []string{"QNN_main"}, nodeNames(p))
			require.Len(t, backend.Setups, 1)
			assert.True(t, backend.Setups[0].IsContextModel)
			assert.Equal(t, []string{"QNN_main"}, backend.Setups[0].ContextNodes)
		})
	}

	// main_context false: not a context model, and EPContext is not a supported operator.
	e, _, _ := newTestEP(DefaultConfig())
	c, err := e.Analyze(contextGraph(t, "not_main", "QNN", false, "QNN_main"))
	require.NoError(t, err)
	assert.False(t, c.Summary.IsContextModel)
	assert.Empty(t, c.Partitions)

	// Context of another backend.
	c, err = e.Analyze(contextGraph(t, "other_ep", "OpenVINOExecutionProvider", true, "ov_main"))
	require.NoError(t, err)
	assert.False(t, c.Summary.IsContextModel)
	assert.Empty(t, c.Partitions)
}

func TestContextModelPartitionsAllOwnNodes(t *testing.T) {
	b := hostgraph.NewBuilder("multi").WithModelPath("/models/multi_ctx.onnx")
	b.Node(EPContextOpType, "main").Inputs("x").Outputs("a").
		IntAttr("main_context", 1).StringAttr("source", "QNN")
	b.Node(EPContextOpType, "secondary").Inputs("a").Outputs("b").
		IntAttr("main_context", 0).StringAttr("source", "QNN")
	b.Node(EPContextOpType, "foreign").Inputs("b").Outputs("c").
		IntAttr("main_context", 1).StringAttr("source", "SomeOtherEP")
	b.Node("Relu", "relu").Inputs("c").Outputs("d")
	e, _, _ := newTestEP(DefaultConfig())
	c, err := e.Analyze(buildGraph(t, b))
	require.NoError(t, err)
	assert.True(t, c.Summary.IsContextModel)
	require.Len(t, c.Partitions, 2)
	assert.Equal(t, []string{"main"}, nodeNames(c.Partitions[0]))
	assert.Equal(t, []string{"secondary"}, nodeNames(c.Partitions[1]))
	assert.NotEqual(t, c.Partitions[0].Name, c.Partitions[1].Name)
	assert.Equal(t, 2, c.Summary.NumSupportedNodes)
}

// setupRecorder is a BackendManager that records its calls and optionally fails.
type setupRecorder struct {
	setups []*BackendSetup
	err    error
}

func (r *setupRecorder) SetupBackend(_ klog.Logger, setup *BackendSetup) error {
	r.setups = append(r.setups, setup)
	return r.err
}

func TestSharedContextFastPath(t *testing.T) {
	config := DefaultConfig()
	config.ShareEPContexts = true
	backend := &setupRecorder{}
	e, shared, _ := newTestEP(config, WithBackendManager(backend))
	shared.Add("ctx_a")
	shared.Add("ctx_b")

	c, err := e.Analyze(contextGraph(t, "shared", "QNN", true, "ctx_a", "ctx_b"))
	require.NoError(t, err)
	assert.Empty(t, backend.setups, "backend setup should be skipped")
	assert.True(t, c.Summary.SharedFastPath)
	require.Len(t, c.Partitions, 2)
	want := []string{"ctx_a", "ctx_b"}
	for ii, p := range c.Partitions {
		assert.False(t, p.DropConstantInitializers)
		assert.True(t, p.IsContext)
		assert.Equal(t, []string{want[ii]}, nodeNames(p))
	}

	// One context missing: full setup.
	c, err = e.Analyze(contextGraph(t, "partial", "QNN", true, "ctx_a", "ctx_c"))
	require.NoError(t, err)
	assert.False(t, c.Summary.SharedFastPath)
	assert.Len(t, backend.setups, 1)
	assert.Len(t, c.Partitions, 2)

	// Sharing disabled: full setup even if all are present.
	e, shared, _ = newTestEP(DefaultConfig(), WithBackendManager(backend))
	shared.Add("ctx_a")
	c, err = e.Analyze(contextGraph(t, "disabled", "QNN", true, "ctx_a"))
	require.NoError(t, err)
	assert.False(t, c.Summary.SharedFastPath)
	assert.Len(t, backend.setups, 2)
}

func TestSharedContextProducerConsumer(t *testing.T) {
	config := DefaultConfig()
	config.ShareEPContexts = true
	shared := NewSharedContext()

	// Producer session: runs the backend setup, which publishes the contexts.
	producerBackend := &NopBackendManager{Shared: shared}
	producer, _, _ := newTestEP(config, WithSharedContext(shared), WithBackendManager(producerBackend))
	c, err := producer.Analyze(contextGraph(t, "model", "QNN", true, "graph_0", "graph_1"))
	require.NoError(t, err)
	assert.False(t, c.Summary.SharedFastPath)
	assert.Len(t, producerBackend.Setups, 1)
	assert.Equal(t, 2, shared.Len())

	// Consumer session: takes the fast path.
	consumerBackend := &NopBackendManager{Shared: shared}
	consumer, _, _ := newTestEP(config, WithSharedContext(shared), WithBackendManager(consumerBackend))
	c, err = consumer.Analyze(contextGraph(t, "model", "QNN", true, "graph_0", "graph_1"))
	require.NoError(t, err)
	assert.True(t, c.Summary.SharedFastPath)
	assert.Empty(t, consumerBackend.Setups)
	assert.Len(t, c.Partitions, 2)
}

func TestBackendSetupParameters(t *testing.T) {
	b := hostgraph.NewBuilder("vtcm").WithModelPath("/models/llm/model_ctx.onnx")
	for _, nc := range [][2]string{{"g0", "shared.bin"}, {"g1", "shared.bin"}, {"g2", "other.bin"}} {
		b.Node(EPContextOpType, nc[0]).Inputs("x").Outputs(nc[0]+"_out").
			IntAttr("main_context", 1).StringAttr("source", "QNN").StringAttr("ep_cache_context", nc[1])
	}
	b.Node(EPContextOpType, "g3").Inputs("x").Outputs("g3_out").
		IntAttr("main_context", 1).StringAttr("source", "QNN") // Embedded: no ep_cache_context.
	g := buildGraph(t, b)

	config := DefaultConfig()
	config.ShareEPContexts = true
	config.EnableVTCMBackupBufferSharing = true
	config.EnableSpillFillBuffer = true
	config.EnableHTPSharedMemoryAllocator = true
	backend := &setupRecorder{}
	e, _, _ := newTestEP(config, WithBackendManager(backend))
	_, err := e.Analyze(g)
	require.NoError(t, err)
	require.Len(t, backend.setups, 1)
	setup := backend.setups[0]
	assert.Equal(t, "vtcm", setup.GraphName)
	assert.True(t, setup.IsContextModel)
	assert.True(t, setup.ShareEPContexts)
	assert.True(t, setup.EnableVTCMBackupBufferSharing)
	assert.True(t, setup.EnableHTPSharedMemoryAllocator)
	assert.False(t, setup.EnableSpillFillBuffer, "spill-fill requires EnableEPContext")
	assert.Equal(t, map[string][]string{
		"/models/llm/shared.bin": {"g0", "g1"},
		"/models/llm/other.bin":  {"g2"},
	}, setup.ContextBinaries)

	// Context cache path overrides the model path.
	config.ContextCachePath = "/cache/out/model_ctx.onnx"
	config.EnableEPContext = true
	e, _, _ = newTestEP(config, WithBackendManager(backend))
	_, err = e.Analyze(g)
	require.NoError(t, err)
	setup = backend.setups[1]
	assert.True(t, setup.EnableSpillFillBuffer)
	assert.Contains(t, setup.ContextBinaries, "/cache/out/shared.bin")

	// Without VTCM sharing the map is not built.
	e, _, _ = newTestEP(DefaultConfig(), WithBackendManager(backend))
	_, err = e.Analyze(g)
	require.NoError(t, err)
	assert.Nil(t, backend.setups[2].ContextBinaries)
	assert.False(t, backend.setups[2].EnableHTPSharedMemoryAllocator)
}

func TestBackendSetupFailure(t *testing.T) {
	errSetup := errors.New("device not available")
	backend := &setupRecorder{err: errSetup}
	e, _, _ := newTestEP(DefaultConfig(), WithBackendManager(backend))
	recorder := &PartitionRecorder{}
	err := e.GetCapability(chainGraph(t, "fail"), recorder)
	require.Error(t, err)
	assert.ErrorIs(t, err, errSetup)
	assert.Contains(t, err.Error(), "SetupBackend failed")
	assert.Empty(t, recorder.Partitions)

	// A later call can succeed.
	backend.err = nil
	require.NoError(t, e.GetCapability(chainGraph(t, "fail"), recorder))
	assert.Len(t, recorder.Partitions, 1)
}

// countingGraph wraps a graph counting the calls to Nodes.
type countingGraph struct {
	hostgraph.Graph
	numNodesCalls int
}

func (g *countingGraph) Nodes() ([]hostgraph.Node, error) {
	g.numNodesCalls++
	return g.Graph.Nodes()
}

func TestSubgraphGuard(t *testing.T) {
	body := floatValues(hostgraph.NewBuilder("body"), "a", "b", "c")
	body.Node("Add", "body_add").Inputs("a", "b").Outputs("c")
	g := buildGraph(t, hostgraph.NewBuilder("main").
		Node("Loop", "loop").Inputs("n", "cond").Outputs("out").Subgraph("body", body).Builder())
	sub := &countingGraph{Graph: g.Subgraphs()[0]}

	backend := &setupRecorder{}
	e, _, _ := newTestEP(DefaultConfig(), WithBackendManager(backend))
	c, err := e.Analyze(sub)
	require.NoError(t, err)
	assert.Empty(t, c.Partitions)
	assert.Equal(t, 0, sub.numNodesCalls, "nodes of a subgraph should not be visited")
	assert.Empty(t, backend.setups)
}

func TestZeroNodes(t *testing.T) {
	backend := &setupRecorder{}
	e, _, _ := newTestEP(DefaultConfig(), WithBackendManager(backend))
	c, err := e.Analyze(buildGraph(t, hostgraph.NewBuilder("empty")))
	require.NoError(t, err)
	assert.Empty(t, c.Partitions)
	assert.Equal(t, Summary{}, c.Summary)
	assert.Empty(t, backend.setups)
}

// faultyGraph returns a fixed list of nodes.
type faultyGraph struct {
	nodes     []hostgraph.Node
	nodesErr  error
	parentErr error
}

func (g *faultyGraph) Name() string      { return "faulty" }
func (g *faultyGraph) ModelPath() string { return "" }
func (g *faultyGraph) ParentNode() (hostgraph.Node, error) {
	return nil, g.parentErr
}
func (g *faultyGraph) Nodes() ([]hostgraph.Node, error) { return g.nodes, g.nodesErr }

// faultyNode wraps a node, failing or panicking on the selected queries.
type faultyNode struct {
	hostgraph.Node
	opTypeErr, inputsErr error

	// panicValue, if not nil, is what OpType panics with.
	panicValue any
}

func (n *faultyNode) OpType() (string, error) {
	if n.panicValue != nil {
		panic(n.panicValue)
	}
	if n.opTypeErr != nil {
		return "", n.opTypeErr
	}
	return n.Node.OpType()
}

func (n *faultyNode) Inputs() ([]hostgraph.TensorInfo, error) {
	if n.inputsErr != nil {
		return nil, n.inputsErr
	}
	return n.Node.Inputs()
}

// failingValidator fails with a host fault.
type failingValidator struct {
	*opbuilder.SimpleOpBuilder
	err error
}

func (v failingValidator) Validate(hostgraph.Node) error { return v.err }

func TestHostFaultsAbort(t *testing.T) {
	g := chainGraph(t, "faults")
	nodes, err := g.Nodes()
	require.NoError(t, err)
	errFault := errors.New("host query failed")
	e, _, _ := newTestEP(DefaultConfig())

	testCases := []struct {
		name  string
		graph hostgraph.Graph
	}{
		{"parent", &faultyGraph{parentErr: errFault}},
		{"nodes", &faultyGraph{nodesErr: errFault}},
		{"op_type", &faultyGraph{nodes: []hostgraph.Node{nodes[0], &faultyNode{Node: nodes[1], opTypeErr: errFault}}}},
		{"inputs", &faultyGraph{nodes: []hostgraph.Node{nodes[0], &faultyNode{Node: nodes[1], inputsErr: errFault}}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := &PartitionRecorder{}
			err := e.GetCapability(tc.graph, recorder)
			require.Error(t, err)
			assert.ErrorIs(t, err, errFault)
			assert.False(t, opbuilder.IsRejection(err))
			assert.Empty(t, recorder.Partitions)
		})
	}

	// Panics are converted to errors, whether or not the panic value is an error.
	for _, panicValue := range []any{errors.New("host crashed"), "host crashed with a string", 42} {
		graph := &faultyGraph{nodes: []hostgraph.Node{&faultyNode{Node: nodes[0], panicValue: panicValue}}}
		require.NotPanics(t, func() { _, err = e.Analyze(graph) })
		require.Error(t, err)
		assert.Contains(t, err.Error(), fmt.Sprint(panicValue))
		assert.Contains(t, err.Error(), `panic while analyzing graph "faulty"`)
		require.NotPanics(t, func() { err = e.GetCapability(graph, &PartitionRecorder{}) })
		require.Error(t, err)
	}

	// Validator faults (as opposed to rejections) abort.
	registrations, err := opbuilder.NewRegistrations(failingValidator{
		SimpleOpBuilder: opbuilder.NewSimpleOpBuilder("Relu", opbuilder.Fixed(1, 1), opbuilder.AllFloat),
		err:             errFault,
	})
	require.NoError(t, err)
	e, _, _ = newTestEP(DefaultConfig(), WithRegistrations(registrations))
	_, err = e.Analyze(g)
	require.ErrorIs(t, err, errFault)
}

// failingSupportInfo rejects every partition.
type failingSupportInfo struct{ err error }

func (f failingSupportInfo) AddNodesToFuse([]hostgraph.Node, FusionOptions) error { return f.err }

// failingAfter accepts the first n partitions and fails on the following ones.
type failingAfter struct {
	PartitionRecorder
	n   int
	err error
}

func (f *failingAfter) AddNodesToFuse(nodes []hostgraph.Node, options FusionOptions) error {
	if len(f.Partitions) >= f.n {
		return f.err
	}
	return f.PartitionRecorder.AddNodesToFuse(nodes, options)
}

func TestReportingFault(t *testing.T) {
	errReport := errors.New("host refused partition")
	e, _, _ := newTestEP(DefaultConfig())
	err := e.GetCapability(chainGraph(t, "report"), failingSupportInfo{errReport})
	require.ErrorIs(t, err, errReport)

	// A failure on the second partition leaves the first one with info, and Analyze returns nothing.
	b := floatValues(hostgraph.NewBuilder("split"), "x", "a", "b", "c")
	b.Node("Relu", "relu1").Inputs("x").Outputs("a")
	b.Node("NonMaxSuppression", "nms").Inputs("a").Outputs("b")
	b.Node("Relu", "relu2").Inputs("b").Outputs("c")
	g := buildGraph(t, b)
	e, _, ids := newTestEP(DefaultConfig())
	info := &failingAfter{n: 1, err: errReport}
	err = e.GetCapability(g, info)
	require.ErrorIs(t, err, errReport)
	hash := issuedHash(t, ids, g)
	assert.Contains(t, err.Error(), fmt.Sprintf("QNN_%d_2", hash))
	require.Len(t, info.Partitions, 1)
	assert.Equal(t, fmt.Sprintf("QNN_%d_1", hash), info.Partitions[0].Name)
	assert.Equal(t, []string{"relu1"}, nodeNames(info.Partitions[0]))

	// Both names were issued before reporting, so a new analysis continues from 3.
	c, err := e.Analyze(g)
	require.NoError(t, err)
	require.Len(t, c.Partitions, 2)
	assert.Equal(t, fmt.Sprintf("QNN_%d_3", hash), c.Partitions[0].Name)
}

func TestLoggerDoesNotChangeResults(t *testing.T) {
	g := chainGraph(t, "logging")
	var results []*Capability
	for _, logger := range []klog.Logger{logr.Discard(), klog.Background(), {}} {
		e, _, _ := newTestEP(DefaultConfig(), WithLogger(logger))
		c, err := e.Analyze(g)
		require.NoError(t, err)
		results = append(results, c)
	}
	for _, c := range results[1:] {
		assert.Equal(t, results[0].Summary, c.Summary)
		require.Len(t, c.Partitions, len(results[0].Partitions))
		for ii, p := range c.Partitions {
			assert.Equal(t, results[0].Partitions[ii].Name, p.Name)
			assert.Equal(t, nodeNames(results[0].Partitions[ii]), nodeNames(p))
		}
	}
}
