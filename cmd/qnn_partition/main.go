// qnn_partition reports which nodes of ONNX models the QNN execution provider would offload, and
// how they would be grouped into partitions.
//
// Usage:
//
//	qnn_partition [flags] model.onnx [model2.onnx ...]
//
// Models are analyzed concurrently, sharing the process-wide shared contexts and partition names.
// With -share_contexts they are analyzed one at a time, in the order given.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/gomlx/qnn-ep/ep"
	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/gomlx/qnn-ep/internal/onnxgraph"
	"github.com/janpfeifer/must"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagContextEnable = flag.Bool("ep_context", false, "Enables the use of precompiled EPContext models.")
	flagShareContexts = flag.Bool("share_contexts", false,
		"Shares precompiled contexts across the models analyzed. Models are then analyzed one at a time, in "+
			"the order given: the first model with a given context initializes the backend, the following "+
			"ones take the shared fast path.")
	flagVTCMSharing = flag.Bool("vtcm_sharing", false,
		"Enables VTCM backup buffer sharing of context binaries, requires -share_contexts.")
	flagHTPSharedMemory = flag.Bool("htp_shared_memory", false, "Enables the HTP shared memory allocator.")
	flagPrefix          = flag.String("prefix", "", "Prefix inserted in the partition names: QNN<prefix>_<hash>_<id>.")
	flagCachePath       = flag.String("cache_path", "",
		"Path used instead of the model path to resolve EPContext binary files.")

	flagPartitions  = flag.Bool("partitions", true, "Lists the partitions of each model.")
	flagUnsupported = flag.Bool("unsupported", false, "Lists the nodes not supported, with the reason.")
	flagOps         = flag.Bool("ops", false, "Lists the operator types supported by the execution provider and exit.")
	flagParallelism = flag.Int("parallelism", runtime.NumCPU(), "Maximum number of models analyzed concurrently.")
	flagORT         = flag.String("ort", "",
		"Path to the ONNX Runtime shared library, or \"env\" to use $ORT_SO_PATH. If set, the element types "+
			"and shapes of the models inputs and outputs are cross-checked against ONNX Runtime.")
)

// sessionOptions converts the flags to the session options read by ep.ConfigFromSessionOptions.
func sessionOptions() map[string]string {
	boolOption := func(v bool) string {
		if v {
			return "1"
		}
		return "0"
	}
	return map[string]string{
		ep.OptionContextEnable:                 boolOption(*flagContextEnable),
		ep.OptionShareEPContexts:               boolOption(*flagShareContexts),
		ep.OptionEnableVTCMBackupBufferSharing: boolOption(*flagVTCMSharing),
		ep.OptionEnableHTPSharedMemory:         boolOption(*flagHTPSharedMemory),
		ep.OptionContextNodeNamePrefix:         *flagPrefix,
		ep.OptionContextFilePath:               *flagCachePath,
	}
}

// modelReport holds the analysis of one model.
type modelReport struct {
	path       string
	capability *ep.Capability
	mismatches []ortMismatch
}

// graphLoader reads the host graph of a model.
type graphLoader func(modelPath string) (*hostgraph.MemGraph, error)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	config, err := ep.ConfigFromSessionOptions(sessionOptions())
	if err != nil {
		klog.Errorf("Invalid flags: %+v", err)
		os.Exit(1)
	}
	qnn := ep.New(config)
	if *flagOps {
		fmt.Println(renderSupportedOps(qnn))
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing ONNX model(s) to analyze. See 'qnn_partition -help'")
		os.Exit(1)
	}

	ortLib := ortLibraryPath(*flagORT)
	if ortLib != "" {
		closeORT := must.M1(initORT(ortLib))
		defer closeORT()
	}

	reports, err := analyzeModels(qnn, args, onnxgraph.ReadFile, *flagParallelism, ortLib != "")
	if err != nil {
		klog.Errorf("Failed: %+v", err)
		os.Exit(1)
	}

	fmt.Println(renderSummary(reports))
	for _, report := range reports {
		if *flagPartitions && len(report.capability.Partitions) > 0 {
			fmt.Println(titleStyle.Render("Partitions: " + report.path))
			fmt.Println(renderPartitions(report.capability))
		}
		if *flagUnsupported && len(report.capability.Rejected) > 0 {
			fmt.Println(titleStyle.Render("Unsupported: " + report.path))
			fmt.Println(renderUnsupported(report.capability.Rejected))
		}
		if len(report.mismatches) > 0 {
			fmt.Println(titleStyle.Render("ONNX Runtime mismatches: " + report.path))
			fmt.Println(renderMismatches(report.mismatches))
		}
	}
}

// analyzeModels analyzes the models concurrently, at most parallelism at a time, and returns the
// reports in the same order as modelPaths. If withORT is set, each model is also cross-checked
// with ONNX Runtime, which must have been initialized.
//
// If the EP shares contexts, models are analyzed one at a time in the order given: a model whose
// contexts were published by a previous one (the producer) takes the shared fast path.
func analyzeModels(qnn *ep.EP, modelPaths []string, load graphLoader, parallelism int, withORT bool) ([]*modelReport, error) {
	if qnn.Config().ShareEPContexts {
		parallelism = 1
	}
	reports := make([]*modelReport, len(modelPaths))
	var g errgroup.Group
	g.SetLimit(max(parallelism, 1))
	for ii, modelPath := range modelPaths {
		g.Go(func() error {
			report, err := analyzeModel(qnn, modelPath, load, withORT)
			if err != nil {
				return err
			}
			reports[ii] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// analyzeModel reads and analyzes one model.
func analyzeModel(qnn *ep.EP, modelPath string, load graphLoader, withORT bool) (*modelReport, error) {
	graph, err := load(modelPath)
	if err != nil {
		return nil, err
	}
	capability, err := qnn.Analyze(graph)
	if err != nil {
		return nil, err
	}
	report := &modelReport{path: modelPath, capability: capability}
	if withORT {
		report.mismatches, err = checkWithORT(modelPath, graph)
		if err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("%s: %d partitions, %d/%d nodes supported", modelPath,
		capability.Summary.NumPartitions, capability.Summary.NumSupportedNodes, capability.Summary.NumNodes)
	return report, nil
}
