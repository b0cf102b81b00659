package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/gomlx/qnn-ep/hostgraph"
	"github.com/gomlx/qnn-ep/internal/onnxgraph"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ortMismatch is a model input or output whose type, as read by ONNX Runtime, differs from the host graph.
type ortMismatch struct {
	direction, name string
	ort, host       string
}

// ortLibraryPath resolves the -ort flag: "env" reads ORT_SO_PATH.
func ortLibraryPath(flagValue string) string {
	if flagValue == "env" {
		return os.Getenv("ORT_SO_PATH")
	}
	return flagValue
}

// initORT loads the ONNX Runtime library. The returned function destroys the environment.
func initORT(libraryPath string) (func(), error) {
	ort.SetSharedLibraryPath(libraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrapf(err, "failed to initialize ONNX Runtime from %q", libraryPath)
	}
	return func() { _ = ort.DestroyEnvironment() }, nil
}

// graphValues collects the inputs and outputs of all nodes of the graph, by name.
func graphValues(graph hostgraph.Graph) (map[string]hostgraph.TensorInfo, error) {
	nodes, err := graph.Nodes()
	if err != nil {
		return nil, err
	}
	values := make(map[string]hostgraph.TensorInfo)
	for _, node := range nodes {
		inputs, err := node.Inputs()
		if err != nil {
			return nil, err
		}
		outputs, err := node.Outputs()
		if err != nil {
			return nil, err
		}
		for _, info := range slices.Concat(inputs, outputs) {
			if info.Name != "" {
				values[info.Name] = info
			}
		}
	}
	return values, nil
}

// checkWithORT compares the element type and shape of the model inputs and outputs, as read by ONNX
// Runtime, with the ones seen by the host graph nodes.
func checkWithORT(modelPath string, graph hostgraph.Graph) ([]ortMismatch, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "ONNX Runtime failed to read inputs/outputs of %q", modelPath)
	}
	values, err := graphValues(graph)
	if err != nil {
		return nil, err
	}
	var mismatches []ortMismatch
	check := func(direction string, infos []ort.InputOutputInfo) {
		for _, info := range infos {
			if info.OrtValueType != ort.ONNXTypeTensor {
				continue
			}
			dtype := onnxgraph.DTypeForONNX(int64(info.DataType))
			ortDesc := fmt.Sprintf("%s%v", dtype, []int64(info.Dimensions))
			value, found := values[info.Name]
			if !found {
				mismatches = append(mismatches, ortMismatch{direction, info.Name, ortDesc, "<not used by any node>"})
				continue
			}
			if value.DType != dtype || !sameDims(info.Dimensions, value.Shape) {
				mismatches = append(mismatches, ortMismatch{direction, info.Name, ortDesc,
					fmt.Sprintf("%s%v", value.DType, value.Shape)})
			}
		}
	}
	check("input", inputs)
	check("output", outputs)
	return mismatches, nil
}

// sameDims compares ONNX Runtime dimensions with the host graph shape. A host shape that is not
// known matches anything.
func sameDims(ortDims []int64, shape []int) bool {
	if shape == nil {
		return true
	}
	return slices.EqualFunc(ortDims, shape, func(d int64, s int) bool { return int(d) == s })
}
