// Package onnx runs the SCRFD face detector and the genderage attribute
// model in-process with ONNX Runtime.
package onnx

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/andresmejia3/facecensus/internal/pipeline"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envMu    sync.Mutex
	envUsers int
)

// Init loads the ONNX Runtime shared library. Every successful Init must be
// paired with a Destroy; the environment is torn down with the last one.
func Init(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envUsers > 0 {
		envUsers++
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: initialize onnxruntime: %w", pipeline.ErrModelLoad, err)
	}
	envUsers = 1
	return nil
}

// Destroy releases one Init.
func Destroy() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envUsers == 0 {
		return nil
	}
	envUsers--
	if envUsers > 0 {
		return nil
	}
	return ort.DestroyEnvironment()
}

func newSessionOptions(threads int) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		options.Destroy()
		return nil, err
	}
	if err := options.SetInterOpNumThreads(threads); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

// ioNames reads the input and output tensor names stored in the model,
// along with the rank of every output.
func ioNames(path string) ([]string, []string, []int, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, nil, nil, err
	}
	in := make([]string, len(inputs))
	for i, info := range inputs {
		in[i] = info.Name
	}
	out := make([]string, len(outputs))
	ranks := make([]int, len(outputs))
	for i, info := range outputs {
		out[i] = info.Name
		ranks[i] = len(info.Dimensions)
	}
	return in, out, ranks, nil
}

func destroyTensors(ts []*ort.Tensor[float32]) {
	for _, t := range ts {
		if t != nil {
			t.Destroy()
		}
	}
}
