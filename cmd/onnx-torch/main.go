// onnx-torch lowers ONNX models to the Torch dialect and legalizes their types for a
// backend. See `onnx-torch help`.
package main

import (
	"os"

	"github.com/gomlx/onnx-torch/internal/cli"
	"k8s.io/klog/v2"
)

func main() {
	err := cli.NewRootCommand().Execute()
	klog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
