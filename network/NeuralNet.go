// Package network implements neural networks on Gorgonia computation
// graphs
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// NeuralNet implements a neural network on a Gorgonia computation
// graph. A NeuralNet adds its forward pass to the graph at
// construction; running a VM of the graph computes the prediction,
// which can be read through Output().
type NeuralNet interface {
	Graph() *G.ExprGraph

	// CloneWithBatch clones the network onto a new graph with a new
	// input batch size, copying weights
	CloneWithBatch(int) (NeuralNet, error)

	BatchSize() int
	Features() int
	Outputs() int

	// SetInput sets the value of the network's input node before
	// running a VM of the network's graph
	SetInput([]float64) error

	// Learnables returns the weights of the network in a fixed,
	// stable order
	Learnables() G.Nodes

	// Model returns the learnables with their gradient values, for
	// use with a Gorgonia solver
	Model() []G.ValueGrad

	// Prediction returns the node holding the network's output and
	// Output returns that node's value after a VM has run
	Prediction() *G.Node
	Output() G.Value
}

// Set sets the weights of dst to be equal to the weights of src. The
// networks may differ in batch size but must share an architecture.
func Set(dst, src NeuralNet) error {
	srcNodes := src.Learnables()
	dstNodes := dst.Learnables()
	if len(srcNodes) != len(dstNodes) {
		return fmt.Errorf("set: networks differ in learnable count "+
			"\n\twant(%v)\n\thave(%v)", len(dstNodes), len(srcNodes))
	}

	for i, dstLearnable := range dstNodes {
		srcLearnable := srcNodes[i].Clone()
		err := G.Let(dstLearnable, srcLearnable.(*G.Node).Value())
		if err != nil {
			return fmt.Errorf("set: could not set learnable %v: %v", i, err)
		}
	}
	return nil
}
