package trpo

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// numParams returns the total number of scalar parameters held by the
// argument nodes
func numParams(nodes G.Nodes) int {
	n := 0
	for _, node := range nodes {
		n += node.Shape().TotalSize()
	}
	return n
}

// flattenParams concatenates the values of the argument nodes into a
// single flat vector, in the order the nodes are given. Matrices are
// flattened in row major order.
func flattenParams(nodes G.Nodes) []float64 {
	flat := make([]float64, 0, numParams(nodes))
	for _, node := range nodes {
		flat = append(flat, node.Value().Data().([]float64)...)
	}
	return flat
}

// flattenGrads concatenates the accumulated gradients of the argument
// nodes into a single flat vector, in the same order and layout as
// flattenParams.
func flattenGrads(nodes G.Nodes) ([]float64, error) {
	flat := make([]float64, 0, numParams(nodes))
	for _, node := range nodes {
		grad, err := node.Grad()
		if err != nil {
			return nil, fmt.Errorf("flattenGrads: could not get gradient "+
				"of %v: %v", node.Name(), err)
		}
		flat = append(flat, grad.Data().([]float64)...)
	}
	return flat, nil
}

// setParams writes a flat parameter vector back into the argument
// nodes, slicing it in the order and layout produced by flattenParams.
func setParams(flat []float64, nodes G.Nodes) error {
	if len(flat) != numParams(nodes) {
		return fmt.Errorf("setParams: illegal parameter vector length"+
			"\n\twant(%v)\n\thave(%v)", numParams(nodes), len(flat))
	}

	offset := 0
	for _, node := range nodes {
		size := node.Shape().TotalSize()
		backing := make([]float64, size)
		copy(backing, flat[offset:offset+size])
		offset += size

		value := tensor.NewDense(
			tensor.Float64,
			node.Shape(),
			tensor.WithBacking(backing),
		)
		if err := G.Let(node, value); err != nil {
			return fmt.Errorf("setParams: could not set %v: %v",
				node.Name(), err)
		}
	}
	return nil
}
