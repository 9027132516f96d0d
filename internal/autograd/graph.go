package autograd

import (
	"errors"
)

var (
	// ErrGraphReleased is returned when Backward needs intermediate nodes that
	// an earlier Backward call freed because it did not retain the graph.
	ErrGraphReleased = errors.New("autograd: graph released; retain it on the earlier backward call")

	// ErrNotScalar is returned when Backward is called on a non-1×1 tensor.
	ErrNotScalar = errors.New("autograd: backward requires a 1x1 tensor")

	// ErrNoGraph is returned when the loss does not depend on any parameter.
	ErrNoGraph = errors.New("autograd: tensor does not require grad")
)

// Backward propagates d(loss)/d(node) to every node reachable from loss and
// accumulates the result into parameter gradients. Intermediate gradients are
// recomputed from zero on every call. Unless retainGraph is set, the
// intermediate nodes are released afterwards.
func Backward(loss *Tensor, retainGraph bool) error {
	if loss.Len() != 1 {
		return ErrNotScalar
	}
	if !loss.requiresGrad {
		return ErrNoGraph
	}
	if loss.leaf {
		loss.grad()[0]++
		return nil
	}

	order, err := topoSort(loss)
	if err != nil {
		return err
	}

	for _, n := range order {
		if n.leaf {
			continue
		}
		if n.Grad == nil {
			n.Grad = make([]float64, n.Len())
			continue
		}
		for i := range n.Grad {
			n.Grad[i] = 0
		}
	}
	loss.Grad[0] = 1

	for i := len(order) - 1; i >= 0; i-- {
		if n := order[i]; n.backward != nil {
			n.backward()
		}
	}

	if !retainGraph {
		for _, n := range order {
			if n.leaf {
				continue
			}
			n.released = true
			n.backward = nil
			n.parents = nil
			n.Grad = nil
		}
	}
	return nil
}

// topoSort returns the nodes requiring grad in dependency order, loss last.
func topoSort(root *Tensor) ([]*Tensor, error) {
	var (
		order   []*Tensor
		visited = make(map[*Tensor]bool)
		visit   func(*Tensor) error
	)

	visit = func(n *Tensor) error {
		if visited[n] || !n.requiresGrad {
			return nil
		}
		if n.released {
			return ErrGraphReleased
		}
		visited[n] = true
		for _, p := range n.parents {
			if err := visit(p); err != nil {
				return err
			}
		}
		order = append(order, n)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}
