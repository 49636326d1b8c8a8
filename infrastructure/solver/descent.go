package solver

import (
	"fmt"
	"math"

	"github.com/ahrav/go-consensus/internal/ports"
)

// UpdateFunc computes the new value of one coordinate given the current
// solution vector. Implementations must not modify x.
type UpdateFunc func(coord int, x []float64) (float64, error)

// sweepBudgetFactor bounds the total number of coordinate updates at
// factor*(n+1). The pipeline's objectives are strictly convex per
// coordinate, so hitting the budget means the update function is broken.
const sweepBudgetFactor = 10_000

// CoordinateDescent minimizes a coordinate-wise convex objective by
// repeatedly replacing one coordinate with its exact minimizer.
//
// It maintains a work queue seeded with updatedCoords (all coordinates
// when nil), in ascending coordinate order. Popping coordinate i runs
// update(i, x); when the move exceeds tolerance, every neighbor of i not
// already queued is re-enqueued. Neighborhoods come from the residual
// graph: neighbors[i] lists the coordinates sharing a comparison with i.
//
// The queue is FIFO over coordinate identifiers, so iteration order is a
// pure function of the inputs and the result is deterministic.
func CoordinateDescent(
	update UpdateFunc,
	x0 []float64,
	neighbors [][]int,
	updatedCoords []int,
	tolerance float64,
) ([]float64, error) {
	n := len(x0)
	x := make([]float64, n)
	copy(x, x0)
	if n == 0 {
		return x, nil
	}

	queue := make([]int, 0, n)
	inQueue := make([]bool, n)
	push := func(i int) {
		if !inQueue[i] {
			inQueue[i] = true
			queue = append(queue, i)
		}
	}
	if updatedCoords == nil {
		for i := range n {
			push(i)
		}
	} else {
		for _, i := range updatedCoords {
			if i < 0 || i >= n {
				return nil, fmt.Errorf("coordinate %d out of range [0,%d)", i, n)
			}
			push(i)
		}
	}

	budget := sweepBudgetFactor * (n + 1)
	for steps := 0; len(queue) > 0; steps++ {
		if steps > budget {
			return nil, fmt.Errorf("coordinate descent: %w after %d updates", ports.ErrNoConvergence, steps)
		}
		i := queue[0]
		queue = queue[1:]
		inQueue[i] = false

		xi, err := update(i, x)
		if err != nil {
			return nil, fmt.Errorf("coordinate %d: %w", i, err)
		}
		if math.Abs(xi-x[i]) <= tolerance {
			continue
		}
		x[i] = xi
		for _, j := range neighbors[i] {
			if j != i {
				push(j)
			}
		}
	}
	return x, nil
}
