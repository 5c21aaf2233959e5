package optimization

import "sort"

// maxCells bounds the knapsack table size. Budgets that would need more cells
// are solved on a coarser token grid.
const maxCells = 1 << 20

// Selection is the outcome of Select.
type Selection struct {
	// Indices into the candidate slice, ascending.
	Indices []int
	Tokens  int
	Score   float64
}

// Select picks the subset of candidates with the highest total score whose
// total cost does not exceed budget.
//
// Pinned candidates are reserved first, newest first, as long as they fit.
// Candidates that cost nothing and have a positive score are always kept.
// The rest are chosen by dynamic programming over token capacity; when the
// table would exceed maxCells, costs are rounded up to a coarser unit so the
// result may be slightly suboptimal but never over budget.
func Select(candidates []Candidate, budget int) Selection {
	var sel Selection
	if budget <= 0 {
		return sel
	}

	chosen := make([]bool, len(candidates))
	remaining := budget

	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		if c.Pinned && c.Cost() <= remaining {
			chosen[i] = true
			remaining -= c.Cost()
		}
	}

	var pool []int
	for i, c := range candidates {
		if chosen[i] || c.Pinned || c.Score <= 0 {
			continue
		}
		if c.Cost() == 0 {
			chosen[i] = true
			continue
		}
		if c.Cost() <= remaining {
			pool = append(pool, i)
		}
	}

	for _, i := range knapsack(candidates, pool, remaining) {
		chosen[i] = true
	}

	for i, ok := range chosen {
		if ok {
			sel.Indices = append(sel.Indices, i)
			sel.Tokens += candidates[i].Cost()
			sel.Score += candidates[i].Score
		}
	}
	return sel
}

// knapsack solves 0/1 knapsack over the pool and returns the chosen indices.
func knapsack(candidates []Candidate, pool []int, capacity int) []int {
	n := len(pool)
	if n == 0 || capacity <= 0 {
		return nil
	}

	unit := 1
	if cells := n * (capacity + 1); cells > maxCells {
		unit = (cells + maxCells - 1) / maxCells
	}
	qcap := capacity / unit

	cost := make([]int, n)
	for k, i := range pool {
		c := candidates[i].Cost()
		cost[k] = (c + unit - 1) / unit
	}

	best := make([]float64, qcap+1)
	take := make([][]bool, n)
	for k := 0; k < n; k++ {
		take[k] = make([]bool, qcap+1)
		score := candidates[pool[k]].Score
		for w := qcap; w >= cost[k]; w-- {
			if v := best[w-cost[k]] + score; v > best[w] {
				best[w] = v
				take[k][w] = true
			}
		}
	}

	var picked []int
	w := qcap
	for k := n - 1; k >= 0; k-- {
		if take[k][w] {
			picked = append(picked, pool[k])
			w -= cost[k]
		}
	}
	sort.Ints(picked)
	return picked
}

// Trim scores candidates with s and returns the ones that fit budget, in order.
func Trim(s Scorer, candidates []Candidate, budget int) []Candidate {
	scored := make([]Candidate, len(candidates))
	copy(scored, candidates)
	s.ScoreAll(scored)

	sel := Select(scored, budget)
	out := make([]Candidate, 0, len(sel.Indices))
	for _, i := range sel.Indices {
		out = append(out, scored[i])
	}
	return out
}
