package ordering

import "sort"

// Strategy computes an elimination order over a variable subset.
//
// variables is the subset to order (current indices). factorSets lists, per
// factor, the variables it touches; only members of the subset are relevant.
// groups assigns constraint group ids: a variable in a higher group is always
// eliminated after every variable of any lower group. Variables without an
// entry belong to group 0.
type Strategy interface {
	ComputeOrdering(variables []int, factorSets [][]int, groups map[int]int) []int
}

// MinDegree is a greedy minimum-degree ordering on the variable adjacency
// induced by the factor sets. Within a constraint group the variable with the
// fewest remaining neighbors is eliminated next, ties broken by the lowest
// current index; eliminating a variable connects its remaining neighbors, in
// the usual quotient-graph fashion.
type MinDegree struct{}

// ComputeOrdering implements Strategy.
func (MinDegree) ComputeOrdering(variables []int, factorSets [][]int, groups map[int]int) []int {
	inSubset := make(map[int]bool, len(variables))
	for _, v := range variables {
		inSubset[v] = true
	}

	adj := make(map[int]map[int]bool, len(variables))
	for _, v := range variables {
		adj[v] = make(map[int]bool)
	}
	for _, set := range factorSets {
		for _, a := range set {
			if !inSubset[a] {
				continue
			}
			for _, b := range set {
				if a != b && inSubset[b] {
					adj[a][b] = true
				}
			}
		}
	}

	// Bucket by constraint group, lower groups first.
	byGroup := make(map[int][]int)
	var groupIDs []int
	for _, v := range variables {
		g := groups[v]
		if _, ok := byGroup[g]; !ok {
			groupIDs = append(groupIDs, g)
		}
		byGroup[g] = append(byGroup[g], v)
	}
	sort.Ints(groupIDs)

	eliminated := make(map[int]bool, len(variables))
	order := make([]int, 0, len(variables))

	for _, g := range groupIDs {
		remaining := append([]int(nil), byGroup[g]...)
		sort.Ints(remaining)
		for len(remaining) > 0 {
			best, bestAt := -1, -1
			bestDeg := int(^uint(0) >> 1)
			for at, v := range remaining {
				deg := 0
				for n := range adj[v] {
					if !eliminated[n] {
						deg++
					}
				}
				if deg < bestDeg || (deg == bestDeg && v < best) {
					best, bestAt, bestDeg = v, at, deg
				}
			}

			// Quotient-graph fill: surviving neighbors become a clique.
			var nbrs []int
			for n := range adj[best] {
				if !eliminated[n] {
					nbrs = append(nbrs, n)
				}
			}
			for _, a := range nbrs {
				for _, b := range nbrs {
					if a != b {
						adj[a][b] = true
					}
				}
			}

			eliminated[best] = true
			order = append(order, best)
			remaining = append(remaining[:bestAt], remaining[bestAt+1:]...)
		}
	}
	return order
}
