package routing

// forEachPermutation generates every permutation of [0..n) using the
// iterative form of Heap's algorithm, yielding the same reusable buffer each
// time. Callers must not retain the slice across yields. Returning false
// from yield stops the generation early.
func forEachPermutation(n int, yield func(perm []int) bool) {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	if !yield(perm) {
		return
	}

	counters := make([]int, n)
	i := 0
	for i < n {
		if counters[i] < i {
			if i%2 == 0 {
				perm[0], perm[i] = perm[i], perm[0]
			} else {
				perm[counters[i]], perm[i] = perm[i], perm[counters[i]]
			}
			if !yield(perm) {
				return
			}
			counters[i]++
			i = 0
		} else {
			counters[i] = 0
			i++
		}
	}
}
