package portfolio

// forEachCombination calls fn with every k-combination of [0, n) in
// lexicographic order. It stops early and returns false when fn does.
// The idx slice is reused between calls.
func forEachCombination(n, k int, fn func(idx []int) bool) bool {
	if k < 0 || k > n {
		return true
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		if !fn(idx) {
			return false
		}
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return true
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
