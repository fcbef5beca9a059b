package policy

// SelectURL picks the next payload URL to try, skipping URLs whose
// per-URL failure count has reached maxFailuresPerURL and wrapping back
// to index 0 once every URL has been tried (spec.md sec.4.5's URL
// selection/wrap-around rule). It returns -1 if every URL has exhausted
// its failure budget.
func SelectURL(urls []string, failureCounts []uint32, startIndex int, maxFailuresPerURL uint32) int {
	if len(urls) == 0 {
		return -1
	}
	for i := 0; i < len(urls); i++ {
		idx := (startIndex + i) % len(urls)
		var count uint32
		if idx < len(failureCounts) {
			count = failureCounts[idx]
		}
		if count < maxFailuresPerURL {
			return idx
		}
	}
	return -1
}
