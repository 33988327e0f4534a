package worker

import "github.com/agnivade/levenshtein"

// SimilarityThreshold is the floor above which two issue texts count as
// "the same complaint again".
const SimilarityThreshold = 0.80

// Similarity returns a normalized similarity in [0,1]: one minus the
// character-level edit distance divided by the longer length. Symmetric;
// identical strings score 1, and two empty strings are identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}
	if max == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(max)
}

// similarToAny reports whether text crosses the similarity threshold
// against any previously seen text.
func similarToAny(text string, history []string) bool {
	for _, prev := range history {
		if Similarity(text, prev) >= SimilarityThreshold {
			return true
		}
	}
	return false
}
