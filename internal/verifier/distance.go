package verifier

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// editDistanceOne reports whether a and b differ by exactly one
// insertion, deletion, or substitution. Identical strings return false;
// an identical name is not a typosquat of itself.
func editDistanceOne(a, b string) bool {
	if a == b {
		return false
	}
	la, lb := len(a), len(b)
	if la-lb > 1 || lb-la > 1 {
		return false
	}
	if la == lb {
		diffs := 0
		for i := 0; i < la; i++ {
			if a[i] != b[i] {
				diffs++
				if diffs > 1 {
					return false
				}
			}
		}
		return diffs == 1
	}
	// One insertion/deletion: make a the shorter string.
	if la > lb {
		a, b = b, a
		la, lb = lb, la
	}
	i, j, skips := 0, 0, 0
	for i < la && j < lb {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		skips++
		if skips > 1 {
			return false
		}
		j++
	}
	return true
}

// adjacentSwap reports whether swapping one adjacent character pair in a
// yields b (e.g. "stirpe" → "stripe").
func adjacentSwap(a, b string) bool {
	if len(a) != len(b) || a == b {
		return false
	}
	ra := []byte(a)
	for i := 0; i < len(ra)-1; i++ {
		ra[i], ra[i+1] = ra[i+1], ra[i]
		if string(ra) == b {
			return true
		}
		ra[i], ra[i+1] = ra[i+1], ra[i]
	}
	return false
}

// confusables maps visually deceptive characters to their ASCII
// skeleton. Covers the Cyrillic and Greek letters most abused in
// homograph attacks plus common digit substitutions.
var confusables = map[rune]rune{
	// Cyrillic lookalikes.
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x',
	'у': 'y', 'і': 'i', 'ѕ': 's', 'ј': 'j', 'ԁ': 'd', 'ɡ': 'g',
	// Greek lookalikes.
	'ο': 'o', 'ν': 'v', 'α': 'a', 'ρ': 'p', 'τ': 't',
	// Digit and symbol substitutions.
	'0': 'o', '1': 'l', '3': 'e', '4': 'a', '5': 's', '7': 't',
}

// skeleton folds a name to its ASCII skeleton: NFKC normalization (which
// collapses fullwidth and compatibility forms) followed by confusable
// substitution and lowercasing.
func skeleton(name string) string {
	folded := norm.NFKC.String(strings.ToLower(name))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if mapped, ok := confusables[r]; ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// homographOf reports whether name is a disguised form of target: their
// skeletons match but the raw names differ.
func homographOf(name, target string) bool {
	if strings.EqualFold(name, target) {
		return false
	}
	return skeleton(name) == skeleton(target)
}
