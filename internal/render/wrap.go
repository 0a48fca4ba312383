package render

import "strings"

// MeasureFunc returns the width of s in page units.
type MeasureFunc func(s string) float64

// Wrap splits text into lines no wider than maxWidth using greedy word
// wrapping. Runs of whitespace collapse to single spaces. A word wider than
// maxWidth on its own is broken between characters; a single character wider
// than maxWidth still gets a line to itself.
//
// Both backends wrap through this function, differing only in measure.
func Wrap(text string, maxWidth float64, measure MeasureFunc) []string {
	var (
		lines []string
		line  string
	)
	for _, word := range strings.Fields(text) {
		if measure(word) > maxWidth {
			if line != "" {
				lines = append(lines, line)
			}
			pieces := breakWord(word, maxWidth, measure)
			lines = append(lines, pieces[:len(pieces)-1]...)
			line = pieces[len(pieces)-1]
			continue
		}
		if line == "" {
			line = word
			continue
		}
		candidate := line + " " + word
		if measure(candidate) <= maxWidth {
			line = candidate
			continue
		}
		lines = append(lines, line)
		line = word
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

func breakWord(word string, maxWidth float64, measure MeasureFunc) []string {
	var (
		pieces []string
		cur    []rune
	)
	for _, r := range word {
		next := append(cur, r)
		if len(cur) > 0 && measure(string(next)) > maxWidth {
			pieces = append(pieces, string(cur))
			cur = []rune{r}
			continue
		}
		cur = next
	}
	if len(cur) > 0 {
		pieces = append(pieces, string(cur))
	}
	return pieces
}
