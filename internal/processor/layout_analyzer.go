/**
 * Layout Analyzer
 *
 * Puts word tokens in reading order. Engines that report tesseract's
 * page/block/paragraph/line indices are ordered by those; engines that only
 * report boxes are grouped into lines geometrically (tops within half the
 * median word height), then read left to right.
 */

package processor

import (
	"sort"
)

// OrderTokens returns tokens in reading order. Tokens without layout indices
// get Line and Word assigned from their geometry.
func OrderTokens(tokens []WordToken) []WordToken {
	out := make([]WordToken, len(tokens))
	copy(out, tokens)
	if len(out) < 2 {
		return out
	}

	if hasLayoutIndices(out) {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if a.Page != b.Page {
				return a.Page < b.Page
			}
			if a.Block != b.Block {
				return a.Block < b.Block
			}
			if a.Paragraph != b.Paragraph {
				return a.Paragraph < b.Paragraph
			}
			if a.Line != b.Line {
				return a.Line < b.Line
			}
			return a.Word < b.Word
		})
		return out
	}

	return groupLines(out)
}

func hasLayoutIndices(tokens []WordToken) bool {
	for _, t := range tokens {
		if t.Line != 0 || t.Block != 0 {
			return true
		}
	}
	return false
}

// groupLines clusters tokens by vertical position
func groupLines(tokens []WordToken) []WordToken {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].BoundingBox.Y < tokens[j].BoundingBox.Y
	})

	tolerance := medianHeight(tokens) / 2
	if tolerance < 1 {
		tolerance = 1
	}

	line := 1
	lineTop := tokens[0].BoundingBox.Y
	for i := range tokens {
		if abs(tokens[i].BoundingBox.Y-lineTop) > tolerance {
			line++
			lineTop = tokens[i].BoundingBox.Y
		}
		tokens[i].Line = line
	}

	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].Line != tokens[j].Line {
			return tokens[i].Line < tokens[j].Line
		}
		return tokens[i].BoundingBox.X < tokens[j].BoundingBox.X
	})

	word := 0
	for i := range tokens {
		if i > 0 && tokens[i].Line != tokens[i-1].Line {
			word = 0
		}
		word++
		tokens[i].Word = word
	}
	return tokens
}

func medianHeight(tokens []WordToken) int {
	heights := make([]int, 0, len(tokens))
	for _, t := range tokens {
		if t.BoundingBox.Height > 0 {
			heights = append(heights, t.BoundingBox.Height)
		}
	}
	if len(heights) == 0 {
		return 0
	}
	sort.Ints(heights)
	return heights[len(heights)/2]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
