package analysis

import "math"

const (
	// expectedAnswerChars is the assumed length of a complete agent answer
	expectedAnswerChars = 3000
	previewRunes        = 150
)

// EstimateProgress approximates streaming progress from the characters received so far.
// It assumes an average answer length and never reports more than 90 before the answer completes,
// so it is an indication only, not a measure of remaining work.
func EstimateProgress(chars int) int {
	p := int(math.Round(float64(chars)/expectedAnswerChars*85)) + 10
	return min(90, p)
}

// Preview returns the tail of streamed text shown next to an agent
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[len(r)-previewRunes:])
}
