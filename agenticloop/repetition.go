// Package agenticloop drives the tool-calling cascade: it resolves tool
// capabilities, calls the model, parses its response, dispatches tool calls,
// folds the results into the Tier 2/Tier 3 state machines, and decides
// whether another round is needed.
//
// Ported from the original python-sandbox-adjacent Tauri app's
// repetition_detector.rs, which watched a streaming model response for a
// model stuck emitting the same text over and over and cut the stream short
// rather than waiting out the full generation.
package agenticloop

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	repetitionBufferCap  = 2000
	repetitionMinReps    = 3
	repetitionScoreFloor = 100
	previewCharLimit     = 50
	previewTruncateAt    = 47
)

// RepetitionDetector watches a rolling window of streamed text for a model
// that has gotten stuck repeating itself. It holds only the trailing
// repetitionBufferCap characters — old text falls off the front as new text
// is pushed, so cost stays bounded however long the stream runs.
type RepetitionDetector struct {
	buf strings.Builder
}

// NewRepetitionDetector returns a detector with an empty buffer.
func NewRepetitionDetector() *RepetitionDetector {
	return &RepetitionDetector{}
}

// Push appends newly streamed text and trims the buffer back down to
// repetitionBufferCap characters, always cutting on a rune boundary so a
// multi-byte character is never split.
func (d *RepetitionDetector) Push(text string) {
	d.buf.WriteString(text)
	s := d.buf.String()
	if utf8.RuneCountInString(s) <= repetitionBufferCap {
		return
	}
	runes := []rune(s)
	trimmed := string(runes[len(runes)-repetitionBufferCap:])
	d.buf.Reset()
	d.buf.WriteString(trimmed)
}

// Reset clears the buffer, for the start of a new model turn.
func (d *RepetitionDetector) Reset() {
	d.buf.Reset()
}

// DetectLoop reports whether the current buffer looks like a model stuck in
// a repetition loop. It first tries an exact-match pass over the raw text;
// if that finds nothing it retries on a whitespace-stripped, lowercased copy
// so that a model alternating whitespace or casing between repeats is still
// caught, at the cost of a coarser false-positive bar (the match is reported
// with a " (normalized)" suffix so callers can tell which pass fired).
func (d *RepetitionDetector) DetectLoop() (found bool, description string) {
	text := d.buf.String()
	if pattern, reps, ok := detectInString(text); ok {
		return true, formatDetection(pattern, reps, false)
	}

	normalized := normalize(text)
	if pattern, reps, ok := detectInString(normalized); ok {
		return true, formatDetection(pattern, reps, true)
	}

	return false, ""
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !isSpace(r) {
			b.WriteRune(toLower(r))
		}
	}
	return b.String()
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// detectInString runs the core period-detection algorithm: for each
// candidate period length l (in bytes) from 1 up to n/repetitionMinReps, it
// counts how many trailing bytes repeat with that period, derives the
// implied repetition count, and fires as soon as both the repetition count
// and the total matched length clear their thresholds. Shorter periods are
// tried first, so the tightest (most specific) repeating pattern wins.
func detectInString(s string) (pattern string, reps int, found bool) {
	b := []byte(s)
	n := len(b)
	if n == 0 {
		return "", 0, false
	}

	maxPeriod := n / repetitionMinReps
	for l := 1; l <= maxPeriod; l++ {
		matching := 0
		for i := n - 1 - l; i >= 0; i-- {
			if b[i] != b[i+l] {
				break
			}
			matching++
		}
		r := matching/l + 1
		if r < repetitionMinReps {
			continue
		}
		patternBytes := b[n-l:]
		patternCharLen := utf8.RuneCount(patternBytes)
		if patternCharLen*r <= repetitionScoreFloor {
			continue
		}
		return string(patternBytes), r, true
	}
	return "", 0, false
}

func formatDetection(pattern string, reps int, normalized bool) string {
	preview := pattern
	runes := []rune(preview)
	if len(runes) > previewCharLimit {
		preview = string(runes[:previewTruncateAt]) + "..."
	}
	suffix := ""
	if normalized {
		suffix = " (normalized)"
	}
	return "repeating pattern " + quote(preview) + " x" + strconv.Itoa(reps) + suffix
}

func quote(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}
