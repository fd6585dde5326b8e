package agenticloop

import (
	"strings"
	"testing"
)

func TestRepetitionDetectorFindsExactRepeat(t *testing.T) {
	d := NewRepetitionDetector()
	d.Push(strings.Repeat("the cat sat on the mat. ", 10))

	found, desc := d.DetectLoop()
	if !found {
		t.Fatal("expected a repeating pattern to be detected")
	}
	if strings.Contains(desc, "(normalized)") {
		t.Fatalf("expected an exact-match detection, got normalized: %q", desc)
	}
}

func TestRepetitionDetectorNormalizedPass(t *testing.T) {
	d := NewRepetitionDetector()
	var b strings.Builder
	// Casing alternates and the trailing whitespace grows every repeat, so
	// the raw text has no exact period; only the normalized copy repeats.
	for i := 0; i < 12; i++ {
		if i%2 == 0 {
			b.WriteString("Repeat Forever Please")
		} else {
			b.WriteString("repeat forever please")
		}
		b.WriteString(strings.Repeat(" ", i+1))
	}
	d.Push(b.String())

	found, desc := d.DetectLoop()
	if !found {
		t.Fatal("expected the normalized pass to catch a case/whitespace-varying repeat")
	}
	if !strings.Contains(desc, "(normalized)") {
		t.Fatalf("expected a normalized detection, got: %q", desc)
	}
}

func TestRepetitionDetectorNoFalsePositiveOnVariedText(t *testing.T) {
	d := NewRepetitionDetector()
	d.Push("The quick brown fox jumps over the lazy dog, and then wanders off into the forest looking for something else entirely to do with its afternoon.")

	if found, desc := d.DetectLoop(); found {
		t.Fatalf("expected no detection on varied prose, got: %q", desc)
	}
}

func TestRepetitionDetectorBufferStaysBounded(t *testing.T) {
	d := NewRepetitionDetector()
	d.Push(strings.Repeat("x", repetitionBufferCap*3))

	if got := d.buf.Len(); got != repetitionBufferCap {
		t.Fatalf("expected buffer capped at %d bytes, got %d", repetitionBufferCap, got)
	}
}

func TestRepetitionDetectorTrimsOnRuneBoundary(t *testing.T) {
	d := NewRepetitionDetector()
	// multi-byte rune straddling the trim point must not be split
	d.Push(strings.Repeat("a", repetitionBufferCap-1) + "日本語テキスト")

	s := d.buf.String()
	if !strings.HasSuffix(s, "テキスト") {
		t.Fatalf("expected trailing multi-byte text preserved intact, got tail: %q", s[len(s)-20:])
	}
}

func TestRepetitionDetectorResetClearsState(t *testing.T) {
	d := NewRepetitionDetector()
	d.Push(strings.Repeat("loop loop loop ", 10))
	d.Reset()

	if d.buf.Len() != 0 {
		t.Fatalf("expected buffer empty after reset, got %d bytes", d.buf.Len())
	}
	if found, _ := d.DetectLoop(); found {
		t.Fatal("expected no detection on an empty buffer after reset")
	}
}

func TestDetectInStringShortTextNeverTriggers(t *testing.T) {
	if _, _, found := detectInString("ab"); found {
		t.Fatal("expected no detection on text shorter than the minimum period window")
	}
}
