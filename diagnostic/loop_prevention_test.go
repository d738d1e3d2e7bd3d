package diagnostic

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func syntaxError(msg string) CompileError {
	return CompileError{Type: ErrorSyntax, Severity: SeverityError, Message: msg}
}

func linkingError(msg string) CompileError {
	return CompileError{Type: ErrorLinking, Severity: SeverityError, Message: msg}
}

func TestErrorSignatureOrderIndependent(t *testing.T) {
	a := []CompileError{syntaxError("unexpected token"), linkingError("undefined symbol")}
	b := []CompileError{linkingError("undefined symbol"), syntaxError("unexpected token")}

	if got, want := ErrorSignature(a), ErrorSignature(b); got != want {
		t.Fatalf("signatures differ under permutation: %q vs %q", got, want)
	}
}

func TestErrorSignatureIgnoresWarnings(t *testing.T) {
	errs := []CompileError{
		syntaxError("unexpected token"),
		{Type: ErrorValidation, Severity: SeverityWarning, Message: "large shader"},
	}
	if got, want := ErrorSignature(errs), "syntax:unexpected token"; got != want {
		t.Fatalf("signature = %q, want %q", got, want)
	}
}

func TestErrorSignatureEmptyWithoutErrors(t *testing.T) {
	if got := ErrorSignature(nil); got != "" {
		t.Fatalf("signature of empty list = %q, want empty", got)
	}
}

func TestDetectLoopThreshold(t *testing.T) {
	lp := NewLoopPrevention()
	errs := []CompileError{syntaxError("unexpected token")}

	lp.Record("a.slang", errs, "", false)
	lp.Record("a.slang", errs, "", false)
	if d := lp.Detect("a.slang"); d.IsLoop {
		t.Fatalf("loop detected after 2 identical failures, want none")
	}

	lp.Record("a.slang", errs, "", false)
	d := lp.Detect("a.slang")
	if !d.IsLoop {
		t.Fatalf("no loop detected after 3 identical failures")
	}
	if d.Occurrences != 3 {
		t.Fatalf("occurrences = %d, want 3", d.Occurrences)
	}
	if d.Confidence != 1 {
		t.Fatalf("confidence = %v, want 1", d.Confidence)
	}
	if d.Escalate {
		t.Fatalf("escalation recommended at 3 attempts, want 5")
	}
}

func TestDetectLoopEscalation(t *testing.T) {
	lp := NewLoopPrevention()
	errs := []CompileError{linkingError("undefined symbol")}

	for i := 0; i < 5; i++ {
		lp.Record("a.slang", errs, "", false)
	}
	if d := lp.Detect("a.slang"); !d.Escalate {
		t.Fatalf("no escalation after 5 attempts")
	}
}

func TestDetectLoopDistinctSignatures(t *testing.T) {
	lp := NewLoopPrevention()
	lp.Record("a.slang", []CompileError{syntaxError("error one")}, "", false)
	lp.Record("a.slang", []CompileError{syntaxError("error two")}, "", false)
	lp.Record("a.slang", []CompileError{syntaxError("error three")}, "", false)

	if d := lp.Detect("a.slang"); d.IsLoop {
		t.Fatalf("loop detected across distinct signatures")
	}
}

func TestDetectLoopPerPathIsolation(t *testing.T) {
	lp := NewLoopPrevention()
	errs := []CompileError{syntaxError("unexpected token")}
	for i := 0; i < 3; i++ {
		lp.Record("a.slang", errs, "", false)
	}
	if d := lp.Detect("b.slang"); d.IsLoop {
		t.Fatalf("loop leaked to a different shader path")
	}
}

func TestDetectLoopWindowExcludesOldAttempts(t *testing.T) {
	lp := NewLoopPrevention()
	repeated := []CompileError{syntaxError("unexpected token")}

	// Three identical failures followed by ten distinct ones push the
	// repeated signature out of the 10-attempt window.
	for i := 0; i < 3; i++ {
		lp.Record("a.slang", repeated, "", false)
	}
	distinct := []string{"e0", "e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9"}
	for _, msg := range distinct {
		lp.Record("a.slang", []CompileError{syntaxError(msg)}, "", false)
	}

	if d := lp.Detect("a.slang"); d.IsLoop {
		t.Fatalf("loop detected from attempts outside the window")
	}
}

func TestAttemptRingBounded(t *testing.T) {
	lp := NewLoopPrevention()
	for i := 0; i < 60; i++ {
		lp.Record("a.slang", []CompileError{syntaxError("x")}, "", false)
	}
	if got := len(lp.History()); got != maxAttemptHistory {
		t.Fatalf("history length = %d, want %d", got, maxAttemptHistory)
	}
}

func TestResetClearsOnePath(t *testing.T) {
	lp := NewLoopPrevention()
	lp.Record("a.slang", []CompileError{syntaxError("x")}, "", false)
	lp.Record("b.slang", []CompileError{syntaxError("x")}, "", false)

	lp.Reset("a.slang")

	history := lp.History()
	if len(history) != 1 || history[0].ShaderPath != "b.slang" {
		t.Fatalf("history after reset = %+v, want only b.slang", history)
	}
}

func TestTriedStrategies(t *testing.T) {
	lp := NewLoopPrevention()
	lp.Record("a.slang", []CompileError{syntaxError("x")}, "simplify", false)
	lp.Record("a.slang", []CompileError{syntaxError("x")}, "strip-derivatives", false)
	lp.Record("a.slang", nil, "", true)

	tried := lp.TriedStrategies("a.slang")
	if !tried["simplify"] || !tried["strip-derivatives"] {
		t.Fatalf("tried = %v, want simplify and strip-derivatives", tried)
	}
	if len(tried) != 2 {
		t.Fatalf("tried = %v, want exactly 2 entries", tried)
	}
}

func TestErrorSignatureTruncatesOnRuneBoundary(t *testing.T) {
	// A two-byte rune straddling the truncation limit must be dropped whole.
	long := strings.Repeat("a", signatureMessageLimit-1) + "é and more"
	sig := ErrorSignature([]CompileError{syntaxError(long)})

	if !utf8.ValidString(sig) {
		t.Fatalf("signature contains a split rune: %q", sig)
	}
	if want := "syntax:" + strings.Repeat("a", signatureMessageLimit-1); sig != want {
		t.Fatalf("signature = %q, want %q", sig, want)
	}
}
