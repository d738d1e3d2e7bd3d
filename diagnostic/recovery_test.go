package diagnostic

import (
	"errors"
	"testing"
)

func autoStrategy(name string, priority int, types []ErrorType, err error) Strategy {
	return Strategy{
		Name:            name,
		Priority:        priority,
		ApplicableTypes: types,
		Apply:           func(string) error { return err },
	}
}

func TestPrimaryErrorSeverityThenPriority(t *testing.T) {
	errs := []CompileError{
		{Type: ErrorCircularInclude, Severity: SeverityError, Message: "cycle"},
		{Type: ErrorLinking, Severity: SeverityWarning, Message: "slow link"},
		{Type: ErrorSyntax, Severity: SeverityError, Message: "bad token"},
	}
	primary, ok := PrimaryError(errs)
	if !ok {
		t.Fatal("no primary error found")
	}
	// syntax outranks circular_include; the linking entry is only a warning.
	if primary.Type != ErrorSyntax {
		t.Fatalf("primary type = %s, want syntax", primary.Type)
	}
}

func TestRecoverUsesHighestPriorityApplicableStrategy(t *testing.T) {
	r := NewRecovery(NewLoopPrevention(), nil)
	r.RegisterStrategy(autoStrategy("low", 1, []ErrorType{ErrorSyntax}, nil))
	r.RegisterStrategy(autoStrategy("high", 9, []ErrorType{ErrorSyntax}, nil))
	r.RegisterStrategy(autoStrategy("other-type", 10, []ErrorType{ErrorLinking}, nil))

	outcome := r.Recover("a.slang", []CompileError{syntaxError("bad token")}, RecoveryOptions{})
	if outcome.State != StateRecovered {
		t.Fatalf("state = %s, want recovered", outcome.State)
	}
	if outcome.StrategyUsed != "high" {
		t.Fatalf("strategy used = %q, want high", outcome.StrategyUsed)
	}
}

func TestRecoverFallsThroughFailedStrategies(t *testing.T) {
	r := NewRecovery(NewLoopPrevention(), nil)
	r.RegisterStrategy(autoStrategy("first", 9, []ErrorType{ErrorSyntax}, errors.New("no effect")))
	r.RegisterStrategy(autoStrategy("second", 5, []ErrorType{ErrorSyntax}, nil))

	outcome := r.Recover("a.slang", []CompileError{syntaxError("bad token")}, RecoveryOptions{})
	if outcome.State != StateRecovered || outcome.StrategyUsed != "second" {
		t.Fatalf("outcome = %+v, want recovery via second", outcome)
	}
}

func TestRecoverManualStrategyHalts(t *testing.T) {
	r := NewRecovery(NewLoopPrevention(), nil)
	r.RegisterStrategy(Strategy{
		Name:                     "hand-edit",
		Priority:                 9,
		ApplicableTypes:          []ErrorType{ErrorSyntax},
		RequiresUserIntervention: true,
		FixInstructions:          "remove the duplicated brace",
	})
	r.RegisterStrategy(autoStrategy("never-reached", 1, []ErrorType{ErrorSyntax}, nil))

	outcome := r.Recover("a.slang", []CompileError{syntaxError("bad token")}, RecoveryOptions{})
	if outcome.State != StateManualFixRequired {
		t.Fatalf("state = %s, want manual_fix_required", outcome.State)
	}
	if outcome.FixInstructions == "" {
		t.Fatal("manual outcome carries no fix instructions")
	}
}

func TestRecoverExhaustionFallsBack(t *testing.T) {
	var loaded string
	loader := func(f FallbackPreset, preserve bool) error {
		loaded = f.Name
		return nil
	}
	r := NewRecovery(NewLoopPrevention(), loader)
	r.RegisterStrategy(autoStrategy("broken", 5, []ErrorType{ErrorSyntax}, errors.New("no effect")))
	r.RegisterFallback(FallbackPreset{Name: "passthrough", Complexity: 1, VisualFeatures: []string{"scaling"}})

	outcome := r.Recover("a.slang", []CompileError{syntaxError("bad token")}, RecoveryOptions{})
	if outcome.State != StateRecovered || outcome.FallbackUsed != "passthrough" {
		t.Fatalf("outcome = %+v, want fallback passthrough", outcome)
	}
	if loaded != "passthrough" {
		t.Fatalf("loader received %q, want passthrough", loaded)
	}
}

func TestRecoverLoopEscalationSkipsStrategies(t *testing.T) {
	lp := NewLoopPrevention()
	errs := []CompileError{syntaxError("bad token")}
	for i := 0; i < 5; i++ {
		lp.Record("a.slang", errs, "", false)
	}

	strategyRan := false
	r := NewRecovery(lp, func(FallbackPreset, bool) error { return nil })
	r.RegisterStrategy(Strategy{
		Name:            "should-skip",
		Priority:        9,
		ApplicableTypes: []ErrorType{ErrorSyntax},
		Apply: func(string) error {
			strategyRan = true
			return nil
		},
	})
	r.RegisterFallback(FallbackPreset{Name: "safe", VisualFeatures: []string{"scaling"}})

	outcome := r.Recover("a.slang", errs, RecoveryOptions{})
	if strategyRan {
		t.Fatal("strategy ran despite loop escalation")
	}
	if outcome.FallbackUsed != "safe" {
		t.Fatalf("fallback used = %q, want safe", outcome.FallbackUsed)
	}
}

func TestSelectFallbackOrdering(t *testing.T) {
	r := NewRecovery(NewLoopPrevention(), func(FallbackPreset, bool) error { return nil }).(*recovery)
	r.RegisterFallback(FallbackPreset{Name: "bare", Complexity: 0})
	r.RegisterFallback(FallbackPreset{Name: "fancy", Complexity: 8, VisualFeatures: []string{"crt"}, PerformanceMode: "quality"})
	r.RegisterFallback(FallbackPreset{Name: "simple", Complexity: 2, VisualFeatures: []string{"scanlines"}})

	tests := []struct {
		name            string
		performanceMode string
		want            string
	}{
		{"performance mode match wins", "quality", "fancy"},
		{"lowest complexity with features", "", "simple"},
		{"unknown mode falls through", "battery", "simple"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.selectFallback(tt.performanceMode)
			if !ok || got.Name != tt.want {
				t.Fatalf("selected %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func TestSelectFallbackFirstRegisteredWhenNoneHaveFeatures(t *testing.T) {
	r := NewRecovery(NewLoopPrevention(), nil).(*recovery)
	r.RegisterFallback(FallbackPreset{Name: "first"})
	r.RegisterFallback(FallbackPreset{Name: "second"})

	got, ok := r.selectFallback("")
	if !ok || got.Name != "first" {
		t.Fatalf("selected %q, want first", got.Name)
	}
}

func TestRecoverFallbackLoadFailureFails(t *testing.T) {
	r := NewRecovery(NewLoopPrevention(), func(FallbackPreset, bool) error { return errors.New("missing file") })
	r.RegisterFallback(FallbackPreset{Name: "safe", VisualFeatures: []string{"scaling"}})

	outcome := r.Recover("a.slang", []CompileError{syntaxError("bad token")}, RecoveryOptions{})
	if outcome.State != StateFailed {
		t.Fatalf("state = %s, want failed", outcome.State)
	}
}

func TestRecoverNeverPanics(t *testing.T) {
	r := NewRecovery(NewLoopPrevention(), nil)
	r.RegisterStrategy(Strategy{
		Name:            "explosive",
		Priority:        9,
		ApplicableTypes: []ErrorType{ErrorSyntax},
		Apply:           func(string) error { panic("boom") },
	})

	outcome := r.Recover("a.slang", []CompileError{syntaxError("bad token")}, RecoveryOptions{})
	if outcome.State != StateFailed {
		t.Fatalf("state = %s, want failed after internal fault", outcome.State)
	}
}

func TestRecoveryStats(t *testing.T) {
	r := NewRecovery(NewLoopPrevention(), func(FallbackPreset, bool) error { return nil })
	r.RegisterStrategy(autoStrategy("fix-syntax", 5, []ErrorType{ErrorSyntax}, nil))
	r.RegisterFallback(FallbackPreset{Name: "safe", VisualFeatures: []string{"scaling"}})

	r.Recover("a.slang", []CompileError{syntaxError("bad token")}, RecoveryOptions{})
	r.Recover("b.slang", []CompileError{linkingError("undefined symbol")}, RecoveryOptions{})

	stats := r.Stats()
	if stats.TotalRuns != 2 {
		t.Fatalf("total runs = %d, want 2", stats.TotalRuns)
	}
	if stats.Recovered != 2 {
		t.Fatalf("recovered = %d, want 2", stats.Recovered)
	}
	if stats.FallbacksUsed != 1 {
		t.Fatalf("fallbacks used = %d, want 1", stats.FallbacksUsed)
	}
	if stats.StrategySuccesses["fix-syntax"] != 1 {
		t.Fatalf("fix-syntax successes = %d, want 1", stats.StrategySuccesses["fix-syntax"])
	}
}

func TestSuggestStrategiesFromSignature(t *testing.T) {
	r := NewRecovery(NewLoopPrevention(), nil)
	r.RegisterStrategy(autoStrategy("relink", 9, []ErrorType{ErrorLinking}, nil))
	r.RegisterStrategy(autoStrategy("fix-syntax", 5, []ErrorType{ErrorSyntax}, nil))
	r.RegisterStrategy(autoStrategy("unrelated", 7, []ErrorType{ErrorRedefinition}, nil))

	detection := Detection{Signature: ErrorSignature([]CompileError{
		syntaxError("bad token"),
		linkingError("undefined symbol"),
	})}
	suggested := r.SuggestStrategies(detection)
	if len(suggested) != 2 {
		t.Fatalf("suggested %d strategies, want 2", len(suggested))
	}
	if suggested[0].Name != "relink" || suggested[1].Name != "fix-syntax" {
		t.Fatalf("suggested order = %q then %q, want relink then fix-syntax", suggested[0].Name, suggested[1].Name)
	}
}
