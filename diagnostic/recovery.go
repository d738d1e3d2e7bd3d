package diagnostic

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// RecoveryState is one state of the recovery machine.
type RecoveryState string

const (
	// StateInitial is the machine's entry state.
	StateInitial RecoveryState = "initial"

	// StateStrategyAttempt is active while automatic strategies run.
	StateStrategyAttempt RecoveryState = "strategy_attempt"

	// StateRecovered is the terminal success state.
	StateRecovered RecoveryState = "recovered"

	// StateManualFixRequired halts recovery pending user action.
	StateManualFixRequired RecoveryState = "manual_fix_required"

	// StateFallback is active while a fallback preset is selected and loaded.
	StateFallback RecoveryState = "fallback"

	// StateFailed is the terminal failure state.
	StateFailed RecoveryState = "failed"
)

// Strategy is one ordered recovery procedure. Strategies declare which error
// types they can address; only those matching the primary error are tried.
type Strategy struct {
	// Name identifies the strategy in history and logs.
	Name string

	// Priority orders strategies; higher runs first.
	Priority int

	// ApplicableTypes lists the error types the strategy addresses.
	ApplicableTypes []ErrorType

	// RequiresUserIntervention marks a manual strategy. Reaching one halts
	// automatic iteration.
	RequiresUserIntervention bool

	// FixInstructions are surfaced when a manual strategy halts recovery.
	FixInstructions string

	// Apply executes the strategy for one shader. Nil for manual strategies.
	Apply func(path string) error
}

// appliesTo reports whether the strategy addresses the given error type.
func (s Strategy) appliesTo(t ErrorType) bool {
	for _, a := range s.ApplicableTypes {
		if a == t {
			return true
		}
	}
	return false
}

// FallbackPreset is one registered known-good substitute configuration.
type FallbackPreset struct {
	// Name identifies the fallback.
	Name string

	// Path is the fallback preset's file path.
	Path string

	// Complexity ranks the fallback's cost; lower is simpler.
	Complexity int

	// VisualFeatures lists the effects the fallback retains. A fallback with
	// none is a last resort only.
	VisualFeatures []string

	// PerformanceMode tags the fallback for performance-hint matching.
	PerformanceMode string
}

// FallbackLoader loads a selected fallback preset, optionally carrying the
// caller's parameter values over.
type FallbackLoader func(fallback FallbackPreset, preserveParameters bool) error

// RecoveryOptions configures one Recover call.
type RecoveryOptions struct {
	// PerformanceMode is the caller's performance hint for fallback selection.
	PerformanceMode string

	// PreserveParameters carries current parameter values into the fallback.
	PreserveParameters bool
}

// Outcome is the terminal result of one recovery run.
type Outcome struct {
	// State is the terminal state: recovered, manual_fix_required, or failed.
	State RecoveryState

	// StrategyUsed names the strategy that recovered, or halted on, if any.
	StrategyUsed string

	// FallbackUsed names the fallback preset loaded, if any.
	FallbackUsed string

	// FixInstructions are set when State is manual_fix_required.
	FixInstructions string

	// Message describes the outcome for logs and operator tooling.
	Message string
}

// RecoveryRecord is one history entry, appended for every attempt regardless
// of outcome.
type RecoveryRecord struct {
	// ShaderPath identifies the shader recovery ran for.
	ShaderPath string

	// Strategy names the strategy or fallback attempted.
	Strategy string

	// State is the machine state the attempt ran under.
	State RecoveryState

	// Success is true when the attempt recovered.
	Success bool

	// At is the record timestamp.
	At time.Time
}

// RecoveryStats aggregates the history for operator tooling.
type RecoveryStats struct {
	// TotalRuns counts Recover calls.
	TotalRuns int

	// Recovered, ManualFixes, and Failed count terminal outcomes.
	Recovered, ManualFixes, Failed int

	// FallbacksUsed counts runs that recovered via a fallback preset.
	FallbacksUsed int

	// StrategySuccesses counts recoveries per strategy name.
	StrategySuccesses map[string]int
}

// Recovery runs the ordered error recovery machine: automatic strategies by
// descending priority, manual-fix escalation, and fallback preset
// substitution. No fault ever escapes Recover.
type Recovery interface {
	// RegisterStrategy adds one strategy to the registry.
	RegisterStrategy(strategy Strategy)

	// RegisterFallback adds one fallback preset to the registry. Registration
	// order breaks ties during selection.
	RegisterFallback(fallback FallbackPreset)

	// Recover drives the state machine for one failed compile.
	//
	// Parameters:
	//   - path: the failing shader path
	//   - errors: the failure's diagnostic errors
	//   - opts: performance hint and parameter preservation
	//
	// Returns:
	//   - Outcome: the terminal state and what was used to reach it
	Recover(path string, errors []CompileError, opts RecoveryOptions) Outcome

	// SuggestStrategies returns registered strategies addressing the error
	// types inside a detection's repeating signature, by descending priority.
	SuggestStrategies(detection Detection) []Strategy

	// History returns a copy of all recovery records, oldest first.
	History() []RecoveryRecord

	// Stats aggregates the history.
	Stats() RecoveryStats
}

// recovery is the implementation of the Recovery interface.
type recovery struct {
	mu sync.Mutex

	loop     LoopPrevention
	loadFunc FallbackLoader

	strategies []Strategy
	fallbacks  []FallbackPreset

	history []RecoveryRecord
	stats   RecoveryStats
}

var _ Recovery = &recovery{}

// NewRecovery creates a Recovery wired to the given loop prevention tracker.
// Panics if loop is nil. A nil loader makes every fallback load fail, which
// terminates those runs as failed.
//
// Parameters:
//   - loop: the attempt tracker consulted for loop escalation
//   - loader: the fallback preset loader collaborator
//
// Returns:
//   - Recovery: a ready-to-use recovery machine with empty registries
func NewRecovery(loop LoopPrevention, loader FallbackLoader) Recovery {
	if loop == nil {
		panic("diagnostic: NewRecovery requires a non-nil LoopPrevention")
	}
	return &recovery{
		loop:     loop,
		loadFunc: loader,
		stats:    RecoveryStats{StrategySuccesses: make(map[string]int)},
	}
}

func (r *recovery) RegisterStrategy(strategy Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, strategy)
	sort.SliceStable(r.strategies, func(i, j int) bool {
		return r.strategies[i].Priority > r.strategies[j].Priority
	})
}

func (r *recovery) RegisterFallback(fallback FallbackPreset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, fallback)
}

func (r *recovery) Recover(path string, errors []CompileError, opts RecoveryOptions) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = Outcome{
				State:   StateFailed,
				Message: fmt.Sprintf("internal recovery fault: %v", rec),
			}
		}
		r.mu.Lock()
		r.stats.TotalRuns++
		switch outcome.State {
		case StateRecovered:
			r.stats.Recovered++
			if outcome.FallbackUsed != "" {
				r.stats.FallbacksUsed++
			}
			if outcome.StrategyUsed != "" {
				r.stats.StrategySuccesses[outcome.StrategyUsed]++
			}
		case StateManualFixRequired:
			r.stats.ManualFixes++
		case StateFailed:
			r.stats.Failed++
		}
		r.mu.Unlock()
	}()

	primary, ok := PrimaryError(errors)
	if !ok {
		return Outcome{State: StateRecovered, Message: "no error-severity entries; nothing to recover"}
	}

	detection := r.loop.Detect(path)
	if detection.IsLoop && detection.Escalate {
		log.Printf("[Recovery] shader %q is looping with escalation; skipping strategies", path)
		return r.runFallback(path, opts)
	}

	for _, strategy := range r.applicable(primary.Type) {
		if strategy.RequiresUserIntervention {
			r.record(path, strategy.Name, StateManualFixRequired, false)
			return Outcome{
				State:           StateManualFixRequired,
				StrategyUsed:    strategy.Name,
				FixInstructions: fixInstructions(strategy, primary),
				Message:         fmt.Sprintf("strategy %q requires user intervention", strategy.Name),
			}
		}
		if strategy.Apply == nil {
			continue
		}
		err := strategy.Apply(path)
		r.record(path, strategy.Name, StateStrategyAttempt, err == nil)
		r.loop.Record(path, errors, strategy.Name, err == nil)
		if err == nil {
			return Outcome{
				State:        StateRecovered,
				StrategyUsed: strategy.Name,
				Message:      fmt.Sprintf("recovered via strategy %q", strategy.Name),
			}
		}
		log.Printf("[Recovery] strategy %q failed for %q: %v", strategy.Name, path, err)
	}

	return r.runFallback(path, opts)
}

func (r *recovery) SuggestStrategies(detection Detection) []Strategy {
	types := signatureTypes(detection.Signature)
	r.mu.Lock()
	defer r.mu.Unlock()

	var suggested []Strategy
	for _, s := range r.strategies {
		for t := range types {
			if s.appliesTo(t) {
				suggested = append(suggested, s)
				break
			}
		}
	}
	return suggested
}

func (r *recovery) History() []RecoveryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecoveryRecord, len(r.history))
	copy(out, r.history)
	return out
}

func (r *recovery) Stats() RecoveryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.StrategySuccesses = make(map[string]int, len(r.stats.StrategySuccesses))
	for k, v := range r.stats.StrategySuccesses {
		stats.StrategySuccesses[k] = v
	}
	return stats
}

// runFallback selects and loads a fallback preset: a performance-mode match
// first, else the simplest fallback that keeps some visual features, else the
// first registered.
func (r *recovery) runFallback(path string, opts RecoveryOptions) Outcome {
	fallback, ok := r.selectFallback(opts.PerformanceMode)
	if !ok {
		r.record(path, "", StateFallback, false)
		return Outcome{State: StateFailed, Message: "no fallback presets registered"}
	}
	if r.loadFunc == nil {
		r.record(path, fallback.Name, StateFallback, false)
		return Outcome{State: StateFailed, FallbackUsed: fallback.Name, Message: "no fallback loader configured"}
	}

	err := r.loadFunc(fallback, opts.PreserveParameters)
	r.record(path, fallback.Name, StateFallback, err == nil)
	if err != nil {
		return Outcome{
			State:        StateFailed,
			FallbackUsed: fallback.Name,
			Message:      fmt.Sprintf("fallback %q failed to load: %v", fallback.Name, err),
		}
	}
	return Outcome{
		State:        StateRecovered,
		FallbackUsed: fallback.Name,
		Message:      fmt.Sprintf("recovered via fallback preset %q", fallback.Name),
	}
}

func (r *recovery) selectFallback(performanceMode string) (FallbackPreset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.fallbacks) == 0 {
		return FallbackPreset{}, false
	}
	if performanceMode != "" {
		for _, f := range r.fallbacks {
			if f.PerformanceMode == performanceMode {
				return f, true
			}
		}
	}
	best := -1
	for i, f := range r.fallbacks {
		if len(f.VisualFeatures) == 0 {
			continue
		}
		if best == -1 || f.Complexity < r.fallbacks[best].Complexity {
			best = i
		}
	}
	if best >= 0 {
		return r.fallbacks[best], true
	}
	return r.fallbacks[0], true
}

// applicable returns registered strategies addressing the primary error type,
// already sorted by descending priority.
func (r *recovery) applicable(t ErrorType) []Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Strategy
	for _, s := range r.strategies {
		if s.appliesTo(t) {
			out = append(out, s)
		}
	}
	return out
}

func (r *recovery) record(path, strategy string, state RecoveryState, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, RecoveryRecord{
		ShaderPath: path,
		Strategy:   strategy,
		State:      state,
		Success:    success,
		At:         time.Now(),
	})
}

// fixInstructions composes the manual-fix text surfaced with
// manual_fix_required outcomes.
func fixInstructions(strategy Strategy, primary CompileError) string {
	if strategy.FixInstructions != "" {
		return fmt.Sprintf("%s (primary error: %s: %s)", strategy.FixInstructions, primary.Type, primary.Message)
	}
	return fmt.Sprintf("manual fix required for %s error: %s", primary.Type, primary.Message)
}

// signatureTypes extracts the distinct error types encoded in a signature.
func signatureTypes(signature string) map[ErrorType]bool {
	types := make(map[ErrorType]bool)
	if signature == "" {
		return types
	}
	for _, part := range strings.Split(signature, "|") {
		if t, _, ok := strings.Cut(part, ":"); ok {
			types[ErrorType(t)] = true
		}
	}
	return types
}
