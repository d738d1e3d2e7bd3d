package diagnostic

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// maxAttemptHistory bounds the attempt ring; the oldest attempt is dropped
	// when full.
	maxAttemptHistory = 50

	// loopWindow is how many recent attempts per shader Detect examines.
	loopWindow = 10

	// loopThreshold is the repeated-signature count that constitutes a loop.
	loopThreshold = 3

	// escalationThreshold is the recent attempt count past which Detect asks
	// for escalation to a fallback.
	escalationThreshold = 5

	// signatureMessageLimit truncates each error message inside a signature so
	// signatures stay comparable across runs with varying detail.
	signatureMessageLimit = 100
)

// Attempt records one compilation attempt for loop analysis.
type Attempt struct {
	// ShaderPath identifies the shader the attempt compiled.
	ShaderPath string

	// Signature is the attempt's error signature; empty on success.
	Signature string

	// Number is the 1-based attempt count for this shader at record time.
	Number int

	// Strategy names the recovery strategy in effect, or "" for a plain compile.
	Strategy string

	// Success is true when the attempt compiled cleanly.
	Success bool

	// At is the record timestamp.
	At time.Time
}

// Detection is the outcome of loop analysis for one shader.
type Detection struct {
	// IsLoop is true when one signature repeated at least loopThreshold times
	// within the window.
	IsLoop bool

	// Confidence grows with the repeat count: occurrences/threshold, capped at 1.
	Confidence float64

	// Signature is the most repeated error signature in the window.
	Signature string

	// Occurrences counts that signature's appearances in the window.
	Occurrences int

	// Escalate is true when the shader has accumulated enough recent attempts
	// that recovery should skip straight to a fallback.
	Escalate bool
}

// ErrorSignature derives a stable identity for a failure from its
// error-severity entries. Entries are normalized to type:message pairs,
// sorted, and joined, so two failures with the same errors in different
// orders produce the same signature.
//
// Parameters:
//   - errors: the diagnostic error list
//
// Returns:
//   - string: the signature, or "" when no error-severity entry exists
func ErrorSignature(errors []CompileError) string {
	parts := make([]string, 0, len(errors))
	for _, e := range errors {
		if e.Severity != SeverityError {
			continue
		}
		msg := e.Message
		if len(msg) > signatureMessageLimit {
			// Back off to a rune boundary so truncation never emits a split
			// multi-byte sequence.
			cut := signatureMessageLimit
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			msg = msg[:cut]
		}
		parts = append(parts, fmt.Sprintf("%s:%s", e.Type, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// LoopPrevention tracks compilation attempts and detects repeated identical
// failures, so recovery can stop retrying strategies that keep producing the
// same error.
type LoopPrevention interface {
	// Record appends one attempt to the history ring.
	//
	// Parameters:
	//   - path: the shader path
	//   - errors: the attempt's diagnostic errors; ignored when success is true
	//   - strategy: the recovery strategy in effect, or ""
	//   - success: whether the attempt compiled cleanly
	Record(path string, errors []CompileError, strategy string, success bool)

	// Detect analyzes the shader's recent attempts for a repeating failure.
	//
	// Parameters:
	//   - path: the shader path
	//
	// Returns:
	//   - Detection: the loop analysis result
	Detect(path string) Detection

	// TriedStrategies reports the strategy names used within the shader's
	// recent attempt window.
	TriedStrategies(path string) map[string]bool

	// Reset drops all recorded attempts for one shader.
	Reset(path string)

	// History returns a copy of the full attempt ring, oldest first.
	History() []Attempt
}

// loopPrevention is the implementation of the LoopPrevention interface.
type loopPrevention struct {
	mu       sync.Mutex
	attempts []Attempt
}

var _ LoopPrevention = &loopPrevention{}

// NewLoopPrevention creates an empty loop prevention tracker.
//
// Returns:
//   - LoopPrevention: a ready-to-use tracker
func NewLoopPrevention() LoopPrevention {
	return &loopPrevention{}
}

func (l *loopPrevention) Record(path string, errors []CompileError, strategy string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	signature := ""
	if !success {
		signature = ErrorSignature(errors)
	}

	number := 1
	for _, a := range l.attempts {
		if a.ShaderPath == path {
			number++
		}
	}

	l.attempts = append(l.attempts, Attempt{
		ShaderPath: path,
		Signature:  signature,
		Number:     number,
		Strategy:   strategy,
		Success:    success,
		At:         time.Now(),
	})
	if len(l.attempts) > maxAttemptHistory {
		l.attempts = l.attempts[len(l.attempts)-maxAttemptHistory:]
	}
}

func (l *loopPrevention) Detect(path string) Detection {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.recentLocked(path)
	counts := make(map[string]int)
	for _, a := range window {
		if a.Success || a.Signature == "" {
			continue
		}
		counts[a.Signature]++
	}

	var d Detection
	for sig, n := range counts {
		if n > d.Occurrences {
			d.Signature = sig
			d.Occurrences = n
		}
	}
	d.IsLoop = d.Occurrences >= loopThreshold
	d.Confidence = float64(d.Occurrences) / float64(loopThreshold)
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	d.Escalate = len(window) >= escalationThreshold

	if d.IsLoop {
		log.Printf("[LoopPrevention] shader %q is looping: signature repeated %d times in last %d attempts", path, d.Occurrences, len(window))
	}
	return d
}

func (l *loopPrevention) TriedStrategies(path string) map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	tried := make(map[string]bool)
	for _, a := range l.recentLocked(path) {
		if a.Strategy != "" {
			tried[a.Strategy] = true
		}
	}
	return tried
}

func (l *loopPrevention) Reset(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.attempts[:0]
	for _, a := range l.attempts {
		if a.ShaderPath != path {
			kept = append(kept, a)
		}
	}
	l.attempts = kept
}

func (l *loopPrevention) History() []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Attempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}

// recentLocked returns up to loopWindow most recent attempts for one shader,
// oldest first. Callers must hold the mutex.
func (l *loopPrevention) recentLocked(path string) []Attempt {
	var window []Attempt
	for _, a := range l.attempts {
		if a.ShaderPath == path {
			window = append(window, a)
		}
	}
	if len(window) > loopWindow {
		window = window[len(window)-loopWindow:]
	}
	return window
}
