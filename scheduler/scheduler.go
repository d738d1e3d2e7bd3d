// Package scheduler executes compiled multi-pass presets: it owns pass render
// targets, binds pipeline inputs, aliases, external textures, and frame
// history, refreshes per-frame uniforms, and draws passes strictly in index
// order through a GPU backend.
package scheduler

import (
	"fmt"
	"image"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/retrofx/slangport/compiler"
	"github.com/retrofx/slangport/preset"
	"github.com/retrofx/slangport/shader"
)

// HistoryDepth is the frame-history ring size: the current frame's input plus
// the three before it are readable.
const HistoryDepth = 4

// FrameInfo carries the per-call state from the frame-timing source.
type FrameInfo struct {
	// ViewportWidth and ViewportHeight are the final output dimensions.
	ViewportWidth, ViewportHeight int

	// FrameDirection is 1 during forward playback and -1 during rewind.
	FrameDirection int
}

// FrameStats summarizes one render call for the stats hook.
type FrameStats struct {
	// FrameIndex is the 0-based index of the rendered frame.
	FrameIndex uint64

	// Passes counts the draws issued.
	Passes int

	// Elapsed is the host-side wall time of the render call.
	Elapsed time.Duration
}

// TextureLoader decodes one external texture image by path.
type TextureLoader func(path string) (image.Image, error)

// ParameterLookup reports the current value of one runtime parameter.
type ParameterLookup func(name string) (float64, bool)

// Scheduler renders compiled presets frame by frame.
type Scheduler interface {
	// Setup validates the compiled preset, links its programs, allocates pass
	// render targets, and uploads external textures. Must succeed before the
	// first Render call; a failed Setup leaves no usable preset installed.
	//
	// Parameters:
	//   - compiled: the compiled pass chain
	//
	// Returns:
	//   - error: the first validation, link, or resource failure
	Setup(compiled *compiler.CompiledPreset) error

	// Render executes all passes in index order for one frame. Every pass but
	// the last writes to its sized render target; the last writes to the
	// external output. The frame-history ring captures the pipeline input
	// once per call.
	//
	// Parameters:
	//   - frame: the per-call viewport and direction state
	//   - input: the pipeline input texture for this frame
	//
	// Returns:
	//   - error: the first draw or resource failure
	Render(frame FrameInfo, input TextureID) error

	// FrameCount reports how many frames have been rendered.
	FrameCount() uint64
}

// scheduler is the implementation of the Scheduler interface.
type scheduler struct {
	backend Backend

	loadTexture TextureLoader
	lookupParam ParameterLookup
	statsHook   func(FrameStats)

	compiled *compiler.CompiledPreset
	programs []ProgramID

	// targets[i] is pass i's render target; the last entry is OutputTarget.
	targets     []TextureID
	targetSizes [][2]int

	// feedback holds previous-frame copies of pass outputs, allocated only
	// for passes some shader reads through a PassFeedback uniform.
	feedback      map[int]TextureID
	feedbackSizes map[int][2]int

	aliasToPass map[string]int
	external    map[string]TextureID
	externalOpt map[string]SamplerOptions

	history     [HistoryDepth]TextureID
	historySize [2]int
	needHistory bool

	frameCount uint64
}

var _ Scheduler = &scheduler{}

// NewScheduler creates a Scheduler driving the given backend. Panics if
// backend is nil.
//
// Parameters:
//   - backend: the GPU backend to render through
//   - options: builder options configuring collaborators
//
// Returns:
//   - Scheduler: a scheduler awaiting Setup
func NewScheduler(backend Backend, options ...SchedulerOption) Scheduler {
	if backend == nil {
		panic("scheduler: NewScheduler requires a non-nil Backend")
	}
	s := &scheduler{backend: backend}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *scheduler) Setup(compiled *compiler.CompiledPreset) error {
	if err := validate(compiled); err != nil {
		return err
	}

	next := &scheduler{
		backend:       s.backend,
		loadTexture:   s.loadTexture,
		lookupParam:   s.lookupParam,
		statsHook:     s.statsHook,
		compiled:      compiled,
		feedback:      make(map[int]TextureID),
		feedbackSizes: make(map[int][2]int),
		aliasToPass:   make(map[string]int),
		external:      make(map[string]TextureID),
		externalOpt:   make(map[string]SamplerOptions),
	}

	for i, pass := range compiled.Passes {
		uniforms, samplers := programInterface(pass)
		program, err := s.backend.CreateProgram(pass.Vertex.Source, pass.Fragment.Source, uniforms, samplers)
		if err != nil {
			return fmt.Errorf("pass %d program: %w", i, err)
		}
		next.programs = append(next.programs, program)

		if pass.Pass.Alias != "" {
			next.aliasToPass[pass.Pass.Alias] = i
		}

		if compiled.HasRenderTarget(i) {
			target, err := s.backend.CreateTarget(1, 1, TargetOptions{
				Float: pass.Pass.FloatFramebuffer,
				SRGB:  pass.Pass.SRGBFramebuffer,
			})
			if err != nil {
				return fmt.Errorf("pass %d render target: %w", i, err)
			}
			next.targets = append(next.targets, target)
		} else {
			next.targets = append(next.targets, OutputTarget)
		}
		next.targetSizes = append(next.targetSizes, [2]int{1, 1})
	}

	if err := next.bindExternalTextures(compiled.Preset.Textures); err != nil {
		return err
	}

	next.detectFeedbackAndHistory()

	*s = *next
	return nil
}

func (s *scheduler) Render(frame FrameInfo, input TextureID) error {
	if s.compiled == nil {
		return fmt.Errorf("scheduler: Render called before a successful Setup")
	}
	start := time.Now()

	inputW, inputH := s.backend.TextureSize(input)

	// Capture this call's pipeline input, then advance the counter so the
	// read formula below resolves "k frames ago" to the frame captured
	// exactly k calls earlier.
	if s.needHistory {
		if err := s.captureHistory(input, inputW, inputH); err != nil {
			return err
		}
	}
	frameIndex := s.frameCount
	s.frameCount++

	srcW, srcH := inputW, inputH
	for i, pass := range s.compiled.Passes {
		outW, outH := frame.ViewportWidth, frame.ViewportHeight
		if s.compiled.HasRenderTarget(i) {
			outW, outH = pass.Target.Size(srcW, srcH, frame.ViewportWidth, frame.ViewportHeight)
			if err := s.ensureTargetSize(i, outW, outH); err != nil {
				return err
			}
		}

		program := s.programs[i]
		passInput := input
		if i > 0 {
			passInput = s.targets[i-1]
		}

		s.bindUniforms(i, pass, frame, frameIndex, srcW, srcH, inputW, inputH, outW, outH)
		s.bindSamplers(i, pass, input, passInput)

		if err := s.backend.Draw(program, s.targets[i], outW, outH); err != nil {
			return fmt.Errorf("pass %d draw: %w", i, err)
		}

		srcW, srcH = outW, outH
	}

	for k, fb := range s.feedback {
		if fb == 0 {
			continue
		}
		if err := s.backend.CopyTexture(s.targets[k], fb); err != nil {
			return fmt.Errorf("pass %d feedback copy: %w", k, err)
		}
	}

	if s.statsHook != nil {
		s.statsHook(FrameStats{
			FrameIndex: frameIndex,
			Passes:     len(s.compiled.Passes),
			Elapsed:    time.Since(start),
		})
	}
	return nil
}

func (s *scheduler) FrameCount() uint64 {
	return s.frameCount
}

// validate checks the scheduling invariants: at least one pass, indices
// matching array order, and exactly the last pass lacking a render target.
// Target placement is structural in CompiledPreset, so index order is the
// checkable part.
func validate(compiled *compiler.CompiledPreset) error {
	if compiled == nil || len(compiled.Passes) == 0 {
		return fmt.Errorf("scheduler: compiled preset declares no passes")
	}
	for i, pass := range compiled.Passes {
		if pass.Pass.Index != i {
			return fmt.Errorf("scheduler: pass at position %d carries index %d", i, pass.Pass.Index)
		}
	}
	return nil
}

// programInterface collects the distinct flat uniforms and samplers across a
// pass's two stages, in stable order.
func programInterface(pass compiler.CompiledPass) ([]shader.UniformDecl, []string) {
	var uniforms []shader.UniformDecl
	seen := make(map[string]bool)
	for _, stage := range []compiler.CompiledStage{pass.Vertex, pass.Fragment} {
		for _, u := range stage.Uniforms {
			if !seen[u.Name] {
				seen[u.Name] = true
				uniforms = append(uniforms, u)
			}
		}
	}

	var samplers []string
	seenSampler := make(map[string]bool)
	for _, name := range pass.Fragment.Samplers {
		if !seenSampler[name] {
			seenSampler[name] = true
			samplers = append(samplers, name)
		}
	}
	return uniforms, samplers
}

func (s *scheduler) bindExternalTextures(textures []preset.Texture) error {
	if len(textures) > 0 && s.loadTexture == nil {
		return fmt.Errorf("scheduler: preset declares textures but no texture loader is configured")
	}
	for _, tex := range textures {
		img, err := s.loadTexture(tex.Path)
		if err != nil {
			return fmt.Errorf("texture %q: %w", tex.Name, err)
		}
		id, err := s.backend.UploadTexture(img)
		if err != nil {
			return fmt.Errorf("texture %q upload: %w", tex.Name, err)
		}
		s.external[tex.Name] = id
		s.externalOpt[tex.Name] = SamplerOptions{Linear: tex.Linear, WrapMode: tex.WrapMode, Mipmap: tex.Mipmap}
	}
	return nil
}

// detectFeedbackAndHistory scans the compiled passes for PassFeedback and
// OriginalHistory sampler references, so those resources are only allocated
// when something reads them.
func (s *scheduler) detectFeedbackAndHistory() {
	for _, pass := range s.compiled.Passes {
		for _, name := range pass.Fragment.Samplers {
			if k, ok := numericSuffix(name, "PassFeedback"); ok && k >= 0 && k < len(s.compiled.Passes)-1 {
				s.feedback[k] = 0
			}
			if k, ok := numericSuffix(name, "OriginalHistory"); ok && k > 0 {
				s.needHistory = true
			}
		}
	}
}

// captureHistory stores the pipeline input into slot frameCount % depth,
// reallocating the ring when the input size changes.
func (s *scheduler) captureHistory(input TextureID, w, h int) error {
	if s.historySize != [2]int{w, h} {
		for i := range s.history {
			if s.history[i] != 0 {
				s.backend.ReleaseTarget(s.history[i])
			}
			id, err := s.backend.CreateTarget(w, h, TargetOptions{})
			if err != nil {
				return fmt.Errorf("history slot %d: %w", i, err)
			}
			s.history[i] = id
		}
		s.historySize = [2]int{w, h}
	}
	return s.backend.CopyTexture(input, s.history[s.frameCount%HistoryDepth])
}

// historySlot returns the ring slot holding the frame captured k calls ago.
// Called after the counter has advanced past the current capture.
func (s *scheduler) historySlot(k int) TextureID {
	idx := (int(s.frameCount) - k - 1 + HistoryDepth) % HistoryDepth
	return s.history[idx]
}

func (s *scheduler) ensureTargetSize(i, w, h int) error {
	if s.targetSizes[i] == [2]int{w, h} {
		return nil
	}
	if err := s.backend.ResizeTarget(s.targets[i], w, h); err != nil {
		return fmt.Errorf("pass %d target resize: %w", i, err)
	}
	s.targetSizes[i] = [2]int{w, h}

	if fb, ok := s.feedback[i]; ok {
		if fb != 0 {
			s.backend.ReleaseTarget(fb)
		}
		pass := s.compiled.Passes[i]
		id, err := s.backend.CreateTarget(w, h, TargetOptions{
			Float: pass.Pass.FloatFramebuffer,
			SRGB:  pass.Pass.SRGBFramebuffer,
		})
		if err != nil {
			return fmt.Errorf("pass %d feedback target: %w", i, err)
		}
		s.feedback[i] = id
		s.feedbackSizes[i] = [2]int{w, h}
	}
	return nil
}

// bindUniforms refreshes the pass's built-in uniforms, parameter values, and
// inferred defaults. Every declared uniform leaves this function bound.
func (s *scheduler) bindUniforms(i int, pass compiler.CompiledPass, frame FrameInfo, frameIndex uint64, srcW, srcH, inW, inH, outW, outH int) {
	uniforms, _ := programInterface(pass)
	declared := make(map[string]shader.UniformDecl, len(uniforms))
	for _, u := range uniforms {
		declared[u.Name] = u
	}

	bound := make(map[string]bool, len(declared))
	set := func(name string, v shader.UniformValue) {
		if _, ok := declared[name]; ok && !bound[name] {
			s.backend.SetUniform(s.programs[i], name, v)
			bound[name] = true
		}
	}

	set("MVP", shader.Mat4Identity())
	set("OutputSize", sizeVec(outW, outH))
	set("SourceSize", sizeVec(srcW, srcH))
	set("OriginalSize", sizeVec(inW, inH))
	set("FrameDirection", shader.ScalarValue(float32(frame.FrameDirection)))

	count := frameIndex
	if mod := pass.Pass.FrameCountMod; mod > 0 {
		count = frameIndex % uint64(mod)
	}
	set("FrameCount", shader.ScalarValue(float32(count)))

	for _, p := range pass.Parameters {
		set(p.Name, shader.ScalarValue(float32(s.parameterValue(p))))
	}

	for name, decl := range declared {
		if !bound[name] {
			set(name, inferDefault(name, decl.Type, frame))
		}
	}
}

// parameterValue resolves one parameter: the runtime registry first, then the
// preset's global override, then the pragma default.
func (s *scheduler) parameterValue(p shader.Parameter) float64 {
	if s.lookupParam != nil {
		if v, ok := s.lookupParam(p.Name); ok {
			return v
		}
	}
	if v, ok := s.compiled.Preset.Parameters[p.Name]; ok {
		return v
	}
	return p.Default
}

// bindSamplers resolves every sampler the pass declares: pipeline inputs,
// frame history, earlier pass outputs and feedback, aliases, and external
// textures. Unresolvable samplers are logged and left unbound; the backend
// rejects draws whose programs still have unbound samplers.
func (s *scheduler) bindSamplers(i int, pass compiler.CompiledPass, input, passInput TextureID) {
	program := s.programs[i]
	opts := SamplerOptions{
		Linear:   pass.Pass.FilterLinear,
		WrapMode: pass.Pass.WrapMode,
		Mipmap:   pass.Pass.MipmapInput,
	}

	for _, name := range pass.Fragment.Samplers {
		switch {
		case name == "Source":
			s.backend.BindTexture(program, name, passInput, opts)

		case name == "Original" || name == "OriginalHistory0":
			s.backend.BindTexture(program, name, input, opts)

		default:
			if k, ok := numericSuffix(name, "OriginalHistory"); ok && k > 0 && k < HistoryDepth {
				s.backend.BindTexture(program, name, s.historySlot(k), opts)
				continue
			}
			if k, ok := numericSuffix(name, "PassOutput"); ok && k >= 0 && k < i {
				s.backend.BindTexture(program, name, s.targets[k], opts)
				continue
			}
			if k, ok := numericSuffix(name, "PassFeedback"); ok {
				if fb, exists := s.feedback[k]; exists && fb != 0 {
					s.backend.BindTexture(program, name, fb, opts)
				}
				continue
			}
			// An alias names any earlier pass's output, not only the
			// immediate predecessor.
			if j, ok := s.aliasToPass[name]; ok && j < i {
				s.backend.BindTexture(program, name, s.targets[j], opts)
				continue
			}
			if id, ok := s.external[name]; ok {
				s.backend.BindTexture(program, name, id, s.externalOpt[name])
				continue
			}
			log.Printf("[Scheduler] pass %d sampler %q has no binding source", i, name)
		}
	}
}

// inferDefault assigns a value to a uniform nothing bound, so the program
// never receives undefined data. Size-like names get a viewport-derived
// vector, count/direction-like names get zero, matrices get identity, and
// everything else gets zero.
func inferDefault(name string, t shader.GLSLType, frame FrameInfo) shader.UniformValue {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "size") || strings.Contains(lower, "scale"):
		return sizeVec(frame.ViewportWidth, frame.ViewportHeight)
	case strings.Contains(lower, "count") || strings.Contains(lower, "direction"):
		return shader.ScalarValue(0)
	}
	switch t {
	case shader.TypeMat2, shader.TypeMat3, shader.TypeMat4:
		return shader.Mat4Identity()
	case shader.TypeVec2, shader.TypeIVec2, shader.TypeUVec2:
		return shader.Vec2Value(0, 0)
	case shader.TypeVec3, shader.TypeIVec3, shader.TypeUVec3:
		return shader.Vec3Value(0, 0, 0)
	case shader.TypeVec4, shader.TypeIVec4, shader.TypeUVec4:
		return shader.Vec4Value(0, 0, 0, 0)
	default:
		return shader.ScalarValue(0)
	}
}

// sizeVec builds the conventional size uniform: width, height, and their
// reciprocals.
func sizeVec(w, h int) shader.UniformValue {
	fw, fh := float32(w), float32(h)
	if fw == 0 {
		fw = 1
	}
	if fh == 0 {
		fh = 1
	}
	return shader.Vec4Value(fw, fh, 1/fw, 1/fh)
}

// numericSuffix splits names like PassOutput3 into their prefix match and
// numeric suffix.
func numericSuffix(name, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}
