package viewer

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/retrofx/slangport/compiler"
	"github.com/retrofx/slangport/preset"
	"github.com/retrofx/slangport/scheduler"
	"github.com/retrofx/slangport/shader"
)

// StageTranslator converts one compiled stage's text into the dialect the GPU
// device accepts. The default translator returns the text unchanged, so
// presets targeted at the viewer must already convert into device-compatible
// form.
type StageTranslator func(stage compiler.CompiledStage) (string, error)

// Viewer previews a preset in a window: it compiles the preset, feeds a still
// source image through the pass chain every frame, and presents the final
// pass to the window surface.
type Viewer interface {
	// Run compiles the preset, initializes the GPU surface, and blocks in the
	// window message loop until the window closes.
	//
	// Returns:
	//   - error: a compile, device, or setup failure
	Run() error

	// SetParameter overrides one shader parameter for subsequent frames.
	//
	// Parameters:
	//   - name: the parameter's uniform name
	//   - value: the new value
	SetParameter(name string, value float64)

	// Parameters returns the adjustable parameters of the compiled preset, in
	// declaration order. Empty before Run has compiled the preset.
	//
	// Returns:
	//   - []shader.Parameter: the parameter declarations
	Parameters() []shader.Parameter
}

// viewer is the implementation of the Viewer interface.
type viewer struct {
	window     Window
	presetPath string
	sourcePath string

	profiling bool
	profiler  *FrameProfiler
	translate StageTranslator
	compile   compiler.Options

	mu             sync.Mutex
	overrides      map[string]float64
	parameters     []shader.Parameter
	frameDirection int
}

var _ Viewer = &viewer{}

// NewViewer creates a Viewer previewing the given preset over the given
// source image. Panics if window is nil.
//
// Parameters:
//   - window: the window to present into
//   - presetPath: the preset file to compile
//   - sourcePath: the still image fed through the pass chain as input
//   - options: builder options configuring profiling and translation
//
// Returns:
//   - Viewer: a viewer awaiting Run
func NewViewer(window Window, presetPath, sourcePath string, options ...ViewerBuilderOption) Viewer {
	if window == nil {
		panic("viewer: NewViewer requires a non-nil Window")
	}
	v := &viewer{
		window:         window,
		presetPath:     presetPath,
		sourcePath:     sourcePath,
		profiler:       NewFrameProfiler(),
		translate:      func(stage compiler.CompiledStage) (string, error) { return stage.Source, nil },
		overrides:      make(map[string]float64),
		frameDirection: 1,
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

func (v *viewer) Run() error {
	compiled, err := v.compilePreset()
	if err != nil {
		return err
	}

	instance := wgpu.CreateInstance(nil)
	surface := instance.CreateSurface(v.window.SurfaceDescriptor())

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
	})
	if err != nil {
		return fmt.Errorf("viewer: adapter request: %w", err)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Preset Viewer Device",
	})
	if err != nil {
		return fmt.Errorf("viewer: device request: %w", err)
	}
	queue := device.GetQueue()

	capabilities := surface.GetCapabilities(adapter)
	surfaceFormat := capabilities.Formats[0]
	configure := func(width, height int) {
		surface.Configure(adapter, device, &wgpu.SurfaceConfiguration{
			Usage:       wgpu.TextureUsageRenderAttachment,
			Format:      surfaceFormat,
			Width:       uint32(width),
			Height:      uint32(height),
			PresentMode: wgpu.PresentModeFifo,
			AlphaMode:   capabilities.AlphaModes[0],
		})
	}
	configure(v.window.Width(), v.window.Height())

	backend := scheduler.NewWGPUBackend(device, queue)

	sched := scheduler.NewScheduler(backend,
		scheduler.WithTextureLoader(scheduler.OSTextureLoader()),
		scheduler.WithParameterLookup(v.lookupParameter),
		scheduler.WithFrameStatsHook(v.observeFrame),
	)
	if err := sched.Setup(compiled); err != nil {
		return fmt.Errorf("viewer: scheduler setup: %w", err)
	}

	img, err := scheduler.OSTextureLoader()(v.sourcePath)
	if err != nil {
		return fmt.Errorf("viewer: source image %q: %w", v.sourcePath, err)
	}
	input, err := backend.UploadTexture(img)
	if err != nil {
		return fmt.Errorf("viewer: source image upload: %w", err)
	}

	v.window.SetResizeCallback(func(width, height int) {
		if width > 0 && height > 0 {
			configure(width, height)
		}
	})

	// R reverses frame direction, useful for presets animating on FrameCount.
	v.window.SetKeyDownCallback(func(keyCode uint32) {
		if keyCode == 'R' {
			v.mu.Lock()
			v.frameDirection = -v.frameDirection
			v.mu.Unlock()
		}
	})

	v.window.SetFrameCallback(func() {
		frame, err := surface.GetCurrentTexture()
		if err != nil {
			log.Printf("[Viewer] surface texture: %v", err)
			return
		}
		view, err := frame.CreateView(nil)
		if err != nil {
			frame.Release()
			log.Printf("[Viewer] surface view: %v", err)
			return
		}
		backend.SetOutput(view, surfaceFormat)

		v.mu.Lock()
		direction := v.frameDirection
		v.mu.Unlock()

		if err := sched.Render(scheduler.FrameInfo{
			ViewportWidth:  v.window.Width(),
			ViewportHeight: v.window.Height(),
			FrameDirection: direction,
		}, input); err != nil {
			log.Printf("[Viewer] render: %v", err)
		}

		surface.Present()
		view.Release()
		frame.Release()
	})

	v.window.ProcessMessages()
	return nil
}

func (v *viewer) SetParameter(name string, value float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overrides[name] = value
}

func (v *viewer) Parameters() []shader.Parameter {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]shader.Parameter(nil), v.parameters...)
}

// compilePreset parses and compiles the preset, runs each stage through the
// translator, and records the adjustable parameters.
func (v *viewer) compilePreset() (*compiler.CompiledPreset, error) {
	text, err := os.ReadFile(v.presetPath)
	if err != nil {
		return nil, fmt.Errorf("viewer: preset %q: %w", v.presetPath, err)
	}
	p, err := preset.ParsePreset(string(text), v.presetPath)
	if err != nil {
		return nil, err
	}

	comp := compiler.NewCompiler(shader.NewOSFileResolver())
	compiled, err := comp.CompilePreset(p, v.compile)
	if err != nil {
		return nil, err
	}

	var params []shader.Parameter
	seen := make(map[string]bool)
	for i := range compiled.Passes {
		pass := &compiled.Passes[i]
		for _, stage := range []*compiler.CompiledStage{&pass.Vertex, &pass.Fragment} {
			translated, err := v.translate(*stage)
			if err != nil {
				return nil, fmt.Errorf("viewer: pass %d %s stage translation: %w", i, stage.Kind, err)
			}
			stage.Source = translated
		}
		for _, param := range pass.Parameters {
			if !seen[param.Name] {
				seen[param.Name] = true
				params = append(params, param)
			}
		}
	}

	v.mu.Lock()
	v.parameters = params
	v.mu.Unlock()
	return compiled, nil
}

func (v *viewer) lookupParameter(name string) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value, ok := v.overrides[name]
	return value, ok
}

func (v *viewer) observeFrame(stats scheduler.FrameStats) {
	if v.profiling {
		v.profiler.Observe(stats)
	}
}
