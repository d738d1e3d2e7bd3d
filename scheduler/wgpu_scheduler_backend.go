package scheduler

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/retrofx/slangport/preset"
	"github.com/retrofx/slangport/shader"
)

// WGPUBackend is the WebGPU implementation of the scheduler Backend, plus the
// per-frame output hookup the windowing layer drives.
type WGPUBackend interface {
	Backend

	// SetOutput installs the external output view the next OutputTarget draw
	// renders into, typically the current swapchain texture view.
	//
	// Parameters:
	//   - view: the output texture view
	//   - format: the view's texture format
	SetOutput(view *wgpu.TextureView, format wgpu.TextureFormat)
}

// wgpuProgram is one linked pass program with its staged draw state.
type wgpuProgram struct {
	vertexModule   *wgpu.ShaderModule
	fragmentModule *wgpu.ShaderModule

	// members carry the program's std140 uniform block placement; staged is
	// the CPU-side block image written to buffer before each draw.
	members   []shader.BlockMember
	blockSize uint32
	staged    []byte
	buffer    *wgpu.Buffer

	samplerOrder []string
	bindings     map[string]textureBinding

	layout         *wgpu.BindGroupLayout
	pipelineLayout *wgpu.PipelineLayout

	// pipelines are created lazily per destination format.
	pipelines map[wgpu.TextureFormat]*wgpu.RenderPipeline
}

type textureBinding struct {
	texture TextureID
	opts    SamplerOptions
}

// wgpuTexture is one texture or render target with its retained metadata.
type wgpuTexture struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
	width   int
	height  int
	format  wgpu.TextureFormat
	target  bool
}

type wgpuSchedulerBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	output       *wgpu.TextureView
	outputFormat wgpu.TextureFormat

	nextProgram ProgramID
	nextTexture TextureID

	programs map[ProgramID]*wgpuProgram
	textures map[TextureID]*wgpuTexture
	samplers map[SamplerOptions]*wgpu.Sampler
}

var _ WGPUBackend = &wgpuSchedulerBackendImpl{}

// NewWGPUBackend creates a WebGPU scheduler backend over an initialized
// device and queue. Pass stage sources handed to CreateProgram must already
// be in the device's shader dialect, with vs_main and fs_main entry points.
// Panics if device or queue is nil.
//
// Parameters:
//   - device: the WebGPU device
//   - queue: the device's queue
//
// Returns:
//   - WGPUBackend: a ready backend awaiting SetOutput
func NewWGPUBackend(device *wgpu.Device, queue *wgpu.Queue) WGPUBackend {
	if device == nil || queue == nil {
		panic("scheduler: NewWGPUBackend requires a non-nil device and queue")
	}
	return &wgpuSchedulerBackendImpl{
		mu:           &sync.Mutex{},
		device:       device,
		queue:        queue,
		outputFormat: wgpu.TextureFormatBGRA8Unorm,
		nextProgram:  1,
		nextTexture:  1,
		programs:     make(map[ProgramID]*wgpuProgram),
		textures:     make(map[TextureID]*wgpuTexture),
		samplers:     make(map[SamplerOptions]*wgpu.Sampler),
	}
}

func (b *wgpuSchedulerBackendImpl) SetOutput(view *wgpu.TextureView, format wgpu.TextureFormat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.output = view
	b.outputFormat = format
}

func (b *wgpuSchedulerBackendImpl) CreateProgram(vertex, fragment string, uniforms []shader.UniformDecl, samplers []string) (ProgramID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	vs, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "pass vertex",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: vertex,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("vertex module: %w", err)
	}
	fs, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "pass fragment",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: fragment,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("fragment module: %w", err)
	}

	declMembers := make([]shader.BlockMember, 0, len(uniforms))
	for _, u := range uniforms {
		declMembers = append(declMembers, shader.BlockMember{Name: u.Name, Type: u.Type, ArrayLen: u.ArrayLen})
	}
	members, blockSize := shader.ComputeBlockLayout(declMembers)
	if blockSize < 16 {
		blockSize = 16
	}

	buffer, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "pass uniforms",
		Size:  uint64(blockSize),
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("uniform buffer: %w", err)
	}

	layoutEntries := []wgpu.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
			Buffer: wgpu.BufferBindingLayout{
				Type: wgpu.BufferBindingTypeUniform,
			},
		},
	}
	for i := range samplers {
		layoutEntries = append(layoutEntries,
			wgpu.BindGroupLayoutEntry{
				Binding:    uint32(1 + 2*i),
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			wgpu.BindGroupLayoutEntry{
				Binding:    uint32(2 + 2*i),
				Visibility: wgpu.ShaderStageFragment,
				Sampler: wgpu.SamplerBindingLayout{
					Type: wgpu.SamplerBindingTypeFiltering,
				},
			},
		)
	}
	layout, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   "pass bind group layout",
		Entries: layoutEntries,
	})
	if err != nil {
		return 0, fmt.Errorf("bind group layout: %w", err)
	}
	pipelineLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "pass pipeline layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		return 0, fmt.Errorf("pipeline layout: %w", err)
	}

	id := b.nextProgram
	b.nextProgram++
	b.programs[id] = &wgpuProgram{
		vertexModule:   vs,
		fragmentModule: fs,
		members:        members,
		blockSize:      blockSize,
		staged:         make([]byte, blockSize),
		buffer:         buffer,
		samplerOrder:   samplers,
		bindings:       make(map[string]textureBinding),
		layout:         layout,
		pipelineLayout: pipelineLayout,
		pipelines:      make(map[wgpu.TextureFormat]*wgpu.RenderPipeline),
	}
	return id, nil
}

func (b *wgpuSchedulerBackendImpl) CreateTarget(width, height int, opts TargetOptions) (TextureID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tex, err := b.makeTargetLocked(width, height, targetFormat(opts))
	if err != nil {
		return 0, err
	}
	id := b.nextTexture
	b.nextTexture++
	b.textures[id] = tex
	return id, nil
}

// makeTargetLocked allocates one render target texture and view. Callers must
// hold the mutex.
func (b *wgpuSchedulerBackendImpl) makeTargetLocked(width, height int, format wgpu.TextureFormat) (*wgpuTexture, error) {
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     "pass render target",
		Usage:     wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopySrc | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}
	return &wgpuTexture{
		texture: tex,
		view:    view,
		width:   width,
		height:  height,
		format:  format,
		target:  true,
	}, nil
}

func (b *wgpuSchedulerBackendImpl) ResizeTarget(id TextureID, width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	old, ok := b.textures[id]
	if !ok || !old.target {
		return fmt.Errorf("texture %d is not a resizable render target", id)
	}
	if old.width == width && old.height == height {
		return nil
	}

	replacement, err := b.makeTargetLocked(width, height, old.format)
	if err != nil {
		return err
	}
	old.view.Release()
	old.texture.Release()
	b.textures[id] = replacement
	return nil
}

func (b *wgpuSchedulerBackendImpl) UploadTexture(img image.Image) (TextureID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	width, height := bounds.Dx(), bounds.Dy()

	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     "external texture",
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		Format:        wgpu.TextureFormatRGBA8UnormSrgb,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return 0, err
	}

	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		rgba.Pix,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(width * 4),
			RowsPerImage: uint32(height),
		},
		&wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
	)

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return 0, err
	}

	id := b.nextTexture
	b.nextTexture++
	b.textures[id] = &wgpuTexture{
		texture: tex,
		view:    view,
		width:   width,
		height:  height,
		format:  wgpu.TextureFormatRGBA8UnormSrgb,
	}
	return id, nil
}

func (b *wgpuSchedulerBackendImpl) TextureSize(id TextureID) (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tex, ok := b.textures[id]; ok {
		return tex.width, tex.height
	}
	return 0, 0
}

func (b *wgpuSchedulerBackendImpl) SetUniform(program ProgramID, name string, value shader.UniformValue) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.programs[program]
	if !ok {
		return
	}
	for _, m := range p.members {
		if m.Name == name {
			value.PackSTD140(p.staged, m)
			return
		}
	}
}

func (b *wgpuSchedulerBackendImpl) BindTexture(program ProgramID, samplerName string, texture TextureID, opts SamplerOptions) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.programs[program]; ok {
		p.bindings[samplerName] = textureBinding{texture: texture, opts: opts}
	}
}

func (b *wgpuSchedulerBackendImpl) Draw(program ProgramID, target TextureID, width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.programs[program]
	if !ok {
		return fmt.Errorf("unknown program %d", program)
	}

	var view *wgpu.TextureView
	var format wgpu.TextureFormat
	if target == OutputTarget {
		if b.output == nil {
			return fmt.Errorf("no output view installed; call SetOutput before drawing the final pass")
		}
		view, format = b.output, b.outputFormat
	} else {
		tex, ok := b.textures[target]
		if !ok {
			return fmt.Errorf("unknown render target %d", target)
		}
		view, format = tex.view, tex.format
	}

	pipeline, err := b.pipelineForLocked(p, format)
	if err != nil {
		return err
	}

	b.queue.WriteBuffer(p.buffer, 0, p.staged)

	bindGroup, err := b.bindGroupLocked(p)
	if err != nil {
		return err
	}
	defer bindGroup.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "scheduler pass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    view,
				LoadOp:  wgpu.LoadOpClear,
				StoreOp: wgpu.StoreOpStore,
				ClearValue: wgpu.Color{
					R: 0, G: 0, B: 0, A: 1,
				},
			},
		},
	})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	// A single oversized triangle covers the viewport without an index buffer.
	pass.Draw(3, 1, 0, 0)
	pass.End()

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	return nil
}

func (b *wgpuSchedulerBackendImpl) CopyTexture(src, dst TextureID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	from, ok := b.textures[src]
	if !ok {
		return fmt.Errorf("unknown copy source %d", src)
	}
	to, ok := b.textures[dst]
	if !ok {
		return fmt.Errorf("unknown copy destination %d", dst)
	}
	if from.width != to.width || from.height != to.height {
		return fmt.Errorf("copy size mismatch: %dx%d -> %dx%d", from.width, from.height, to.width, to.height)
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	encoder.CopyTextureToTexture(
		&wgpu.ImageCopyTexture{Texture: from.texture, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyTexture{Texture: to.texture, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspectAll},
		&wgpu.Extent3D{
			Width:              uint32(from.width),
			Height:             uint32(from.height),
			DepthOrArrayLayers: 1,
		},
	)

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	return nil
}

func (b *wgpuSchedulerBackendImpl) ReleaseTarget(id TextureID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tex, ok := b.textures[id]; ok {
		tex.view.Release()
		tex.texture.Release()
		delete(b.textures, id)
	}
}

// pipelineForLocked returns the program's pipeline for the destination
// format, creating it on first use. Callers must hold the mutex.
func (b *wgpuSchedulerBackendImpl) pipelineForLocked(p *wgpuProgram, format wgpu.TextureFormat) (*wgpu.RenderPipeline, error) {
	if pipeline, ok := p.pipelines[format]; ok {
		return pipeline, nil
	}

	created, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "scheduler pass pipeline",
		Layout: p.pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     p.vertexModule,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     p.fragmentModule,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    format,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline for format %v: %w", format, err)
	}
	p.pipelines[format] = created
	return created, nil
}

// bindGroupLocked assembles the program's bind group from its uniform buffer
// and staged texture bindings. Callers must hold the mutex.
func (b *wgpuSchedulerBackendImpl) bindGroupLocked(p *wgpuProgram) (*wgpu.BindGroup, error) {
	entries := []wgpu.BindGroupEntry{
		{
			Binding: 0,
			Buffer:  p.buffer,
			Size:    uint64(p.blockSize),
		},
	}
	for i, name := range p.samplerOrder {
		binding, ok := p.bindings[name]
		if !ok {
			return nil, fmt.Errorf("sampler %q has no bound texture", name)
		}
		tex, ok := b.textures[binding.texture]
		if !ok {
			return nil, fmt.Errorf("sampler %q bound to unknown texture %d", name, binding.texture)
		}
		sampler, err := b.samplerLocked(binding.opts)
		if err != nil {
			return nil, err
		}
		entries = append(entries,
			wgpu.BindGroupEntry{
				Binding:     uint32(1 + 2*i),
				TextureView: tex.view,
			},
			wgpu.BindGroupEntry{
				Binding: uint32(2 + 2*i),
				Sampler: sampler,
			},
		)
	}

	return b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "scheduler pass bind group",
		Layout:  p.layout,
		Entries: entries,
	})
}

// samplerLocked returns a cached sampler for the options, creating it on
// first use. Callers must hold the mutex.
func (b *wgpuSchedulerBackendImpl) samplerLocked(opts SamplerOptions) (*wgpu.Sampler, error) {
	if sampler, ok := b.samplers[opts]; ok {
		return sampler, nil
	}

	filter := wgpu.FilterModeNearest
	if opts.Linear {
		filter = wgpu.FilterModeLinear
	}
	mipFilter := wgpu.MipmapFilterModeNearest
	if opts.Mipmap {
		mipFilter = wgpu.MipmapFilterModeLinear
	}

	sampler, err := b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "scheduler sampler",
		AddressModeU:  addressMode(opts.WrapMode),
		AddressModeV:  addressMode(opts.WrapMode),
		AddressModeW:  addressMode(opts.WrapMode),
		MagFilter:     filter,
		MinFilter:     filter,
		MipmapFilter:  mipFilter,
		LodMinClamp:   0.0,
		LodMaxClamp:   32.0,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, err
	}
	b.samplers[opts] = sampler
	return sampler, nil
}

// targetFormat maps the target options to a texture format.
func targetFormat(opts TargetOptions) wgpu.TextureFormat {
	switch {
	case opts.Float:
		return wgpu.TextureFormatRGBA16Float
	case opts.SRGB:
		return wgpu.TextureFormatRGBA8UnormSrgb
	default:
		return wgpu.TextureFormatRGBA8Unorm
	}
}

// addressMode maps the preset wrap mode to a sampler address mode. Border
// clamping is approximated with edge clamping, which WebGPU guarantees.
func addressMode(mode preset.WrapMode) wgpu.AddressMode {
	switch mode {
	case preset.WrapRepeat:
		return wgpu.AddressModeRepeat
	case preset.WrapMirroredRepeat:
		return wgpu.AddressModeMirrorRepeat
	default:
		return wgpu.AddressModeClampToEdge
	}
}
