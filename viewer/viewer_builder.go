package viewer

import "github.com/retrofx/slangport/compiler"

// ViewerBuilderOption is a functional option for configuring a viewer.
// Use the With* functions to create options.
type ViewerBuilderOption func(v *viewer)

// WithProfiling enables or disables per-second performance logging.
//
// Parameters:
//   - enabled: whether to log frame statistics
//
// Returns:
//   - ViewerBuilderOption: option function to apply
func WithProfiling(enabled bool) ViewerBuilderOption {
	return func(v *viewer) {
		v.profiling = enabled
	}
}

// WithStageTranslator sets the translator run over every compiled stage
// before program creation, for converting into the device's shading dialect.
//
// Parameters:
//   - translate: the stage text translator
//
// Returns:
//   - ViewerBuilderOption: option function to apply
func WithStageTranslator(translate StageTranslator) ViewerBuilderOption {
	return func(v *viewer) {
		if translate != nil {
			v.translate = translate
		}
	}
}

// WithCompileOptions sets the compilation options the viewer compiles the
// preset with.
//
// Parameters:
//   - opts: the compiler options
//
// Returns:
//   - ViewerBuilderOption: option function to apply
func WithCompileOptions(opts compiler.Options) ViewerBuilderOption {
	return func(v *viewer) {
		v.compile = opts
	}
}
