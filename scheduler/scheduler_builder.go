package scheduler

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// SchedulerOption configures a Scheduler during construction.
type SchedulerOption func(*scheduler)

// WithTextureLoader sets the loader used for the preset's external textures.
//
// Parameters:
//   - loader: the path-to-image decoder
//
// Returns:
//   - SchedulerOption: the option to pass to NewScheduler
func WithTextureLoader(loader TextureLoader) SchedulerOption {
	return func(s *scheduler) {
		s.loadTexture = loader
	}
}

// WithParameterLookup sets the runtime parameter registry consulted before
// preset overrides and pragma defaults.
//
// Parameters:
//   - lookup: the name-to-value registry function
//
// Returns:
//   - SchedulerOption: the option to pass to NewScheduler
func WithParameterLookup(lookup ParameterLookup) SchedulerOption {
	return func(s *scheduler) {
		s.lookupParam = lookup
	}
}

// WithFrameStatsHook sets a hook invoked once per render call with that
// frame's statistics.
//
// Parameters:
//   - hook: the stats consumer
//
// Returns:
//   - SchedulerOption: the option to pass to NewScheduler
func WithFrameStatsHook(hook func(FrameStats)) SchedulerOption {
	return func(s *scheduler) {
		s.statsHook = hook
	}
}

// OSTextureLoader returns a TextureLoader decoding PNG and JPEG files from
// the local filesystem.
//
// Returns:
//   - TextureLoader: a filesystem-backed loader
func OSTextureLoader() TextureLoader {
	return func(path string) (image.Image, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		return img, err
	}
}
