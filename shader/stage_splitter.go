package shader

import (
	"log"
	"strings"
)

// SplitStages splits one annotated shader source into per-stage sub-sources.
// A `#pragma stage vertex|fragment` line opens a stage buffer; subsequent
// lines accumulate into it until the next stage pragma flushes it as a
// completed stage. Non-stage pragma lines (parameter, name, format) are
// dropped from stage bodies. A source containing no stage pragma yields zero
// stages and the caller must supply a synthetic default.
//
// Parameters:
//   - source: the pre-processed shader source
//
// Returns:
//   - []Stage: the completed stages in source order
func SplitStages(source string) []Stage {
	var stages []Stage
	var current *Stage
	var buf []string

	flush := func() {
		if current != nil {
			current.Source = strings.Join(buf, "\n")
			stages = append(stages, *current)
		}
		current = nil
		buf = buf[:0]
	}

	for _, line := range strings.Split(source, "\n") {
		if m := stagePragmaRegex.FindStringSubmatch(line); m != nil {
			flush()
			switch m[1] {
			case "vertex":
				current = &Stage{Kind: StageVertex}
			case "fragment":
				current = &Stage{Kind: StageFragment}
			default:
				log.Printf("[StageSplitter] ignoring unknown stage pragma %q", m[1])
			}
			continue
		}

		// Other pragmas (parameter, name, format) never appear in stage bodies.
		if current != nil && strings.HasPrefix(strings.TrimSpace(line), "#pragma ") {
			continue
		}

		if current != nil {
			buf = append(buf, line)
		}
	}
	flush()

	return stages
}

// StagePrelude returns the text preceding the first stage pragma, which is the
// only region the global definitions extractor operates on. If the source has
// no stage pragma the whole source is the prelude.
//
// Parameters:
//   - source: the pre-processed shader source
//
// Returns:
//   - string: the pre-stage text
func StagePrelude(source string) string {
	offset := 0
	for _, line := range strings.Split(source, "\n") {
		if stagePragmaRegex.MatchString(line) {
			return source[:offset]
		}
		offset += len(line) + 1
	}
	return source
}
