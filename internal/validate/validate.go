// Package validate gates local media files against size/duration
// policy before any heavy processing is performed on them.
package validate

import (
	"fmt"
	"os"

	"github.com/vortexbot/vortex/internal/media"
	"github.com/vortexbot/vortex/pkg/logger"
)

var log = logger.Get("Validator")

// FileNotFoundViolation is the distinguished violation reported when
// the path under test does not exist. A missing file is a normal
// negative outcome, not an error.
const FileNotFoundViolation = "File could not be found"

type prober interface {
	ProbeDuration(path string) (float64, error)
}

// Validator checks local files against a size/duration ceiling. It
// holds no per-request state and is safe for concurrent use; the
// policy limits are supplied per call so the same instance can serve
// both the looser video policy and the stricter upload policy.
type Validator struct {
	prober prober
}

func New(prober prober) *Validator {
	return &Validator{prober}
}

// Validate checks the file at the given path against the provided
// limits, collecting EVERY applicable violation (not just the first)
// so callers can present a complete report. The file is only ever
// read; it is never moved, deleted or otherwise mutated.
//
// When the duration cannot be probed (malformed or non-media input)
// the duration check is skipped rather than failing closed, and the
// outcome reports a duration of -1.
func (validator *Validator) Validate(path string, maxSizeBytes int64, maxDurationSeconds float64) media.ValidationOutcome {
	info, err := os.Stat(path)
	if err != nil {
		log.Emit(logger.DEBUG, "Validation of %s refused - file cannot be statted: %v\n", path, err)
		return media.ValidationOutcome{
			Valid:           false,
			Violations:      []string{FileNotFoundViolation},
			DurationSeconds: -1,
		}
	}

	violations := make([]string, 0, 2)
	sizeBytes := info.Size()
	if sizeBytes > maxSizeBytes {
		violations = append(violations, fmt.Sprintf(
			"File too large (%s). Maximum size: %s",
			media.FormatSize(sizeBytes), media.FormatSize(maxSizeBytes)))
	}

	duration, err := validator.prober.ProbeDuration(path)
	if err != nil {
		// Lenient-on-unknown: an unprobeable duration passes the gate.
		log.Emit(logger.WARNING, "Duration of %s could not be determined (%v) - duration check skipped\n", path, err)
		duration = -1
	} else if duration > maxDurationSeconds {
		violations = append(violations, fmt.Sprintf(
			"File too long (%s). Maximum duration: %s",
			media.FormatDuration(duration), media.FormatDuration(maxDurationSeconds)))
	}

	return media.ValidationOutcome{
		Valid:           len(violations) == 0,
		Violations:      violations,
		SizeBytes:       sizeBytes,
		DurationSeconds: duration,
	}
}
