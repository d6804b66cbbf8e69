package media

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProbeDuration implements DurationProber using ffprobe's container duration field.
func (p *FFmpegProcessor) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	stdout, _, err := p.ffprobe.Run(ctx, "probe duration", args)
	if err != nil {
		return 0, &ProbeError{Path: path, Output: string(stdout), Err: err}
	}

	duration, err := ParseDuration(string(stdout))
	if err != nil {
		return 0, &ProbeError{Path: path, Output: string(stdout), Err: err}
	}
	return duration, nil
}

// ParseDuration parses ffprobe's bare duration output. Empty output and the
// literal "N/A" ffprobe prints for unknown durations are reported as
// ErrMissingDuration; anything non-positive or non-finite is rejected.
func ParseDuration(output string) (float64, error) {
	s := strings.TrimSpace(output)
	if s == "" || s == "N/A" {
		return 0, ErrMissingDuration
	}

	duration, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return 0, fmt.Errorf("%w: got %q", ErrInvalidDuration, s)
	}
	return duration, nil
}
