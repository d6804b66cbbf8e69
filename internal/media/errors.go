package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Static errors for media operations.
var (
	// ErrInvalidDimensions is returned when width or height is outside [1, MaxDimension].
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be between 1 and 4096")
	// ErrInvalidDuration is returned when a duration is not positive.
	ErrInvalidDuration = errors.New("invalid duration: must be positive")
	// ErrInvalidFrameRate is returned when the frame rate is outside [1, MaxFrameRate].
	ErrInvalidFrameRate = errors.New("invalid frame rate: must be between 1 and 60")
	// ErrNoInputs is returned when a concatenation is requested with no inputs.
	ErrNoInputs = errors.New("no input paths provided")
	// ErrMissingDuration is returned when ffprobe reports no usable duration.
	ErrMissingDuration = errors.New("duration missing from probe output")
)

// Kind classifies a pipeline failure. The values double as the error codes
// surfaced to API clients.
type Kind string

const (
	KindUnknown         Kind = "INTERNAL_ERROR"
	KindExternalTool    Kind = "EXTERNAL_TOOL_FAILED"
	KindSegmentEncoding Kind = "SEGMENT_ENCODING_FAILED"
	KindConcatenation   Kind = "CONCATENATION_FAILED"
	KindProbe           Kind = "PROBE_FAILED"
	KindMux             Kind = "MUX_FAILED"
	KindInputShape      Kind = "INPUT_SHAPE_MISMATCH"
	KindCancelled       Kind = "REQUEST_CANCELLED"
)

// StreamType identifies which track a concatenation was building.
type StreamType string

const (
	StreamVideo StreamType = "video"
	StreamAudio StreamType = "audio"
)

// kinded is implemented by every typed pipeline error.
type kinded interface {
	Kind() Kind
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Cancellation and deadline errors win over any wrapping stage error, since the
// stage did not fail on its own.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if k, ok := e.(kinded); ok {
			return k.Kind()
		}
	}
	return KindUnknown
}

// ToolError is returned when an external tool exits with a non-zero status
// or cannot be started at all (ExitCode is -1 in that case).
type ToolError struct {
	// Purpose describes what the invocation was for, e.g. "encode segment".
	Purpose string
	// Tool is the binary that was executed.
	Tool string
	// Args is the literal argument vector passed to the tool.
	Args []string
	// ExitCode is the process exit status.
	ExitCode int
	// Stderr is the verbatim standard error output.
	Stderr string
	// Err is the underlying exec error.
	Err error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %s exited with status %d", e.Purpose, e.Tool, e.ExitCode)
	if tail := e.StderrTail(5); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Kind implements kinded.
func (e *ToolError) Kind() Kind { return KindExternalTool }

// StderrTail returns the last n non-empty lines of stderr joined by "; ".
// ffmpeg prints its banner first, so the useful diagnostics are at the end.
func (e *ToolError) StderrTail(n int) string {
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			kept = append([]string{l}, kept...)
		}
	}
	return strings.Join(kept, "; ")
}

// SegmentEncodingError reports that the segment for one scene failed to encode.
type SegmentEncodingError struct {
	SceneIndex int
	Err        error
}

func (e *SegmentEncodingError) Error() string {
	return fmt.Sprintf("encode segment for scene %d: %v", e.SceneIndex, e.Err)
}

func (e *SegmentEncodingError) Unwrap() error { return e.Err }

// Kind implements kinded.
func (e *SegmentEncodingError) Kind() Kind { return KindSegmentEncoding }

// ConcatenationError reports a failed video or audio concatenation.
type ConcatenationError struct {
	Stream StreamType
	Err    error
}

func (e *ConcatenationError) Error() string {
	return fmt.Sprintf("concatenate %s: %v", e.Stream, e.Err)
}

func (e *ConcatenationError) Unwrap() error { return e.Err }

// Kind implements kinded.
func (e *ConcatenationError) Kind() Kind { return KindConcatenation }

// ProbeError reports a failed or unparseable duration probe.
type ProbeError struct {
	Path string
	// Output is the raw probe stdout, kept for diagnostics.
	Output string
	Err    error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe duration of %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Kind implements kinded.
func (e *ProbeError) Kind() Kind { return KindProbe }

// MuxError reports a failed audio/video mux.
type MuxError struct {
	Err error
}

func (e *MuxError) Error() string { return fmt.Sprintf("mux audio and video: %v", e.Err) }

func (e *MuxError) Unwrap() error { return e.Err }

// Kind implements kinded.
func (e *MuxError) Kind() Kind { return KindMux }

// InputShapeError is returned when the image, audio and scene lists do not
// line up. It is detected before any tool is run.
type InputShapeError struct {
	Images int
	Audio  int
	Scenes int
	Reason string
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("input shape mismatch: %s (images=%d, audio=%d, scenes=%d)", e.Reason, e.Images, e.Audio, e.Scenes)
}

// Kind implements kinded.
func (e *InputShapeError) Kind() Kind { return KindInputShape }
