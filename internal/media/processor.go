// Package media wraps the ffmpeg and ffprobe command-line tools used by the
// assembly pipeline: encoding still images into fixed-length segments,
// joining segments, muxing audio onto video and probing durations.
package media

import (
	"context"
	"fmt"
)

// Limits accepted by the encoder.
const (
	MaxDimension = 4096
	MaxFrameRate = 60
)

// Resolution is the output frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Validate checks both dimensions are within [1, MaxDimension].
func (r Resolution) Validate() error {
	if r.Width < 1 || r.Width > MaxDimension || r.Height < 1 || r.Height > MaxDimension {
		return fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, r.Width, r.Height)
	}
	return nil
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ValidateFrameRate checks fps is within [1, MaxFrameRate].
func ValidateFrameRate(fps int) error {
	if fps < 1 || fps > MaxFrameRate {
		return fmt.Errorf("%w: got %d", ErrInvalidFrameRate, fps)
	}
	return nil
}

// SegmentSpec describes one still-image segment to encode.
type SegmentSpec struct {
	// SceneIndex tags errors so callers can report which scene failed.
	SceneIndex int
	// ImagePath is the source still image.
	ImagePath string
	// Duration is the segment length in seconds.
	Duration float64
	// Resolution is the exact output frame size.
	Resolution Resolution
	// FrameRate is the output frame rate.
	FrameRate int
	// OutputPath is where the segment is written.
	OutputPath string
}

// DurationProber reports the playable duration of a media file.
type DurationProber interface {
	// ProbeDuration returns the container duration of path in seconds.
	// Failures are returned as *ProbeError.
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Processor defines the video-side pipeline operations.
type Processor interface {
	DurationProber

	// EncodeSegment renders a still image into a silent, fixed-length video
	// scaled to fit and letterboxed to exactly spec.Resolution. All segments share
	// one codec and pixel format so they can be joined without re-encoding.
	// Failures are returned as *SegmentEncodingError.
	EncodeSegment(ctx context.Context, spec SegmentSpec) error

	// ConcatenateVideos joins stream-compatible segments in order by stream
	// copy. Failures are returned as *ConcatenationError.
	ConcatenateVideos(ctx context.Context, segments []string, output string) error

	// Mux copies the video stream, encodes the audio stream and truncates the
	// result to the shorter input. Failures are returned as *MuxError.
	Mux(ctx context.Context, videoPath, audioPath, output string) error
}
