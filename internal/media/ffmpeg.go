package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Fixed encoding parameters. Every segment uses the same video codec and pixel
// format, which is what makes stream-copy concatenation possible.
const (
	VideoCodec  = "libx264"
	PixelFormat = "yuv420p"
	AudioCodec  = "aac"
)

// FFmpegProcessor implements Processor using the ffmpeg and ffprobe CLIs.
type FFmpegProcessor struct {
	ffmpeg  Runner
	ffprobe Runner
}

// NewFFmpegProcessor creates a new FFmpegProcessor that runs ffmpeg through
// ffmpeg and ffprobe through ffprobe.
func NewFFmpegProcessor(ffmpeg, ffprobe Runner) *FFmpegProcessor {
	return &FFmpegProcessor{ffmpeg: ffmpeg, ffprobe: ffprobe}
}

// EncodeSegment implements Processor.
func (p *FFmpegProcessor) EncodeSegment(ctx context.Context, spec SegmentSpec) error {
	if err := p.encodeSegment(ctx, spec); err != nil {
		return &SegmentEncodingError{SceneIndex: spec.SceneIndex, Err: err}
	}
	return nil
}

func (p *FFmpegProcessor) encodeSegment(ctx context.Context, spec SegmentSpec) error {
	if spec.Duration <= 0 {
		return fmt.Errorf("%w: got %.3f", ErrInvalidDuration, spec.Duration)
	}
	if err := spec.Resolution.Validate(); err != nil {
		return err
	}
	if err := ValidateFrameRate(spec.FrameRate); err != nil {
		return err
	}

	_, _, err := p.ffmpeg.Run(ctx, fmt.Sprintf("encode segment %d", spec.SceneIndex), SegmentArgs(spec))
	return err
}

// SegmentArgs builds the ffmpeg arguments for one still-image segment.
func SegmentArgs(spec SegmentSpec) []string {
	return []string{
		"-y",         // Overwrite output file without asking
		"-loop", "1", // Repeat the single input frame
		"-i", spec.ImagePath,
		"-t", formatSeconds(spec.Duration),
		"-vf", ScalePadFilter(spec.Resolution),
		"-r", strconv.Itoa(spec.FrameRate),
		"-c:v", VideoCodec,
		"-pix_fmt", PixelFormat,
		spec.OutputPath,
	}
}

// ScalePadFilter scales the input to fit within r preserving aspect ratio, then
// pads it with centered black bars to exactly r.
func ScalePadFilter(r Resolution) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		r.Width, r.Height, r.Width, r.Height)
}

// ConcatenateVideos implements Processor.
func (p *FFmpegProcessor) ConcatenateVideos(ctx context.Context, segments []string, output string) error {
	if err := p.concatenateVideos(ctx, segments, output); err != nil {
		return &ConcatenationError{Stream: StreamVideo, Err: err}
	}
	return nil
}

func (p *FFmpegProcessor) concatenateVideos(ctx context.Context, segments []string, output string) error {
	if len(segments) == 0 {
		return ErrNoInputs
	}

	// The manifest sits next to the output so it lives in the caller's workspace.
	listFile, err := writeConcatList(filepath.Dir(output), segments)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	args := []string{
		"-y",           // Overwrite output file
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", listFile, // Input file list
		"-c", "copy", // Copy streams without re-encoding
		output,
	}
	_, _, err = p.ffmpeg.Run(ctx, "concatenate video segments", args)
	return err
}

// writeConcatList creates a file in dir listing paths in the format required
// by ffmpeg's concat demuxer, one "file '<path>'" directive per line.
func writeConcatList(dir string, paths []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat_videos_*.txt")
	if err != nil {
		return "", fmt.Errorf("create list file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapeConcatPath(absPath)); err != nil {
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}

	return f.Name(), nil
}

// escapeConcatPath escapes single quotes for the concat demuxer's quoting rules.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// Mux implements Processor.
func (p *FFmpegProcessor) Mux(ctx context.Context, videoPath, audioPath, output string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy", // Video was already encoded per segment
		"-c:a", AudioCodec,
		"-shortest", // Trim to the shorter track
		output,
	}
	if _, _, err := p.ffmpeg.Run(ctx, "mux audio and video", args); err != nil {
		return &MuxError{Err: err}
	}
	return nil
}

// formatSeconds renders seconds without trailing zeros, e.g. 2 -> "2", 2.5 -> "2.5".
func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', -1, 64)
}

// Verify interface implementation at compile time.
var _ Processor = (*FFmpegProcessor)(nil)
