// Package audio joins the per-scene narration clips into one audio track.
package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/maauso/video-assembly-api/internal/media"
)

// Concatenator joins audio clips into a single track.
type Concatenator interface {
	// Concatenate re-encodes clips, in order, into one audio stream written to
	// output and returns the probed duration of the result in seconds.
	// Failures are returned as *media.ConcatenationError.
	Concatenate(ctx context.Context, clips []string, output string) (float64, error)
}

// FFmpegConcatenator implements Concatenator with ffmpeg's concat filter.
// Clips may differ in container and codec, so unlike video segments they are
// always re-encoded.
type FFmpegConcatenator struct {
	ffmpeg media.Runner
	prober media.DurationProber
}

// NewFFmpegConcatenator creates a concatenator that encodes through ffmpeg and
// reads the result's duration through prober.
func NewFFmpegConcatenator(ffmpeg media.Runner, prober media.DurationProber) *FFmpegConcatenator {
	return &FFmpegConcatenator{ffmpeg: ffmpeg, prober: prober}
}

// Concatenate implements Concatenator.
func (c *FFmpegConcatenator) Concatenate(ctx context.Context, clips []string, output string) (float64, error) {
	duration, err := c.concatenate(ctx, clips, output)
	if err != nil {
		return 0, &media.ConcatenationError{Stream: media.StreamAudio, Err: err}
	}
	return duration, nil
}

func (c *FFmpegConcatenator) concatenate(ctx context.Context, clips []string, output string) (float64, error) {
	if len(clips) == 0 {
		return 0, media.ErrNoInputs
	}

	if _, _, err := c.ffmpeg.Run(ctx, "concatenate audio clips", ConcatArgs(clips, output)); err != nil {
		return 0, err
	}

	// The encoded length can differ from the sum of the inputs (priming
	// samples, container overhead), so the result is measured.
	duration, err := c.prober.ProbeDuration(ctx, output)
	if err != nil {
		return 0, err
	}
	return duration, nil
}

// ConcatArgs builds the ffmpeg arguments that map every clip as a separate
// input and joins their audio streams in order.
func ConcatArgs(clips []string, output string) []string {
	args := make([]string, 0, 2*len(clips)+9)
	args = append(args, "-y")
	for _, clip := range clips {
		args = append(args, "-i", clip)
	}
	return append(args,
		"-filter_complex", ConcatFilter(len(clips)),
		"-map", "[out]",
		"-c:a", media.AudioCodec,
		output,
	)
}

// ConcatFilter returns the filter graph joining n audio inputs,
// e.g. "[0:a][1:a]concat=n=2:v=0:a=1[out]".
func ConcatFilter(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[%d:a]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=0:a=1[out]", n)
	return b.String()
}

// Verify interface implementation at compile time.
var _ Concatenator = (*FFmpegConcatenator)(nil)
