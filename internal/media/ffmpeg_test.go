package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records invocations and answers them with respond.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []fakeCall
	respond func(purpose string, args []string) (stdout []byte, err error)
}

type fakeCall struct {
	purpose string
	args    []string
}

func (f *fakeRunner) Run(_ context.Context, purpose string, args []string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{purpose: purpose, args: args})
	f.mu.Unlock()
	if f.respond == nil {
		return nil, nil, nil
	}
	out, err := f.respond(purpose, args)
	return out, nil, err
}

func toolFailure(purpose string) error {
	return &ToolError{Purpose: purpose, Tool: "ffmpeg", ExitCode: 1, Stderr: "boom", Err: errors.New("exit status 1")}
}

func TestSegmentArgs(t *testing.T) {
	args := SegmentArgs(SegmentSpec{
		ImagePath:  "/in/scene.png",
		Duration:   2.5,
		Resolution: Resolution{Width: 1280, Height: 720},
		FrameRate:  24,
		OutputPath: "/ws/segment_000.mp4",
	})

	assert.Equal(t, []string{
		"-y", "-loop", "1",
		"-i", "/in/scene.png",
		"-t", "2.5",
		"-vf", "scale=1280:720:force_original_aspect_ratio=decrease,pad=1280:720:(ow-iw)/2:(oh-ih)/2",
		"-r", "24",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"/ws/segment_000.mp4",
	}, args)
}

func TestEncodeSegment(t *testing.T) {
	valid := SegmentSpec{
		SceneIndex: 3,
		ImagePath:  "/in/a.png",
		Duration:   2,
		Resolution: Resolution{Width: 64, Height: 64},
		FrameRate:  24,
		OutputPath: "/ws/segment_003.mp4",
	}

	t.Run("runs ffmpeg once", func(t *testing.T) {
		ffmpeg := &fakeRunner{}
		p := NewFFmpegProcessor(ffmpeg, &fakeRunner{})

		require.NoError(t, p.EncodeSegment(context.Background(), valid))
		require.Len(t, ffmpeg.calls, 1)
		assert.Equal(t, "encode segment 3", ffmpeg.calls[0].purpose)
	})

	t.Run("tool failure is tagged with scene index", func(t *testing.T) {
		ffmpeg := &fakeRunner{respond: func(purpose string, _ []string) ([]byte, error) {
			return nil, toolFailure(purpose)
		}}
		p := NewFFmpegProcessor(ffmpeg, &fakeRunner{})

		err := p.EncodeSegment(context.Background(), valid)
		var segErr *SegmentEncodingError
		require.ErrorAs(t, err, &segErr)
		assert.Equal(t, 3, segErr.SceneIndex)
		assert.Equal(t, KindSegmentEncoding, KindOf(err))

		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "boom", toolErr.Stderr)
	})

	invalid := []struct {
		name   string
		mutate func(*SegmentSpec)
		want   error
	}{
		{"zero duration", func(s *SegmentSpec) { s.Duration = 0 }, ErrInvalidDuration},
		{"negative duration", func(s *SegmentSpec) { s.Duration = -1 }, ErrInvalidDuration},
		{"zero width", func(s *SegmentSpec) { s.Resolution.Width = 0 }, ErrInvalidDimensions},
		{"height too large", func(s *SegmentSpec) { s.Resolution.Height = 4097 }, ErrInvalidDimensions},
		{"zero fps", func(s *SegmentSpec) { s.FrameRate = 0 }, ErrInvalidFrameRate},
		{"fps too large", func(s *SegmentSpec) { s.FrameRate = 61 }, ErrInvalidFrameRate},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			ffmpeg := &fakeRunner{}
			p := NewFFmpegProcessor(ffmpeg, &fakeRunner{})

			spec := valid
			tc.mutate(&spec)
			err := p.EncodeSegment(context.Background(), spec)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, KindSegmentEncoding, KindOf(err))
			assert.Empty(t, ffmpeg.calls, "no process should be spawned for invalid input")
		})
	}
}

func TestConcatenateVideos(t *testing.T) {
	t.Run("writes ordered manifest and stream-copies", func(t *testing.T) {
		dir := t.TempDir()
		segments := []string{
			filepath.Join(dir, "segment_000.mp4"),
			filepath.Join(dir, "it's segment_001.mp4"),
		}

		var manifest string
		ffmpeg := &fakeRunner{respond: func(_ string, args []string) ([]byte, error) {
			for i, a := range args {
				if a == "-i" {
					data, err := os.ReadFile(args[i+1])
					require.NoError(t, err)
					manifest = string(data)
				}
			}
			return nil, nil
		}}
		p := NewFFmpegProcessor(ffmpeg, &fakeRunner{})

		output := filepath.Join(dir, "silent_video.mp4")
		require.NoError(t, p.ConcatenateVideos(context.Background(), segments, output))

		assert.Equal(t,
			"file '"+segments[0]+"'\n"+
				"file '"+filepath.Join(dir, `it'\''s segment_001.mp4`)+"'\n",
			manifest)

		require.Len(t, ffmpeg.calls, 1)
		args := ffmpeg.calls[0].args
		assert.Equal(t, []string{"-c", "copy", output}, args[len(args)-3:])

		// Manifest is removed once the join is done.
		leftovers, _ := filepath.Glob(filepath.Join(dir, "concat_videos_*.txt"))
		assert.Empty(t, leftovers)
	})

	t.Run("empty list", func(t *testing.T) {
		p := NewFFmpegProcessor(&fakeRunner{}, &fakeRunner{})
		err := p.ConcatenateVideos(context.Background(), nil, filepath.Join(t.TempDir(), "out.mp4"))

		var concatErr *ConcatenationError
		require.ErrorAs(t, err, &concatErr)
		assert.Equal(t, StreamVideo, concatErr.Stream)
		assert.ErrorIs(t, err, ErrNoInputs)
	})

	t.Run("tool failure", func(t *testing.T) {
		ffmpeg := &fakeRunner{respond: func(purpose string, _ []string) ([]byte, error) {
			return nil, toolFailure(purpose)
		}}
		p := NewFFmpegProcessor(ffmpeg, &fakeRunner{})

		err := p.ConcatenateVideos(context.Background(), []string{"a.mp4"}, filepath.Join(t.TempDir(), "out.mp4"))
		assert.Equal(t, KindConcatenation, KindOf(err))
	})
}

func TestMux(t *testing.T) {
	t.Run("uses shortest policy", func(t *testing.T) {
		ffmpeg := &fakeRunner{}
		p := NewFFmpegProcessor(ffmpeg, &fakeRunner{})

		require.NoError(t, p.Mux(context.Background(), "/ws/v.mp4", "/ws/a.m4a", "/out/final.mp4"))
		require.Len(t, ffmpeg.calls, 1)
		assert.Equal(t, []string{
			"-y", "-i", "/ws/v.mp4", "-i", "/ws/a.m4a",
			"-c:v", "copy", "-c:a", "aac", "-shortest", "/out/final.mp4",
		}, ffmpeg.calls[0].args)
	})

	t.Run("failure", func(t *testing.T) {
		ffmpeg := &fakeRunner{respond: func(purpose string, _ []string) ([]byte, error) {
			return nil, toolFailure(purpose)
		}}
		p := NewFFmpegProcessor(ffmpeg, &fakeRunner{})

		err := p.Mux(context.Background(), "v", "a", "o")
		var muxErr *MuxError
		require.ErrorAs(t, err, &muxErr)
		assert.Equal(t, KindMux, KindOf(err))
	})
}

func TestProbeDuration(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		toolErr bool
		want    float64
		wantErr bool
	}{
		{"plain", "5.000000\n", false, 5.0, false},
		{"surrounding whitespace", "  12.345 \n", false, 12.345, false},
		{"not applicable", "N/A\n", false, 0, true},
		{"empty", "", false, 0, true},
		{"garbage", "duration=abc", false, 0, true},
		{"zero", "0.000000", false, 0, true},
		{"tool failure", "", true, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ffprobe := &fakeRunner{respond: func(purpose string, _ []string) ([]byte, error) {
				if tt.toolErr {
					return nil, toolFailure(purpose)
				}
				return []byte(tt.stdout), nil
			}}
			p := NewFFmpegProcessor(&fakeRunner{}, ffprobe)

			got, err := p.ProbeDuration(context.Background(), "/out/final.mp4")
			if tt.wantErr {
				var probeErr *ProbeError
				require.ErrorAs(t, err, &probeErr)
				assert.Equal(t, "/out/final.mp4", probeErr.Path)
				assert.Equal(t, KindProbe, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, []string{
				"-v", "error", "-show_entries", "format=duration",
				"-of", "default=noprint_wrappers=1:nokey=1", "/out/final.mp4",
			}, ffprobe.calls[0].args)
		})
	}
}

func TestKindOf(t *testing.T) {
	tool := toolFailure("x")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("x"), KindUnknown},
		{"tool", tool, KindExternalTool},
		{"segment wraps tool", &SegmentEncodingError{SceneIndex: 1, Err: tool}, KindSegmentEncoding},
		{"wrapped segment", fmt.Errorf("stage: %w", &SegmentEncodingError{Err: tool}), KindSegmentEncoding},
		{"shape", &InputShapeError{Images: 3, Audio: 2, Scenes: 3}, KindInputShape},
		{"cancelled segment", &SegmentEncodingError{Err: fmt.Errorf("x: %w", context.Canceled)}, KindCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestResolutionValidate(t *testing.T) {
	assert.NoError(t, Resolution{Width: 1, Height: 1}.Validate())
	assert.NoError(t, Resolution{Width: 4096, Height: 4096}.Validate())
	assert.ErrorIs(t, Resolution{Width: 0, Height: 720}.Validate(), ErrInvalidDimensions)
	assert.ErrorIs(t, Resolution{Width: 1280, Height: 4097}.Validate(), ErrInvalidDimensions)
	assert.Equal(t, "1280x720", Resolution{Width: 1280, Height: 720}.String())
}

// Integration tests below drive the real ffmpeg binaries.

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}
}

func newRealProcessor() *FFmpegProcessor {
	return NewFFmpegProcessor(NewExecRunner("ffmpeg", nil), NewExecRunner("ffprobe", nil))
}

// createTestImage creates a solid color image using ffmpeg.
func createTestImage(t *testing.T, path string, width, height int) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=red:s=%dx%d:d=1", width, height),
		"-frames:v", "1",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test image: %v\noutput: %s", err, output)
	}
}

// createTestAudio creates a sine tone of the given duration.
func createTestAudio(t *testing.T, path string, duration float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=440:duration=%.3f", duration),
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test audio: %v\noutput: %s", err, output)
	}
}

func verifyDimensions(t *testing.T, path string, expectedW, expectedH int) {
	t.Helper()

	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	output, err := cmd.Output()
	require.NoError(t, err, "ffprobe failed")

	var w, h int
	n, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%dx%d", &w, &h)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	assert.Equal(t, expectedW, w, "width")
	assert.Equal(t, expectedH, h, "height")
}

func TestEncodeSegment_LetterboxesToExactResolution(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	p := newRealProcessor()
	ctx := context.Background()

	sources := map[string][2]int{
		"landscape": {200, 50},
		"portrait":  {50, 200},
		"square":    {100, 100},
	}
	for name, size := range sources {
		t.Run(name, func(t *testing.T) {
			src := filepath.Join(tmpDir, name+".png")
			dst := filepath.Join(tmpDir, name+".mp4")
			createTestImage(t, src, size[0], size[1])

			err := p.EncodeSegment(ctx, SegmentSpec{
				ImagePath:  src,
				Duration:   0.5,
				Resolution: Resolution{Width: 128, Height: 72},
				FrameRate:  10,
				OutputPath: dst,
			})
			require.NoError(t, err)
			verifyDimensions(t, dst, 128, 72)

			d, err := p.ProbeDuration(ctx, dst)
			require.NoError(t, err)
			assert.InDelta(t, 0.5, d, 0.1)
		})
	}
}

func TestEncodeSegment_CorruptImage(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "corrupt.png")
	require.NoError(t, os.WriteFile(src, []byte("not an image"), 0600))

	err := newRealProcessor().EncodeSegment(context.Background(), SegmentSpec{
		SceneIndex: 4,
		ImagePath:  src,
		Duration:   1,
		Resolution: Resolution{Width: 64, Height: 64},
		FrameRate:  10,
		OutputPath: filepath.Join(tmpDir, "out.mp4"),
	})

	var segErr *SegmentEncodingError
	require.ErrorAs(t, err, &segErr)
	assert.Equal(t, 4, segErr.SceneIndex)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.NotEmpty(t, toolErr.Stderr)
}

func TestConcatenateAndMux_EndToEnd(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	p := newRealProcessor()
	ctx := context.Background()

	img := filepath.Join(tmpDir, "img.png")
	createTestImage(t, img, 80, 60)

	var segments []string
	for i, d := range []float64{1.0, 1.5} {
		out := filepath.Join(tmpDir, fmt.Sprintf("segment_%03d.mp4", i))
		require.NoError(t, p.EncodeSegment(ctx, SegmentSpec{
			SceneIndex: i, ImagePath: img, Duration: d,
			Resolution: Resolution{Width: 64, Height: 48}, FrameRate: 10, OutputPath: out,
		}))
		segments = append(segments, out)
	}

	silent := filepath.Join(tmpDir, "silent.mp4")
	require.NoError(t, p.ConcatenateVideos(ctx, segments, silent))
	videoDur, err := p.ProbeDuration(ctx, silent)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, videoDur, 0.15)

	audio := filepath.Join(tmpDir, "tone.m4a")
	createTestAudio(t, audio, 2.0)

	final := filepath.Join(tmpDir, "final.mp4")
	require.NoError(t, p.Mux(ctx, silent, audio, final))

	finalDur, err := p.ProbeDuration(ctx, final)
	require.NoError(t, err)
	// -shortest trims to the 2s audio track; stream copy can overshoot by a few frames.
	assert.InDelta(t, 2.0, finalDur, 0.3)
	verifyDimensions(t, final, 64, 48)
}
