// Package assembly turns still images, narration clips and per-scene timings
// into one finished video.
//
// The pipeline runs these stages strictly in order, each consuming the
// previous stage's output:
//
//  1. encode one video segment per scene
//  2. concatenate the segments by stream copy
//  3. concatenate the audio clips with re-encoding
//  4. mux the silent video with the combined audio
//  5. probe the final duration
//
// Intermediate files live in a per-request Workspace that is removed on every
// exit path.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/video-assembly-api/internal/audio"
	"github.com/maauso/video-assembly-api/internal/media"
)

// DefaultMaxConcurrentSegments is the number of segment encodes run in
// parallel when no option overrides it.
const DefaultMaxConcurrentSegments = 2

// SceneSpec is the timing metadata of one scene.
type SceneSpec struct {
	// Index orders the scene within the video. Indexes need not be contiguous.
	Index int `json:"index"`
	// ImageDuration is how long the scene's image is shown, in seconds.
	ImageDuration float64 `json:"imageDuration"`
}

// Request describes one assembly. Scenes, Images and Audio correspond by
// position: Images[i] and Audio[i] belong to Scenes[i].
type Request struct {
	// ID correlates log lines; it has no effect on the output.
	ID         string
	Scenes     []SceneSpec
	Resolution media.Resolution
	FrameRate  int
	Images     []string
	Audio      []string
	// OutputPath is where the final video is written. It must not be inside
	// the scratch workspace.
	OutputPath string
	// OnStage, if set, is called synchronously on every stage transition.
	OnStage StageObserver
}

// Result is produced only when every stage succeeded.
type Result struct {
	OutputPath      string
	DurationSeconds float64
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMaxConcurrentSegments bounds the segment encoding fan-out. 1 encodes
// sequentially; values below 1 are ignored.
func WithMaxConcurrentSegments(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxConcurrentSegments = n
		}
	}
}

// WithScratchRoot sets the directory under which workspaces are created.
func WithScratchRoot(dir string) Option {
	return func(a *Assembler) {
		a.scratchRoot = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Assembler runs the assembly pipeline. It holds no per-request state, so a
// single Assembler serves concurrent requests.
type Assembler struct {
	processor             media.Processor
	audio                 audio.Concatenator
	logger                *slog.Logger
	maxConcurrentSegments int
	scratchRoot           string
}

// NewAssembler creates an Assembler.
func NewAssembler(processor media.Processor, concatenator audio.Concatenator, opts ...Option) *Assembler {
	a := &Assembler{
		processor:             processor,
		audio:                 concatenator,
		logger:                slog.Default(),
		maxConcurrentSegments: DefaultMaxConcurrentSegments,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// scene is one scene with its inputs, after ordering.
type scene struct {
	spec  SceneSpec
	image string
	audio string
}

// Assemble runs every stage for req and returns the final video.
//
// The first failing stage aborts the run; its error is returned unchanged so
// media.KindOf and errors.As recover the failure kind. Cancelling ctx kills
// any running ffmpeg or ffprobe process.
func (a *Assembler) Assemble(ctx context.Context, req Request) (result *Result, err error) {
	logger := a.logger.With(slog.String("request_id", req.ID))
	start := time.Now()

	t := newTracker(req.OnStage)
	defer func() {
		if err != nil {
			t.fail()
			logger.Error("assembly failed",
				slog.String("stage", string(t.current)),
				slog.String("kind", string(media.KindOf(err))),
				slog.String("error", err.Error()),
			)
		}
	}()

	scenes, err := orderScenes(req)
	if err != nil {
		return nil, err
	}

	ws, err := NewWorkspace(a.scratchRoot)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := ws.Remove(); rmErr != nil {
			logger.Warn("failed to remove workspace",
				slog.String("dir", ws.Dir()),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	enter := func(s Stage) error {
		if err := t.advance(s); err != nil {
			return err
		}
		logger.Info("assembly stage", slog.String("stage", string(s)))
		return nil
	}

	if err := enter(StageEncodingSegments); err != nil {
		return nil, err
	}
	segments, err := a.encodeSegments(ctx, ws, scenes, req)
	if err != nil {
		return nil, err
	}

	if err := enter(StageConcatenatingVideo); err != nil {
		return nil, err
	}
	silentVideo := ws.Path(silentVideoName)
	if err := a.processor.ConcatenateVideos(ctx, segments, silentVideo); err != nil {
		return nil, err
	}

	if err := enter(StageConcatenatingAudio); err != nil {
		return nil, err
	}
	clips := make([]string, len(scenes))
	for i, sc := range scenes {
		clips[i] = sc.audio
	}
	combinedAudio := ws.Path(combinedAudioName)
	audioDuration, err := a.audio.Concatenate(ctx, clips, combinedAudio)
	if err != nil {
		return nil, err
	}
	logger.Debug("audio concatenated", slog.Float64("audio_duration", audioDuration))

	if err := enter(StageMuxing); err != nil {
		return nil, err
	}
	// From here on a failure may leave a partial file at the output path.
	defer func() {
		if err != nil {
			if rmErr := os.Remove(req.OutputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Warn("failed to remove partial output",
					slog.String("path", req.OutputPath),
					slog.String("error", rmErr.Error()),
				)
			}
		}
	}()
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, &media.MuxError{Err: fmt.Errorf("create output directory: %w", err)}
	}
	if err := a.processor.Mux(ctx, silentVideo, combinedAudio, req.OutputPath); err != nil {
		return nil, err
	}

	if err := enter(StageProbingFinalDuration); err != nil {
		return nil, err
	}
	duration, err := a.processor.ProbeDuration(ctx, req.OutputPath)
	if err != nil {
		return nil, err
	}

	if err := enter(StageCompleted); err != nil {
		return nil, err
	}
	logger.Info("assembly completed",
		slog.Int("scenes", len(scenes)),
		slog.Float64("duration", duration),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Result{OutputPath: req.OutputPath, DurationSeconds: duration}, nil
}

// encodeSegments encodes one segment per scene, at most
// maxConcurrentSegments at a time, and returns their paths in scene order.
func (a *Assembler) encodeSegments(ctx context.Context, ws *Workspace, scenes []scene, req Request) ([]string, error) {
	paths := make([]string, len(scenes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrentSegments)

	for i, sc := range scenes {
		if gctx.Err() != nil {
			break
		}
		paths[i] = ws.SegmentPath(i)
		spec := media.SegmentSpec{
			SceneIndex: sc.spec.Index,
			ImagePath:  sc.image,
			Duration:   sc.spec.ImageDuration,
			Resolution: req.Resolution,
			FrameRate:  req.FrameRate,
			OutputPath: paths[i],
		}
		g.Go(func() error {
			return a.processor.EncodeSegment(gctx, spec)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The loop may stop early on cancellation without any encode failing.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}
	return paths, nil
}

// orderScenes checks that the request's slices line up and sorts the scenes
// by Index, keeping each scene's image and audio attached. Scenes with equal
// indexes keep their supplied order.
func orderScenes(req Request) ([]scene, error) {
	shapeErr := func(reason string) error {
		return &media.InputShapeError{
			Images: len(req.Images),
			Audio:  len(req.Audio),
			Scenes: len(req.Scenes),
			Reason: reason,
		}
	}

	switch {
	case len(req.Scenes) == 0:
		return nil, shapeErr("at least one scene is required")
	case len(req.Images) != len(req.Scenes) || len(req.Audio) != len(req.Scenes):
		return nil, shapeErr("images, audio and scenes must have the same length")
	case req.OutputPath == "":
		return nil, shapeErr("output path is required")
	}

	scenes := make([]scene, len(req.Scenes))
	for i := range req.Scenes {
		scenes[i] = scene{spec: req.Scenes[i], image: req.Images[i], audio: req.Audio[i]}
	}
	sort.SliceStable(scenes, func(i, j int) bool {
		return scenes[i].spec.Index < scenes[j].spec.Index
	})
	return scenes, nil
}
