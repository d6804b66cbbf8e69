// Package main provides a command line front end to the assembly pipeline.
// It runs the same ffmpeg pipeline as the API against local files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maauso/video-assembly-api/internal/assembly"
	"github.com/maauso/video-assembly-api/internal/bootstrap"
	"github.com/maauso/video-assembly-api/internal/config"
	"github.com/maauso/video-assembly-api/internal/job/id"
	"github.com/maauso/video-assembly-api/internal/media"
)

type options struct {
	images    []string
	audio     []string
	durations []float64
	width     int
	height    int
	fps       int
	output    string
	manifest  string

	// indexes come from a manifest; flag scenes use their position.
	indexes []int
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Assemble still images and audio clips into an MP4",
		Long: `Assemble renders one segment per scene from an image and a duration,
joins the segments, joins the audio clips, and muxes the two into one MP4.
Scenes are taken in flag order: the Nth --image, --audio and --duration form
scene N.

Tool paths, the scratch directory and logging come from the same environment
variables as the API server (FFMPEG_PATH, FFPROBE_PATH, TEMP_DIR, LOG_LEVEL).

Examples:
  assemble --image a.png --audio a.wav --duration 2.5 \
           --image b.png --audio b.m4a --duration 3 --out video.mp4
  assemble -i cover.jpg -a intro.mp3 -d 4 --width 1080 --height 1920 --fps 30 -o reel.mp4
  assemble --manifest scenes.yaml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.images, "image", "i", nil, "Scene image (repeat once per scene)")
	cmd.Flags().StringArrayVarP(&opts.audio, "audio", "a", nil, "Scene audio clip (repeat once per scene)")
	cmd.Flags().Float64SliceVarP(&opts.durations, "duration", "d", nil, "Seconds the scene image is shown (repeat once per scene)")
	cmd.Flags().IntVar(&opts.width, "width", 1280, "Output width in pixels")
	cmd.Flags().IntVar(&opts.height, "height", 720, "Output height in pixels")
	cmd.Flags().IntVar(&opts.fps, "fps", 24, "Output frame rate")
	cmd.Flags().StringVarP(&opts.output, "out", "o", "", "Output MP4 path")
	cmd.Flags().StringVarP(&opts.manifest, "manifest", "m", "", "YAML manifest listing the scenes; flags override its settings")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLoggerTo(cmd.ErrOrStderr())

	req, err := buildRequest(cmd, opts)
	if err != nil {
		return err
	}

	res, err := bootstrap.NewAssembler(cfg, logger).Assemble(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", media.KindOf(err), err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Output          string  `json:"output"`
		DurationSeconds float64 `json:"duration_seconds"`
	}{res.OutputPath, res.DurationSeconds})
}

// buildRequest turns flags, and the manifest if one was given, into an
// assembly request.
func buildRequest(cmd *cobra.Command, opts options) (assembly.Request, error) {
	flagScenes := len(opts.images) > 0 || len(opts.audio) > 0 || len(opts.durations) > 0

	if opts.manifest != "" {
		if flagScenes {
			return assembly.Request{}, errors.New("use either --manifest or --image/--audio/--duration, not both")
		}
		m, err := LoadManifest(opts.manifest)
		if err != nil {
			return assembly.Request{}, err
		}
		for i, sc := range m.Scenes {
			opts.images = append(opts.images, sc.Image)
			opts.audio = append(opts.audio, sc.Audio)
			opts.durations = append(opts.durations, sc.Duration)
			opts.indexes = append(opts.indexes, i)
			if sc.Index != nil {
				opts.indexes[i] = *sc.Index
			}
		}
		flags := cmd.Flags()
		if m.Width > 0 && !flags.Changed("width") {
			opts.width = m.Width
		}
		if m.Height > 0 && !flags.Changed("height") {
			opts.height = m.Height
		}
		if m.FPS > 0 && !flags.Changed("fps") {
			opts.fps = m.FPS
		}
		if m.Out != "" && !flags.Changed("out") {
			opts.output = m.Out
		}
	}

	if opts.output == "" {
		return assembly.Request{}, errors.New(`required flag "out" not set`)
	}

	scenes := make([]assembly.SceneSpec, len(opts.durations))
	for i, d := range opts.durations {
		scenes[i] = assembly.SceneSpec{Index: i, ImageDuration: d}
		if i < len(opts.indexes) {
			scenes[i].Index = opts.indexes[i]
		}
	}

	return assembly.Request{
		ID:         id.GenerateRequest(),
		Scenes:     scenes,
		Resolution: media.Resolution{Width: opts.width, Height: opts.height},
		FrameRate:  opts.fps,
		Images:     opts.images,
		Audio:      opts.audio,
		OutputPath: opts.output,
	}, nil
}

func main() {
	// An interrupt cancels the pipeline and kills any running ffmpeg.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
