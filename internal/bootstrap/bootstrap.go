// Package bootstrap wires the video assembly API from its configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/maauso/video-assembly-api/internal/assembly"
	"github.com/maauso/video-assembly-api/internal/audio"
	"github.com/maauso/video-assembly-api/internal/config"
	"github.com/maauso/video-assembly-api/internal/job"
	"github.com/maauso/video-assembly-api/internal/media"
	"github.com/maauso/video-assembly-api/internal/server"
	"github.com/maauso/video-assembly-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service  *job.AssemblyService
	Handlers *server.Handlers
	Handler  http.Handler
}

// NewDependencies creates and initializes all dependencies for the application.
// Background jobs run under ctx and are cancelled with it.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	svc := job.NewAssemblyService(
		job.NewMemoryRepository(),
		NewAssembler(cfg, logger),
		store,
		logger,
		job.WithTimeout(cfg.AssemblyTimeout()),
		job.WithRetention(cfg.JobRetention()),
	)

	handlers := server.NewHandlers(svc, logger,
		server.WithMaxUploadBytes(cfg.MaxUploadBytes()),
		server.WithS3Enabled(cfg.S3Enabled()),
		server.WithBaseContext(ctx),
	)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
	})

	return &Dependencies{
		Service:  svc,
		Handlers: handlers,
		Handler:  router,
	}, nil
}

// NewAssembler builds the ffmpeg-backed pipeline. Scratch workspaces live
// under TempDir/work.
func NewAssembler(cfg *config.Config, logger *slog.Logger) *assembly.Assembler {
	ffmpeg := media.NewExecRunner(cfg.FFmpegPath, logger)
	ffprobe := media.NewExecRunner(cfg.FFprobePath, logger)

	processor := media.NewFFmpegProcessor(ffmpeg, ffprobe)
	concatenator := audio.NewFFmpegConcatenator(ffmpeg, processor)

	return assembly.NewAssembler(processor, concatenator,
		assembly.WithMaxConcurrentSegments(cfg.MaxConcurrentSegments),
		assembly.WithScratchRoot(filepath.Join(cfg.TempDir, "work")),
		assembly.WithLogger(logger),
	)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("temp_dir", s3Store.TempDir()),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", localStore.TempDir()),
	)
	return localStore, nil
}
