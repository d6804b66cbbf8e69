package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/maauso/video-assembly-api/internal/assembly"
	"github.com/maauso/video-assembly-api/internal/job/id"
	"github.com/maauso/video-assembly-api/internal/media"
	"github.com/maauso/video-assembly-api/internal/storage"
)

// ErrVideoNotReady is returned when a job's video is requested before it is
// available locally.
var ErrVideoNotReady = errors.New("video not ready")

const videoContentType = "video/mp4"

// Assembler runs the assembly pipeline.
type Assembler interface {
	Assemble(ctx context.Context, req assembly.Request) (*assembly.Result, error)
}

// Upload is one uploaded file.
type Upload struct {
	// Name is the client-supplied file name; only its extension is kept.
	Name string
	Data io.Reader
}

// AssemblyInput contains the parameters of one assembly request.
type AssemblyInput struct {
	Scenes     []assembly.SceneSpec
	Resolution media.Resolution
	FrameRate  int
	// Images and Audio positionally match Scenes.
	Images []Upload
	Audio  []Upload
	// PushToS3 uploads the finished video instead of keeping it locally.
	// Only used by CreateJob.
	PushToS3 bool
}

// AssembleOutput is the result of a synchronous assembly. The caller owns
// VideoPath and must pass it to ReleaseVideo when done.
type AssembleOutput struct {
	RequestID       string
	VideoPath       string
	DurationSeconds float64
}

// ServiceOption configures an AssemblyService.
type ServiceOption func(*AssemblyService)

// WithTimeout bounds the run time of each background job. Zero disables it.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *AssemblyService) {
		s.timeout = d
	}
}

// WithRetention sets how long finished jobs are kept before PurgeExpired
// removes them.
func WithRetention(d time.Duration) ServiceOption {
	return func(s *AssemblyService) {
		s.retention = d
	}
}

// AssemblyService stores uploaded inputs, runs the assembler over them and
// tracks background jobs.
type AssemblyService struct {
	repo      Repository
	assembler Assembler
	storage   storage.Storage
	logger    *slog.Logger
	timeout   time.Duration
	retention time.Duration
}

// NewAssemblyService creates a new AssemblyService.
func NewAssemblyService(repo Repository, assembler Assembler, store storage.Storage, logger *slog.Logger, opts ...ServiceOption) *AssemblyService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AssemblyService{
		repo:      repo,
		assembler: assembler,
		storage:   store,
		logger:    logger,
		retention: time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assemble stores the inputs and assembles the video while the caller waits.
// Cancelling ctx, e.g. on client disconnect, aborts the assembly.
func (s *AssemblyService) Assemble(ctx context.Context, input AssemblyInput) (*AssembleOutput, error) {
	requestID := id.GenerateRequest()

	stored, err := s.saveInputs(ctx, input)
	if err != nil {
		return nil, err
	}
	defer s.cleanupInputs(requestID, stored.dir)

	outputPath, err := s.storage.OutputPath(requestID)
	if err != nil {
		return nil, err
	}

	result, err := s.assembler.Assemble(ctx, assembly.Request{
		ID:         requestID,
		Scenes:     input.Scenes,
		Resolution: input.Resolution,
		FrameRate:  input.FrameRate,
		Images:     stored.images,
		Audio:      stored.audio,
		OutputPath: outputPath,
	})
	if err != nil {
		return nil, err
	}

	return &AssembleOutput{
		RequestID:       requestID,
		VideoPath:       result.OutputPath,
		DurationSeconds: result.DurationSeconds,
	}, nil
}

// OpenVideo opens a video produced by Assemble.
func (s *AssemblyService) OpenVideo(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.storage.LoadTemp(ctx, path)
}

// ReleaseVideo removes a video produced by Assemble.
func (s *AssemblyService) ReleaseVideo(ctx context.Context, path string) {
	if err := s.storage.CleanupTemp(ctx, []string{path}); err != nil {
		s.logger.Warn("failed to remove video",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// CreateJob stores the inputs and persists a job in IN_QUEUE status, ready
// for ProcessExistingJob.
func (s *AssemblyService) CreateJob(ctx context.Context, input AssemblyInput) (*Job, error) {
	job := New()
	job.Scenes = input.Scenes
	job.Width = input.Resolution.Width
	job.Height = input.Resolution.Height
	job.FrameRate = input.FrameRate
	job.PushToS3 = input.PushToS3

	stored, err := s.saveInputs(ctx, input)
	if err != nil {
		return nil, err
	}
	job.InputDir = stored.dir
	job.ImagePaths = stored.images
	job.AudioPaths = stored.audio

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.Int("scenes", len(input.Scenes)),
		slog.String("resolution", input.Resolution.String()),
		slog.Int("frame_rate", input.FrameRate),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		s.cleanupInputs(job.ID, stored.dir)
		return nil, err
	}

	return job, nil
}

// ProcessExistingJob runs the assembly for a job created by CreateJob and
// records the outcome. It is meant to run in the background under the
// server's lifetime context; cancelling ctx moves the job to CANCELLED.
func (s *AssemblyService) ProcessExistingJob(ctx context.Context, jobID string) error {
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return err
	}
	logger := s.logger.With(slog.String("job_id", job.ID))

	if err := job.Start(); err != nil {
		// A job cancelled or timed out while queued never ran, so its inputs
		// are still on disk and nobody else will remove them.
		if job.IsTerminal() {
			s.cleanupInputs(job.ID, job.InputDir)
		}
		return fmt.Errorf("start job %s: %w", job.ID, err)
	}
	defer s.cleanupInputs(job.ID, job.InputDir)
	s.save(ctx, job)

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	outputPath, err := s.storage.OutputPath(job.ID)
	if err != nil {
		return s.finishWithError(ctx, job, err)
	}

	result, err := s.assembler.Assemble(runCtx, assembly.Request{
		ID:         job.ID,
		Scenes:     job.Scenes,
		Resolution: media.Resolution{Width: job.Width, Height: job.Height},
		FrameRate:  job.FrameRate,
		Images:     job.ImagePaths,
		Audio:      job.AudioPaths,
		OutputPath: outputPath,
		OnStage: func(stage assembly.Stage) {
			job.SetStage(stage)
			s.save(ctx, job)
		},
	})
	if err != nil {
		return s.finishWithError(ctx, job, err)
	}

	if err := s.complete(ctx, job, result); err != nil {
		return err
	}

	logger.Info("job completed",
		slog.Float64("duration", result.DurationSeconds),
		slog.Bool("pushed_to_s3", job.PushToS3),
	)
	return nil
}

// complete publishes the assembled video and marks the job COMPLETED. On
// failure the video is removed and the job finishes with the error.
func (s *AssemblyService) complete(ctx context.Context, job *Job, result *assembly.Result) error {
	if job.PushToS3 {
		url, err := s.publish(ctx, job.ID, result.OutputPath)
		if err != nil {
			s.releaseOutput(job.ID, result.OutputPath)
			return s.finishWithError(ctx, job, err)
		}
		job.SetOutput("", url)
	} else {
		job.SetOutput(result.OutputPath, "")
	}

	if err := job.Complete(result.DurationSeconds); err != nil {
		s.releaseOutput(job.ID, result.OutputPath)
		job.ClearOutput()
		return s.finishWithError(ctx, job, err)
	}
	s.save(ctx, job)
	return nil
}

func (s *AssemblyService) releaseOutput(jobID, path string) {
	if err := s.storage.CleanupTemp(context.Background(), []string{path}); err != nil {
		s.logger.Warn("failed to remove video",
			slog.String("job_id", jobID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// publish uploads the video to S3 and removes the local copy.
func (s *AssemblyService) publish(ctx context.Context, jobID, path string) (string, error) {
	rc, err := s.storage.LoadTemp(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	url, err := s.storage.UploadToS3(ctx, "videos/"+jobID+".mp4", videoContentType, rc)
	if err != nil {
		return "", err
	}
	if err := s.storage.CleanupTemp(ctx, []string{path}); err != nil {
		s.logger.Warn("failed to remove uploaded video",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	return url, nil
}

// finishWithError records err on the job and returns it. Deadline expiry
// maps to TIMED_OUT and cancellation to CANCELLED.
func (s *AssemblyService) finishWithError(ctx context.Context, job *Job, err error) error {
	code := string(media.KindOf(err))

	var transitionErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		transitionErr = job.Timeout(code, err.Error())
	case errors.Is(err, context.Canceled):
		transitionErr = job.Cancel(code, err.Error())
	default:
		transitionErr = job.Fail(code, err.Error())
	}
	if transitionErr != nil {
		s.logger.Error("failed to record job failure",
			slog.String("job_id", job.ID),
			slog.String("error", transitionErr.Error()),
		)
	}
	s.save(ctx, job)

	s.logger.Error("job failed",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.GetStatus())),
		slog.String("error_code", code),
		slog.String("error", err.Error()),
	)
	return err
}

// GetJob retrieves a job by ID.
func (s *AssemblyService) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.findJob(ctx, jobID)
}

// ListJobs returns every known job, oldest first.
func (s *AssemblyService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// findJob looks up a job, treating IDs that Generate could not have
// produced as unknown without consulting the repository.
func (s *AssemblyService) findJob(ctx context.Context, jobID string) (*Job, error) {
	if !id.IsJobID(jobID) {
		return nil, ErrJobNotFound
	}
	return s.repo.FindByID(ctx, jobID)
}

// OpenJobVideo opens the local video of a completed job. It returns
// ErrVideoNotReady while the job runs, after it failed, or when the video
// was pushed to S3.
func (s *AssemblyService) OpenJobVideo(ctx context.Context, jobID string) (io.ReadCloser, *Job, error) {
	job, err := s.findJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.GetStatus() != StatusCompleted || job.OutputVideoPath == "" {
		return nil, job, ErrVideoNotReady
	}

	rc, err := s.storage.LoadTemp(ctx, job.OutputVideoPath)
	if err != nil {
		return nil, job, err
	}
	return rc, job, nil
}

// PurgeExpired deletes jobs that finished more than the retention period
// before now, together with their local videos. It returns the number of
// jobs removed.
func (s *AssemblyService) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	jobs, err := s.repo.ListFinishedBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, job := range jobs {
		if job.OutputVideoPath != "" {
			if err := s.storage.CleanupTemp(ctx, []string{job.OutputVideoPath}); err != nil {
				s.logger.Warn("failed to remove expired video",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		if err := s.repo.Delete(ctx, job.ID); err != nil && !errors.Is(err, ErrJobNotFound) {
			return purged, err
		}
		purged++
	}

	if purged > 0 {
		s.logger.Info("purged expired jobs", slog.Int("count", purged))
	}
	return purged, nil
}

// RunPurger calls PurgeExpired every interval until ctx is done.
func (s *AssemblyService) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.PurgeExpired(ctx, now); err != nil {
				s.logger.Error("purge failed", slog.String("error", err.Error()))
			}
		}
	}
}

type storedInputs struct {
	dir    string
	images []string
	audio  []string
}

// saveInputs writes every upload into a fresh input directory. On error
// nothing is left behind.
func (s *AssemblyService) saveInputs(ctx context.Context, input AssemblyInput) (*storedInputs, error) {
	dir, err := s.storage.NewInputDir(ctx)
	if err != nil {
		return nil, fmt.Errorf("create input directory: %w", err)
	}

	stored := &storedInputs{dir: dir}
	save := func(kind string, uploads []Upload) ([]string, error) {
		paths := make([]string, 0, len(uploads))
		for i, u := range uploads {
			path, err := s.storage.SaveTemp(ctx, dir, u.Name, u.Data)
			if err != nil {
				return nil, fmt.Errorf("save %s %d: %w", kind, i, err)
			}
			paths = append(paths, path)
		}
		return paths, nil
	}

	if stored.images, err = save("image", input.Images); err == nil {
		stored.audio, err = save("audio", input.Audio)
	}
	if err != nil {
		s.cleanupInputs("", dir)
		return nil, err
	}
	return stored, nil
}

func (s *AssemblyService) cleanupInputs(ownerID, dir string) {
	// Cleanup must run even when the request context is already cancelled.
	if err := s.storage.CleanupDir(context.Background(), dir); err != nil {
		s.logger.Warn("failed to remove input directory",
			slog.String("id", ownerID),
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
}

// save persists a snapshot of job, logging failures.
func (s *AssemblyService) save(ctx context.Context, job *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
