// Package job provides the Job aggregate for asynchronous video assembly.
// It includes the Job entity with its status state machine, the repository
// port for persistence and the AssemblyService use case.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/video-assembly-api/internal/assembly"
	"github.com/maauso/video-assembly-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job was accepted and waits to run.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the assembly pipeline is running.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the video was assembled successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates a pipeline stage failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the assembly was aborted.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the assembly exceeded its time limit.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// stageProgress is the progress reported when a stage is entered.
var stageProgress = map[assembly.Stage]int{
	assembly.StageInitialized:          0,
	assembly.StageEncodingSegments:     10,
	assembly.StageConcatenatingVideo:   50,
	assembly.StageConcatenatingAudio:   65,
	assembly.StageMuxing:               80,
	assembly.StageProbingFinalDuration: 95,
	assembly.StageCompleted:            100,
}

// Job represents an asynchronous video assembly.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Stage is the pipeline stage last entered.
	Stage assembly.Stage
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains the failure message if the job did not complete.
	Error string
	// ErrorCode is the machine-readable failure kind, e.g. SEGMENT_ENCODING_FAILED.
	ErrorCode string
	// Scenes is the timing metadata, positionally matching ImagePaths and AudioPaths.
	Scenes []assembly.SceneSpec
	// ImagePaths are the stored scene images.
	ImagePaths []string
	// AudioPaths are the stored scene audio clips.
	AudioPaths []string
	// Width is the target video width.
	Width int
	// Height is the target video height.
	Height int
	// FrameRate is the target frame rate.
	FrameRate int
	// InputDir holds the uploaded images and audio until the job finishes.
	InputDir string
	// OutputVideoPath is the path to the final output video.
	OutputVideoPath string
	// DurationSeconds is the probed duration of the final video.
	DurationSeconds float64
	// PushToS3 indicates whether to upload the result to S3.
	PushToS3 bool
	// VideoURL is the S3 URL if PushToS3 was true.
	VideoURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Stage:     assembly.StageInitialized,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete records the final duration and transitions the job to COMPLETED.
func (j *Job) Complete(durationSeconds float64) error {
	if err := j.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	j.mu.Lock()
	j.DurationSeconds = durationSeconds
	j.Progress = 100
	j.mu.Unlock()
	return nil
}

// Fail transitions the job to FAILED with an error code and message.
func (j *Job) Fail(code, errMsg string) error {
	return j.finish(StatusFailed, code, errMsg)
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel(code, errMsg string) error {
	return j.finish(StatusCancelled, code, errMsg)
}

// Timeout transitions the job to TIMED_OUT.
func (j *Job) Timeout(code, errMsg string) error {
	return j.finish(StatusTimedOut, code, errMsg)
}

func (j *Job) finish(status Status, code, errMsg string) error {
	if err := j.TransitionTo(status); err != nil {
		return err
	}
	j.mu.Lock()
	j.ErrorCode = code
	j.Error = errMsg
	j.mu.Unlock()
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetStage records the pipeline stage and the matching progress. Entering
// FAILED keeps the progress reached so far.
func (j *Job) SetStage(stage assembly.Stage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Stage = stage
	if p, ok := stageProgress[stage]; ok {
		j.Progress = p
	}
	j.UpdatedAt = time.Now()
}

// SetOutput sets the output video path and optional S3 URL.
func (j *Job) SetOutput(videoPath, videoURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputVideoPath = videoPath
	j.VideoURL = videoURL
	j.UpdatedAt = time.Now()
}

// ClearOutput clears the output video path and URL.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputVideoPath = ""
	j.VideoURL = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled ||
		j.Status == StatusTimedOut
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:              j.ID,
		Status:          j.Status,
		Stage:           j.Stage,
		Progress:        j.Progress,
		Error:           j.Error,
		ErrorCode:       j.ErrorCode,
		Scenes:          append([]assembly.SceneSpec(nil), j.Scenes...),
		ImagePaths:      append([]string(nil), j.ImagePaths...),
		AudioPaths:      append([]string(nil), j.AudioPaths...),
		Width:           j.Width,
		Height:          j.Height,
		FrameRate:       j.FrameRate,
		InputDir:        j.InputDir,
		OutputVideoPath: j.OutputVideoPath,
		DurationSeconds: j.DurationSeconds,
		PushToS3:        j.PushToS3,
		VideoURL:        j.VideoURL,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}
