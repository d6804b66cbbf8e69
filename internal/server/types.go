// Package server provides the HTTP server for the video assembly API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// DefaultFrameRate is used when the metadata omits frameRate.
const DefaultFrameRate = 24

// SceneMetadata is the timing of one scene.
type SceneMetadata struct {
	// Index orders the scene in the video.
	Index int `json:"index" validate:"min=0"`
	// ImageDuration is how long the scene's image is shown, in seconds.
	ImageDuration float64 `json:"imageDuration" validate:"gt=0"`
}

// ResolutionMetadata is the output frame size.
type ResolutionMetadata struct {
	Width  int `json:"width" validate:"required,min=1,max=4096"`
	Height int `json:"height" validate:"required,min=1,max=4096"`
}

// AssemblyMetadata is the JSON carried in the "metadata" multipart field.
type AssemblyMetadata struct {
	// Scenes positionally match the uploaded images and audio files.
	Scenes []SceneMetadata `json:"scenes" validate:"required,min=1,dive"`
	// Resolution is the output frame size.
	Resolution ResolutionMetadata `json:"resolution" validate:"required"`
	// FrameRate defaults to DefaultFrameRate when zero.
	FrameRate int `json:"frameRate" validate:"min=0,max=60"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Stage is the pipeline stage last entered.
	Stage string `json:"stage"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// DurationSeconds is the final video duration once completed.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	// ErrorCode is the failure kind if the job did not complete.
	ErrorCode string `json:"error_code,omitempty"`
	// Error contains the failure message if the job did not complete.
	Error string `json:"error,omitempty"`
	// VideoURL is the S3 URL of the output video (if push_to_s3=true and completed).
	VideoURL string `json:"video_url,omitempty"`
	// DownloadURL is the path to fetch a locally stored video.
	DownloadURL string `json:"download_url,omitempty"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	// Jobs are ordered oldest first.
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error code for programmatic handling.
	Error string `json:"error"`
	// Message is the human-readable error message.
	Message string `json:"message"`
	// Details carries context such as the failing scene index.
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Version is the API version.
	Version string `json:"version"`
}
