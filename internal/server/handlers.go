package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/video-assembly-api/internal/assembly"
	"github.com/maauso/video-assembly-api/internal/job"
	"github.com/maauso/video-assembly-api/internal/media"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// StatusClientClosedRequest is returned when the client went away before
// the assembly finished.
const StatusClientClosedRequest = 499

// Multipart field names.
const (
	fieldImages   = "images"
	fieldAudio    = "audio"
	fieldMetadata = "metadata"
	fieldPushToS3 = "push_to_s3"
)

// maxMemory is how much of a multipart body is buffered in memory before
// spilling to temp files.
const maxMemory = 32 << 20

// AssemblyService is the use case layer the handlers drive.
type AssemblyService interface {
	Assemble(ctx context.Context, input job.AssemblyInput) (*job.AssembleOutput, error)
	OpenVideo(ctx context.Context, path string) (io.ReadCloser, error)
	ReleaseVideo(ctx context.Context, path string)
	CreateJob(ctx context.Context, input job.AssemblyInput) (*job.Job, error)
	ProcessExistingJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context) ([]*job.Job, error)
	OpenJobVideo(ctx context.Context, id string) (io.ReadCloser, *job.Job, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            AssemblyService
	validator          *validator.Validate
	logger             *slog.Logger
	maxUploadBytes     int64
	s3Enabled          bool
	enableAsyncProcess bool

	// baseCtx bounds background jobs; cancelling it stops them.
	baseCtx context.Context
	jobs    sync.WaitGroup
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithMaxUploadBytes limits the size of multipart request bodies.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithS3Enabled allows jobs to request push_to_s3.
func WithS3Enabled(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.s3Enabled = enabled
	}
}

// WithBaseContext sets the context background jobs run under. Cancelling it
// cancels every running job and kills its media tools.
func WithBaseContext(ctx context.Context) HandlerOption {
	return func(h *Handlers) {
		h.baseCtx = ctx
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service AssemblyService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(validator.WithRequiredStructEnabled()),
		logger:             logger,
		maxUploadBytes:     512 << 20,
		enableAsyncProcess: true,
		baseCtx:            context.Background(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: Version})
}

// Assemble handles POST /assemble requests. The video is assembled while the
// client waits and streamed back as the response body. A client disconnect
// cancels the assembly.
func (h *Handlers) Assemble(w http.ResponseWriter, r *http.Request) {
	input, cleanup, ok := h.parseAssembly(w, r)
	if !ok {
		return
	}
	defer cleanup()

	out, err := h.service.Assemble(r.Context(), input)
	if err != nil {
		h.writeAssemblyError(w, err)
		return
	}
	defer h.service.ReleaseVideo(context.WithoutCancel(r.Context()), out.VideoPath)

	video, err := h.service.OpenVideo(r.Context(), out.VideoPath)
	if err != nil {
		h.logger.Error("failed to open assembled video",
			slog.String("request_id", out.RequestID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read assembled video", nil)
		return
	}
	defer func() { _ = video.Close() }()

	w.Header().Set("X-Video-Duration", strconv.FormatFloat(out.DurationSeconds, 'f', -1, 64))
	h.streamVideo(w, video, "video.mp4", out.RequestID)
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	input, cleanup, ok := h.parseAssembly(w, r)
	if !ok {
		return
	}
	defer cleanup()

	if v := r.FormValue(fieldPushToS3); v != "" {
		push, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "push_to_s3 must be a boolean", nil)
			return
		}
		input.PushToS3 = push
	}
	if input.PushToS3 && !h.s3Enabled {
		writeError(w, http.StatusBadRequest, "S3_NOT_CONFIGURED", "push_to_s3 requested but S3 is not configured", nil)
		return
	}

	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "JOB_CREATION_FAILED", "failed to create job", nil)
		return
	}

	// The job outlives the request but not the server.
	if h.enableAsyncProcess {
		jobID := createdJob.ID
		h.jobs.Go(func() {
			if err := h.service.ProcessExistingJob(h.baseCtx, jobID); err != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.Int("scenes", len(input.Scenes)),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// Wait blocks until every background job has finished, or ctx is done.
func (h *Handlers) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "JOB_FETCH_FAILED", "failed to list jobs", nil)
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeJobLookupError(w, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(foundJob))
}

func toJobResponse(foundJob *job.Job) JobResponse {
	resp := JobResponse{
		ID:        foundJob.ID,
		Status:    string(foundJob.Status),
		Stage:     string(foundJob.Stage),
		Progress:  foundJob.Progress,
		ErrorCode: foundJob.ErrorCode,
		Error:     foundJob.Error,
	}
	if foundJob.Status == job.StatusCompleted {
		resp.DurationSeconds = foundJob.DurationSeconds
		resp.VideoURL = foundJob.VideoURL
		if foundJob.OutputVideoPath != "" {
			resp.DownloadURL = "/jobs/" + foundJob.ID + "/video"
		}
	}
	return resp
}

// GetJobVideo handles GET /jobs/{id}/video requests.
func (h *Handlers) GetJobVideo(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	video, foundJob, err := h.service.OpenJobVideo(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrVideoNotReady) {
			details := map[string]any{}
			if foundJob != nil {
				details["status"] = string(foundJob.Status)
			}
			writeError(w, http.StatusConflict, "VIDEO_NOT_READY", "video is not available for download", details)
			return
		}
		h.writeJobLookupError(w, jobID, err)
		return
	}
	defer func() { _ = video.Close() }()

	w.Header().Set("X-Video-Duration", strconv.FormatFloat(foundJob.DurationSeconds, 'f', -1, 64))
	h.streamVideo(w, video, foundJob.ID+".mp4", foundJob.ID)
}

// parseAssembly reads the multipart form into an AssemblyInput. On failure
// it writes the error response and returns ok=false. On success the caller
// must call cleanup once the uploads are no longer needed.
func (h *Handlers) parseAssembly(w http.ResponseWriter, r *http.Request) (input job.AssemblyInput, cleanup func(), ok bool) {
	if r.ContentLength > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
			fmt.Sprintf("request body exceeds %d bytes", h.maxUploadBytes), nil)
		return input, nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), nil)
			return input, nil, false
		}
		h.logger.Warn("failed to parse multipart form", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "INVALID_MULTIPART", "request must be multipart/form-data", nil)
		return input, nil, false
	}
	form := r.MultipartForm
	removeForm := func() { _ = form.RemoveAll() }

	meta, err := h.readMetadata(form)
	if err != nil {
		removeForm()
		writeError(w, http.StatusBadRequest, "INVALID_METADATA", err.Error(), nil)
		return input, nil, false
	}

	if err := h.validator.Struct(meta); err != nil {
		removeForm()
		h.logger.Warn("request validation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "metadata failed validation", map[string]any{
			"fields": validationDetails(err),
		})
		return input, nil, false
	}

	images, audio := form.File[fieldImages], form.File[fieldAudio]
	if len(images) != len(meta.Scenes) || len(audio) != len(meta.Scenes) {
		removeForm()
		h.writeAssemblyError(w, &media.InputShapeError{
			Images: len(images),
			Audio:  len(audio),
			Scenes: len(meta.Scenes),
			Reason: "one image and one audio file are required per scene",
		})
		return input, nil, false
	}

	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
		removeForm()
	}
	open := func(headers []*multipart.FileHeader) ([]job.Upload, error) {
		uploads := make([]job.Upload, 0, len(headers))
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
			}
			files = append(files, f)
			uploads = append(uploads, job.Upload{Name: fh.Filename, Data: f})
		}
		return uploads, nil
	}

	if input.Images, err = open(images); err == nil {
		input.Audio, err = open(audio)
	}
	if err != nil {
		closeAll()
		writeError(w, http.StatusBadRequest, "INVALID_MULTIPART", err.Error(), nil)
		return input, nil, false
	}

	input.Scenes = make([]assembly.SceneSpec, len(meta.Scenes))
	for i, s := range meta.Scenes {
		input.Scenes[i] = assembly.SceneSpec{Index: s.Index, ImageDuration: s.ImageDuration}
	}
	input.Resolution = media.Resolution{Width: meta.Resolution.Width, Height: meta.Resolution.Height}
	input.FrameRate = meta.FrameRate
	if input.FrameRate == 0 {
		input.FrameRate = DefaultFrameRate
	}

	return input, closeAll, true
}

// readMetadata decodes the metadata field, sent either as a plain form value
// or as a JSON file part.
func (h *Handlers) readMetadata(form *multipart.Form) (*AssemblyMetadata, error) {
	var raw []byte
	switch {
	case len(form.Value[fieldMetadata]) > 0:
		raw = []byte(form.Value[fieldMetadata][0])
	case len(form.File[fieldMetadata]) > 0:
		f, err := form.File[fieldMetadata][0].Open()
		if err != nil {
			return nil, fmt.Errorf("open metadata: %w", err)
		}
		defer func() { _ = f.Close() }()
		if raw, err = io.ReadAll(f); err != nil {
			return nil, fmt.Errorf("read metadata: %w", err)
		}
	default:
		return nil, errors.New("metadata field is required")
	}

	var meta AssemblyMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("metadata is not valid JSON: %w", err)
	}
	return &meta, nil
}

// validationDetails flattens validator errors into field -> rule.
func validationDetails(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[fe.Namespace()] = rule
	}
	return out
}

// writeAssemblyError maps pipeline failures to HTTP responses.
func (h *Handlers) writeAssemblyError(w http.ResponseWriter, err error) {
	kind := media.KindOf(err)
	details := map[string]any{}

	var toolErr *media.ToolError
	if errors.As(err, &toolErr) {
		details["stderr"] = toolErr.StderrTail(5)
		details["exit_code"] = toolErr.ExitCode
	}

	status := http.StatusInternalServerError
	switch kind {
	case media.KindCancelled:
		status = StatusClientClosedRequest
	case media.KindInputShape:
		status = http.StatusBadRequest
		var shapeErr *media.InputShapeError
		if errors.As(err, &shapeErr) {
			details["images"] = shapeErr.Images
			details["audio"] = shapeErr.Audio
			details["scenes"] = shapeErr.Scenes
		}
	case media.KindSegmentEncoding:
		var segErr *media.SegmentEncodingError
		if errors.As(err, &segErr) {
			details["scene_index"] = segErr.SceneIndex
		}
	case media.KindConcatenation:
		var concatErr *media.ConcatenationError
		if errors.As(err, &concatErr) {
			details["kind"] = string(concatErr.Stream)
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("assembly failed",
			slog.String("error_code", string(kind)),
			slog.String("error", err.Error()),
		)
	}
	if len(details) == 0 {
		details = nil
	}
	writeError(w, status, string(kind), err.Error(), details)
}

func (h *Handlers) writeJobLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found", nil)
		return
	}
	h.logger.Error("failed to get job",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "JOB_FETCH_FAILED", "failed to get job", nil)
}

// streamVideo copies an MP4 to the response as an attachment.
func (h *Handlers) streamVideo(w http.ResponseWriter, video io.Reader, filename, id string) {
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, video); err != nil {
		h.logger.Warn("failed to stream video",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
}
