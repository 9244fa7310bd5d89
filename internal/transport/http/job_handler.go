package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/afwm/CCBP-pub/internal/batch"
	apperrors "github.com/afwm/CCBP-pub/internal/errors"
)

// Job lifecycle states as reported by the API.
const (
	JobRunning = "running"
	JobDone    = "done"
	JobDenied  = "denied"
	JobFailed  = "failed"
)

type jobEntry struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Error  string        `json:"error,omitempty"`
	Report *batch.Report `json:"report,omitempty"`
}

// JobHandler submits batch jobs and reports their outcomes. Progress
// streams over the websocket hub; the job entry holds the terminal
// result for polling clients.
type JobHandler struct {
	runner *batch.Runner
	hub    *Hub
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

func NewJobHandler(runner *batch.Runner, hub *Hub, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		runner: runner,
		hub:    hub,
		logger: logger.With(slog.String("handler", "jobs")),
		jobs:   make(map[string]*jobEntry),
	}
}

func (h *JobHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Submit)
	r.Get("/{jobID}", h.Get)
	return r
}

// SubmitRequest mirrors batch.JobSpec for the wire.
type SubmitRequest struct {
	LicenseKey           string `json:"license_key"`
	CSVPath              string `json:"csv_path"`
	TemplateProjectDir   string `json:"template_project_dir"`
	TemplateMaterialBase string `json:"template_material_base"`
	ChangeMaterialBase   string `json:"change_material_base,omitempty"`
	OutputProjectsDir    string `json:"output_projects_dir"`
	OutputReportDir      string `json:"output_report_dir,omitempty"`
}

func (s *SubmitRequest) Bind(r *http.Request) error {
	switch {
	case s.LicenseKey == "":
		return errors.New("license_key is required")
	case s.CSVPath == "":
		return errors.New("csv_path is required")
	case s.TemplateProjectDir == "":
		return errors.New("template_project_dir is required")
	case s.OutputProjectsDir == "":
		return errors.New("output_projects_dir is required")
	}
	return nil
}

// Submit handles POST /api/jobs. The job runs in the background; the
// response carries the id to poll or to correlate websocket events.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	req := &SubmitRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	spec := batch.JobSpec{
		ID:                   uuid.New().String(),
		LicenseKey:           req.LicenseKey,
		CSVPath:              req.CSVPath,
		TemplateProjectDir:   req.TemplateProjectDir,
		TemplateMaterialBase: req.TemplateMaterialBase,
		ChangeMaterialBase:   req.ChangeMaterialBase,
		OutputProjectsDir:    req.OutputProjectsDir,
		OutputReportDir:      req.OutputReportDir,
	}

	h.mu.Lock()
	h.jobs[spec.ID] = &jobEntry{ID: spec.ID, Status: JobRunning}
	h.mu.Unlock()

	go h.execute(spec)

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, jobEntry{ID: spec.ID, Status: JobRunning})
}

// execute runs the job detached from the submitting request's context:
// closing the browser tab must not cancel a half-finished batch.
func (h *JobHandler) execute(spec batch.JobSpec) {
	report, err := h.runner.Run(context.Background(), spec, func(e batch.Event) {
		h.hub.Broadcast(e)
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	entry := h.jobs[spec.ID]
	switch {
	case errors.Is(err, batch.ErrDenied):
		entry.Status = JobDenied
		entry.Error = err.Error()
	case err != nil:
		entry.Status = JobFailed
		entry.Error = err.Error()
		h.logger.Error("job failed",
			slog.String("job_id", spec.ID),
			slog.String("error", err.Error()))
	default:
		entry.Status = JobDone
		entry.Report = report
	}
}

// Get handles GET /api/jobs/{jobID}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	// Copy under the lock: the job goroutine mutates the entry when it
	// finishes.
	h.mu.RLock()
	entry, ok := h.jobs[jobID]
	var snapshot jobEntry
	if ok {
		snapshot = *entry
	}
	h.mu.RUnlock()

	if !ok {
		render.Render(w, r, apperrors.NotFoundError("job"))
		return
	}
	render.JSON(w, r, snapshot)
}
