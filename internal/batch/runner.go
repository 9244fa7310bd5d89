package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/afwm/CCBP-pub/internal/engine"
	"github.com/afwm/CCBP-pub/internal/infrastructure"
	"github.com/afwm/CCBP-pub/internal/license"
	"github.com/afwm/CCBP-pub/internal/project"
)

// ErrDenied is returned when the license gate refuses a job. No file
// has been touched when this comes back.
var ErrDenied = errors.New("batch job denied by license check")

// JobSpec describes one batch run. ID may be preassigned by the caller
// (the HTTP API does, so clients can follow progress); when empty the
// runner generates one.
type JobSpec struct {
	ID                   string
	LicenseKey           string
	CSVPath              string
	TemplateProjectDir   string
	TemplateMaterialBase string
	ChangeMaterialBase   string
	OutputProjectsDir    string
	OutputReportDir      string
}

// Event is one progress update delivered to the caller's callback.
type Event struct {
	JobID       string    `json:"job_id"`
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	ProjectName string    `json:"project_name,omitempty"`
	Completed   int       `json:"completed"`
	Total       int       `json:"total"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event types.
const (
	EventStatus   = "status"
	EventRow      = "row"
	EventRowError = "row_error"
	EventDone     = "done"
)

// RowResult is the outcome for one CSV row.
type RowResult struct {
	Index       int           `json:"index"`
	ProjectName string        `json:"project_name"`
	OutputDir   string        `json:"output_dir,omitempty"`
	Rewrites    int           `json:"rewrites"`
	Error       string        `json:"error,omitempty"`
	Stats       engine.Stats  `json:"stats,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// Report summarizes a finished job.
type Report struct {
	JobID      string        `json:"job_id"`
	Processed  int           `json:"processed"`
	Failed     int           `json:"failed"`
	ReportPath string        `json:"report_path,omitempty"`
	Results    []RowResult   `json:"results"`
	Duration   time.Duration `json:"duration_ns"`
}

// Runner executes batch jobs. It is safe for concurrent Run calls; all
// per-job state lives on the stack.
type Runner struct {
	auth        *license.Authenticator
	engine      *engine.Engine
	logger      *slog.Logger
	parallelism int
}

// NewRunner wires a runner. parallelism below 1 means sequential.
func NewRunner(auth *license.Authenticator, eng *engine.Engine, parallelism int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &Runner{
		auth:        auth,
		engine:      eng,
		logger:      logger.With(slog.String("component", "batch")),
		parallelism: parallelism,
	}
}

// Run executes one job. The license is verified before anything else;
// a denial returns ErrDenied with no documents mutated. Row-level
// failures do not abort the job, they are reported per row.
func (r *Runner) Run(ctx context.Context, spec JobSpec, onEvent func(Event)) (*Report, error) {
	jobID := spec.ID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	ctx = infrastructure.WithTraceID(ctx, jobID)
	ctx, span := otel.Tracer("ccbp/batch").Start(ctx, "batch.run")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	logger := r.logger.With(slog.String("job_id", jobID))
	start := time.Now()
	emit := func(e Event) {
		if onEvent != nil {
			e.JobID = jobID
			e.Timestamp = time.Now().UTC()
			onEvent(e)
		}
	}

	emit(Event{Type: EventStatus, Message: "verifying license"})
	auth := r.auth.Authenticate(ctx, spec.LicenseKey)
	if !auth.Authenticated() {
		logger.WarnContext(ctx, "job denied by license check",
			slog.String("message", auth.Message))
		jobsTotal.WithLabelValues("denied").Inc()
		emit(Event{Type: EventDone, Message: auth.Message})
		return nil, fmt.Errorf("%w: %s", ErrDenied, auth.Message)
	}
	logger.InfoContext(ctx, "license check passed", slog.Bool("offline", auth.Offline))

	if err := r.validateSpec(spec); err != nil {
		jobsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	emit(Event{Type: EventStatus, Message: "loading csv"})
	rows, err := LoadRows(spec.CSVPath)
	if err != nil {
		jobsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	logger.InfoContext(ctx, "csv loaded", slog.Int("rows", len(rows)))

	report := &Report{
		JobID:   jobID,
		Results: make([]RowResult, len(rows)),
	}
	if len(rows) == 0 {
		jobsTotal.WithLabelValues("completed").Inc()
		emit(Event{Type: EventDone, Message: "no rows to process"})
		report.Duration = time.Since(start)
		return report, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.parallelism)
	completed := make(chan RowResult, len(rows))

	for i, row := range rows {
		i, row := i, row
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			result := r.processRow(groupCtx, spec, i, row)
			report.Results[i] = result
			completed <- result
			return nil
		})
	}

	// Progress events are serialized here so onEvent never runs
	// concurrently with itself.
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		done := 0
		for result := range completed {
			done++
			eventType := EventRow
			message := "project generated"
			if result.Error != "" {
				eventType = EventRowError
				message = result.Error
			}
			emit(Event{
				Type:        eventType,
				Message:     message,
				ProjectName: result.ProjectName,
				Completed:   done,
				Total:       len(rows),
			})
		}
	}()

	runErr := group.Wait()
	close(completed)
	<-progressDone
	if runErr != nil {
		jobsTotal.WithLabelValues("cancelled").Inc()
		return nil, runErr
	}

	var generated []string
	for _, result := range report.Results {
		if result.Error == "" {
			report.Processed++
			generated = append(generated, result.ProjectName)
		} else {
			report.Failed++
		}
	}

	if len(generated) > 0 && spec.OutputReportDir != "" {
		reportPath, err := writeReport(spec.OutputReportDir, generated)
		if err != nil {
			logger.WarnContext(ctx, "report write failed", slog.String("error", err.Error()))
		} else {
			report.ReportPath = reportPath
		}
	}

	report.Duration = time.Since(start)
	status := "completed"
	if report.Failed > 0 {
		status = "completed_with_errors"
	}
	jobsTotal.WithLabelValues(status).Inc()
	logger.InfoContext(ctx, "job finished",
		slog.Int("processed", report.Processed),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration))
	emit(Event{
		Type:      EventDone,
		Message:   fmt.Sprintf("%d succeeded, %d failed", report.Processed, report.Failed),
		Completed: len(rows),
		Total:     len(rows),
	})
	return report, nil
}

func (r *Runner) validateSpec(spec JobSpec) error {
	if info, err := os.Stat(spec.TemplateProjectDir); err != nil || !info.IsDir() {
		return fmt.Errorf("template project directory not found: %s", spec.TemplateProjectDir)
	}
	if _, err := os.Stat(spec.CSVPath); err != nil {
		return fmt.Errorf("csv file not found: %s", spec.CSVPath)
	}
	if spec.OutputProjectsDir == "" {
		return errors.New("output projects directory not configured")
	}
	return os.MkdirAll(spec.OutputProjectsDir, 0755)
}

// processRow copies the template, rewrites the project documents, and
// saves them. All failures are captured in the returned result.
func (r *Runner) processRow(ctx context.Context, spec JobSpec, index int, row Row) RowResult {
	start := time.Now()
	result := RowResult{Index: index, ProjectName: row["ProjectName"]}
	fail := func(err error) RowResult {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		documentsProcessed.WithLabelValues("error").Inc()
		r.logger.ErrorContext(ctx, "row failed",
			slog.Int("row", index),
			slog.String("project", result.ProjectName),
			slog.String("error", err.Error()))
		return result
	}

	if result.ProjectName == "" {
		return fail(fmt.Errorf("row %d has no ProjectName", index+1))
	}

	dir, err := project.CopyTemplate(spec.TemplateProjectDir, spec.OutputProjectsDir, result.ProjectName)
	if err != nil {
		return fail(err)
	}
	result.OutputDir = dir

	handler, err := project.Open(dir, r.logger)
	if err != nil {
		return fail(err)
	}
	handler.SetName(result.ProjectName)

	materialMap := handler.BuildMaterialMap(row, spec.TemplateMaterialBase, spec.ChangeMaterialBase)
	stats := handler.Apply(r.engine, materialMap, row)
	for ruleID, count := range stats {
		ruleRewrites.WithLabelValues(ruleID).Add(float64(count))
	}
	result.Stats = stats
	result.Rewrites = stats.Total()

	if err := handler.Save(); err != nil {
		return fail(err)
	}

	documentsProcessed.WithLabelValues("ok").Inc()
	result.Duration = time.Since(start)
	return result
}
