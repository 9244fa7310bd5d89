package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/afwm/CCBP-pub/internal/app"
	"github.com/afwm/CCBP-pub/internal/batch"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (env vars apply on top)")

	// One-shot batch mode: providing -csv runs a single job and exits
	// instead of serving the local API.
	csvPath := flag.String("csv", "", "batch CSV file; when set, run one job and exit")
	licenseKey := flag.String("key", "", "license key for the one-shot job")
	templateDir := flag.String("template", "", "template project directory")
	templateMaterial := flag.String("template-material", "", "template material base directory")
	changeMaterial := flag.String("change-material", "", "per-project change material base directory")
	outputDir := flag.String("out", "", "output directory for generated projects")
	reportDir := flag.String("report", "", "output directory for the report CSV (optional)")
	flag.Parse()

	application, err := app.New(*configPath)
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *csvPath != "" {
		os.Exit(runBatch(application, batch.JobSpec{
			LicenseKey:           *licenseKey,
			CSVPath:              *csvPath,
			TemplateProjectDir:   *templateDir,
			TemplateMaterialBase: *templateMaterial,
			ChangeMaterialBase:   *changeMaterial,
			OutputProjectsDir:    *outputDir,
			OutputReportDir:      *reportDir,
		}))
	}

	if err := application.Serve(context.Background()); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func runBatch(application *app.Application, spec batch.JobSpec) int {
	report, err := application.RunOnce(context.Background(), spec)
	switch {
	case errors.Is(err, batch.ErrDenied):
		fmt.Fprintln(os.Stderr, "license verification failed:", err)
		return 2
	case err != nil:
		fmt.Fprintln(os.Stderr, "batch job failed:", err)
		return 1
	}

	fmt.Printf("processed %d projects, %d failed (%.1fs)\n",
		report.Processed, report.Failed, report.Duration.Seconds())
	if report.ReportPath != "" {
		fmt.Println("report written to", report.ReportPath)
	}
	for _, row := range report.Results {
		if row.Error != "" {
			fmt.Fprintf(os.Stderr, "  row %d (%s): %s\n", row.Index, row.ProjectName, row.Error)
		}
	}
	if report.Failed > 0 {
		return 1
	}
	return 0
}
