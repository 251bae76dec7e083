package pipeline

import (
	"context"
	"fmt"

	"github.com/webmirror/webmirror/internal/crawler"
	"github.com/webmirror/webmirror/internal/manifest"
	"github.com/webmirror/webmirror/internal/report"
)

// MirrorStep runs the crawl and fills in the job's summary.
// This is the step every pipeline starts with; the manifest and report
// steps consume what it produces.
type MirrorStep struct {
	crawl *crawler.Crawler
}

// NewMirrorStep creates a MirrorStep around a configured crawler.
func NewMirrorStep(crawl *crawler.Crawler) *MirrorStep {
	return &MirrorStep{crawl: crawl}
}

// Name returns the step name for logging.
func (s *MirrorStep) Name() string { return "mirror" }

// Do mirrors the job's root URL into its output directory.
// An aborted run still produces a summary so downstream steps can
// record and report the partial mirror.
func (s *MirrorStep) Do(ctx context.Context, job *Job) error {
	summary, err := s.crawl.Run(ctx, job.RootURL, job.OutputDir)
	if summary != nil {
		job.Summary = summary
	}
	if err != nil {
		return fmt.Errorf("mirror %s: %w", job.RootURL, err)
	}
	return nil
}

// ManifestStep records the run outcome in the manifest database.
type ManifestStep struct {
	db *manifest.DB
}

// NewManifestStep creates a ManifestStep backed by an open manifest DB.
func NewManifestStep(db *manifest.DB) *ManifestStep {
	return &ManifestStep{db: db}
}

// Name returns the step name for logging.
func (s *ManifestStep) Name() string { return "manifest" }

// Do saves the run summary and stores the assigned row ID in the job.
// It is a no-op when the mirror step produced no summary.
func (s *ManifestStep) Do(ctx context.Context, job *Job) error {
	if job.Summary == nil {
		return nil
	}

	id, err := s.db.SaveRun(ctx, job.Summary)
	if err != nil {
		return fmt.Errorf("save run manifest: %w", err)
	}
	job.RunID = id
	return nil
}

// ReportStep writes the run report using the configured writer.
type ReportStep struct {
	writer report.Writer
}

// NewReportStep creates a ReportStep that writes through the given writer.
func NewReportStep(writer report.Writer) *ReportStep {
	return &ReportStep{writer: writer}
}

// Name returns the step name for logging.
func (s *ReportStep) Name() string { return "report" }

// Do writes the report. It is a no-op when there is no summary.
func (s *ReportStep) Do(_ context.Context, job *Job) error {
	if job.Summary == nil {
		return nil
	}

	if _, err := s.writer.Write(job.Summary); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
