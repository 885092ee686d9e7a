package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"medstudy/pkg/domain"
	"medstudy/pkg/queue"
	"medstudy/pkg/storage"
	"medstudy/pkg/store"
)

// Stage names reported through the task side channel while a job runs.
const (
	StageDownloading = "DOWNLOADING"
	StageExtracting  = "EXTRACTING"
	StageTitling     = "TITLING"
	StagePersisting  = "PERSISTING"
	StageLinking     = "LINKING"
)

// TextExtractor pulls text out of a PDF on disk.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// TitleFunc names a document from its extracted text.
type TitleFunc func(ctx context.Context, text string) (string, error)

// TaskReporter publishes job progress for the user-facing task list.
type TaskReporter interface {
	Update(ctx context.Context, userID string, task queue.TaskStatus) error
}

// Processor runs the extraction pipeline for one uploaded PDF: download the
// blob, extract text, title it, persist, and link the file to the uploader.
// Jobs are delivered at least once, so every stage tolerates re-runs.
type Processor struct {
	store   store.Store
	blobs   storage.ObjectStore
	extract TextExtractor
	title   TitleFunc
	tasks   TaskReporter
	logger  *slog.Logger
	tmpDir  string
}

func NewProcessor(st store.Store, blobs storage.ObjectStore, ex TextExtractor, title TitleFunc, tasks TaskReporter, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:   st,
		blobs:   blobs,
		extract: ex,
		title:   title,
		tasks:   tasks,
		logger:  logger,
		tmpDir:  os.TempDir(),
	}
}

// Process handles one job. A returned error means the attempt failed; the
// failure has already been reported to the task list by then, so the queue's
// retry/failure bookkeeping never leaves the user without a final status.
func (p *Processor) Process(ctx context.Context, job queue.JobStatus) (err error) {
	log := p.logger.With("job_id", job.ID, "file_hash", job.FileHash, "user_id", job.UserID)
	defer func() {
		if err != nil {
			log.Error("extraction pipeline failed", "error", err)
			p.report(ctx, job, queue.TaskFailure, err.Error())
		}
	}()

	record, found, err := p.store.GetFile(job.FileHash)
	if err != nil {
		return fmt.Errorf("load file record: %w", err)
	}
	if !found {
		return fmt.Errorf("no file record for hash %s", job.FileHash)
	}

	// A retried job whose earlier attempt already extracted and titled the
	// document only needs the link re-asserted.
	if record.Text != "" && record.ShortTitle != "" && record.ShortTitle != domain.UntitledTitle {
		p.report(ctx, job, queue.TaskInProgress, StageLinking)
		if err := p.store.LinkFileToUser(job.UserID, job.FileHash); err != nil {
			return fmt.Errorf("link file: %w", err)
		}
		p.report(ctx, job, queue.TaskSuccess, "")
		return nil
	}

	p.report(ctx, job, queue.TaskInProgress, StageDownloading)
	data, err := p.blobs.Get(ctx, record.StoragePath)
	if err != nil {
		return fmt.Errorf("download blob: %w", err)
	}
	tmp, err := os.CreateTemp(p.tmpDir, "extract-*.pdf")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	p.report(ctx, job, queue.TaskInProgress, StageExtracting)
	text, err := p.extract.ExtractText(ctx, tmp.Name())
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	p.report(ctx, job, queue.TaskInProgress, StageTitling)
	title, err := p.title(ctx, text)
	if err != nil || title == "" {
		// Titling is best-effort: the document stays usable under the
		// placeholder and existence checks keep treating it as unfinished.
		log.Warn("title generation failed, using placeholder", "error", err)
		title = domain.UntitledTitle
	}

	p.report(ctx, job, queue.TaskInProgress, StagePersisting)
	if err := p.store.SetFileText(job.FileHash, text, title); err != nil {
		return fmt.Errorf("persist text: %w", err)
	}

	p.report(ctx, job, queue.TaskInProgress, StageLinking)
	if err := p.store.LinkFileToUser(job.UserID, job.FileHash); err != nil {
		return fmt.Errorf("link file: %w", err)
	}

	p.report(ctx, job, queue.TaskSuccess, "")
	log.Info("extraction pipeline finished", "title", title)
	return nil
}

// report is best-effort: a broken side channel must not fail the job.
func (p *Processor) report(ctx context.Context, job queue.JobStatus, status, message string) {
	if p.tasks == nil {
		return
	}
	err := p.tasks.Update(ctx, job.UserID, queue.TaskStatus{
		TaskID:   job.ID,
		Filename: job.Filename,
		Status:   status,
		Message:  message,
	})
	if err != nil {
		p.logger.Warn("task status update failed", "job_id", job.ID, "error", err)
	}
}
