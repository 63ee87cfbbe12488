package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type uploadTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newUploadTracker(envRepo env.Repository, logger log.Logger) uploadTracker {
	p := analytics.Properties{
		"client":     "go-uploadutils",
		"partner_id": envRepo.Get("PORTAL_PARTNER_ID"),
	}
	return uploadTracker{
		tracker: analytics.NewDefaultTracker(logger, envRepo, p),
		logger:  logger,
	}
}

func (t *uploadTracker) logFileEnqueued(sizeBytes int64) {
	t.tracker.Enqueue("upload_file_enqueued", analytics.Properties{
		"size_bytes": sizeBytes,
	})
}

func (t *uploadTracker) logFileUploaded(uploadTime time.Duration, sizeBytes int64) {
	t.tracker.Enqueue("upload_file_uploaded", analytics.Properties{
		"upload_time_s": uploadTime.Truncate(time.Second).Seconds(),
		"size_bytes":    sizeBytes,
	})
}

func (t *uploadTracker) logFileProcessed(processingTime time.Duration, pageCount int64) {
	t.tracker.Enqueue("upload_file_processed", analytics.Properties{
		"processing_time_s": processingTime.Truncate(time.Second).Seconds(),
		"page_count":        pageCount,
	})
}

func (t *uploadTracker) logFileFailed() {
	t.tracker.Enqueue("upload_file_failed", analytics.Properties{})
}

func (t *uploadTracker) wait() {
	t.tracker.Wait()
}
