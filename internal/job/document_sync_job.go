package job

import (
	"context"

	"github.com/xxxsen/docask/internal/service"
)

// DocumentSyncJob periodically re-triggers documents that sat in UPLOADED
// past the grace window, covering triggers lost to crashes or restarts.
type DocumentSyncJob struct {
	documents *service.DocumentService
}

func NewDocumentSyncJob(documents *service.DocumentService) *DocumentSyncJob {
	return &DocumentSyncJob{documents: documents}
}

func (j *DocumentSyncJob) Name() string {
	return "document_sync"
}

func (j *DocumentSyncJob) Run(ctx context.Context) error {
	if j.documents == nil {
		return nil
	}
	_, err := j.documents.SyncAllUploaded(ctx)
	return err
}
