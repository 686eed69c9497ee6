package lifecycle

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/metrics"
	"case-portal/internal/models"
	"case-portal/internal/store"
)

const documentKeyPrefix = "doc_"

type UploadRequest struct {
	DisplayName string
	FileName    string
	ContentType string
	Body        io.Reader
	Size        int64
	Progress    store.ProgressFunc
}

type UploadedDocument struct {
	Key         string
	DisplayName string
	URL         string
}

// UploadDocument stores the file in blob storage and records it under the
// next doc_<n> key. Nothing is written when validation fails.
func (e *Engine) UploadDocument(ctx context.Context, appID string, req UploadRequest) (doc *UploadedDocument, err error) {
	defer func() { metrics.RecordOperation(component, "upload_document", err) }()

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, apperrors.NewValidationError("please enter the document name")
	}
	fileName := path.Base(strings.TrimSpace(req.FileName))
	if req.Body == nil || fileName == "." || fileName == "/" {
		return nil, apperrors.NewValidationError("a file is required")
	}

	app, err := e.get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if err := e.requireStatus(app, Status.IsDocsRequest, "document upload"); err != nil {
		return nil, err
	}

	blobKey := e.opts.DocumentPrefix + fileName
	if err := e.blobs.Upload(ctx, blobKey, req.Body, req.Size, req.ContentType, req.Progress); err != nil {
		e.logger.Error("document upload failed", map[string]interface{}{
			"applicationId": appID,
			"key":           blobKey,
			"error":         err,
		})
		return nil, apperrors.NewBlobUploadFailedError(blobKey, err)
	}
	url, err := e.blobs.DownloadURL(ctx, blobKey)
	if err != nil {
		return nil, apperrors.NewBlobUploadFailedError(blobKey, err)
	}

	key := NextDocumentKey(app.UploadedDocumentsPath)
	err = e.store.Update(ctx, models.CollectionApplications, appID,
		store.Set(models.FieldDocuments+"."+key, []string{name, url}))
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("record document", err)
	}

	e.logger.Info("document uploaded", map[string]interface{}{
		"applicationId": appID,
		"documentKey":   key,
	})
	return &UploadedDocument{Key: key, DisplayName: name, URL: url}, nil
}

// DeleteDocument removes key from the document map. Its index stays retired.
func (e *Engine) DeleteDocument(ctx context.Context, appID, key string) (err error) {
	defer func() { metrics.RecordOperation(component, "delete_document", err) }()

	app, err := e.get(ctx, appID)
	if err != nil {
		return err
	}
	if _, ok := app.UploadedDocumentsPath[key]; !ok {
		return apperrors.NewResourceNotFoundError("document", key)
	}

	err = e.store.Update(ctx, models.CollectionApplications, appID, store.Delete(models.FieldDocuments+"."+key))
	if err != nil {
		return apperrors.NewStoreOperationFailedError("delete document", err)
	}
	return nil
}

// NextDocumentKey returns doc_<1 + highest index in docs>. Keys that do not
// follow the doc_<n> form are ignored.
func NextDocumentKey(docs map[string][]string) string {
	max := 0
	for key := range docs {
		if !strings.HasPrefix(key, documentKeyPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, documentKeyPrefix))
		if err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%d", documentKeyPrefix, max+1)
}
