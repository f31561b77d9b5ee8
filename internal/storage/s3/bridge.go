package s3

import (
	"bytes"
	"context"
	"io"

	"github.com/objcachefs/objcachefs/internal/data"
	"github.com/objcachefs/objcachefs/pkg/health"
	"github.com/objcachefs/objcachefs/pkg/recovery"
	"github.com/objcachefs/objcachefs/pkg/types"
)

// TransferBridgeAdapter adapts Backend to data.TransferBridge, the core's
// only downward-facing interface (spec.md §2 C7). internal/data never
// imports this package or the AWS SDK directly.
//
// Every call is routed through a RecoveryManager so a flaky or
// overloaded bucket trips its circuit breaker instead of letting the
// core's cache-fill and upload paths hammer a backend that is already
// failing. When a healthTracker is attached, every call also reports
// success/error against the "s3_backend" component, so the API health
// endpoint reflects the backend's real state.
type TransferBridgeAdapter struct {
	backend       *Backend
	recovery      *recovery.RecoveryManager
	healthTracker *health.Tracker
}

// NewTransferBridgeAdapter wraps backend for use as a data.TransferBridge.
func NewTransferBridgeAdapter(backend *Backend) *TransferBridgeAdapter {
	return &TransferBridgeAdapter{
		backend:  backend,
		recovery: recovery.NewRecoveryManager(recovery.DefaultRecoveryConfig()),
	}
}

// SetHealthTracker attaches a health.Tracker that every subsequent call
// reports success/error against under the "s3_backend" component.
func (a *TransferBridgeAdapter) SetHealthTracker(tracker *health.Tracker) {
	a.healthTracker = tracker
}

// reportHealth records err (nil or not) against the s3_backend component
// when a tracker is attached.
func (a *TransferBridgeAdapter) reportHealth(err error) {
	if a.healthTracker == nil {
		return
	}
	if err != nil {
		a.healthTracker.RecordError("s3_backend", err)
	} else {
		a.healthTracker.RecordSuccess("s3_backend")
	}
}

// DownloadRange fetches [off, off+length) of fid, per spec.md §6's
// downloadRange contract.
func (a *TransferBridgeAdapter) DownloadRange(ctx context.Context, fid string, off, length int64) (io.ReadCloser, error) {
	var body []byte
	err := a.recovery.Execute(ctx, "s3", "download_range", func() error {
		var err error
		body, err = a.backend.GetObject(ctx, fid, off, length)
		return err
	})
	a.reportHealth(err)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// UploadFile uploads size bytes read from src as fid. Backend.PutObject
// already chooses between a direct PUT and CargoShip's optimized
// multipart transporter internally based on size and configuration, so
// this adapter only has to buffer src into the shape PutObject expects.
func (a *TransferBridgeAdapter) UploadFile(ctx context.Context, fid string, src io.Reader, size int64) error {
	body, err := io.ReadAll(io.LimitReader(src, size))
	if err != nil {
		return err
	}
	err = a.recovery.Execute(ctx, "s3", "upload_file", func() error {
		return a.backend.PutObject(ctx, fid, body)
	})
	a.reportHealth(err)
	return err
}

// ListObjects lists remote keys under prefix, honoring delimiter and
// continuationToken, translating Backend.ListObjectsPage's separate
// Contents/CommonPrefixes slices into the single ListedEntry slice
// data.TransferBridge expects.
func (a *TransferBridgeAdapter) ListObjects(ctx context.Context, prefix, delimiter, continuationToken string) ([]data.ListedEntry, string, error) {
	var contents []types.ObjectInfo
	var commonPrefixes []string
	var nextToken string
	err := a.recovery.Execute(ctx, "s3", "list_objects", func() error {
		var err error
		contents, commonPrefixes, nextToken, err = a.backend.ListObjectsPage(ctx, prefix, delimiter, continuationToken)
		return err
	})
	a.reportHealth(err)
	if err != nil {
		return nil, "", err
	}

	entries := make([]data.ListedEntry, 0, len(contents)+len(commonPrefixes))
	for _, obj := range contents {
		entries = append(entries, data.ListedEntry{Key: obj.Key, Size: obj.Size})
	}
	for _, prefix := range commonPrefixes {
		entries = append(entries, data.ListedEntry{Key: prefix, IsCommonPrefix: true})
	}

	return entries, nextToken, nil
}
