package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/zotero-sync/internal/objectstore"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// downloadAttachment fetches an attachment's file content and stores it
// keyed by item and filename, skipping items with no file (404) and
// refusing to persist content that fails the MD5 integrity check.
func (e *Engine) downloadAttachment(ctx context.Context, ref zoteroapi.LibraryRef, itemKey string, data zoteroapi.ItemData) error {
	if data.Filename == "" {
		return nil
	}

	objectKey := objectstore.AttachmentKey(itemKey, zoteroapi.NormalizeFilename(data.Filename))

	exists, err := e.objects.Exists(ctx, objectKey)
	if err != nil {
		return fmt.Errorf("checking existing attachment: %w", err)
	}

	if exists {
		info, err := e.objects.Stat(ctx, objectKey)
		if err == nil && data.MD5 != "" && info.MD5 == data.MD5 {
			return nil
		}
	}

	url, err := e.remote.AttachmentDownloadURL(ctx, ref, itemKey)
	if err != nil {
		if errors.Is(err, zoteroapi.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("requesting download url: %w", err)
	}

	blob, err := e.remote.DownloadBlob(ctx, url)
	if err != nil {
		return fmt.Errorf("downloading attachment content: %w", err)
	}

	if data.MD5 != "" {
		if got := zoteroapi.MD5Hex(blob); got != data.MD5 {
			return fmt.Errorf("%w: attachment %s md5 mismatch: expected %s, got %s", zoteroapi.ErrValidation, itemKey, data.MD5, got)
		}
	}

	return e.objects.Put(ctx, objectKey, blob)
}

// uploadAttachment pushes local file content for an item that already has
// its metadata on the server, per the request_upload_auth -> POST ->
// register_upload sequence.
func (e *Engine) uploadAttachment(ctx context.Context, ref zoteroapi.LibraryRef, itemKey string, ifUnmodVersion int, data zoteroapi.ItemData) error {
	objectKey := objectstore.AttachmentKey(itemKey, zoteroapi.NormalizeFilename(data.Filename))

	blob, err := e.objects.Get(ctx, objectKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("reading local attachment content: %w", err)
	}

	md5sum := zoteroapi.MD5Hex(blob)

	auth, err := e.remote.RequestUploadAuth(ctx, ref, itemKey, int64(len(blob)), md5sum, data.Filename, time.Now().UnixMilli(), ifUnmodVersion)
	if err != nil {
		return fmt.Errorf("requesting upload authorization: %w", err)
	}

	if auth.Exists {
		return nil
	}

	if err := e.remote.UploadBlob(ctx, auth, blob); err != nil {
		return fmt.Errorf("uploading attachment content: %w", err)
	}

	if _, err := e.remote.RegisterUpload(ctx, ref, itemKey, auth.UploadKey, ifUnmodVersion); err != nil {
		return fmt.Errorf("registering upload: %w", err)
	}

	return nil
}
