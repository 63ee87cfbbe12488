package network

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/famtree-io/go-uploadutils/upload/network/partuploader"
)

// UploadFileParams ...
type UploadFileParams struct {
	// SourceID is the logical document the file belongs to, assigned by the caller.
	SourceID string
	FilePath string
	// Filename is the display name sent to the backend. Defaults to the base of FilePath.
	Filename string
	// OnKey is called once, as soon as the session is opened and the storage key is known.
	OnKey func(key string)
	// OnProgress receives aggregate transferred bytes out of the file's total size.
	OnProgress func(sent, total int64)
}

// UploadResult describes a finalized upload session.
type UploadResult struct {
	Key         string
	Bucket      string
	ContentType string
	Size        int64
}

// UploadFile runs one complete multipart session: open a session with the
// backend, upload every planned part to its pre-signed URL, then finalize with
// the part tags sorted ascending. Any part failure abandons the session; the
// backend never sees a partial complete.
func (c *Client) UploadFile(ctx context.Context, params UploadFileParams) (UploadResult, error) {
	if params.SourceID == "" {
		return UploadResult{}, fmt.Errorf("source ID is empty")
	}
	if params.FilePath == "" {
		return UploadResult{}, fmt.Errorf("file path is empty")
	}

	info, err := os.Stat(params.FilePath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return UploadResult{}, fmt.Errorf("%s is a directory", params.FilePath)
	}
	size := info.Size()

	filename := params.Filename
	if filename == "" {
		filename = filepath.Base(params.FilePath)
	}
	contentType := DetectContentType(filename)

	c.logger.Debugf("Opening upload session for %s (%s)", filename, units.HumanSizeWithPrecision(float64(size), 3))
	created, err := c.createMultipart(ctx, createMultipartRequest{
		SourceID:    params.SourceID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   size,
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to open upload session: %w", err)
	}
	if created.PartSize <= 0 {
		return UploadResult{}, fmt.Errorf("backend returned invalid part size %d", created.PartSize)
	}
	if params.OnKey != nil {
		params.OnKey(created.Key)
	}

	parts, err := partuploader.PlanParts(size, created.PartSize)
	if err != nil {
		return UploadResult{}, fmt.Errorf("plan parts: %w", err)
	}
	c.logger.Debugf("Uploading %d parts, %dB each", len(parts), created.PartSize)

	provider, err := partuploader.NewFileProvider(params.FilePath)
	if err != nil {
		return UploadResult{}, err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			c.logger.Warnf("close %s: %s", params.FilePath, err)
		}
	}()

	uploadStartTime := time.Now()
	sign := func(ctx context.Context, partNumber int) (string, error) {
		return c.signPart(ctx, created.Key, created.UploadID, partNumber)
	}
	onProgress := func(sent int64) {
		if params.OnProgress != nil {
			params.OnProgress(sent, size)
		}
	}
	results, err := c.partUploader.UploadParts(ctx, provider, parts, sign, onProgress)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload parts: %w", err)
	}

	if err := c.completeMultipart(ctx, created.Key, created.UploadID, results); err != nil {
		return UploadResult{}, fmt.Errorf("failed to finalize upload: %w", err)
	}
	c.logger.Debugf("Uploaded %s in %s", filename, time.Since(uploadStartTime).Round(time.Second))

	return UploadResult{
		Key:         created.Key,
		Bucket:      created.Bucket,
		ContentType: contentType,
		Size:        size,
	}, nil
}

// DetectContentType maps a filename to a MIME type, falling back to a generic
// binary type when the extension is unknown.
func DetectContentType(filename string) string {
	if contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
