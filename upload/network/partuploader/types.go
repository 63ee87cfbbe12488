// Package partuploader transfers the parts of one multipart upload session to
// pre-signed storage URLs in parallel and collects the per-part integrity tags
// the backend needs to compose the final object.
package partuploader

import (
	"context"
	"fmt"
	"io"
)

// Part is one planned byte range of a multipart upload.
// Part numbers are 1-based; the backend's composition step expects them ascending.
type Part struct {
	Number int
	Offset int64
	Size   int64
}

// PartResult is the outcome of one uploaded part.
// ETag is the storage layer's integrity tag with the surrounding quotes removed.
type PartResult struct {
	Number int
	ETag   string
}

// SignFunc returns a single-use pre-signed URL for the given part number.
type SignFunc func(ctx context.Context, partNumber int) (string, error)

// Provider supplies the bytes of one planned part.
// ReadPart may be called concurrently for different parts.
type Provider interface {
	ReadPart(part Part) (io.Reader, error)
}

// PartError is a failed part transfer. StatusCode is zero for transport errors.
type PartError struct {
	PartNumber int
	StatusCode int
	Err        error
}

func (e *PartError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("part %d failed with status %d: %s", e.PartNumber, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("part %d failed: %s", e.PartNumber, e.Err)
}

func (e *PartError) Unwrap() error {
	return e.Err
}
