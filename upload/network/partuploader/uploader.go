package partuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Uploader handles parallel part uploads for a single multipart session.
type Uploader struct {
	config     Config
	httpClient *http.Client
	logger     log.Logger
}

// New creates a new Uploader with the given configuration.
func New(config Config, logger log.Logger) *Uploader {
	if config.Concurrency < 1 {
		config.Concurrency = DefaultConcurrency
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}

	return &Uploader{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// UploadParts uploads all planned parts, requesting a signed URL per part on demand.
// Workers claim parts off a shared cursor until all parts are taken, so at most
// Concurrency transfers are in flight at once. onProgress receives the aggregate
// number of bytes sent across all parts, recomputed on every transfer tick; for a
// successful call the last reported value equals the sum of all part sizes.
//
// The first failing part stops workers from claiming further parts and fails the
// whole call. There is no per-part retry: a failed part means the session cannot
// be finalized and the caller abandons it.
func (u *Uploader) UploadParts(ctx context.Context, provider Provider, parts []Part, sign SignFunc, onProgress func(sent int64)) ([]PartResult, error) {
	if len(parts) == 0 {
		return nil, errors.New("no parts to upload")
	}

	results := make([]PartResult, len(parts))
	sent := make([]int64, len(parts))
	var progressMu sync.Mutex
	report := func(index int, n int64) {
		progressMu.Lock()
		defer progressMu.Unlock()
		sent[index] = n
		if onProgress == nil {
			return
		}
		var total int64
		for _, v := range sent {
			total += v
		}
		onProgress(total)
	}

	var cursor int32 = -1
	var failed int32
	var errMu sync.Mutex
	var firstErr error

	var wg sync.WaitGroup
	for w := 0; w < u.config.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if atomic.LoadInt32(&failed) == 1 {
					return
				}
				index := int(atomic.AddInt32(&cursor, 1))
				if index >= len(parts) {
					return
				}

				result, err := u.uploadPart(ctx, provider, parts[index], sign, func(n int64) {
					report(index, n)
				})
				if err != nil {
					atomic.StoreInt32(&failed, 1)
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
					return
				}
				results[index] = result
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	// The backend composes the object from the tags in part order. Parts are
	// planned ascending already, but finalize order is a contract, not a
	// coincidence, so sort explicitly.
	sort.Slice(results, func(i, j int) bool {
		return results[i].Number < results[j].Number
	})

	return results, nil
}

func (u *Uploader) uploadPart(ctx context.Context, provider Provider, part Part, sign SignFunc, progress func(n int64)) (PartResult, error) {
	url, err := sign(ctx, part.Number)
	if err != nil {
		return PartResult{}, fmt.Errorf("sign part %d: %w", part.Number, err)
	}

	reader, err := provider.ReadPart(part)
	if err != nil {
		return PartResult{}, fmt.Errorf("read part %d: %w", part.Number, err)
	}

	u.logger.Debugf("Uploading part %d (%d bytes)", part.Number, part.Size)

	// An empty part must advertise Content-Length: 0; a reader of unknown
	// length would switch the transport to chunked encoding, which signed
	// PUT endpoints reject.
	var body io.Reader = http.NoBody
	if part.Size > 0 {
		body = &countingReader{reader: reader, report: progress}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return PartResult{}, fmt.Errorf("create request for part %d: %w", part.Number, err)
	}
	// The signed URL is not signed for a Content-Type, so none may be sent.
	req.ContentLength = part.Size

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return PartResult{}, &PartError{PartNumber: part.Number, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			u.logger.Warnf("close part %d response body: %s", part.Number, err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := make([]byte, 1024)
		n, _ := io.ReadAtLeast(resp.Body, snippet, 1)
		return PartResult{}, &PartError{
			PartNumber: part.Number,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("upload rejected: %s", string(snippet[:n])),
		}
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return PartResult{}, &PartError{
			PartNumber: part.Number,
			StatusCode: resp.StatusCode,
			Err:        errors.New("no ETag header in response"),
		}
	}

	// Report the exact final size so the aggregate ends up precise even if the
	// transport coalesced reads.
	progress(part.Size)

	return PartResult{Number: part.Number, ETag: etag}, nil
}

type countingReader struct {
	reader io.Reader
	count  int64
	report func(n int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	if n > 0 {
		c.count += int64(n)
		c.report(c.count)
	}
	return n, err
}
