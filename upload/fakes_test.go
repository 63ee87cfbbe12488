package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/famtree-io/go-uploadutils/upload/network"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

// fakePipeline stands in for the network client: it plays the uploader, the
// ingest notifier and the status poller, scripted per filename.
type fakePipeline struct {
	mu sync.Mutex

	// failUpload and failIngest trigger failures for the named files.
	failUpload map[string]bool
	failIngest map[string]bool
	// statuses is the sequence of observations the poller reports per source.
	// When empty, the poller reports done immediately.
	statuses map[string][]network.Status
	// blockPoll makes the poller for a source wait for cancellation.
	blockPoll map[string]bool
	// uploadDelay stretches every upload, for concurrency observations.
	uploadDelay time.Duration

	uploadedFiles   []string
	ingested        []network.IngestParams
	polled          []string
	uploadsInFlight int
	uploadsPeak     int
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		failUpload: map[string]bool{},
		failIngest: map[string]bool{},
		statuses:   map[string][]network.Status{},
		blockPoll:  map[string]bool{},
	}
}

func (f *fakePipeline) UploadFile(ctx context.Context, params network.UploadFileParams) (network.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return network.UploadResult{}, err
	}

	f.mu.Lock()
	fail := f.failUpload[params.Filename]
	f.uploadedFiles = append(f.uploadedFiles, params.Filename)
	f.uploadsInFlight++
	if f.uploadsInFlight > f.uploadsPeak {
		f.uploadsPeak = f.uploadsInFlight
	}
	delay := f.uploadDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	f.uploadsInFlight--
	f.mu.Unlock()

	if fail {
		return network.UploadResult{}, fmt.Errorf("upload parts: part 1 failed with status 500")
	}

	key := "sources/" + params.SourceID + "/" + params.Filename
	if params.OnKey != nil {
		params.OnKey(key)
	}
	if params.OnProgress != nil {
		params.OnProgress(512, 1024)
		params.OnProgress(1024, 1024)
	}

	return network.UploadResult{
		Key:         key,
		Bucket:      "portal-scans",
		ContentType: "application/pdf",
		Size:        1024,
	}, nil
}

func (f *fakePipeline) EnqueueIngest(ctx context.Context, params network.IngestParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, params)
	if f.failIngest[params.OriginalName] {
		return fmt.Errorf("enqueue ingest: HTTP 400: unknown source")
	}
	return nil
}

func (f *fakePipeline) PollStatus(ctx context.Context, sourceID string, onUpdate func(network.Status)) (network.Status, error) {
	f.mu.Lock()
	f.polled = append(f.polled, sourceID)
	statuses := f.statuses[sourceID]
	block := f.blockPoll[sourceID]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return network.Status{}, ctx.Err()
	}

	var last network.Status
	for _, status := range statuses {
		if err := ctx.Err(); err != nil {
			return network.Status{}, err
		}
		if onUpdate != nil {
			onUpdate(status)
		}
		last = status
		if status.Terminal() {
			return status, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return network.Status{}, err
	}
	done := network.Status{Phase: network.StatusDone, ProcessedPages: last.ProcessedPages}
	if onUpdate != nil {
		onUpdate(done)
	}
	return done, nil
}

func pagesTotal(n int64) *int64 {
	return &n
}
