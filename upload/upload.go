// Package upload tracks batches of archival scans through the portal's upload
// pipeline: multipart transfer to storage, ingestion hand-off and
// page-splitting status, with the queue persisted so a restart picks up where
// the user left off.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"

	"github.com/famtree-io/go-uploadutils/upload/network"
)

// DefaultFileConcurrency is the number of enqueued files worked at once,
// shared across all batches. It is independent of the per-file part
// concurrency; in the worst case the two compose multiplicatively.
const DefaultFileConcurrency = 4

// FileUploader runs one complete multipart session for a local file.
type FileUploader interface {
	UploadFile(ctx context.Context, params network.UploadFileParams) (network.UploadResult, error)
}

// IngestNotifier tells the backend a stored object is ready for processing.
type IngestNotifier interface {
	EnqueueIngest(ctx context.Context, params network.IngestParams) error
}

// StatusPoller tracks a source's processing status until terminal.
type StatusPoller interface {
	PollStatus(ctx context.Context, sourceID string, onUpdate func(network.Status)) (network.Status, error)
}

// Config ...
type Config struct {
	// FileConcurrency caps how many files move through the pipeline at once.
	// Default: 4
	FileConcurrency int
}

// Summary is a derived projection of the queue for display.
type Summary struct {
	Uploading  int
	Queued     int
	Processing int
	Done       int
	Errored    int
	// Left counts items that have not reached a terminal phase.
	Left int
}

// Manager is the upload queue: it accepts batches of files, runs each through
// the pipeline on a bounded pool, persists every state change through the
// injected Store and feeds failures to the error log.
//
// All item mutation goes through the manager mutex and is projected to the
// store as a whole, so the persisted list is always a consistent snapshot.
type Manager struct {
	config   Config
	store    Store
	uploader FileUploader
	notifier IngestNotifier
	poller   StatusPoller
	errorLog *ErrorLog
	logger   log.Logger
	tracker  uploadTracker

	mu       sync.Mutex
	items    []*Item
	cancels  map[string]context.CancelFunc
	trayOpen bool

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewManager loads the persisted queue from the store and prepares it for
// resumption. A rehydrated item still marked uploading is reclassified to
// processing with its counters reset: the byte transfer cannot be resumed,
// but the object may already be complete server-side, and polling will tell.
func NewManager(
	config Config,
	store Store,
	uploader FileUploader,
	notifier IngestNotifier,
	poller StatusPoller,
	envRepo env.Repository,
	logger log.Logger,
) (*Manager, error) {
	if config.FileConcurrency < 1 {
		config.FileConcurrency = DefaultFileConcurrency
	}

	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load persisted upload state: %w", err)
	}

	reclassified := false
	items := make([]*Item, 0, len(state.Items))
	for i := range state.Items {
		item := state.Items[i]
		if item.Phase == PhaseUploading {
			item.Phase = PhaseProcessing
			item.Sent = 0
			item.Total = 0
			reclassified = true
		}
		items = append(items, &item)
	}

	m := &Manager{
		config:   config,
		store:    store,
		uploader: uploader,
		notifier: notifier,
		poller:   poller,
		errorLog: NewErrorLog(),
		logger:   logger,
		tracker:  newUploadTracker(envRepo, logger),
		items:    items,
		cancels:  map[string]context.CancelFunc{},
		trayOpen: state.TrayOpen,
		slots:    make(chan struct{}, config.FileConcurrency),
	}

	if reclassified {
		m.mu.Lock()
		m.persistLocked()
		m.mu.Unlock()
	}

	return m, nil
}

// Enqueue creates one tracked item per file, opens the tray and schedules the
// per-file pipelines. Items exist and are persisted before Enqueue returns;
// the transfers run in the background. Returns the new item IDs in path order.
func (m *Manager) Enqueue(ctx context.Context, sourceID string, paths []string) ([]string, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("source ID is empty")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to enqueue")
	}

	sizes := make([]int64, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		sizes = append(sizes, info.Size())
	}

	type job struct {
		id   string
		path string
	}
	jobs := make([]job, 0, len(paths))
	ids := make([]string, 0, len(paths))

	m.mu.Lock()
	for i, path := range paths {
		item := &Item{
			ID:       uuid.NewString(),
			SourceID: sourceID,
			Filename: filepath.Base(path),
			Phase:    PhaseUploading,
			Sent:     0,
			Total:    sizes[i],
		}
		m.items = append(m.items, item)
		jobs = append(jobs, job{id: item.ID, path: path})
		ids = append(ids, item.ID)
		m.tracker.logFileEnqueued(sizes[i])
	}
	m.trayOpen = true
	m.persistLocked()
	m.mu.Unlock()

	for _, j := range jobs {
		path := j.path
		id := j.id
		m.startJob(ctx, id, func(jobCtx context.Context) {
			m.runPipeline(jobCtx, id, path)
		})
	}

	return ids, nil
}

// Resume restarts status tracking for every non-terminal rehydrated item.
// Ingestion is not re-sent: by the time a restart is survivable the decision
// to process was already recorded server-side, and polling reflects it.
func (m *Manager) Resume(ctx context.Context) {
	type pollJob struct {
		id       string
		sourceID string
	}
	var jobs []pollJob

	m.mu.Lock()
	for _, item := range m.items {
		if !item.Phase.Terminal() {
			jobs = append(jobs, pollJob{id: item.ID, sourceID: item.SourceID})
		}
	}
	m.mu.Unlock()

	for _, j := range jobs {
		id := j.id
		sourceID := j.sourceID
		m.startJob(ctx, id, func(jobCtx context.Context) {
			m.poll(jobCtx, id, sourceID)
		})
	}
}

// Remove cancels the item's pipeline and deletes it from the queue. The
// cancellation is cooperative: requests already in flight finish on their own,
// but no further state is written for the item. The error log is untouched.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	cancel := m.cancels[id]
	delete(m.cancels, id)
	for i, item := range m.items {
		if item.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	m.persistLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Items returns a snapshot of the queue in enqueue order.
func (m *Manager) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]Item, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, *item)
	}
	return items
}

// Summary derives per-phase counts from the current queue.
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Summary
	for _, item := range m.items {
		switch item.Phase {
		case PhaseUploading:
			s.Uploading++
		case PhaseQueued:
			s.Queued++
		case PhaseProcessing:
			s.Processing++
		case PhaseDone:
			s.Done++
		case PhaseError:
			s.Errored++
		}
	}
	s.Left = len(m.items) - s.Done - s.Errored
	return s
}

// Errors exposes the failure log.
func (m *Manager) Errors() *ErrorLog {
	return m.errorLog
}

// ShowTray ...
func (m *Manager) ShowTray() {
	m.setTray(true)
}

// HideTray ...
func (m *Manager) HideTray() {
	m.setTray(false)
}

// TrayOpen ...
func (m *Manager) TrayOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trayOpen
}

// Wait blocks until every scheduled pipeline has finished or been cancelled.
func (m *Manager) Wait() {
	m.wg.Wait()
	m.tracker.wait()
}

func (m *Manager) setTray(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trayOpen = open
	m.persistLocked()
}

// startJob schedules run on the shared file pool under a per-item cancel.
func (m *Manager) startJob(ctx context.Context, id string, run func(ctx context.Context)) {
	jobCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case m.slots <- struct{}{}:
		case <-jobCtx.Done():
			return
		}
		defer func() { <-m.slots }()

		run(jobCtx)
	}()
}

func (m *Manager) runPipeline(ctx context.Context, id, path string) {
	item, ok := m.snapshot(id)
	if !ok || ctx.Err() != nil {
		return
	}

	uploadStartTime := time.Now()
	result, err := m.uploader.UploadFile(ctx, network.UploadFileParams{
		SourceID: item.SourceID,
		FilePath: path,
		Filename: item.Filename,
		OnKey: func(key string) {
			m.update(id, func(it *Item) { it.Key = key })
		},
		OnProgress: func(sent, total int64) {
			m.update(id, func(it *Item) {
				if it.Phase == PhaseUploading {
					it.Sent = sent
					it.Total = total
				}
			})
		},
	})
	if err != nil {
		m.fail(id, fmt.Errorf("upload failed: %w", err))
		return
	}
	m.tracker.logFileUploaded(time.Since(uploadStartTime), result.Size)

	m.update(id, func(it *Item) {
		it.Phase = PhaseQueued
		it.Sent = result.Size
		it.Total = result.Size
	})

	err = m.notifier.EnqueueIngest(ctx, network.IngestParams{
		SourceID:     item.SourceID,
		Key:          result.Key,
		ContentType:  result.ContentType,
		OriginalName: item.Filename,
	})
	if err != nil {
		m.fail(id, err)
		return
	}

	// Counters switch to page units from here on.
	m.update(id, func(it *Item) {
		it.Phase = PhaseProcessing
		it.Sent = 0
		it.Total = 0
	})

	m.poll(ctx, id, item.SourceID)
}

func (m *Manager) poll(ctx context.Context, id, sourceID string) {
	processingStartTime := time.Now()
	final, err := m.poller.PollStatus(ctx, sourceID, func(status network.Status) {
		m.update(id, func(it *Item) { applyStatus(it, status) })
	})
	if err != nil {
		// PollStatus only returns an error on cancellation; the item, if it
		// still exists, keeps its last observed state.
		if !errors.Is(err, context.Canceled) {
			m.logger.Debugf("status tracking for %s stopped: %s", sourceID, err)
		}
		return
	}

	item, ok := m.snapshot(id)
	if !ok {
		return
	}

	switch final.Phase {
	case network.StatusDone:
		m.logger.Donef("%s processed", item.Filename)
		m.tracker.logFileProcessed(time.Since(processingStartTime), final.ProcessedPages)
	case network.StatusError:
		message := final.LastError
		if message == "" {
			message = "processing failed"
		}
		m.logger.Errorf("%s: %s", item.Filename, message)
		m.errorLog.Push(id, item.Filename, message)
	}
}

func applyStatus(item *Item, status network.Status) {
	switch status.Phase {
	case network.StatusQueued:
		// The backend reports queued until a worker picks the document up.
		// The item already advanced past queued when ingestion was
		// acknowledged; phases only move forward.
		item.Phase = PhaseProcessing
	case network.StatusProcessing:
		item.Phase = PhaseProcessing
		if status.TotalPages != nil {
			item.PageCount = status.TotalPages
			item.Sent = status.ProcessedPages
			item.Total = *status.TotalPages
		} else {
			item.Sent = 0
			item.Total = 0
		}
	case network.StatusDone:
		item.Phase = PhaseDone
		if status.TotalPages != nil {
			item.PageCount = status.TotalPages
			item.Sent = *status.TotalPages
			item.Total = *status.TotalPages
		}
	case network.StatusError:
		item.Phase = PhaseError
		item.Error = status.LastError
		if item.Error == "" {
			item.Error = "processing failed"
		}
	}
}

// update mutates one item under the lock and persists the whole list. Removed
// items are gone: a late progress tick or poll result must not resurrect them.
func (m *Manager) update(id string, mutate func(item *Item)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ID == id {
			mutate(item)
			m.persistLocked()
			return
		}
	}
}

func (m *Manager) fail(id string, err error) {
	var filename string
	found := false

	m.mu.Lock()
	for _, item := range m.items {
		if item.ID == id {
			item.Phase = PhaseError
			item.Error = err.Error()
			filename = item.Filename
			found = true
			m.persistLocked()
			break
		}
	}
	m.mu.Unlock()

	if !found {
		return
	}
	m.logger.Errorf("%s: %s", filename, err)
	m.errorLog.Push(id, filename, err.Error())
	m.tracker.logFileFailed()
}

func (m *Manager) snapshot(id string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ID == id {
			return *item, true
		}
	}
	return Item{}, false
}

// persistLocked projects the item list to the store. Persistence failures are
// logged but do not fail the pipeline: the queue keeps working, it just will
// not survive a restart.
func (m *Manager) persistLocked() {
	state := State{
		Items:    make([]Item, 0, len(m.items)),
		TrayOpen: m.trayOpen,
	}
	for _, item := range m.items {
		state.Items = append(state.Items, *item)
	}
	if err := m.store.Save(state); err != nil {
		m.logger.Warnf("persist upload state: %s", err)
	}
}
