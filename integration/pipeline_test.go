//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famtree-io/go-uploadutils/envconfig"
	"github.com/famtree-io/go-uploadutils/upload"
	"github.com/famtree-io/go-uploadutils/upload/network"
)

const partSize = 5 * 1024 * 1024

// portalBackend is a complete in-process stand-in for the upload API plus its
// storage layer: multipart sessions, signed part URLs, part storage, ingest
// and a status endpoint that walks queued, processing and done.
type portalBackend struct {
	t  *testing.T
	mu sync.Mutex

	server      *httptest.Server
	parts       map[string]map[int][]byte
	objects     map[string][]byte
	ingested    []string
	statusCalls map[string]int
}

func newPortalBackend(t *testing.T) *portalBackend {
	b := &portalBackend{
		t:           t,
		parts:       map[string]map[int][]byte{},
		objects:     map[string][]byte{},
		statusCalls: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/uploads/multipart/create", b.handleCreate)
	mux.HandleFunc("/uploads/multipart/sign-part", b.handleSignPart)
	mux.HandleFunc("/storage/", b.handleStorage)
	mux.HandleFunc("/uploads/multipart/complete", b.handleComplete)
	mux.HandleFunc("/uploads/ingest", b.handleIngest)
	mux.HandleFunc("/uploads/status/", b.handleStatus)

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *portalBackend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourceID string `json:"source_id"`
		Filename string `json:"filename"`
	}
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&body))

	key := "sources/" + body.SourceID + "/" + body.Filename
	b.mu.Lock()
	b.parts[key] = map[int][]byte{}
	b.mu.Unlock()

	writeJSON(b.t, w, map[string]interface{}{
		"bucket":    "portal-scans",
		"key":       key,
		"upload_id": "upload-" + body.Filename,
		"part_size": partSize,
	})
}

func (b *portalBackend) handleSignPart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key        string `json:"key"`
		PartNumber int    `json:"part_number"`
	}
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&body))

	writeJSON(b.t, w, map[string]interface{}{
		"url": fmt.Sprintf("%s/storage/%s?part=%d", b.server.URL, body.Key, body.PartNumber),
	})
}

func (b *portalBackend) handleStorage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Path[len("/storage/"):]
	var partNumber int
	_, err := fmt.Sscanf(r.URL.Query().Get("part"), "%d", &partNumber)
	require.NoError(b.t, err)

	data, err := io.ReadAll(r.Body)
	require.NoError(b.t, err)

	b.mu.Lock()
	b.parts[key][partNumber] = data
	b.mu.Unlock()

	w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, partNumber))
}

func (b *portalBackend) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key   string `json:"key"`
		Parts []struct {
			ETag       string `json:"ETag"`
			PartNumber int    `json:"PartNumber"`
		} `json:"parts"`
	}
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&body))

	b.mu.Lock()
	defer b.mu.Unlock()

	var object []byte
	previous := 0
	for _, part := range body.Parts {
		require.Equal(b.t, previous+1, part.PartNumber, "parts must arrive in ascending order")
		require.Equal(b.t, fmt.Sprintf("etag-%d", part.PartNumber), part.ETag)
		object = append(object, b.parts[body.Key][part.PartNumber]...)
		previous = part.PartNumber
	}
	b.objects[body.Key] = object
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

func (b *portalBackend) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourceID string `json:"source_id"`
		S3Key    string `json:"s3_key"`
	}
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&body))

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[body.S3Key]; !ok {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("unknown object"))
		return
	}
	b.ingested = append(b.ingested, body.S3Key)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

func (b *portalBackend) handleStatus(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Path[len("/uploads/status/"):]

	b.mu.Lock()
	b.statusCalls[sourceID]++
	call := b.statusCalls[sourceID]
	b.mu.Unlock()

	switch call {
	case 1:
		writeJSON(b.t, w, map[string]interface{}{"phase": "queued"})
	case 2:
		writeJSON(b.t, w, map[string]interface{}{"phase": "processing", "processed_pages": 2, "total_pages": 4})
	default:
		writeJSON(b.t, w, map[string]interface{}{"phase": "done", "processed_pages": 4, "total_pages": 4})
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

type envRepo map[string]string

func (r envRepo) Get(key string) string       { return r[key] }
func (r envRepo) Set(key, value string) error { r[key] = value; return nil }
func (r envRepo) Unset(key string) error      { delete(r, key); return nil }
func (r envRepo) List() []string              { return nil }

func TestPipelineEndToEnd(t *testing.T) {
	backend := newPortalBackend(t)
	logger := log.NewLogger()

	client, err := network.NewClient(network.NewClientParams{
		APIBaseURL:  backend.server.URL,
		AccessToken: "test-token",
		Poll:        &network.PollConfig{InitialDelay: 1, Multiplier: 1.5, MaxDelay: 5},
		Logger:      logger,
	})
	require.NoError(t, err)

	statePath := filepath.Join(t.TempDir(), "state.json")
	manager, err := upload.NewManager(
		upload.Config{},
		upload.NewFileStore(statePath),
		client,
		client,
		client,
		envRepo{},
		logger,
	)
	require.NoError(t, err)

	// One file spanning multiple parts, one that fits into a single part.
	dir := t.TempDir()
	big := filepath.Join(dir, "register.pdf")
	require.NoError(t, os.WriteFile(big, bytes.Repeat([]byte{0x42}, partSize+partSize/2), 0600))
	small := filepath.Join(dir, "census.pdf")
	require.NoError(t, os.WriteFile(small, []byte("census scan"), 0600))

	_, err = manager.Enqueue(context.Background(), "src-1", []string{big, small})
	require.NoError(t, err)

	manager.Wait()

	for _, item := range manager.Items() {
		assert.Equal(t, upload.PhaseDone, item.Phase, item.Filename)
		assert.Empty(t, item.Error)
	}
	assert.Empty(t, manager.Errors().Entries())

	// The storage layer reassembled the uploaded bytes in part order.
	bigBytes, err := os.ReadFile(big)
	require.NoError(t, err)
	assert.Equal(t, bigBytes, backend.objects["sources/src-1/register.pdf"])
	assert.Equal(t, []byte("census scan"), backend.objects["sources/src-1/census.pdf"])
	assert.ElementsMatch(t, []string{"sources/src-1/register.pdf", "sources/src-1/census.pdf"}, backend.ingested)

	// The persisted queue reflects the terminal state.
	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var state struct {
		Items []struct {
			Phase string `json:"phase"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(data, &state))
	require.Len(t, state.Items, 2)
	for _, item := range state.Items {
		assert.Equal(t, "done", item.Phase)
	}
}

func TestPipelineEndToEnd_ConfigFromEnv(t *testing.T) {
	type cfg struct {
		APIBaseURL  string           `env:"ARCHIVE_API_URL,required"`
		AccessToken envconfig.Secret `env:"ARCHIVE_ACCESS_TOKEN,required"`
		SourceID    string           `env:"SOURCE_ID,required"`
	}

	backend := newPortalBackend(t)

	var c cfg
	parser := envconfig.NewParser(envRepo{
		"ARCHIVE_API_URL":      backend.server.URL,
		"ARCHIVE_ACCESS_TOKEN": "test-token",
		"SOURCE_ID":            "src-9",
	})
	require.NoError(t, parser.Parse(&c))

	client, err := network.NewClient(network.NewClientParams{
		APIBaseURL:  c.APIBaseURL,
		AccessToken: string(c.AccessToken),
		Poll:        &network.PollConfig{InitialDelay: 1, Multiplier: 1.5, MaxDelay: 5},
		Logger:      log.NewLogger(),
	})
	require.NoError(t, err)

	dir := t.TempDir()
	scan := filepath.Join(dir, "parish.pdf")
	require.NoError(t, os.WriteFile(scan, []byte("parish register"), 0600))

	result, err := client.UploadFile(context.Background(), network.UploadFileParams{
		SourceID: c.SourceID,
		FilePath: scan,
		Filename: "parish.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "sources/src-9/parish.pdf", result.Key)
}
