// Package network talks to the portal's upload API: it opens and finalizes
// multipart upload sessions, asks for pre-signed part URLs, notifies ingestion
// and polls document processing status.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/famtree-io/go-uploadutils/upload/network/partuploader"
)

type createMultipartRequest struct {
	SourceID    string `json:"source_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

type createMultipartResponse struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	UploadID string `json:"upload_id"`
	PartSize int64  `json:"part_size"`
}

type signPartRequest struct {
	Key        string `json:"key"`
	UploadID   string `json:"upload_id"`
	PartNumber int    `json:"part_number"`
}

type signPartResponse struct {
	URL string `json:"url"`
}

// The storage layer's composition call is case-sensitive about these names.
type completedPart struct {
	ETag       string `json:"ETag"`
	PartNumber int    `json:"PartNumber"`
}

type completeMultipartRequest struct {
	Key      string          `json:"key"`
	UploadID string          `json:"upload_id"`
	Parts    []completedPart `json:"parts"`
}

type ingestRequest struct {
	SourceID     string `json:"source_id"`
	S3Key        string `json:"s3_key"`
	ContentType  string `json:"content_type"`
	OriginalName string `json:"original_name"`
}

type statusResponse struct {
	Phase          string `json:"phase"`
	ProcessedPages int64  `json:"processed_pages"`
	TotalPages     *int64 `json:"total_pages"`
	PreviewURL     string `json:"preview_url"`
	LastError      string `json:"last_error"`
}

// IngestParams identifies a stored object ready for processing as part of a source.
type IngestParams struct {
	SourceID     string
	Key          string
	ContentType  string
	OriginalName string
}

// Client is the upload API client.
type Client struct {
	httpClient   *retryablehttp.Client
	baseURL      string
	accessToken  string
	partUploader *partuploader.Uploader
	poll         PollConfig
	logger       log.Logger
}

// NewClientParams ...
type NewClientParams struct {
	APIBaseURL  string
	AccessToken string
	// HTTPClient is used for the JSON control plane. If nil, a retrying client is created.
	HTTPClient *retryablehttp.Client
	// PartConfig tunes part transfers. If nil, defaults apply (concurrency 4).
	PartConfig *partuploader.Config
	// Poll tunes the status polling backoff. If nil, defaults apply (1 s, x1.5, 5 s cap).
	Poll   *PollConfig
	Logger log.Logger
}

// NewClient ...
func NewClient(p NewClientParams) (*Client, error) {
	if p.APIBaseURL == "" {
		return nil, fmt.Errorf("API base URL is empty")
	}
	if p.AccessToken == "" {
		return nil, fmt.Errorf("API token is empty")
	}

	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = retryhttp.NewClient(p.Logger)
	}
	partConfig := partuploader.DefaultConfig()
	if p.PartConfig != nil {
		partConfig = *p.PartConfig
	}
	poll := DefaultPollConfig()
	if p.Poll != nil {
		poll = *p.Poll
	}

	return &Client{
		httpClient:   httpClient,
		baseURL:      strings.TrimSuffix(p.APIBaseURL, "/"),
		accessToken:  p.AccessToken,
		partUploader: partuploader.New(partConfig, p.Logger),
		poll:         poll,
		logger:       p.Logger,
	}, nil
}

func (c *Client) createMultipart(ctx context.Context, requestBody createMultipartRequest) (createMultipartResponse, error) {
	var response createMultipartResponse
	err := c.postJSON(ctx, "/uploads/multipart/create", requestBody, &response)
	if err != nil {
		return createMultipartResponse{}, err
	}
	return response, nil
}

func (c *Client) signPart(ctx context.Context, key, uploadID string, partNumber int) (string, error) {
	var response signPartResponse
	err := c.postJSON(ctx, "/uploads/multipart/sign-part", signPartRequest{
		Key:        key,
		UploadID:   uploadID,
		PartNumber: partNumber,
	}, &response)
	if err != nil {
		return "", err
	}
	if response.URL == "" {
		return "", fmt.Errorf("backend returned no URL for part %d", partNumber)
	}
	return response.URL, nil
}

func (c *Client) completeMultipart(ctx context.Context, key, uploadID string, results []partuploader.PartResult) error {
	parts := make([]completedPart, 0, len(results))
	for _, result := range results {
		parts = append(parts, completedPart{
			ETag:       result.ETag,
			PartNumber: result.Number,
		})
	}

	return c.postJSON(ctx, "/uploads/multipart/complete", completeMultipartRequest{
		Key:      key,
		UploadID: uploadID,
		Parts:    parts,
	}, nil)
}

// EnqueueIngest tells the backend that the object at Key is ready to be
// processed as part of the source. If this fails, the object stays in storage
// unprocessed; there is no compensating delete, so the failure is logged loudly
// on top of being returned.
func (c *Client) EnqueueIngest(ctx context.Context, params IngestParams) error {
	err := c.postJSON(ctx, "/uploads/ingest", ingestRequest{
		SourceID:     params.SourceID,
		S3Key:        params.Key,
		ContentType:  params.ContentType,
		OriginalName: params.OriginalName,
	}, nil)
	if err != nil {
		c.logger.Errorf("ingest notification for %s failed, object %s is stored but will not be processed: %s",
			params.SourceID, params.Key, err)
		return fmt.Errorf("enqueue ingest: %w", err)
	}
	return nil
}

func (c *Client) fetchStatus(ctx context.Context, sourceID string) (Status, error) {
	url := fmt.Sprintf("%s/uploads/status/%s", c.baseURL, sourceID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer c.closeBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		return Status{}, ErrStatusNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Status{}, unwrapError(resp)
	}

	var response statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return Status{}, err
	}

	return Status{
		Phase:          response.Phase,
		ProcessedPages: response.ProcessedPages,
		TotalPages:     response.TotalPages,
		PreviewURL:     response.PreviewURL,
		LastError:      response.LastError,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, requestBody interface{}, response interface{}) error {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return unwrapError(resp)
	}

	if response == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(response)
}

func (c *Client) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}
