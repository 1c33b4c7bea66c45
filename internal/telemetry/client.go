// Package telemetry uploads buffered node logs and hands the commands the
// server returns to the dispatcher.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/moonblokz/moonprobe/internal/logbuf"
)

const (
	// UploadPath is appended to the server URL.
	UploadPath = "/update"

	HeaderNodeID  = "X-Node-ID"
	HeaderAPIKey  = "X-Api-Key"
	HeaderBatchID = "X-Batch-ID"

	requestTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

// StatusError reports a non-2xx upload response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("telemetry server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("telemetry server returned %d: %s", e.StatusCode, e.Body)
}

// Payload is the upload request body.
type Payload struct {
	Logs []logbuf.Entry `json:"logs"`
}

// Response is a successful upload's outcome.
type Response struct {
	BatchID string
	// Body is the raw response, an array of commands when the server has
	// any.
	Body []byte
}

// ClientOptions configures a Client.
type ClientOptions struct {
	ServerURL string
	NodeID    string
	APIKey    string
	// Compress gzips request bodies.
	Compress   bool
	HTTPClient *http.Client
}

// Client posts log batches to the telemetry server.
type Client struct {
	url      string
	nodeID   string
	apiKey   string
	compress bool
	http     *http.Client
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		url:      opts.ServerURL + UploadPath,
		nodeID:   opts.NodeID,
		apiKey:   opts.APIKey,
		compress: opts.Compress,
		http:     hc,
	}
}

// Upload posts entries. An empty slice is still sent so the server can
// answer with commands.
func (c *Client) Upload(ctx context.Context, entries []logbuf.Entry) (*Response, error) {
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	body, err := json.Marshal(Payload{Logs: entries})
	if err != nil {
		return nil, fmt.Errorf("encoding upload: %w", err)
	}
	if c.compress {
		if body, err = gzipBytes(body); err != nil {
			return nil, fmt.Errorf("compressing upload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	batchID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderNodeID, c.nodeID)
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set(HeaderBatchID, batchID)
	if c.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting upload: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}
	if err != nil {
		// The logs were accepted; a broken body only loses commands.
		respBody = nil
	}
	return &Response{BatchID: batchID, Body: respBody}, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
