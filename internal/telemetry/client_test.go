package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonblokz/moonprobe/internal/logbuf"
)

type captured struct {
	method  string
	path    string
	header  http.Header
	payload Payload
}

func newServer(t *testing.T, status int, response string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.header = r.Header.Clone()

		var body io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			body = zr
		}
		if err := json.NewDecoder(body).Decode(&got.payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestUploadSendsLogsAndHeaders(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `[{"command":"set_log_level","level":"INFO"}]`)
	c := NewClient(ClientOptions{ServerURL: srv.URL, NodeID: "node-7", APIKey: "secret"})

	entries := []logbuf.Entry{
		{Timestamp: "2026-01-01T00:00:00Z", Message: "[INFO] a"},
		{Timestamp: "2026-01-01T00:00:01Z", Message: "[INFO] b"},
	}
	resp, err := c.Upload(context.Background(), entries)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/update", got.path)
	assert.Equal(t, "node-7", got.header.Get(HeaderNodeID))
	assert.Equal(t, "secret", got.header.Get(HeaderAPIKey))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, resp.BatchID, got.header.Get(HeaderBatchID))
	_, err = uuid.Parse(resp.BatchID)
	assert.NoError(t, err)

	assert.Equal(t, entries, got.payload.Logs)
	assert.JSONEq(t, `[{"command":"set_log_level","level":"INFO"}]`, string(resp.Body))
}

func TestUploadEmptySendsEmptyArray(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		raw = string(b)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{ServerURL: srv.URL})
	_, err := c.Upload(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"logs":[]}`, raw)
}

func TestUploadCompressed(t *testing.T) {
	srv, got := newServer(t, http.StatusAccepted, ``)
	c := NewClient(ClientOptions{ServerURL: srv.URL, Compress: true})

	entries := []logbuf.Entry{{Timestamp: "2026-01-01T00:00:00Z", Message: "zipped"}}
	_, err := c.Upload(context.Background(), entries)
	require.NoError(t, err)

	assert.Equal(t, "gzip", got.header.Get("Content-Encoding"))
	assert.Equal(t, entries, got.payload.Logs)
}

func TestUploadNonSuccessStatus(t *testing.T) {
	srv, _ := newServer(t, http.StatusServiceUnavailable, "maintenance\n")
	c := NewClient(ClientOptions{ServerURL: srv.URL})

	_, err := c.Upload(context.Background(), []logbuf.Entry{{Message: "x"}})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "maintenance", se.Body)
	assert.EqualError(t, err, "telemetry server returned 503: maintenance")
}

func TestUploadUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(ClientOptions{ServerURL: url})
	_, err := c.Upload(context.Background(), nil)
	assert.Error(t, err)
}

func TestUploadNewBatchIDPerCall(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `[]`)
	c := NewClient(ClientOptions{ServerURL: srv.URL})

	first, err := c.Upload(context.Background(), nil)
	require.NoError(t, err)
	second, err := c.Upload(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.BatchID, second.BatchID)
}
