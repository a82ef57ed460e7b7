// Package api provides the HTTP client for the inklet document server.
//
// The client speaks a small REST surface:
//
//	GET    /documents?since=<RFC3339>   changed documents since timestamp
//	PUT    /documents/:id               upsert, carrying the client's sync version
//	DELETE /documents/:id               delete
//	GET    /folders?since=<RFC3339>     changed folders since timestamp
//	PUT    /folders/:id                 upsert
//	DELETE /folders/:id                 delete
//
// Failures fall into three classes the sync engine treats differently:
// version conflicts (ConflictError), non-retryable request errors
// (StatusError with a 4xx code), and transient errors (network
// failures and 5xx responses, reported by IsTransient).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ServerDocument is the server's record of a document, as returned by
// list responses and embedded in conflict responses.
type ServerDocument struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	FolderID    string    `json:"folder_id,omitempty"`
	SyncVersion int64     `json:"sync_version"`
	UpdatedAt   time.Time `json:"updated_at"`
	Deleted     bool      `json:"deleted,omitempty"`
}

// ServerFolder is the server's record of a folder.
type ServerFolder struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SyncVersion int64     `json:"sync_version"`
	UpdatedAt   time.Time `json:"updated_at"`
	Deleted     bool      `json:"deleted,omitempty"`
}

// PutDocumentRequest is the body of PUT /documents/:id.
type PutDocumentRequest struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	FolderID    string `json:"folder_id,omitempty"`
	SyncVersion int64  `json:"sync_version"`
	UpdatedAt   string `json:"updated_at"`
}

// PutFolderRequest is the body of PUT /folders/:id.
type PutFolderRequest struct {
	Name        string `json:"name"`
	SyncVersion int64  `json:"sync_version"`
	UpdatedAt   string `json:"updated_at"`
}

// PutResponse carries the server-assigned sync version after a
// successful upsert.
type PutResponse struct {
	SyncVersion int64     `json:"sync_version"`
	SyncedAt    time.Time `json:"synced_at"`
}

// ConflictError is returned when the server holds a strictly newer
// sync version than the one the client sent. The server's current
// snapshot rides along so the conflict can be surfaced without an
// extra round trip.
type ConflictError struct {
	Server ServerDocument
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync version conflict: server has version %d for %s",
		e.Server.SyncVersion, e.Server.ID)
}

// StatusError is a non-2xx response that is not a version conflict.
// Codes in the 4xx range are fatal (never retried); 5xx are transient.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// IsTransient reports whether err should be retried with backoff:
// network-level failures and 5xx responses. Conflicts and 4xx
// responses are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500
	}
	// Anything else is a transport-level failure.
	return true
}

// Client issues requests against the document server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client for the given base URL. The bearer token
// may be empty for servers that don't require authentication.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

// SetHTTPClient replaces the underlying HTTP client, mainly for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil

	case resp.StatusCode == http.StatusConflict:
		var server ServerDocument
		if err := json.Unmarshal(data, &server); err != nil {
			return &StatusError{Code: resp.StatusCode, Message: "conflict response without snapshot"}
		}
		return &ConflictError{Server: server}

	default:
		msg := decodeErrorMessage(data)
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
}

func decodeErrorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}

// ListDocumentsSince returns documents changed since the given time.
// A zero time returns everything.
func (c *Client) ListDocumentsSince(ctx context.Context, since time.Time) ([]ServerDocument, error) {
	path := "/documents"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}
	var out struct {
		Documents []ServerDocument `json:"documents"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// PutDocument upserts a document at the client's known sync version.
// On success the server returns the new version; on a version mismatch
// the error is a *ConflictError carrying the server snapshot.
func (c *Client) PutDocument(ctx context.Context, id string, req PutDocumentRequest) (*PutResponse, error) {
	var out PutResponse
	if err := c.do(ctx, http.MethodPut, "/documents/"+url.PathEscape(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument removes a document. A 404 is treated as success: the
// document is gone either way.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/documents/"+url.PathEscape(id), nil, nil)
	var status *StatusError
	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		return nil
	}
	return err
}

// ListFoldersSince returns folders changed since the given time.
func (c *Client) ListFoldersSince(ctx context.Context, since time.Time) ([]ServerFolder, error) {
	path := "/folders"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}
	var out struct {
		Folders []ServerFolder `json:"folders"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Folders, nil
}

// PutFolder upserts a folder at the client's known sync version.
func (c *Client) PutFolder(ctx context.Context, id string, req PutFolderRequest) (*PutResponse, error) {
	var out PutResponse
	if err := c.do(ctx, http.MethodPut, "/folders/"+url.PathEscape(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFolder removes a folder. A 404 is treated as success.
func (c *Client) DeleteFolder(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/folders/"+url.PathEscape(id), nil, nil)
	var status *StatusError
	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		return nil
	}
	return err
}
