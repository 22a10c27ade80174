// Package api implements the client for the remote redaction backend.
// It covers the four task endpoints (upload, status, results, download)
// plus the profiles listing, and owns nothing but the wire formats.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// ErrTaskNotFound returned by Status for unknown or expired tasks (backend 404).
// Callers treat it as terminal, unlike transient network failures.
var ErrTaskNotFound = errors.New("task not found")

// task status values reported by the backend. Status passes the raw string
// through, these are just the ones with special handling on the client side.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Client talks to the redaction backend. Zero value is not usable, make it with New.
// The underlying http.Client has no timeout on purpose: a hung status request
// delays a single task's next tick and nothing else, and cutting it short
// would turn a slow backend into a stream of spurious transient errors.
type Client struct {
	baseURL string
	client  *http.Client
}

// File is a single document to submit for redaction
type File struct {
	Name   string
	Reader io.Reader
}

// Replacement is one sensitive-text substitution made by the backend
type Replacement struct {
	EntityType  string `json:"entity_type"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

// Report is the finalized output for one file of a completed task
type Report struct {
	OriginalText string        `json:"original_text"`
	ReducedText  string        `json:"reduced_text"`
	Replacements []Replacement `json:"replacements"`
}

// ReportEntry wraps a Report with the optional server-side file name.
// Report may be nil if the backend returned a malformed entry; the caller
// degrades that single unit instead of dropping the whole batch.
type ReportEntry struct {
	File   string  `json:"file"`
	Report *Report `json:"report"`
}

// New makes a client for the backend at baseURL, e.g. "http://localhost:8080"
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Upload submits one or more files with the given profile and returns the
// server-assigned task id. The backend error body is passed back verbatim.
func (c *Client) Upload(ctx context.Context, profileID string, files []File) (string, error) {
	body := &strings.Builder{}
	mw := multipart.NewWriter(body)
	if err := mw.WriteField("profile_id", profileID); err != nil {
		return "", fmt.Errorf("can't write profile_id field: %w", err)
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return "", fmt.Errorf("can't create form file for %s: %w", f.Name, err)
		}
		if _, err := io.Copy(fw, f.Reader); err != nil {
			return "", fmt.Errorf("can't copy %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("can't finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", strings.NewReader(body.String()))
	if err != nil {
		return "", fmt.Errorf("can't make upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close() // nolint

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("upload rejected: %s", readErrorBody(resp.Body))
	}

	var res struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("can't decode upload response: %w", err)
	}
	if res.TaskID == "" {
		return "", errors.New("upload response without task_id")
	}
	return res.TaskID, nil
}

// Status returns the raw status string for a task. 404 maps to ErrTaskNotFound,
// any other failure is transient from the caller's point of view.
func (c *Client) Status(ctx context.Context, taskID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+taskID, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("can't make status request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close() // nolint

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("status of %s: %w", taskID, ErrTaskNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status request returned %s", resp.Status)
	}

	var res struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("can't decode status response: %w", err)
	}
	return res.Status, nil
}

// Results fetches the ordered result batch for a completed task
func (c *Client) Results(ctx context.Context, taskID string) ([]ReportEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/results/"+taskID, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("can't make results request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("results request failed: %w", err)
	}
	defer resp.Body.Close() // nolint

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("results request for %s rejected: %s", taskID, readErrorBody(resp.Body))
	}

	var res struct {
		Reports []ReportEntry `json:"reports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("can't decode results response: %w", err)
	}
	return res.Reports, nil
}

// Download streams the server-built archive for the whole task batch to w.
// The body is copied as-is, never parsed.
func (c *Client) Download(ctx context.Context, taskID string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(taskID), http.NoBody)
	if err != nil {
		return fmt.Errorf("can't make download request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close() // nolint

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download for %s rejected: %s", taskID, readErrorBody(resp.Body))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download copy failed: %w", err)
	}
	return nil
}

// DownloadURL returns the direct archive location for a task, used for
// redirect-style downloads where the caller just navigates to the backend.
func (c *Client) DownloadURL(taskID string) string {
	return c.baseURL + "/download/" + taskID
}

// Profiles returns ids of configuration profiles available on the backend
func (c *Client) Profiles(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/profiles", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("can't make profiles request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profiles request failed: %w", err)
	}
	defer resp.Body.Close() // nolint

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profiles request returned %s", resp.Status)
	}

	var res []string
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("can't decode profiles response: %w", err)
	}
	return res, nil
}

// readErrorBody extracts the backend's error text, preferring the json detail
// field the backend uses, falling back to the raw body
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no error details"
	}
	var res struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &res); err == nil && res.Detail != "" {
		return res.Detail
	}
	return string(data)
}

// String describes the client destination, handy for startup logging
func (c *Client) String() string {
	return fmt.Sprintf("redaction backend at %s", c.baseURL)
}
