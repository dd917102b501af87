// Package backend is an HTTP client for the annotation storage service.
//
// Endpoints, relative to the base URL:
//
//	GET    /schema                          image name -> {id, annotations}
//	GET    /annotations/?annotation_id=ID   label -> points
//	POST   /annotations/                    {file_id, data} -> {id}
//	PUT    /annotations/                    {annotation_id, data}
//	DELETE /annotations/                    form annotation_id
//	POST   /images/                         multipart image, name -> {file_id}
//	GET    /images/?file_id=ID              raw image bytes
//	DELETE /images/                         form file_id
//	GET    /export_data                     zip archive
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/image-annotator/pkg/types"
)

// StatusError is returned when the backend answers with a non-2xx status
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: server returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the backend over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the backend at serverURL. A zero timeout
// keeps the default of 30 seconds.
func NewClient(serverURL string, timeout time.Duration) (*Client, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("backend URL is empty")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported backend URL scheme: %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the backend origin the client sends requests to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Schema lists every image together with its annotation set ids
func (c *Client) Schema(ctx context.Context) (types.Schema, error) {
	var schema types.Schema
	if err := c.getJSON(ctx, "/schema", &schema); err != nil {
		return nil, err
	}
	if schema == nil {
		schema = types.Schema{}
	}
	return schema, nil
}

// Annotations fetches one annotation set
func (c *Client) Annotations(ctx context.Context, annotationID string) (types.Annotations, error) {
	var a types.Annotations
	path := "/annotations/?annotation_id=" + url.QueryEscape(annotationID)
	if err := c.getJSON(ctx, path, &a); err != nil {
		return nil, err
	}
	if a == nil {
		a = types.Annotations{}
	}
	return a, nil
}

type updateRequest struct {
	AnnotationID string            `json:"annotation_id"`
	Data         types.Annotations `json:"data"`
}

// UpdateAnnotations replaces the content of an annotation set
func (c *Client) UpdateAnnotations(ctx context.Context, annotationID string, data types.Annotations) error {
	_, err := c.sendJSON(ctx, http.MethodPut, "/annotations/", updateRequest{AnnotationID: annotationID, Data: data})
	return err
}

type createRequest struct {
	FileID string            `json:"file_id"`
	Data   types.Annotations `json:"data,omitempty"`
}

type createResponse struct {
	ID string `json:"id"`
}

// CreateAnnotations attaches a new annotation set to an image and returns
// its id. A nil data creates an empty set.
func (c *Client) CreateAnnotations(ctx context.Context, fileID string, data types.Annotations) (string, error) {
	body, err := c.sendJSON(ctx, http.MethodPost, "/annotations/", createRequest{FileID: fileID, Data: data})
	if err != nil {
		return "", err
	}

	var resp createResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
	}
	if resp.ID == "" {
		return "", fmt.Errorf("creating an annotation set for %s returned no id", fileID)
	}
	return resp.ID, nil
}

// DeleteAnnotations removes an annotation set
func (c *Client) DeleteAnnotations(ctx context.Context, annotationID string) error {
	return c.deleteForm(ctx, "/annotations/", "annotation_id", annotationID)
}

type uploadResponse struct {
	FileID string `json:"file_id"`
}

// UploadImage stores an image under name and returns its file id
func (c *Client) UploadImage(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.WriteField("name", name); err != nil {
		return "", fmt.Errorf("failed to write form field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/images/", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}

	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.FileID == "" {
		return "", fmt.Errorf("upload of %s returned no file id", name)
	}
	return resp.FileID, nil
}

// Image downloads the raw bytes of an image
func (c *Client) Image(ctx context.Context, fileID string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/images/?file_id="+url.QueryEscape(fileID), "", nil)
}

// DeleteImage removes an image and its annotation sets
func (c *Client) DeleteImage(ctx context.Context, fileID string) error {
	return c.deleteForm(ctx, "/images/", "file_id", fileID)
}

// Export streams the backend's zip export into w
func (c *Client) Export(ctx context.Context, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, http.MethodGet, "/export_data", "", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read export: %w", err)
	}
	return n, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, method, path, "application/json", bytes.NewReader(data))
}

func (c *Client) deleteForm(ctx context.Context, path, field, value string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField(field, value); err != nil {
		return fmt.Errorf("failed to write form field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish form: %w", err)
	}
	_, err := c.do(ctx, http.MethodDelete, path, mw.FormDataContentType(), &buf)
	return err
}

// do sends a request and returns the whole response body
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// send performs the request; non-2xx answers are turned into *StatusError
func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	return resp, nil
}
