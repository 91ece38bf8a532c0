package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aouyang1/framectl/api/models"
	"github.com/aouyang1/framectl/util"
	"github.com/google/uuid"
)

// StatusError is returned for any non-2xx response from the frame api.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: server returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: server returned status %d", e.Method, e.Path, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the frame api.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// UploadFile is a single file to send through the upload endpoint.
type UploadFile struct {
	Name        string
	ContentType string
	Data        io.Reader
}

type FrameClient struct {
	baseURL string
	client  *http.Client
}

// NewFrameClient builds a client for the frame api at baseURL. A zero timeout
// leaves requests unbounded apart from their context.
func NewFrameClient(baseURL string, timeout time.Duration) *FrameClient {
	return &FrameClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (fc *FrameClient) BaseURL() string {
	return fc.baseURL
}

// GetState fetches the full {current, queue, history, settings} snapshot.
func (fc *FrameClient) GetState(ctx context.Context) (*models.State, error) {
	var state models.State
	if err := fc.doJSON(ctx, http.MethodGet, "/api/state", nil, &state); err != nil {
		return nil, err
	}
	if state.Queue == nil {
		state.Queue = []models.Image{}
	}
	if state.History == nil {
		state.History = []models.Image{}
	}
	return &state, nil
}

// Upload sends files as multipart form field "files".
func (fc *FrameClient) Upload(ctx context.Context, files []UploadFile) (*models.UploadResponse, error) {
	if len(files) == 0 {
		return nil, errors.New("no files to upload")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(f.Name)))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create form part: %w", err)
		}
		if _, err := io.Copy(part, f.Data); err != nil {
			return nil, fmt.Errorf("failed to copy %s into form: %w", f.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := fc.newRequest(ctx, http.MethodPost, "/api/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp models.UploadResponse
	if err := fc.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadPaths opens each path and uploads them in a single request.
func (fc *FrameClient) UploadPaths(ctx context.Context, paths []string) (*models.UploadResponse, error) {
	files := make([]UploadFile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", p, err)
		}
		defer f.Close()
		files = append(files, UploadFile{
			Name:        filepath.Base(p),
			ContentType: util.ContentTypeForName(p),
			Data:        f,
		})
	}
	return fc.Upload(ctx, files)
}

func (fc *FrameClient) RemoveFromQueue(ctx context.Context, imageID string) error {
	return fc.doJSON(ctx, http.MethodDelete, "/api/queue/"+url.PathEscape(imageID), nil, nil)
}

func (fc *FrameClient) ReorderQueue(ctx context.Context, imageIDs []string) error {
	return fc.doJSON(ctx, http.MethodPost, "/api/queue/reorder", models.ReorderRequest{ImageIDs: imageIDs}, nil)
}

func (fc *FrameClient) InsertIntoQueue(ctx context.Context, imageID string, index int) error {
	return fc.doJSON(ctx, http.MethodPost, "/api/queue/insert", models.InsertRequest{ImageID: imageID, Index: index}, nil)
}

func (fc *FrameClient) InsertIntoHistory(ctx context.Context, imageID string, index int) error {
	return fc.doJSON(ctx, http.MethodPost, "/api/history/insert", models.InsertRequest{ImageID: imageID, Index: index}, nil)
}

// UpdateTransform persists an offset and returns the server's copy of the image.
func (fc *FrameClient) UpdateTransform(ctx context.Context, imageID string, offsetX, offsetY float64) (*models.Image, error) {
	var image models.Image
	path := "/api/images/" + url.PathEscape(imageID) + "/transform"
	if err := fc.doJSON(ctx, http.MethodPut, path, models.TransformRequest{OffsetX: offsetX, OffsetY: offsetY}, &image); err != nil {
		return nil, err
	}
	return &image, nil
}

func (fc *FrameClient) UpdateSettings(ctx context.Context, settings models.Settings) (*models.Settings, error) {
	var updated models.Settings
	if err := fc.doJSON(ctx, http.MethodPost, "/api/settings", settings, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (fc *FrameClient) AdvanceFrame(ctx context.Context) error {
	return fc.doJSON(ctx, http.MethodPost, "/api/frame/advance", nil, nil)
}

func (fc *FrameClient) CurrentFrame(ctx context.Context) (*models.FramePayload, error) {
	var payload models.FramePayload
	if err := fc.doJSON(ctx, http.MethodGet, "/api/frame/current", nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// FetchImage returns the raw image bytes and content type for an image id.
func (fc *FrameClient) FetchImage(ctx context.Context, imageID string) ([]byte, string, error) {
	req, err := fc.newRequest(ctx, http.MethodGet, "/api/images/"+url.PathEscape(imageID), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := fc.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", statusError(req, resp.StatusCode, body)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (fc *FrameClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := fc.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return fc.do(req, out)
}

func (fc *FrameClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, fc.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (fc *FrameClient) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := fc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	slog.Debug("frame api request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get("X-Request-ID"),
		"elapsed", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(req, resp.StatusCode, body)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func statusError(req *http.Request, status int, body []byte) *StatusError {
	statusErr := &StatusError{
		Method:     req.Method,
		Path:       req.URL.Path,
		StatusCode: status,
	}

	var detailResp models.DetailResponse
	if err := json.Unmarshal(body, &detailResp); err == nil && detailResp.Detail != "" {
		statusErr.Detail = detailResp.Detail
		return statusErr
	}
	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		statusErr.Detail = errResp.Error
		return statusErr
	}
	statusErr.Detail = strings.TrimSpace(string(body))
	return statusErr
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
