// Package genapi talks to the remote image-to-3D generation service.
package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
)

const (
	DefaultBaseURL         = "http://localhost:8000"
	DefaultSubmitTimeout   = 30 * time.Second
	DefaultStatusTimeout   = 10 * time.Second
	DefaultDownloadTimeout = 60 * time.Second
	// DefaultMaxDownloadBytes caps a single model file.
	DefaultMaxDownloadBytes = 512 << 20

	maxResponseBytes = 1 << 20
)

// Options configures the generation API client.
type Options struct {
	BaseURL         string
	HTTPClient      *http.Client
	Logger          *infra.Logger
	SubmitTimeout   time.Duration
	StatusTimeout   time.Duration
	DownloadTimeout time.Duration
	// MaxDownloadBytes caps Download bodies. Zero means DefaultMaxDownloadBytes.
	MaxDownloadBytes int64
}

// Client performs HTTP calls against the generation service.
type Client struct {
	mu      sync.RWMutex
	baseURL string

	httpClient      *http.Client
	logger          *infra.Logger
	submitTimeout   time.Duration
	statusTimeout   time.Duration
	downloadTimeout time.Duration
	maxDownload     int64
}

// SubmitRequest is one image submission.
type SubmitRequest struct {
	Filename string
	Image    []byte
	Name     string
	Settings *domain.Settings
}

type submitResponse struct {
	JobIDSnake string `json:"job_id"`
	JobIDCamel string `json:"jobId"`
}

type statusResponse struct {
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	Progress    float64           `json:"progress"`
	CreatedAt   *time.Time        `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at"`
	Downloads   map[string]string `json:"downloads"`
	Thumbnail   string            `json:"thumbnail"`
}

type errorResponse struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// NewClient constructs a client with defaults for unset options.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxDownload := opts.MaxDownloadBytes
	if maxDownload <= 0 {
		maxDownload = DefaultMaxDownloadBytes
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:         baseURL,
		httpClient:      httpClient,
		logger:          infra.OrDiscard(opts.Logger),
		submitTimeout:   orDefault(opts.SubmitTimeout, DefaultSubmitTimeout),
		statusTimeout:   orDefault(opts.StatusTimeout, DefaultStatusTimeout),
		downloadTimeout: orDefault(opts.DownloadTimeout, DefaultDownloadTimeout),
		maxDownload:     maxDownload,
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// BaseURL returns the current service root.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL points later calls at a different service root.
func (c *Client) SetBaseURL(raw string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(strings.TrimSpace(raw), "/")
	c.mu.Unlock()
}

// SubmitJob uploads an image and returns the id assigned by the service.
func (c *Client) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	if len(req.Image) == 0 {
		return "", &domain.TransportError{Op: "submit", Message: "image is required"}
	}
	body, contentType, err := encodeSubmission(req)
	if err != nil {
		return "", &domain.TransportError{Op: "submit", Message: "encode request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL()+"/generate", body)
	if err != nil {
		return "", &domain.TransportError{Op: "submit", Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)

	raw, err := c.do(httpReq, "submit", "", maxResponseBytes)
	if err != nil {
		return "", err
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &domain.TransportError{Op: "submit", Message: "decode response", Err: err}
	}
	id := strings.TrimSpace(decoded.JobIDSnake)
	if id == "" {
		id = strings.TrimSpace(decoded.JobIDCamel)
	}
	if id == "" {
		return "", &domain.TransportError{Op: "submit", Message: "response carried no job id"}
	}
	c.logger.Debug().Str("job_id", id).Msg("genapi: job submitted")
	return id, nil
}

func encodeSubmission(req SubmitRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	filename := path.Base(strings.TrimSpace(req.Filename))
	if filename == "" || filename == "." || filename == "/" {
		filename = "image"
	}
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", err
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		if err := w.WriteField("name", name); err != nil {
			return nil, "", err
		}
	}
	if req.Settings != nil {
		settings, err := json.Marshal(req.Settings)
		if err != nil {
			return nil, "", err
		}
		if err := w.WriteField("settings", string(settings)); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// JobStatus fetches the current snapshot of a job. A missing status is
// reported as pending; fractional progress is rounded down.
func (c *Client) JobStatus(ctx context.Context, jobID string) (domain.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()
	endpoint := c.BaseURL() + "/jobs/" + url.PathEscape(jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Snapshot{}, &domain.TransportError{Op: "status", JobID: jobID, Message: "build request", Err: err}
	}

	raw, err := c.do(httpReq, "status", jobID, maxResponseBytes)
	if err != nil {
		return domain.Snapshot{}, err
	}
	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.Snapshot{}, &domain.TransportError{Op: "status", JobID: jobID, Message: "decode response", Err: err}
	}

	snap := domain.Snapshot{
		Status:      strings.TrimSpace(decoded.Status),
		Progress:    progressPercent(decoded.Progress),
		Name:        strings.TrimSpace(decoded.Name),
		CompletedAt: decoded.CompletedAt,
		Thumbnail:   decoded.Thumbnail,
	}
	if snap.Status == "" {
		snap.Status = string(domain.StatusPending)
	}
	if decoded.CreatedAt != nil {
		snap.CreatedAt = *decoded.CreatedAt
	}
	if len(decoded.Downloads) > 0 {
		downloads := domain.Downloads{}
		for key, link := range decoded.Downloads {
			if format, ok := domain.ParseFormat(key); ok && strings.TrimSpace(link) != "" {
				downloads[format] = c.resolve(link)
			}
		}
		snap.Downloads = downloads.Clone()
	}
	return snap, nil
}

// Download fetches an asset by URL. Relative URLs resolve against the base URL.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	target := c.resolve(rawURL)
	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme == "" {
		return nil, &domain.TransportError{Op: "download", Message: fmt.Sprintf("invalid url %q", rawURL), Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, &domain.TransportError{Op: "download", Message: "build request", Err: err}
	}
	return c.do(httpReq, "download", "", c.maxDownload)
}

func (c *Client) resolve(link string) string {
	link = strings.TrimSpace(link)
	parsed, err := url.Parse(link)
	if err != nil || parsed.IsAbs() {
		return link
	}
	base, err := url.Parse(c.BaseURL() + "/")
	if err != nil {
		return link
	}
	return base.ResolveReference(parsed).String()
}

// progressPercent floors a reported percentage after bounding it, so huge or
// non-finite values cannot overflow the int conversion.
func progressPercent(p float64) int {
	if math.IsNaN(p) {
		return 0
	}
	return int(math.Floor(math.Min(math.Max(p, 0), 100)))
}

// do sends req and reads at most limit bytes of the response body.
func (c *Client) do(req *http.Request, op, jobID string, limit int64) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: op, JobID: jobID, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &domain.TransportError{Op: op, JobID: jobID, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	if int64(len(raw)) > limit {
		return nil, &domain.TransportError{
			Op:         op,
			JobID:      jobID,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("response exceeds %d bytes", limit),
		}
	}
	if resp.StatusCode >= 300 {
		return nil, &domain.TransportError{
			Op:         op,
			JobID:      jobID,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.StatusCode),
		}
	}
	return raw, nil
}

func errorMessage(raw []byte, status int) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Message != "" {
			return detail.Message
		}
		if detail.Detail != "" {
			return detail.Detail
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 256 {
		return text
	}
	return http.StatusText(status)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var transport *domain.TransportError
	return errors.As(err, &transport) && transport.StatusCode == http.StatusNotFound
}
