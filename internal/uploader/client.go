package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// FileField is the multipart field the endpoint reads the upload from.
const FileField = "file"

const maxResponseBytes = 64 << 20

// Response is the JSON document returned by a successful upload.
type Response struct {
	RequestID string              `json:"request_id"`
	Message   string              `json:"message"`
	Averages  map[string]*float64 `json:"Averages"`
	Images    map[string]string   `json:"images"`
}

// Client posts dataset files to the analysis endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	token      string
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken sends the token in the Authorization header.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient validates the endpoint and builds a Client.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("endpoint must be an absolute http(s) URL: %q", endpoint)
	}

	c := &Client{
		endpoint:   u.String(),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("uploader")
	return c, nil
}

// UploadFile reads the file at path and uploads it. A missing path, a
// directory or an empty file yields ErrNoFile without touching the network.
func (c *Client) UploadFile(ctx context.Context, path string) (*Response, error) {
	if path == "" {
		return nil, ErrNoFile
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoFile, path)
		}
		return nil, err
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFile, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return c.Upload(ctx, filepath.Base(path), data)
}

// Upload sends data as the multipart field "file" and decodes the JSON reply.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (*Response, error) {
	if filename == "" || len(data) == 0 {
		return nil, ErrNoFile
	}

	body, contentType, err := buildMultipartBody(filename, data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("uploading dataset", zap.String("endpoint", c.endpoint), zap.String("filename", filename), zap.Int("bytes", len(data)))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Endpoint: c.endpoint, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newResponseError(resp.StatusCode, payload)
	}

	var out Response
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &DecodeError{StatusCode: resp.StatusCode, Err: err}
	}
	if out.Images == nil {
		return nil, &DecodeError{StatusCode: resp.StatusCode, Err: errors.New(`missing "images" field`)}
	}
	return &out, nil
}

func newResponseError(status int, payload []byte) *ResponseError {
	respErr := &ResponseError{StatusCode: status, Payload: payload}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(payload, &body) == nil {
		respErr.Message = body.Error
	}
	return respErr
}

func buildMultipartBody(filename string, data []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(FileField, filename)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write multipart payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
