// Package backend is the HTTP client for the signature verification service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultUploadTimeout = 15 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	// DefaultUploadField is the first field name the service looks for.
	DefaultUploadField = "signature"

	maxBodyBytes = 32 << 20
)

var ErrTimeout = errors.New("request timed out")

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("backend status %d", e.Code)
}

type Client struct {
	baseURL       string
	httpc         *http.Client
	uploadTimeout time.Duration
	healthTimeout time.Duration
	fields        []string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpc = h } }

func WithUploadTimeout(d time.Duration) Option { return func(c *Client) { c.uploadTimeout = d } }

func WithHealthTimeout(d time.Duration) Option { return func(c *Client) { c.healthTimeout = d } }

// WithUploadFields sets the multipart field names the image is attached under.
// Older deployments need "file", "image" and "signature" at once.
func WithUploadFields(fields ...string) Option {
	return func(c *Client) {
		if len(fields) > 0 {
			c.fields = append([]string(nil), fields...)
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpc:         &http.Client{Timeout: 60 * time.Second},
		uploadTimeout: DefaultUploadTimeout,
		healthTimeout: DefaultHealthTimeout,
		fields:        []string{DefaultUploadField},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// Health calls GET /api/health and returns the raw body.
func (c *Client) Health(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	body, _, err := c.get(ctx, "/api/health", nil, c.healthTimeout)
	return body, err
}

// UploadSignature posts the image and decodes the service envelope. A
// success=false body is returned as-is; transport and status failures are errors.
func (c *Client) UploadSignature(ctx context.Context, f File) (*UploadResponse, error) {
	payload, contentType, err := c.multipartBody(f)
	if err != nil {
		return nil, errors.Wrap(err, "build multipart body")
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload-signature", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	log.Printf("upload: name=%s type=%s size=%d fields=%v", f.Name, f.ContentType, len(f.Data), c.fields)
	body, _, err := c.do(req, c.uploadTimeout)
	if err != nil {
		return nil, err
	}
	var out UploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "upload: bad JSON")
	}
	return &out, nil
}

// Result fetches a stored analysis by its handle.
func (c *Client) Result(ctx context.Context, resultID string) (*ResultResponse, error) {
	body, _, err := c.get(ctx, "/api/result/"+url.PathEscape(resultID), nil, 0)
	if err != nil {
		return nil, err
	}
	var out ResultResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "result: bad JSON")
	}
	return &out, nil
}

// Export downloads an export body without interpreting it.
func (c *Client) Export(ctx context.Context, format Format, resultID string) (*Export, error) {
	q := url.Values{}
	q.Set("format", string(format))
	q.Set("result_id", resultID)
	body, ct, err := c.get(ctx, "/api/export", q, 0)
	if err != nil {
		return nil, err
	}
	return &Export{ContentType: ct, Body: body}, nil
}

func (c *Client) multipartBody(f File) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := f.Name
	if name == "" {
		name = "signature"
	}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	for _, field := range c.fields {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(field), escapeQuotes(name)))
		h.Set("Content-Type", ct)
		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := pw.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

func (c *Client) get(ctx context.Context, path string, q url.Values, limit time.Duration) ([]byte, string, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return c.do(req, limit)
}

// do runs the request and returns the body of a 2xx answer. limit is the
// timeout to report when the context deadline fires (0 = client default).
func (c *Client) do(req *http.Request, limit time.Duration) ([]byte, string, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, "", classify(req, err, limit)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", classify(req, err, limit)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &StatusError{Code: resp.StatusCode, Message: serverMessage(body)}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func classify(req *http.Request, err error, limit time.Duration) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		if limit > 0 {
			return errors.Wrapf(ErrTimeout, "%s %s: no response after %s", req.Method, req.URL.Path, limit)
		}
		return errors.Wrapf(ErrTimeout, "%s %s", req.Method, req.URL.Path)
	}
	return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
}

// serverMessage pulls "message" (or "error") out of a JSON error body.
func serverMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if m := strings.TrimSpace(env.Message); m != "" {
			return m
		}
		return strings.TrimSpace(env.Error)
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}
