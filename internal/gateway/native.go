package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Native performs requests with net/http.
type Native struct {
	client  *http.Client
	timeout time.Duration
}

// NativeOption customizes a Native gateway.
type NativeOption func(*Native)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) NativeOption {
	return func(n *Native) {
		if client != nil {
			n.client = client
		}
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(timeout time.Duration) NativeOption {
	return func(n *Native) {
		if timeout > 0 {
			n.timeout = timeout
		}
	}
}

// NewNative constructs the net/http gateway.
func NewNative(opts ...NativeOption) *Native {
	n := &Native{client: &http.Client{}, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Native) Do(ctx context.Context, req Request) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout(req.Timeout, n.timeout))
	defer cancel()

	body, contentType, err := n.encodeBody(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, method(req.Method), req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: new request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway: %s %s: %w", httpReq.Method, req.URL, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(payload)}
	}
	return decodeBody(payload)
}

func (n *Native) DownloadTo(ctx context.Context, url, dest string, headers map[string]string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout(timeout, n.timeout))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("gateway: new request: %w", err)
	}
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}
	resp, err := n.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gateway: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(payload)}
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("gateway: create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return fmt.Errorf("gateway: write %s: %w", dest, err)
	}
	return out.Close()
}

func (n *Native) encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case req.JSON != nil:
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("gateway: encode json: %w", err)
		}
		return bytes.NewReader(encoded), "application/json", nil
	case req.Body != nil:
		return bytes.NewReader(req.Body), "", nil
	case len(req.Multipart) > 0:
		return streamMultipart(req.Multipart)
	default:
		return nil, "", nil
	}
}

// streamMultipart returns a reader that encodes parts while the request is
// being sent, so large files are never buffered in memory.
func streamMultipart(parts []Part) (io.Reader, string, error) {
	for _, part := range parts {
		if _, err := os.Stat(part.Path); err != nil {
			return nil, "", fmt.Errorf("gateway: multipart file %s: %w", part.Path, err)
		}
	}
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeParts(writer, parts)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()
	return pr, writer.FormDataContentType(), nil
}

func writeParts(writer *multipart.Writer, parts []Part) error {
	for _, part := range parts {
		name := part.FileName
		if name == "" {
			name = filepath.Base(part.Path)
		}
		dst, err := writer.CreateFormFile(part.Field, name)
		if err != nil {
			return err
		}
		src, err := os.Open(part.Path)
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
