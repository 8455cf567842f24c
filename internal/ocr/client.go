package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"ocr-accuracy-validator/internal/telemetry"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultMaxBytes = 10 * 1024 * 1024
)

// Client posts upload files to a document's OCR endpoint.
type Client struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewClient builds a client whose requests time out after timeout and whose
// responses are capped at maxBytes. Zero values fall back to 60s and 10MB.
func NewClient(timeout time.Duration, maxBytes int64) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

// Submit sends data as the multipart "file" field and decodes the JSON reply.
// Transport failures and non-2xx statuses are returned as errors.
func (c *Client) Submit(ctx context.Context, endpoint, filename string, data []byte) (any, error) {
	start := time.Now()
	out, err := c.submit(ctx, endpoint, filename, data)
	telemetry.OCRDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.OCRRequestErrors.Inc()
	}
	return out, err
}

func (c *Client) submit(ctx context.Context, endpoint, filename string, data []byte) (any, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", "application/octet-stream")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%d %s for url: %s", resp.StatusCode, http.StatusText(resp.StatusCode), endpoint)
	}
	if int64(len(raw)) > c.maxBytes {
		return nil, fmt.Errorf("response too large (>%d bytes)", c.maxBytes)
	}
	return DecodeResponse(raw)
}

// DecodeResponse parses an OCR JSON document, keeping numbers as json.Number.
func DecodeResponse(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode json: trailing data")
	}
	return v, nil
}
