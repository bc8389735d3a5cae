package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
)

// Client speaks the request/response fallback protocol: one multipart POST
// per recording (/analyze) or per chunk (/analyze-stream).
type Client struct {
	http     *TracedClient
	endpoint string
}

func NewClient(endpoint string) *Client {
	return &Client{
		http:     NewTracedClient(),
		endpoint: strings.TrimSuffix(endpoint, "/"),
	}
}

// Warm pre-establishes the connection so the first chunk upload is fast.
func (c *Client) Warm() {
	c.http.Warm(c.endpoint + "/analyze")
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (c *Client) postAudio(ctx context.Context, path, field, filename string, audio []byte) (*TracedResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("analyzer rate limited (%s)", path)
	}
	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		if json.Unmarshal(resp.Body, &er) == nil && er.Detail != "" {
			return nil, fmt.Errorf("analyzer error %d: %s", resp.StatusCode, er.Detail)
		}
		return nil, fmt.Errorf("analyzer error %d: %s", resp.StatusCode, string(resp.Body))
	}
	return resp, nil
}

// Analyze submits a complete recording to /analyze.
func (c *Client) Analyze(ctx context.Context, audio []byte, filename string) (*Report, error) {
	resp, err := c.postAudio(ctx, "/analyze", "file", filename, audio)
	if err != nil {
		return nil, err
	}

	var report Report
	if err := json.Unmarshal(resp.Body, &report); err != nil {
		return nil, fmt.Errorf("analyze response parse error: %w", err)
	}
	report.Metrics = resp.Metrics
	return &report, nil
}

// AnalyzeChunk submits one segment to /analyze-stream.
func (c *Client) AnalyzeChunk(ctx context.Context, chunk []byte) (*Fragment, error) {
	resp, err := c.postAudio(ctx, "/analyze-stream", "audio_chunk", "chunk.wav", chunk)
	if err != nil {
		return nil, err
	}

	var f Fragment
	if err := json.Unmarshal(resp.Body, &f); err != nil {
		return nil, fmt.Errorf("analyze-stream response parse error: %w", err)
	}
	return &f, nil
}
