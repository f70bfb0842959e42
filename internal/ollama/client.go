// Package ollama talks to the local Ollama server that runs a client's model.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// New returns a client for base, e.g. http://127.0.0.1:11434. Deadlines come
// from the caller's context.
func New(base string) *Client {
	return &Client{BaseURL: strings.TrimRight(base, "/"), httpClient: &http.Client{}}
}

// call sends in as JSON (or nothing when in is nil) and decodes a 200 reply
// into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Tags lists the locally installed models.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	var v struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/tags", nil, &v); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(v.Models))
	for _, m := range v.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// HasModel reports whether model is installed. A name without a tag matches
// its ":latest" variant.
func (c *Client) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := c.Tags(ctx)
	if err != nil {
		return false, err
	}
	want := model
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, m := range models {
		if m == model || m == want {
			return true, nil
		}
	}
	return false, nil
}

// Pull downloads model and blocks until Ollama reports success.
func (c *Client) Pull(ctx context.Context, model string) error {
	var out struct {
		Status string `json:"status"`
	}
	in := map[string]any{"model": model, "stream": false}
	if err := c.call(ctx, http.MethodPost, "/api/pull", in, &out); err != nil {
		return err
	}
	if out.Status != "success" {
		return fmt.Errorf("pull %s: status %q", model, out.Status)
	}
	return nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs a non-streaming completion and returns the response text.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	var out generateResponse
	if err := c.call(ctx, http.MethodPost, "/api/generate", generateRequest{Model: model, Prompt: prompt}, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("ollama %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("ollama %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
