// Package apiclient is a small typed client for the coordinator's /api routes.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kabir325/fogpool/internal/chat"
	"github.com/kabir325/fogpool/internal/engine"
	"github.com/kabir325/fogpool/internal/pool"
	"github.com/kabir325/fogpool/internal/rag"
)

// Error is a non-2xx reply from the server.
type Error struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// New returns a client for the server at base (e.g. http://localhost:8080).
func New(base, apiKey string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/") + "/api",
		apiKey: apiKey,
		http:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		e := &Error{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(e)
		return e
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Query(ctx context.Context, req engine.QueryRequest) (engine.QueryResult, error) {
	var res engine.QueryResult
	err := c.do(ctx, http.MethodPost, "/query", req, &res)
	return res, err
}

func (c *Client) Status(ctx context.Context) (engine.Stats, error) {
	var st engine.Stats
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

func (c *Client) Reassign(ctx context.Context, reason string) (pool.Summary, error) {
	var s pool.Summary
	var in any
	if reason != "" {
		in = map[string]string{"reason": reason}
	}
	err := c.do(ctx, http.MethodPost, "/reassign", in, &s)
	return s, err
}

func (c *Client) Clients(ctx context.Context) ([]pool.ClientRecord, error) {
	var out []pool.ClientRecord
	err := c.do(ctx, http.MethodGet, "/clients", nil, &out)
	return out, err
}

func (c *Client) DeleteClient(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/clients/"+url.PathEscape(id), nil, nil)
}

func (c *Client) AddDocument(ctx context.Context, title, content string, metadata map[string]string) (string, error) {
	var out struct {
		ID string `json:"doc_id"`
	}
	in := map[string]any{"title": title, "content": content}
	if len(metadata) > 0 {
		in["metadata"] = metadata
	}
	err := c.do(ctx, http.MethodPost, "/rag/documents", in, &out)
	return out.ID, err
}

func (c *Client) Documents(ctx context.Context) ([]rag.Document, error) {
	var out []rag.Document
	err := c.do(ctx, http.MethodGet, "/rag/documents", nil, &out)
	return out, err
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/rag/documents/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Search(ctx context.Context, q string, k int) ([]rag.Match, error) {
	v := url.Values{"q": {q}}
	if k > 0 {
		v.Set("k", strconv.Itoa(k))
	}
	var out []rag.Match
	err := c.do(ctx, http.MethodGet, "/rag/search?"+v.Encode(), nil, &out)
	return out, err
}

func (c *Client) Sessions(ctx context.Context, limit int) ([]chat.Summary, error) {
	path := "/chat/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []chat.Summary
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Session(ctx context.Context, id string) (chat.Session, error) {
	var s chat.Session
	err := c.do(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(id), nil, &s)
	return s, err
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/chat/sessions/"+url.PathEscape(id), nil, nil)
}
