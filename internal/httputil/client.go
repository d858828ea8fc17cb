// Package httputil holds the JSON helpers shared by the monitor API and its
// command-line client.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// HTTPClient abstracts request execution for testability. *http.Client
// satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// APIClient calls a JSON API rooted at BaseURL.
type APIClient struct {
	BaseURL string
	HTTP    HTTPClient
}

// NewAPIClient returns a client for baseURL. A nil hc uses http.DefaultClient.
func NewAPIClient(baseURL string, hc HTTPClient) *APIClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &APIClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

// GetJSON decodes the response of GET path into out. out may be nil.
func (c *APIClient) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// GetRaw returns the body of GET path undecoded.
func (c *APIClient) GetRaw(ctx context.Context, path string) ([]byte, error) {
	var raw rawBody
	err := c.do(ctx, http.MethodGet, path, nil, &raw)
	return raw, err
}

type rawBody []byte

// PostJSON posts in as JSON (nil for an empty body) and decodes the
// response into out. out may be nil.
func (c *APIClient) PostJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *APIClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb ErrorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
		if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: eb.Error}
	}
	switch v := out.(type) {
	case nil:
		return nil
	case *rawBody:
		*v, err = io.ReadAll(resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// MockHTTPClient records requests and replays queued responses. Once the
// queue is empty it answers 200 with an empty JSON object.
type MockHTTPClient struct {
	mu        sync.Mutex
	Requests  []*http.Request
	responses []mockResponse
}

type mockResponse struct {
	status int
	body   string
	err    error
}

func NewMockHTTPClient() *MockHTTPClient { return &MockHTTPClient{} }

// AddResponse queues a response.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{status: status, body: body})
	return m
}

// AddError queues a transport error.
func (m *MockHTTPClient) AddError(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)

	r := mockResponse{status: http.StatusOK, body: "{}"}
	if len(m.responses) > 0 {
		r, m.responses = m.responses[0], m.responses[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}
