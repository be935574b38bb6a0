// Package hostbridge is a Go client for the HostBridge HTTP adapter.
//
// Each argument passed to Call is JSON-encoded and sent as a text element of
// the positional argument array; a nil argument is sent as null and is seen by
// the server as absent.
package hostbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the HostBridge REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Operation describes one callable operation in the server manifest.
type Operation struct {
	Name      string   `json:"name"`
	Subsystem string   `json:"subsystem"`
	Version   string   `json:"version,omitempty"`
	Params    []string `json:"params"`
}

// CallError is returned when the server reports a failed invocation.
type CallError struct {
	StatusCode int
	RequestID  string
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("hostbridge call failed (%d): %s - %s", e.StatusCode, e.Code, e.Message)
}

type envelope struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *CallError      `json:"error"`
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Call invokes operation with the given positional arguments and decodes the
// result into out. out may be nil when the result is not needed.
func (c *Client) Call(ctx context.Context, operation string, out any, args ...any) error {
	body, err := encodeArgs(args)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/ops/"+url.PathEscape(operation), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &CallError{StatusCode: resp.StatusCode, Code: "INVALID_RESPONSE", Message: string(bytes.TrimSpace(data))}
	}
	if !env.OK {
		callErr := env.Error
		if callErr == nil {
			callErr = &CallError{Code: "UNKNOWN", Message: "server reported failure without details"}
		}
		callErr.StatusCode = resp.StatusCode
		callErr.RequestID = env.ID
		return callErr
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Operations fetches the server manifest.
func (c *Client) Operations(ctx context.Context) ([]Operation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/ops", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return nil, &CallError{StatusCode: resp.StatusCode, Code: "HTTP_ERROR", Message: string(bytes.TrimSpace(data))}
	}
	var ops []Operation
	if err := json.NewDecoder(resp.Body).Decode(&ops); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return ops, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func encodeArgs(args []any) ([]byte, error) {
	elems := make([]any, len(args))
	for i, arg := range args {
		if arg == nil {
			continue
		}
		payload, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		elems[i] = string(payload)
	}
	return json.Marshal(elems)
}
