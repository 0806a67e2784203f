// Package proxyclient is a small, typed client for the per-Pod proxy admin
// API the REST Dispatcher talks to. It reimplements, by hand, the surface
// the original's generated l7mp_client.DefaultApi SDK exposed - one method
// per admin-API verb, explicit request/response structs - since that SDK
// is out of scope for this module.
package proxyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultPort = 1234

// Client talks to one Pod's proxy admin API over plain HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a Client addressing podIP's admin API. podIP must be
// non-empty; callers resolve the "no podIP yet" case as a transient error
// before constructing a Client.
func New(podIP string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    fmt.Sprintf("http://%s:%d", podIP, defaultPort),
	}
}

// NewWithClient builds a Client against an explicit http.Client and base
// URL, bypassing the podIP:1234 convention New assumes. Used by tests that
// substitute an httptest.Server in place of a live Pod's admin API, and by
// cmd/l7mp-operator to address the configured admin API port.
func NewWithClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// APIError is the decoded body of a non-2xx admin API response. Content is
// the free-text message the REST Dispatcher pattern-matches against for
// idempotent-success classification.
type APIError struct {
	Status  int
	Content string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("proxy admin api: status %d: %s", e.Status, e.Content)
}

type apiErrorBody struct {
	Content string `json:"content"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("proxyclient: encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("proxyclient: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(resp.Body)
	var decoded apiErrorBody
	_ = json.Unmarshal(raw, &decoded)
	content := decoded.Content
	if content == "" {
		content = string(raw)
	}
	return &APIError{Status: resp.StatusCode, Content: content}
}

// Listener is the request body for AddListener, mirroring
// l7mp_client.IoL7mpApiV1Listener.
type Listener struct {
	Name  string                 `json:"name"`
	Spec  map[string]interface{} `json:"spec"`
	Rules map[string]interface{} `json:"rules,omitempty"`
}

func (c *Client) AddListener(ctx context.Context, l Listener) error {
	return c.do(ctx, http.MethodPost, "/api/v1/listeners", map[string]interface{}{"listener": l})
}

func (c *Client) DeleteListener(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/listeners/"+name+"?recursive=true", nil)
}

// Cluster is the request body for AddCluster/AddEndpoint: l7mp's admin API
// takes the whole cluster/endpoint body flattened at the top level (name,
// spec, endpoints, ...), mirroring the original's
// `cluster['name'] = tname; IoL7mpApiV1Cluster(**cluster)` construction
// rather than nesting the extra fields under a "spec" key.
type Cluster map[string]interface{}

func (c *Client) AddCluster(ctx context.Context, cl Cluster) error {
	return c.do(ctx, http.MethodPost, "/api/v1/clusters", map[string]interface{}{"cluster": cl})
}

func (c *Client) DeleteCluster(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/clusters/"+name+"?recursive=true", nil)
}

func (c *Client) AddEndpoint(ctx context.Context, clusterName string, ep Cluster) error {
	path := fmt.Sprintf("/api/v1/clusters/%s/endpoints", clusterName)
	return c.do(ctx, http.MethodPost, path, map[string]interface{}{"endpoint": ep})
}

func (c *Client) DeleteEndpoint(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/endpoints/"+name, nil)
}

// Rule is the request body for AddRuleToRuleList, flattened the same way
// Cluster is.
type Rule map[string]interface{}

func (c *Client) AddRuleToRuleList(ctx context.Context, ruleList string, position int, rule Rule) error {
	path := fmt.Sprintf("/api/v1/rulelists/%s/rules?position=%d", ruleList, position)
	return c.do(ctx, http.MethodPost, path, map[string]interface{}{"rule": rule})
}

func (c *Client) DeleteRuleFromRuleList(ctx context.Context, ruleList, ruleName string) error {
	path := fmt.Sprintf("/api/v1/rulelists/%s/rules/%s?recursive=true", ruleList, ruleName)
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *Client) DeleteRule(ctx context.Context, ruleName string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/rules/"+ruleName, nil)
}
