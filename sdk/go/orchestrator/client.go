package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Synchronous runs can take a while, so it is generous.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the orchestrator REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("orchestrator api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("orchestrator api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient parses rawURL and returns a client. A nil httpClient uses
// DefaultHTTPTimeout.
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

// SetAccessToken sets the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the stored token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// PostMessage runs a new request on the thread and waits for the outcome.
func (c *Client) PostMessage(ctx context.Context, threadID, message string) (*Outcome, error) {
	var out Outcome
	body := map[string]string{"message": message}
	if err := c.post(ctx, threadPath(threadID, "messages"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitMessage enqueues a run and returns the job. jobID may be empty; a
// non-empty value makes the submission idempotent.
func (c *Client) SubmitMessage(ctx context.Context, threadID, message, jobID string) (*Job, error) {
	var out Job
	body := map[string]string{"message": message, "job_id": jobID}
	if err := c.post(ctx, threadPath(threadID, "messages"), asyncQuery, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resume answers the pending checkpoint. decision may be empty, in which case
// the reply text is classified by the server.
func (c *Client) Resume(ctx context.Context, threadID, reply, decision string) (*Outcome, error) {
	var out Outcome
	body := map[string]string{"reply": reply, "decision": decision}
	if err := c.post(ctx, threadPath(threadID, "resume"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitResume enqueues a resume and returns the job.
func (c *Client) SubmitResume(ctx context.Context, threadID, reply, decision, jobID string) (*Job, error) {
	var out Job
	body := map[string]string{"reply": reply, "decision": decision, "job_id": jobID}
	if err := c.post(ctx, threadPath(threadID, "resume"), asyncQuery, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Thread fetches the thread state, including any pending checkpoint.
func (c *Client) Thread(ctx context.Context, threadID string) (*Thread, error) {
	var out Thread
	if err := c.get(ctx, threadPath(threadID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns up to limit recent turns of the thread.
func (c *Client) History(ctx context.Context, threadID string, limit int) ([]Turn, error) {
	var out struct {
		Turns []Turn `json:"turns"`
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if err := c.get(ctx, threadPath(threadID, "history"), q, &out); err != nil {
		return nil, err
	}
	return out.Turns, nil
}

// Job fetches a job by ID.
func (c *Client) Job(ctx context.Context, id string) (*Job, error) {
	var out Job
	if err := c.get(ctx, "/api/v1/jobs/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Jobs lists jobs matching the filter.
func (c *Client) Jobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, "/api/v1/jobs", filter.query(), &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// JobStats aggregates jobs matching the filter.
func (c *Client) JobStats(ctx context.Context, filter JobFilter) (*JobStats, error) {
	var out JobStats
	if err := c.get(ctx, "/api/v1/jobs/stats", filter.query(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForJob polls until the job is finished or ctx ends.
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var asyncQuery = url.Values{"async": []string{"true"}}

func threadPath(threadID, suffix string) string {
	p := "/api/v1/threads/" + threadID
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (f JobFilter) query() url.Values {
	q := url.Values{}
	if len(f.Statuses) > 0 {
		q.Set("status", strings.Join(f.Statuses, ","))
	}
	if f.ThreadID != "" {
		q.Set("thread", f.ThreadID)
	}
	if f.Kind != "" {
		q.Set("kind", f.Kind)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Asc {
		q.Set("order", "asc")
	}
	return q
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
