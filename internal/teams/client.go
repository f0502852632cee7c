package teams

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ClientConfig configures the HTTP push-channel client.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	TimeoutMS int
}

// Client implements Service over the backend runtime's HTTP surface:
// REST for list/snapshot/refresh, server-sent events for live updates.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	// sseClient carries no timeout; the event stream is long-lived.
	sseClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
		sseClient:  &http.Client{},
	}
}

func (c *Client) List(ctx context.Context) ([]string, error) {
	var payload struct {
		Teams []struct {
			TeamName string `json:"team_name"`
		} `json:"teams"`
	}
	if err := c.getJSON(ctx, "/teams", &payload); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(payload.Teams))
	for _, t := range payload.Teams {
		if name := strings.TrimSpace(t.TeamName); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (c *Client) GetSnapshot(ctx context.Context, teamName string) (Snapshot, bool, error) {
	var snap Snapshot
	err := c.getJSON(ctx, "/teams/"+url.PathEscape(teamName), &snap)
	if err != nil {
		if isNotFound(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (c *Client) Refresh(ctx context.Context, teamName string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/teams/"+url.PathEscape(teamName)+"/refresh", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", teamName, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("refresh %s: http status %d", teamName, resp.StatusCode)
	}
	return nil
}

// OnSnapshot opens the SSE event stream and invokes fn for every snapshot
// delivery until the returned handle is disposed or ctx ends. The reader
// reconnects on transient stream failures.
func (c *Client) OnSnapshot(ctx context.Context, fn func(teamName string, snap Snapshot)) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)
	go c.watch(watchCtx, fn)

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

func (c *Client) watch(ctx context.Context, fn func(teamName string, snap Snapshot)) {
	for {
		_ = c.readEvents(ctx, fn)
		// Reconnect after a pause whether the stream failed or the server
		// closed it cleanly; an eager server must not cause a hot loop.
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *Client) readEvents(ctx context.Context, fn func(teamName string, snap Snapshot)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/teams/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.sseClient.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("event stream: http status %d", resp.StatusCode)
	}

	// SSE: each line begins with "data: {json}".
	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 8*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var delivery struct {
			TeamName string   `json:"team_name"`
			Snapshot Snapshot `json:"snapshot"`
		}
		if err := json.Unmarshal([]byte(payload), &delivery); err != nil {
			// Servers may interleave keep-alive lines; skip quietly.
			continue
		}
		if strings.TrimSpace(delivery.TeamName) == "" {
			continue
		}
		fn(delivery.TeamName, delivery.Snapshot)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event stream scan: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("get %s: http status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("teams base_url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("new request %s: %w", path, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

var errNotFound = errors.New("not found")

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}
