package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/signals"
)

// RemoteClient implements Client by calling the daemon's HTTP API over a Unix socket.
type RemoteClient struct {
	httpClient *http.Client
	socketPath string
}

// NewRemoteClient creates a new RemoteClient connected to the daemon socket.
func NewRemoteClient(socketPath string) (*RemoteClient, error) {
	// Create HTTP client that dials Unix socket
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   15 * time.Second,
	}

	return &RemoteClient{
		httpClient: client,
		socketPath: socketPath,
	}, nil
}

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

// do sends a JSON request and decodes a JSON response into out. Coded error
// bodies come back as *errors.SyncError.
func (c *RemoteClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		var data []byte
		switch b := body.(type) {
		case []byte:
			data = b
		default:
			var err error
			if data, err = json.Marshal(body); err != nil {
				return fmt.Errorf("failed to encode request: %w", err)
			}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDaemonAbsent, "failed to reach daemon").
			WithDetail("socket", c.socketPath)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body codec.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return errors.New(errors.ErrCodeInternal, fmt.Sprintf("daemon returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data))))
	}
	return errors.New(errors.ErrorCode(body.Code), body.Message).WithDetail("status", resp.StatusCode)
}

func sessionPath(id string, parts ...string) string {
	path := "/api/sessions/" + url.PathEscape(id)
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

// ListSessions returns every live session.
func (c *RemoteClient) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var sessions []SessionInfo
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession starts a session on the daemon.
func (c *RemoteClient) CreateSession(ctx context.Context, id, name string) (*SessionInfo, error) {
	var info SessionInfo
	req := map[string]string{"id": id, "name": name}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CloseSession closes a session.
func (c *RemoteClient) CloseSession(ctx context.Context, id string, drop bool) error {
	path := sessionPath(id)
	if drop {
		path += "?drop=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetTree returns a snapshot of the session's state tree.
func (c *RemoteClient) GetTree(ctx context.Context, id string) (*TreeSnapshot, error) {
	var tree TreeSnapshot
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "tree"), nil, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// Apply runs ops atomically on the daemon.
func (c *RemoteClient) Apply(ctx context.Context, id string, ops []codec.Operation) ([]int, error) {
	var resp struct {
		Created []int `json:"created"`
	}
	req := map[string]interface{}{"ops": ops}
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "rpc"), req, &resp); err != nil {
		return nil, err
	}
	return resp.Created, nil
}

// Render evaluates template against the session's root node.
func (c *RemoteClient) Render(ctx context.Context, id, template string) (string, error) {
	var resp struct {
		HTML string `json:"html"`
	}
	req := map[string]string{"template": template}
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "render"), req, &resp); err != nil {
		return "", err
	}
	return resp.HTML, nil
}

// GetSignals describes the session's signal tree.
func (c *RemoteClient) GetSignals(ctx context.Context, id string) (*SignalState, error) {
	var state SignalState
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "signals"), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CommitSignal commits cmd on the daemon.
func (c *RemoteClient) CommitSignal(ctx context.Context, id string, cmd signals.Command) (*SignalResult, error) {
	data, err := signals.MarshalCommand(cmd)
	if err != nil {
		return nil, err
	}
	var result SignalResult
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "signals"), data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetConfig returns the daemon's running configuration.
func (c *RemoteClient) GetConfig(ctx context.Context) (*RunningConfig, error) {
	var cfg RunningConfig
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsRunning returns true if the daemon is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// StreamState subscribes to real-time state updates via Server-Sent Events (SSE).
// Returns a channel that receives updates. The channel is closed when the context is cancelled
// or the connection is lost.
func (c *RemoteClient) StreamState(ctx context.Context, sessionID string) (<-chan StateUpdate, error) {
	path := "/api/stream"
	if sessionID != "" {
		path += "?session=" + url.QueryEscape(sessionID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}

	// Use a separate client with no timeout for streaming
	streamTransport := &http.Transport{
		DialContext: func(dialCtx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(dialCtx, "unix", c.socketPath)
		},
	}
	streamClient := &http.Client{Transport: streamTransport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDaemonAbsent, "failed to connect to stream")
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	ch := make(chan StateUpdate, 10)

	go func() {
		defer resp.Body.Close()
		defer close(ch)
		defer streamTransport.CloseIdleConnections()

		scanner := bufio.NewScanner(resp.Body)
		// Sync batches of large trees exceed the default 64KB line limit
		buf := make([]byte, 0, 1024*1024)
		scanner.Buffer(buf, 10*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()

			// Skip comments and empty lines
			if strings.HasPrefix(line, ":") || line == "" {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var update StateUpdate
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &update); err != nil {
				continue // Skip malformed data
			}

			select {
			case ch <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ensure RemoteClient implements Client interface.
var _ Client = (*RemoteClient)(nil)
