package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-kanban/domain"
)

// Fetcher loads full board snapshots.
type Fetcher interface {
	FetchBoard(ctx context.Context, projectID string) (domain.Board, error)
}

// StreamHandler receives stream callbacks. OnOpen runs once the server
// confirms the subscription, before any event.
type StreamHandler struct {
	OnOpen  func()
	OnEvent func(domain.Event)
}

// EventSource follows a project's event stream until ctx ends or the
// connection drops.
type EventSource interface {
	Stream(ctx context.Context, projectID string, h StreamHandler) error
}

// ErrStreamClosed is returned when the server ends a stream.
var ErrStreamClosed = errors.New("event stream closed by server")

// StatusError is a non-2xx response without an action result envelope.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

const maxEventSize = 1 << 20

// HTTPClient talks to the kanban API with a bearer token. It implements
// Fetcher, Mutator and EventSource.
type HTTPClient struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
	Logger  *log.Logger
}

func NewHTTPClient(baseURL, bearer string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{},
		Logger:  log.StandardLogger(),
	}
}

func (c *HTTPClient) projectPath(projectID string, parts ...string) string {
	p := c.BaseURL + "/projects/" + url.PathEscape(projectID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *HTTPClient) newRequest(ctx context.Context, method, target string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	return req, nil
}

// FetchBoard returns the project's current board.
func (c *HTTPClient) FetchBoard(ctx context.Context, projectID string) (domain.Board, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.projectPath(projectID, "board"), nil)
	if err != nil {
		return domain.Board{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return domain.Board{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Board{}, readStatusError(resp)
	}
	var board domain.Board
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&board); err != nil {
		return domain.Board{}, fmt.Errorf("decode board: %w", err)
	}
	return board, nil
}

type moveTaskPayload struct {
	ColumnID         string `json:"columnId"`
	Position         int    `json:"position"`
	ClientMutationID string `json:"clientMutationId,omitempty"`
}

type reorderColumnsPayload struct {
	ColumnIDs        []string `json:"columnIds"`
	ClientMutationID string   `json:"clientMutationId,omitempty"`
}

// MoveTask posts a task move. A rejected mutation comes back as a failed
// result with a nil error; err is set only when no envelope was received.
func (c *HTTPClient) MoveTask(ctx context.Context, projectID string, in MoveTaskInput) (domain.ActionResult[domain.TaskMovedEvent], error) {
	var res domain.ActionResult[domain.TaskMovedEvent]
	target := c.projectPath(projectID, "tasks", url.PathEscape(in.TaskID), "move")
	err := c.postAction(ctx, target, moveTaskPayload{
		ColumnID:         in.ColumnID,
		Position:         in.Position,
		ClientMutationID: in.ClientMutationID,
	}, in.ClientMutationID, &res)
	return res, err
}

// ReorderColumns posts a column reorder.
func (c *HTTPClient) ReorderColumns(ctx context.Context, projectID string, in ReorderColumnsInput) (domain.ActionResult[domain.ColumnsReorderedEvent], error) {
	var res domain.ActionResult[domain.ColumnsReorderedEvent]
	target := c.projectPath(projectID, "columns", "reorder")
	err := c.postAction(ctx, target, reorderColumnsPayload{
		ColumnIDs:        in.ColumnIDs,
		ClientMutationID: in.ClientMutationID,
	}, in.ClientMutationID, &res)
	return res, err
}

func (c *HTTPClient) postAction(ctx context.Context, target string, body any, idempotencyKey string, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, target, body)
	if err != nil {
		return err
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxEventSize))
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := sonic.Unmarshal(data, &body); err != nil || body.Error == "" {
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: body.Error}
}

// Stream reads the project's server-sent events. It returns ctx.Err() when
// ctx ends and ErrStreamClosed when the server hangs up.
func (c *HTTPClient) Stream(ctx context.Context, projectID string, h StreamHandler) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.projectPath(projectID, "stream"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readStatusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	var data strings.Builder
	opened := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				c.dispatch(projectID, data.String(), h)
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			if !opened && strings.TrimSpace(line[1:]) == "connected" {
				opened = true
				if h.OnOpen != nil {
					h.OnOpen()
				}
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ErrStreamClosed
}

func (c *HTTPClient) dispatch(projectID, payload string, h StreamHandler) {
	ev, err := domain.DecodeEvent([]byte(payload))
	if err != nil {
		c.logger().WithError(err).WithField("project", projectID).Warn("skipping undecodable board event")
		return
	}
	if h.OnEvent != nil {
		h.OnEvent(ev)
	}
}

func (c *HTTPClient) logger() *log.Logger {
	if c.Logger == nil {
		return log.StandardLogger()
	}
	return c.Logger
}
