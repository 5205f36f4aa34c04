package relayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Stats возвращает статистику relay как есть.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/rudder/relay-ctl/stats", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status возвращает состояние relay. Статус fail (503) — не ошибка:
// отчёт возвращается вместе с нормальным результатом.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/rudder/relay-ctl/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, decodeError(resp)
	}
	var out json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Reload перечитывает реестр узлов relay и возвращает число узлов.
func (c *Client) Reload(ctx context.Context) (int, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/rudder/relay-ctl/reload", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Nodes int `json:"nodes"`
	}
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	return out.Nodes, nil
}

// RemoteRun — параметры запуска агента.
type RemoteRun struct {
	// Nodes — идентификаторы или hostname узлов; пустой и All == false — ошибка relay
	Nodes        []string
	All          bool
	Classes      []string
	KeepOutput   bool
	Asynchronous bool
}

// Execution — состояние запуска агента.
type Execution struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Nodes   []string `json:"nodes"`
	Classes []string `json:"classes,omitempty"`
	Error   string   `json:"error,omitempty"`
	Output  string   `json:"output,omitempty"`
}

// Run запускает агента на узлах.
func (c *Client) Run(ctx context.Context, run RemoteRun) (*Execution, error) {
	form := url.Values{}
	if len(run.Classes) > 0 {
		form.Set("classes", strings.Join(run.Classes, ","))
	}
	if run.KeepOutput {
		form.Set("keep_output", "true")
	}
	if run.Asynchronous {
		form.Set("asynchronous", "true")
	}

	path := "/rudder/relay-api/remote-run/"
	switch {
	case run.All:
		path += "all"
	case len(run.Nodes) == 1:
		path += "nodes/" + url.PathEscape(run.Nodes[0])
	default:
		path += "nodes"
		form.Set("nodes", strings.Join(run.Nodes, ","))
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	var out Execution
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execution возвращает запуск по идентификатору.
func (c *Client) Execution(ctx context.Context, id string) (*Execution, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/rudder/relay-api/remote-run/executions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out Execution
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
