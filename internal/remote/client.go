// Package remote is the HTTP client of the outpost backend. It implements
// controller.Backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"outpost.ai/internal/protocol"
)

type Config struct {
	// BaseURL is the backend root, e.g. http://127.0.0.1:8080.
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

type Client struct {
	base string
	http *http.Client
}

// StatusError is a non-2xx reply. Code and Message come from the backend
// error body when it carried one.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status=%d code=%s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("status=%d body=%s", e.Status, e.Message)
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("empty backend url")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{base: base, http: hc}, nil
}

func (c *Client) FetchScene(ctx context.Context, sceneID string) (protocol.Scene, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/scenes/"+url.PathEscape(sceneID), nil, &raw); err != nil {
		return protocol.Scene{}, fmt.Errorf("fetch scene %s: %w", sceneID, err)
	}
	s, err := protocol.DecodeScene(raw)
	if err != nil {
		return protocol.Scene{}, fmt.Errorf("fetch scene %s: %w", sceneID, err)
	}
	return s, nil
}

func (c *Client) UpdatePosition(ctx context.Context, agentID string, pos [2]float64) error {
	body := protocol.PositionUpdate{Position: []float64{pos[0], pos[1]}}
	if err := c.do(ctx, http.MethodPut, agentPath(agentID, "position"), body, nil); err != nil {
		return fmt.Errorf("update position %s: %w", agentID, err)
	}
	return nil
}

func (c *Client) MaintainEnergy(ctx context.Context, agentID string) (protocol.MaintainEnergyResult, error) {
	var wire struct {
		Scene      json.RawMessage `json:"scene"`
		Relocation json.RawMessage `json:"relocation"`
	}
	if err := c.do(ctx, http.MethodPost, agentPath(agentID, "maintain-energy"), struct{}{}, &wire); err != nil {
		return protocol.MaintainEnergyResult{}, fmt.Errorf("maintain energy %s: %w", agentID, err)
	}
	reloc, err := protocol.DecodeRelocation(wire.Relocation)
	if err != nil {
		return protocol.MaintainEnergyResult{}, fmt.Errorf("maintain energy %s: %w", agentID, err)
	}
	res := protocol.MaintainEnergyResult{Relocation: reloc}
	if len(wire.Scene) > 0 && string(wire.Scene) != "null" {
		s, err := protocol.DecodeScene(wire.Scene)
		if err != nil {
			return protocol.MaintainEnergyResult{}, fmt.Errorf("maintain energy %s: %w", agentID, err)
		}
		res.Scene = &s
	}
	return res, nil
}

func (c *Client) LogAction(ctx context.Context, agentID string, entry protocol.ActionLog) error {
	if err := c.do(ctx, http.MethodPost, agentPath(agentID, "actions"), entry, nil); err != nil {
		return fmt.Errorf("log action %s: %w", agentID, err)
	}
	return nil
}

// SendCommand asks the backend to broadcast a command to scene subscribers.
func (c *Client) SendCommand(ctx context.Context, ev protocol.CommandEvent) error {
	body := struct {
		Action string `json:"action"`
		Origin string `json:"origin,omitempty"`
	}{Action: ev.Action, Origin: ev.Origin}
	if err := c.do(ctx, http.MethodPost, agentPath(ev.AgentID, "commands"), body, nil); err != nil {
		return fmt.Errorf("send command %s: %w", ev.AgentID, err)
	}
	return nil
}

func agentPath(agentID, leaf string) string {
	return "/api/v1/agents/" + url.PathEscape(agentID) + "/" + leaf
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}
	req.Header.Set("accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		se := &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var eb protocol.ErrorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Code != "" {
			se.Code = eb.Code
			se.Message = eb.Message
		}
		return se
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
