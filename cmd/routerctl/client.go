package main

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

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type clientOptions struct {
	baseURL string
	apiKey  string
	raw     bool
}

type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func newClient(opts *clientOptions) *client {
	return &client{
		base:   strings.TrimRight(opts.baseURL, "/") + "/api/v1",
		apiKey: opts.apiKey,
		http:   http.DefaultClient,
	}
}

// rawEvent is a stream event whose payload is decoded once its type is known.
type rawEvent struct {
	Type domain.EventType    `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

// do sends a JSON request and decodes a JSON response into out.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error *domain.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == nil {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return body.Error
}

// streamSSE reads the server-sent-events stream of a run, calling fn for
// every event until the terminal event or the end of the stream.
func (c *client) streamSSE(ctx context.Context, id string, fn func(rawEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/runs/"+url.PathEscape(id)+"/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev rawEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Type.IsTerminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream ended without a terminal event")
}

// streamWebSocket is streamSSE over the websocket endpoint.
func (c *client) streamWebSocket(ctx context.Context, id string, fn func(rawEvent) error) error {
	u, err := url.Parse(c.base + "/runs/" + url.PathEscape(id) + "/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	c.authorize(header)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return decodeAPIError(resp)
		}
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("stream ended without a terminal event")
			}
			return fmt.Errorf("read websocket: %w", err)
		}
		var ev rawEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Type.IsTerminal() {
			return nil
		}
	}
}
