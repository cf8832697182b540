package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"backend-racesync/internal/race"

	"github.com/gorilla/websocket"
)

// NewTransport picks the transport named in cfg, defaulting to SSE.
func NewTransport(cfg Config) Transport {
	if cfg.Transport == TransportWebSocket {
		return &WebSocketTransport{BaseURL: cfg.BaseURL}
	}
	return &SSETransport{BaseURL: cfg.BaseURL}
}

// SSETransport reads text/event-stream from GET {BaseURL}/api/v1/sse/routes/{raceID}.
type SSETransport struct {
	BaseURL string
	// Client must not set a Timeout; races stay open for as long as they run.
	Client *http.Client
}

func (t *SSETransport) Open(ctx context.Context, raceID string) (Stream, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	endpoint := strings.TrimRight(t.BaseURL, "/") + "/api/v1/sse/routes/" + url.PathEscape(raceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("sse %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	return &sseStream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

type sseStream struct {
	body io.Closer
	r    *bufio.Reader
}

// Next reads lines until a blank line completes an event. Comment lines (": ping") and
// fields other than event and data are skipped. A message without an event field is
// the server greeting.
func (s *sseStream) Next() (Frame, error) {
	var (
		event string
		data  []string
	)
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if event == "" && data == nil {
				continue
			}
			if event == "" {
				event = string(race.KindConnected)
			}
			return Frame{Event: event, Data: []byte(strings.Join(data, "\n"))}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

// WebSocketTransport reads JSON envelopes from {BaseURL}/stream/ws/{raceID}. An http(s)
// base URL is rewritten to ws(s).
type WebSocketTransport struct {
	BaseURL string
	Dialer  *websocket.Dialer
}

func (t *WebSocketTransport) Open(ctx context.Context, raceID string) (Stream, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	base := strings.TrimRight(t.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	}
	conn, resp, err := dialer.DialContext(ctx, base+"/stream/ws/"+url.PathEscape(raceID), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

// Next returns a frame with an empty event name when the message is not an envelope, so
// the caller can drop it as malformed.
func (s *wsStream) Next() (Frame, error) {
	for {
		kind, msg, err := s.conn.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		var env race.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			return Frame{}, nil
		}
		return Frame{Event: env.Event, Data: env.Data}, nil
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
