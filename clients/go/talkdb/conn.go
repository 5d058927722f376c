package talkdb

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one server frame on a chat connection.
type Event struct {
	Type      string            `json:"type"`
	ChatID    string            `json:"chat_id,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Message   string            `json:"message,omitempty"`
	Code      string            `json:"code,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// Content returns the answer text of an ai_response event.
func (e Event) Content() string { return e.Data["content"] }

// ErrServer is returned by Ask when the server answers with an error event.
var ErrServer = errors.New("server error")

// Conn is a websocket connection to one chat.
type Conn struct {
	ws *websocket.Conn
}

// Connect opens the websocket of chatID. The token travels as a query
// parameter since browsers cannot set headers on websocket requests.
func (c *Client) Connect(ctx context.Context, chatID string) (*Conn, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat/" + chatID
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// Send sends a question.
func (c *Conn) Send(content string) error {
	return c.ws.WriteJSON(map[string]string{"content": content})
}

// Next reads the next event. A rejected or closed connection yields a
// *websocket.CloseError; see CloseCode.
func (c *Conn) Next(ctx context.Context) (Event, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = c.ws.SetReadDeadline(deadline)

	var ev Event
	err := c.ws.ReadJSON(&ev)
	return ev, err
}

// Ask sends content and reads events until the answer or an error event
// arrives. Intermediate events are passed to progress when non-nil.
func (c *Conn) Ask(ctx context.Context, content string, progress func(Event)) (Event, error) {
	if err := c.Send(content); err != nil {
		return Event{}, err
	}
	for {
		ev, err := c.Next(ctx)
		if err != nil {
			return Event{}, err
		}
		switch ev.Type {
		case "ai_response":
			return ev, nil
		case "error":
			return ev, ErrServer
		}
		if progress != nil {
			progress(ev)
		}
	}
}

// Close closes the connection with a normal closure frame.
func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// CloseCode extracts the close code from err, or 0.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
