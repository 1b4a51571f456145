// Package qa is the client side of the live meeting question channel.
package qa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"meetsync/internal/models"
	"meetsync/internal/normalize"
	"meetsync/internal/observability"
)

const (
	writeWait = 5 * time.Second
	closeWait = 2 * time.Second
)

// ErrClosed is returned when writing to a closed channel.
var ErrClosed = errors.New("qa: connection closed")

// Client is one connection to a meeting's Q&A socket.
type Client struct {
	conn   *websocket.Conn
	events chan models.QAEvent
	done   chan struct{}
	stop   chan struct{}
	log    *logrus.Entry

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
}

// Dial connects to rawURL. The token goes both in the Authorization header and the
// token query parameter, since browsers cannot set headers on websocket upgrades.
func Dial(ctx context.Context, rawURL, token string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("qa url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	header := http.Header{}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("qa dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("qa dial: %w", err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan models.QAEvent, 32),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		log:    observability.Component("qa"),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers decoded frames until the connection ends.
func (c *Client) Events() <-chan models.QAEvent { return c.events }

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Debug("qa read ended")
			}
			return
		}
		ev, err := normalize.QAEvent(data)
		if err != nil {
			c.log.WithError(err).Warn("qa frame dropped")
			continue
		}
		observability.IncQAEvent("client", ev.Type)
		select {
		case c.events <- ev:
		case <-c.stop:
			return
		}
	}
}

func (c *Client) send(frame models.QAFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

// Submit asks a question.
func (c *Client) Submit(content string) error {
	if content == "" {
		return errors.New("qa: empty question")
	}
	return c.send(models.QAFrame{Content: content})
}

// Upvote votes for question id.
func (c *Client) Upvote(id int) error {
	return c.send(models.QAFrame{Action: models.QAActionUpvote, QuestionID: id})
}

// Close sends a close frame and waits briefly for the server to acknowledge.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		c.writeMu.Lock()
		c.closed = true
		werr := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		if werr == nil {
			select {
			case <-c.done:
			case <-time.After(closeWait):
			}
		}
		err = c.conn.Close()
	})
	return err
}
