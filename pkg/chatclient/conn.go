package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var ErrClosed = errors.New("connection closed")

// AckError is a failed ack reply.
type AckError struct {
	Event   string `json:"event"`
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *AckError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Event, e.Message, e.Code)
}

type frame struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// Conn is a gateway connection. Handlers run on the read goroutine in frame order.
type Conn struct {
	ws  *websocket.Conn
	log *zap.Logger

	writeMu sync.Mutex
	nextAck atomic.Uint64

	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	pending  map[string]chan frame

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects to endpoint with token passed as ?token=.
func Dial(ctx context.Context, endpoint, token string, log *zap.Logger) (*Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: unauthorized", endpoint)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Conn{
		ws:       ws,
		log:      log.With(zap.String("component", "chatclient")),
		handlers: make(map[string][]func(json.RawMessage)),
		pending:  make(map[string]chan frame),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// On registers fn for a server event.
func (c *Conn) On(event string, fn func(data json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

func (c *Conn) Emit(event string, data any) error {
	return c.write(event, "", data)
}

// EmitWithAck sends event and waits for its ack. A failure reply comes back as *AckError.
func (c *Conn) EmitWithAck(ctx context.Context, event string, data any) (json.RawMessage, error) {
	id := strconv.FormatUint(c.nextAck.Add(1), 10)
	ch := make(chan frame, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(event, id, data); err != nil {
		return nil, err
	}

	select {
	case f := <-ch:
		var failure AckError
		if err := json.Unmarshal(f.Data, &failure); err == nil && failure.Code != "" && failure.Message != "" {
			if failure.Event == "" {
				failure.Event = event
			}
			return nil, &failure
		}
		return f.Data, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) write(event, ack string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(frame{Event: event, Ack: ack, Data: raw})
}

func (c *Conn) readLoop() {
	defer c.shutdown(nil)
	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("read failed", zap.Error(err))
			}
			c.shutdown(err)
			return
		}

		if f.Event == "ack" {
			c.mu.Lock()
			ch, ok := c.pending[f.Ack]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- f:
				default:
				}
			}
			continue
		}

		c.mu.Lock()
		handlers := append([]func(json.RawMessage){}, c.handlers[f.Event]...)
		c.mu.Unlock()
		for _, h := range handlers {
			h(f.Data)
		}
	}
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err is the read error that ended the connection, nil after Close.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close sends a normal close frame and releases the socket.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown(nil)
	return c.ws.Close()
}
