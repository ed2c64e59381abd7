package luna

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	MethodCall      = "call"
	MethodSubscribe = "subscribe"
	MethodCancel    = "cancel"
)

// Request is a message from client to the bus bridge
type Request struct {
	ID      uint32          `json:"id"`
	Method  string          `json:"method"`
	URI     string          `json:"uri,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AppID   string          `json:"appId,omitempty"`
}

// Reply is a message from the bus bridge. Subscription replies reuse the request ID.
type Reply struct {
	ID      uint32          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSClient talks to the bus through a WebSocket bridge, one JSON message per request or reply
type WSClient struct {
	conn  *websocket.Conn
	appID string

	mu       sync.Mutex
	wrmu     sync.Mutex
	seq      uint32
	calls    map[uint32]Handler
	subs     map[uint32]Handler
	closed   bool
	closedCh chan struct{}
}

func Dial(rawURL, appID string) (*WSClient, error) {
	header := http.Header{}
	if appID != "" {
		header.Set("X-Luna-App-Id", appID)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, _, err := dialer.Dial(rawURL, header)
	if err != nil {
		return nil, err
	}

	c := &WSClient{
		conn:     conn,
		appID:    appID,
		calls:    map[uint32]Handler{},
		subs:     map[uint32]Handler{},
		closedCh: make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

func (c *WSClient) Call(uri, payload string, handler Handler) error {
	id, err := c.register(handler, false)
	if err != nil {
		return err
	}

	if err = c.send(id, MethodCall, uri, payload); err != nil {
		c.mu.Lock()
		delete(c.calls, id)
		c.mu.Unlock()
		return err
	}

	return nil
}

func (c *WSClient) Subscribe(uri, payload string, handler Handler) (Token, error) {
	id, err := c.register(handler, true)
	if err != nil {
		return 0, err
	}

	if err = c.send(id, MethodSubscribe, uri, payload); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return 0, err
	}

	return Token(id), nil
}

func (c *WSClient) Unsubscribe(token Token) error {
	c.mu.Lock()
	_, ok := c.subs[uint32(token)]
	delete(c.subs, uint32(token))
	c.mu.Unlock()

	if !ok {
		return nil
	}

	return c.send(uint32(token), MethodCancel, "", "")
}

// Close the connection. Pending calls receive empty payload.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.wrmu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.wrmu.Unlock()

	err := c.conn.Close()
	<-c.closedCh
	return err
}

func (c *WSClient) register(handler Handler, subscribe bool) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	c.seq++
	if c.seq == 0 {
		c.seq++ // zero is invalid token
	}

	if subscribe {
		c.subs[c.seq] = handler
	} else if handler != nil {
		c.calls[c.seq] = handler
	}

	return c.seq, nil
}

func (c *WSClient) send(id uint32, method, uri, payload string) error {
	req := &Request{ID: id, Method: method, URI: uri, AppID: c.appID}
	if payload != "" {
		req.Payload = json.RawMessage(payload)
	}

	c.wrmu.Lock()
	defer c.wrmu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(req)
}

func (c *WSClient) readLoop() {
	for {
		var reply Reply
		if err := c.conn.ReadJSON(&reply); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Msg("[luna] read")
			}
			break
		}

		c.mu.Lock()
		handler, ok := c.subs[reply.ID]
		if !ok {
			if handler, ok = c.calls[reply.ID]; ok {
				delete(c.calls, reply.ID)
			}
		}
		c.mu.Unlock()

		if handler != nil {
			// empty payload is reserved for connection loss
			if len(reply.Payload) == 0 {
				handler("null")
			} else {
				handler(string(reply.Payload))
			}
		}
	}

	c.mu.Lock()
	c.closed = true
	calls := c.calls
	c.calls = nil
	c.subs = nil
	c.mu.Unlock()

	for _, handler := range calls {
		handler("")
	}

	_ = c.conn.Close()

	close(c.closedCh)
}
