package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/folder-mcp/daemon/internal/fmdm"
)

// Client is a duplex connection to the daemon, used by the CLI and TUI.
// Requests are correlated by id; fmdm.update pushes arrive on Updates.
type Client struct {
	conn    net.Conn
	encoder *json.Encoder
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]chan map[string]any
	closed   bool
	clientID string

	updates chan fmdm.Document
	pushes  chan map[string]any
	done    chan struct{}
}

// Dial connects to the daemon's Unix socket.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s: %w", socketPath, err)
	}

	c := &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		timeout: timeout,
		pending: make(map[string]chan map[string]any),
		updates: make(chan fmdm.Document, 16),
		pushes:  make(chan map[string]any, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// readLoop routes incoming frames: correlated responses to their waiters,
// fmdm.update to Updates, everything else (model download events) to
// Pushes.
func (c *Client) readLoop() {
	defer close(c.done)
	decoder := json.NewDecoder(c.conn)
	for {
		var f map[string]any
		if err := decoder.Decode(&f); err != nil {
			c.failPending(fmt.Errorf("connection lost: %w", err))
			return
		}

		msgType, _ := f["type"].(string)
		if msgType == TypeFMDMUpdate {
			if doc, ok := decodeFMDM(f["fmdm"]); ok {
				select {
				case c.updates <- doc:
				default: // coalesce: drop the oldest pending update
					select {
					case <-c.updates:
					default:
					}
					c.updates <- doc
				}
			}
			continue
		}

		if id, ok := f["id"].(string); ok && id != "" {
			c.mu.Lock()
			ch := c.pending[id]
			delete(c.pending, id)
			c.mu.Unlock()
			if ch != nil {
				ch <- f
				continue
			}
		}

		select {
		case c.pushes <- f:
		default:
		}
	}
}

func decodeFMDM(v any) (fmdm.Document, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmdm.Document{}, false
	}
	var doc fmdm.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmdm.Document{}, false
	}
	return doc, true
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- map[string]any{"type": TypeError, "message": err.Error()}
		delete(c.pending, id)
	}
}

// Request sends one frame and waits for its correlated response.
func (c *Client) Request(ctx context.Context, msgType string, payload any) (map[string]any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	id := uuid.NewString()
	ch := make(chan map[string]any, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	f := ClientFrame{Type: msgType, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		f.Payload = raw
	}

	if err := c.encoder.Encode(f); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", msgType, err)
	}

	timeout := time.NewTimer(c.timeout)
	defer timeout.Stop()
	select {
	case resp := <-ch:
		if respType, _ := resp["type"].(string); respType == TypeError {
			message, _ := resp["message"].(string)
			return resp, fmt.Errorf("daemon error: %s", message)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, fmt.Errorf("request %s timed out", msgType)
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	}
}

// Init performs the connection.init handshake. The first fmdm.update
// snapshot follows on Updates.
func (c *Client) Init(ctx context.Context, clientType string) (string, error) {
	f := ClientFrame{Type: TypeConnectionInit, ID: uuid.NewString(), ClientType: clientType}

	c.mu.Lock()
	ch := make(chan map[string]any, 1)
	c.pending[f.ID] = ch
	c.mu.Unlock()

	if err := c.encoder.Encode(f); err != nil {
		return "", fmt.Errorf("send connection.init: %w", err)
	}

	timeout := time.NewTimer(c.timeout)
	defer timeout.Stop()
	select {
	case resp := <-ch:
		if respType, _ := resp["type"].(string); respType == TypeError {
			message, _ := resp["message"].(string)
			return "", fmt.Errorf("connection rejected: %s", message)
		}
		clientID, _ := resp["clientId"].(string)
		c.mu.Lock()
		c.clientID = clientID
		c.mu.Unlock()
		return clientID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timeout.C:
		return "", fmt.Errorf("connection.init timed out")
	case <-c.done:
		return "", fmt.Errorf("connection closed")
	}
}

// ClientID returns the id assigned by connection.ack.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Updates delivers fmdm.update snapshots. Slow consumers coalesce to the
// latest snapshot.
func (c *Client) Updates() <-chan fmdm.Document { return c.updates }

// Pushes delivers uncorrelated server pushes (model download events).
func (c *Client) Pushes() <-chan map[string]any { return c.pushes }

// Ping round-trips a ping frame.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Request(ctx, TypePing, nil)
	if err != nil {
		return err
	}
	if respType, _ := resp["type"].(string); respType != TypePong {
		return fmt.Errorf("unexpected ping response type %v", resp["type"])
	}
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
