package analyzer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"callguard/log"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 5
)

type ChannelConfig struct {
	Endpoint    string        // http(s) or ws(s) base URL; /ws is appended
	BaseDelay   time.Duration // reconnect attempt n waits n × BaseDelay
	MaxAttempts int
	Binary      bool // raw binary frames instead of base64 text
}

// Channel is the persistent WebSocket to the analyzer. One segment per
// outbound frame; inbound frames are JSON fragments. On unexpected closure
// it reconnects with linearly increasing backoff; an explicit Close
// suppresses that and any pending retry timer.
type Channel struct {
	cfg ChannelConfig
	cbs ChannelCallbacks

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	gen    int // invalidates read/reconnect goroutines of earlier opens
}

func NewChannel(cfg ChannelConfig, cbs ChannelCallbacks) *Channel {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Channel{cfg: cfg, cbs: cbs, closed: true}
}

func (c *Channel) wsURL() (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", c.cfg.Endpoint, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Open dials the analyzer and starts the read loop. After a terminal
// reconnect failure the caller may Open again; earlier goroutines are
// invalidated by the generation counter.
func (c *Channel) Open(ctx context.Context) error {
	target, err := c.wsURL()
	if err != nil {
		return err
	}

	cctx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(cctx, target, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("dialing %s: %w", target, err)
	}

	c.mu.Lock()
	c.ctx, c.cancel = cctx, cancel
	c.conn = conn
	c.closed = false
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	return nil
}

// Send transmits one segment. ErrNotConnected while the channel is not open
// (including mid-reconnect): the segment is the caller's to drop.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	ctx := c.ctx
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if c.cfg.Binary {
		return conn.Write(ctx, websocket.MessageBinary, data)
	}
	payload := base64.StdEncoding.EncodeToString(data)
	return conn.Write(ctx, websocket.MessageText, []byte(payload))
}

// Close tears down the connection and suppresses reconnection. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (c *Channel) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || gen != c.gen
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.stale(gen) {
				return // deliberate shutdown
			}
			log.Warnf("channel read error: %v", err)
			c.reconnect(gen)
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame. Malformed frames are dropped; they must
// never take the session down.
func (c *Channel) dispatch(data []byte) {
	var f Fragment
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warnf("malformed analyzer message dropped: %v", err)
		return
	}
	if f.Error != "" {
		if c.cbs.OnError != nil {
			c.cbs.OnError(f.Error)
		}
		return
	}
	if c.cbs.OnFragment != nil {
		c.cbs.OnFragment(f)
	}
}

func (c *Channel) reconnect(gen int) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil // Send fails with ErrNotConnected until redialed
	ctx := c.ctx
	c.mu.Unlock()

	target, err := c.wsURL()
	if err != nil {
		return
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		delay := time.Duration(attempt) * c.cfg.BaseDelay
		log.Reconnect(log.ReconnectData{Attempt: attempt, DelayMs: float64(delay.Milliseconds())})

		select {
		case <-ctx.Done():
			return // explicit Close cancels the retry timer
		case <-time.After(delay):
		}

		conn, _, err := websocket.Dial(ctx, target, nil)
		if err != nil {
			log.Warnf("reconnect attempt %d failed: %v", attempt, err)
			continue
		}

		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		c.conn = conn
		c.mu.Unlock()

		log.Info("channel_reconnected")
		c.readLoop(conn, gen)
		return
	}

	log.Errorf("channel reconnect exhausted after %d attempts", c.cfg.MaxAttempts)
	if c.cbs.OnTerminal != nil {
		c.cbs.OnTerminal(ErrConnectionFailed)
	}
}
