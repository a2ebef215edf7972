// Package realtime is a client for Supabase Realtime, speaking the Phoenix v1 JSON protocol over a
// single websocket.
//
// A [Client] multiplexes any number of [Channel] values over one connection. It sends a heartbeat
// on a fixed interval and, when the connection drops, redials with backoff and rejoins every
// channel that was joined. Channel handlers run on the client's read goroutine and must not block.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/desertthunder/mesakiosk/internal/shared"
)

var (
	ErrClosed       = errors.New("realtime client closed")
	ErrNotConnected = errors.New("realtime socket not connected")
	ErrNotJoined    = errors.New("channel not joined")
	ErrJoinRejected = errors.New("channel join rejected")
)

const (
	DefaultHeartbeat   = 25 * time.Second
	DefaultJoinTimeout = 10 * time.Second
	writeTimeout       = 10 * time.Second
	protocolVersion    = "1.0.0"
)

var defaultBackoff = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

// Options configures a [Client].
type Options struct {
	// URL is the project URL (http or https). The websocket endpoint is derived from it.
	URL         string
	APIKey      string
	AccessToken string
	Heartbeat   time.Duration
	JoinTimeout time.Duration
	Backoff     []time.Duration
	Logger      *log.Logger
}

// Client is a multiplexed realtime socket.
type Client struct {
	endpoint    string
	apiKey      string
	token       string
	heartbeat   time.Duration
	joinTimeout time.Duration
	backoff     []time.Duration
	dialer      *websocket.Dialer
	logger      *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	ref    atomic.Uint64

	mu          sync.Mutex
	conn        *websocket.Conn
	channels    map[string]*Channel
	pendingBeat string
	beating     bool
	closed      bool

	writeMu sync.Mutex
}

// Endpoint derives the websocket URL for a project URL.
func Endpoint(projectURL, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimRight(projectURL, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: unsupported realtime scheme %q", shared.ErrInvalidConfig, u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// New creates a client. It does not connect until the first channel subscribes or [Client.Connect]
// is called.
func New(opts Options) (*Client, error) {
	if opts.URL == "" || opts.APIKey == "" {
		return nil, fmt.Errorf("%w: realtime url and api key", shared.ErrMissingConfig)
	}
	endpoint, err := Endpoint(opts.URL, opts.APIKey)
	if err != nil {
		return nil, err
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		endpoint:    endpoint,
		apiKey:      opts.APIKey,
		token:       opts.AccessToken,
		heartbeat:   opts.Heartbeat,
		joinTimeout: opts.JoinTimeout,
		backoff:     opts.Backoff,
		dialer:      &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger:      shared.WithLogger(opts.Logger, "component", "realtime"),
		ctx:         ctx,
		cancel:      cancel,
		channels:    make(map[string]*Channel),
	}, nil
}

// SetAccessToken sets the user token sent with later joins.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

// Connect dials the socket if it is not already open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	c.conn = conn
	c.pendingBeat = ""
	c.logger.Debug("socket connected")

	go c.serve(conn)
	if !c.beating {
		c.beating = true
		go c.heartbeatLoop()
	}
	return nil
}

// Connected reports whether the socket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close leaves every channel and closes the socket. The client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	chans := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	c.channels = map[string]*Channel{}
	c.mu.Unlock()

	c.cancel()
	for _, ch := range chans {
		ch.closed(nil)
	}
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

// Channel returns the channel for topic, creating it if needed. The channel is not joined until
// [Channel.Subscribe].
func (c *Client) Channel(topic string, opts ChannelOptions) *Channel {
	wire := topicPrefix + topic

	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[wire]; ok {
		return ch
	}
	return newChannel(c, wire, opts)
}

func (c *Client) register(ch *Channel) {
	c.mu.Lock()
	c.channels[ch.topic] = ch
	c.mu.Unlock()
}

func (c *Client) unregister(ch *Channel) {
	c.mu.Lock()
	if c.channels[ch.topic] == ch {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()
}

func (c *Client) lookup(topic string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[topic]
}

// push writes m. The ref is assigned by the caller.
func (c *Client) push(ctx context.Context, m message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(m); err != nil {
		return fmt.Errorf("failed to write %s: %w", m.Event, err)
	}
	return nil
}

// serve reads frames until the connection fails, then reconnects unless the client is closed.
func (c *Client) serve(conn *websocket.Conn) {
	err := c.readLoop(conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()
	_ = conn.Close()

	if closed {
		return
	}
	c.logger.Warn("socket disconnected", "error", err)
	for _, ch := range c.joined() {
		ch.errored(fmt.Errorf("%w: %v", ErrNotConnected, err))
	}
	c.reconnect()
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		c.route(m)
	}
}

func (c *Client) route(m message) {
	if m.Topic == phoenixTopic {
		if m.Event == eventReply {
			c.mu.Lock()
			if m.Ref == c.pendingBeat {
				c.pendingBeat = ""
			}
			c.mu.Unlock()
		}
		return
	}

	ch := c.lookup(m.Topic)
	if ch == nil {
		c.logger.Debug("frame for unknown topic", "topic", m.Topic, "event", m.Event)
		return
	}
	ch.handle(m)
}

func (c *Client) reconnect() {
	for attempt := 0; ; attempt++ {
		wait := c.backoff[min(attempt, len(c.backoff)-1)]
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(wait):
		}

		err := c.Connect(c.ctx)
		switch {
		case err == nil:
			c.logger.Info("socket reconnected", "attempt", attempt+1)
			c.rejoin()
			return
		case errors.Is(err, ErrClosed):
			return
		default:
			c.logger.Warn("reconnect failed", "attempt", attempt+1, "error", err)
		}
	}
}

func (c *Client) joined() []*Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

func (c *Client) rejoin() {
	for _, ch := range c.joined() {
		if err := ch.join(c.ctx); err != nil {
			c.logger.Warn("rejoin failed", "topic", ch.topic, "error", err)
		}
	}
}

// heartbeatLoop closes the socket when the previous heartbeat went unanswered, which triggers a
// reconnect from serve.
func (c *Client) heartbeatLoop() {
	t := time.NewTicker(c.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
		}

		c.mu.Lock()
		conn, pending := c.conn, c.pendingBeat
		if conn != nil && pending == "" {
			c.pendingBeat = c.nextRef()
		}
		ref := c.pendingBeat
		c.mu.Unlock()

		if conn == nil {
			continue
		}
		if pending != "" {
			c.logger.Warn("heartbeat timed out, dropping socket", "ref", pending)
			_ = conn.Close()
			continue
		}

		m, _ := newMessage(phoenixTopic, eventHeartbeat, nil)
		m.Ref = ref
		if err := c.push(c.ctx, m); err != nil {
			c.logger.Warn("heartbeat failed", "error", err)
		}
	}
}
