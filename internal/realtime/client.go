// Package realtime maintains a live numeric value per subscribed key over a
// reconnecting JSON-RPC subscription transport, with a fixed-interval polling
// fallback. The push path is an optimization; the poller is the guarantee.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"

	"github.com/nightmare634/voidstream/internal/platform/metrics"
)

// State is the connection lifecycle phase of a Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateDisabled is entered after the reconnect budget is exhausted. The
	// poller keeps running; only an explicit Connect leaves this state.
	StateDisabled State = "permanently_disabled"
)

var (
	ErrClosed       = errors.New("realtime: connection closed")
	ErrNotConnected = errors.New("realtime: not connected")
)

// Callback receives push and poll updates for one subscribed key.
type Callback func(key string, value int64)

// Fetcher is the stateless read path used for the eager first value and the
// polling fallback.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (int64, error)
}

type subscription struct {
	cb     Callback
	subID  uint64
	hasSub bool
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

const (
	defaultBackoffBase   = 500 * time.Millisecond
	defaultMaxBackoff    = 30 * time.Second
	defaultMaxReconnects = 5
	defaultKeepalive     = 20 * time.Second
	defaultPollInterval  = 30 * time.Second
	requestTimeout       = 10 * time.Second
)

// Client is a reconnecting subscription client. All exported methods are safe
// for concurrent use; callbacks are invoked outside the client's lock.
type Client struct {
	url     string
	dialer  Dialer
	fetcher Fetcher
	logger  *slog.Logger
	metrics *metrics.Metrics

	backoffBase      time.Duration
	maxBackoff       time.Duration
	maxReconnects    int
	keepaliveEvery   time.Duration
	pollEvery        time.Duration
	onPermanentClose func(error)

	mu                sync.Mutex
	state             State
	conn              Conn
	connecting        bool
	closed            bool
	permanentNotified bool
	attempts          int
	nextID            uint64
	pending           map[uint64]chan rpcResult
	subs              map[string]*subscription
	reconnectTimer    *time.Timer
	keepaliveStop     chan struct{}
	pollStop          chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithDialer overrides the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics attaches connection gauges and counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBackoff sets the reconnect delay curve (base * 2^attempt, capped at max).
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.maxBackoff = max
	}
}

// WithMaxReconnectAttempts bounds the reconnect budget before the client
// disables the push path permanently.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Client) { c.maxReconnects = n }
}

// WithKeepaliveInterval sets the liveness request cadence. The transport
// cannot rely on control frames surviving intermediaries, so liveness is a
// small application-level request.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(c *Client) { c.keepaliveEvery = d }
}

// WithPollInterval sets the stateless fallback cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollEvery = d }
}

// WithOnPermanentClose registers a one-shot advisory callback fired when the
// reconnect budget is exhausted.
func WithOnPermanentClose(fn func(error)) Option {
	return func(c *Client) { c.onPermanentClose = fn }
}

// NewClient creates a Client for the given subscription endpoint.
func NewClient(url string, fetcher Fetcher, opts ...Option) *Client {
	c := &Client{
		url:            url,
		dialer:         WebSocketDialer{},
		fetcher:        fetcher,
		logger:         slog.Default(),
		backoffBase:    defaultBackoffBase,
		maxBackoff:     defaultMaxBackoff,
		maxReconnects:  defaultMaxReconnects,
		keepaliveEvery: defaultKeepalive,
		pollEvery:      defaultPollInterval,
		state:          StateDisconnected,
		pending:        make(map[uint64]chan rpcResult),
		subs:           make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the current connection phase.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the transport. A call after Close or after permanent disable
// starts a fresh session with a reset reconnect budget. Failure schedules a
// reconnect internally and is also returned to the caller.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.connecting {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateDisabled {
		c.attempts = 0
		c.permanentNotified = false
	}
	c.closed = false
	c.connecting = true
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.url)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.setStateLocked(StateDisconnected)
		c.scheduleReconnectLocked(err)
		c.mu.Unlock()
		return err
	}
	if c.closed {
		// Close raced the dial; honor it.
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.attempts = 0
	c.permanentNotified = false
	c.setStateLocked(StateConnected)
	stop := make(chan struct{})
	c.keepaliveStop = stop
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.keepaliveLoop(stop)
	c.resubscribe(ctx)
	return nil
}

// Subscribe registers interest in a key. The first value is fetched eagerly
// over the stateless path so the callback fires before any push arrives; the
// push attachment itself is best-effort and never fails the caller.
func (c *Client) Subscribe(ctx context.Context, key string, cb Callback) error {
	if key == "" {
		return errors.New("realtime: missing subscription key")
	}
	if cb == nil {
		return errors.New("realtime: missing callback")
	}

	c.mu.Lock()
	c.subs[key] = &subscription{cb: cb}
	var pollStop chan struct{}
	if c.pollStop == nil {
		pollStop = make(chan struct{})
		c.pollStop = pollStop
	}
	c.mu.Unlock()
	if pollStop != nil {
		go c.pollLoop(pollStop)
	}

	c.fetchAndPublish(ctx, key)

	if err := c.Connect(ctx); err != nil {
		c.logger.Debug("realtime connect deferred", "key", key, "error", err)
		return nil
	}
	c.attach(ctx, key)
	return nil
}

// Unsubscribe removes local bookkeeping and, when the transport is up,
// best-effort tells the server to stop pushing.
func (c *Client) Unsubscribe(ctx context.Context, key string) {
	c.mu.Lock()
	sub, ok := c.subs[key]
	delete(c.subs, key)
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !ok || !sub.hasSub || !connected {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if _, err := c.request(ctx, methodUnsubscribe, []any{sub.subID}); err != nil {
		c.logger.Debug("realtime unsubscribe failed", "key", key, "error", err)
	}
}

// Close is terminal: it suppresses future reconnects, fails in-flight
// requests, stops the poller, and releases the transport.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
	c.failPendingLocked(ErrClosed)
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// request performs one correlated round trip. Requests against a closed
// transport fail immediately rather than queuing.
func (c *Client) request(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan rpcResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.dropPending(id)
		return nil, err
	}
	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop(conn Conn) {
	for {
		var msg rpcMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg rpcMessage) {
	if msg.ID != nil {
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		delete(c.pending, *msg.ID)
		c.mu.Unlock()
		// Unmatched responses are dropped.
		if !ok {
			return
		}
		if msg.Error != nil {
			ch <- rpcResult{err: msg.Error}
			return
		}
		ch <- rpcResult{result: msg.Result}
		return
	}

	if msg.Method != methodNotification {
		return
	}
	var params notificationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return
	}
	if params.Result.Value.Lamports == nil {
		return
	}
	value := *params.Result.Value.Lamports

	c.mu.Lock()
	var targets []struct {
		key string
		cb  Callback
	}
	for key, sub := range c.subs {
		if sub.hasSub && sub.subID == params.Subscription {
			targets = append(targets, struct {
				key string
				cb  Callback
			}{key, sub.cb})
		}
	}
	c.mu.Unlock()
	for _, t := range targets {
		t.cb(t.key, value)
	}
}

func (c *Client) handleClose(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale read loop from a previous connection.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
	c.failPendingLocked(ErrClosed)
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.setStateLocked(StateDisconnected)
	c.logger.Warn("realtime transport closed", "error", cause)
	c.scheduleReconnectLocked(cause)
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) scheduleReconnectLocked(cause error) {
	if c.closed || c.reconnectTimer != nil {
		return
	}
	if c.attempts >= c.maxReconnects {
		c.disableLocked(cause)
		return
	}
	delay := backoff.Exponential(c.backoffBase, c.attempts)
	if delay > c.maxBackoff {
		delay = c.maxBackoff
	}
	c.attempts++
	c.metrics.IncRealtimeReconnect()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		// Failure schedules the next attempt internally.
		_ = c.Connect(context.Background())
	})
}

// disableLocked parks the push path for the rest of the session. The poller
// is untouched and keeps delivering values.
func (c *Client) disableLocked(cause error) {
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.failPendingLocked(ErrClosed)
	if c.conn != nil {
		conn := c.conn
		c.conn = nil
		go func() { _ = conn.Close() }()
	}
	c.setStateLocked(StateDisabled)
	c.logger.Warn("realtime push disabled after repeated failures; polling continues", "error", cause)
	if !c.permanentNotified && c.onPermanentClose != nil {
		c.permanentNotified = true
		cb := c.onPermanentClose
		go cb(cause)
	}
}

func (c *Client) resubscribe(ctx context.Context) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.subs))
	for key, sub := range c.subs {
		// Subscription ids are ephemeral per connection.
		sub.hasSub = false
		sub.subID = 0
		keys = append(keys, key)
	}
	c.mu.Unlock()
	for _, key := range keys {
		c.attach(ctx, key)
	}
}

func (c *Client) attach(ctx context.Context, key string) {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok || sub.hasSub {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	raw, err := c.request(ctx, methodSubscribe, []any{key, subscribeOptions})
	if err != nil {
		// The reconnect loop retries attachment on the next session.
		c.logger.Debug("realtime subscribe failed", "key", key, "error", err)
		return
	}
	var subID uint64
	if err := json.Unmarshal(raw, &subID); err != nil {
		c.logger.Debug("realtime subscribe returned malformed id", "key", key, "error", err)
		return
	}
	c.mu.Lock()
	if sub, ok := c.subs[key]; ok {
		sub.subID = subID
		sub.hasSub = true
	}
	c.mu.Unlock()
}

func (c *Client) keepaliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.keepaliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.keepaliveEvery)
			_, err := c.request(ctx, methodHealth, nil)
			cancel()
			if err != nil {
				// The read loop notices a dead transport; nothing to do here.
				c.logger.Debug("realtime keepalive failed", "error", err)
			}
		}
	}
}

func (c *Client) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			keys := make([]string, 0, len(c.subs))
			for key := range c.subs {
				keys = append(keys, key)
			}
			c.mu.Unlock()
			for _, key := range keys {
				c.fetchAndPublish(context.Background(), key)
			}
		}
	}
}

func (c *Client) fetchAndPublish(ctx context.Context, key string) {
	if c.fetcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	value, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		c.logger.Debug("realtime fallback fetch failed", "key", key, "error", err)
		return
	}
	c.mu.Lock()
	sub, ok := c.subs[key]
	var cb Callback
	if ok {
		cb = sub.cb
	}
	c.mu.Unlock()
	if cb != nil {
		cb(key, value)
	}
}

func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		ch <- rpcResult{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	c.metrics.SetRealtimeState(stateGauge(s))
}

func stateGauge(s State) float64 {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateDisabled:
		return 3
	default:
		return 0
	}
}
