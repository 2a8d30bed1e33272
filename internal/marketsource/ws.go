package marketsource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"bot_trading/internal/apperror"
	"bot_trading/internal/model"

	"github.com/bitly/go-simplejson"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// BarEvent is one normalized update out of the unified bar event
// stream: a preview (closed=false, not persisted) or a commit
// (closed=true, persisted).
type BarEvent struct {
	Interval string
	Bar      model.Bar
}

// ReconnectPolicy configures the exponential-backoff-with-jitter
// reconnect loop, capped at MaxDelay.
type ReconnectPolicy struct {
	MaxRetries  int // not read by Run; reconnect attempts are unlimited
	BaseDelayMs int
	MaxDelayMs  int
}

// IdleTimeout is the default heartbeat window: no message within this
// window triggers a reconnect.
const IdleTimeout = 60 * time.Second

// RestFetcher fetches bars in (start, end] for gap repair. Backed by
// the same warmup REST path.
type RestFetcher interface {
	FetchRange(ctx context.Context, symbol, interval string, startExclusiveMs, endMs int64) ([]model.Bar, error)
}

// Client drives the combined candlestick WebSocket stream for a set of
// intervals, normalizing into a single BarEvent channel and running
// the connection state machine (Disconnected -> Connecting ->
// Handshaking -> Streaming -> Reconnecting) with gap repair on
// reconnect.
type Client struct {
	wsBase    string
	symbol    string
	intervals []string
	policy    ReconnectPolicy
	rest      RestFetcher

	mu    sync.RWMutex
	state ConnState

	events chan BarEvent
	errs   chan error
	stop   chan struct{}

	lastOpenTime map[string]int64
}

// NewClient builds a Client. Call Run to start the connection loop.
func NewClient(wsBase, symbol string, intervals []string, policy ReconnectPolicy, rest RestFetcher) *Client {
	return &Client{
		wsBase: wsBase, symbol: symbol, intervals: intervals, policy: policy, rest: rest,
		events:       make(chan BarEvent, 256),
		errs:         make(chan error, 16),
		stop:         make(chan struct{}),
		lastOpenTime: make(map[string]int64),
	}
}

// Events returns the normalized bar event channel.
func (c *Client) Events() <-chan BarEvent { return c.events }

// Errors returns a channel of non-fatal errors surfaced during the run
// loop (transport failures, bad messages), for logging/alerting.
func (c *Client) Errors() <-chan error { return c.errs }

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SeedTail records the last known open_time for an interval, used to
// bound gap repair after the first reconnect.
func (c *Client) SeedTail(interval string, openTimeMs int64) {
	c.mu.Lock()
	c.lastOpenTime[interval] = openTimeMs
	c.mu.Unlock()
}

// Stop terminates the run loop.
func (c *Client) Stop() { close(c.stop) }

func (c *Client) streamURL() string {
	streams := make([]string, len(c.intervals))
	for i, iv := range c.intervals {
		streams[i] = fmt.Sprintf("%s@kline_%s", strings.ToLower(c.symbol), iv)
	}
	return fmt.Sprintf("%s/stream?streams=%s", strings.TrimRight(c.wsBase, "/"), strings.Join(streams, "/"))
}

// Run drives the connection state machine until Stop is called or ctx
// is cancelled.
func (c *Client) Run(ctx context.Context) {
	b := &backoff.Backoff{
		Min:    time.Duration(c.policy.BaseDelayMs) * time.Millisecond,
		Max:    time.Duration(c.policy.MaxDelayMs) * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}

	first := true
	for {
		select {
		case <-ctx.Done():
			c.setState(Disconnected)
			return
		case <-c.stop:
			c.setState(Disconnected)
			return
		default:
		}

		if !first {
			c.setState(Reconnecting)
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
		first = false

		c.setState(Connecting)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL(), nil)
		if err != nil {
			c.errs <- apperror.Transport("websocket dial failed", err)
			continue
		}
		c.setState(Handshaking)

		if err := c.repairGaps(ctx); err != nil {
			c.errs <- apperror.GapDetected("gap repair failed", err)
		}

		c.setState(Streaming)
		b.Reset()
		c.readLoop(ctx, conn)
		_ = conn.Close()
	}
}

func (c *Client) repairGaps(ctx context.Context) error {
	if c.rest == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	c.mu.RLock()
	tails := make(map[string]int64, len(c.lastOpenTime))
	for k, v := range c.lastOpenTime {
		tails[k] = v
	}
	c.mu.RUnlock()

	for interval, tail := range tails {
		if tail == 0 {
			continue
		}
		bars, err := c.rest.FetchRange(ctx, c.symbol, interval, tail, now)
		if err != nil {
			return err
		}
		for _, bar := range bars {
			c.events <- BarEvent{Interval: interval, Bar: bar}
			c.SeedTail(interval, bar.OpenTimeMs)
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.errs <- apperror.Transport("websocket read failed", err)
			return
		}
		event, ok, err := parseCombinedKline(raw)
		if err != nil {
			c.errs <- apperror.BadMessage("unparsable kline message", err)
			continue
		}
		if !ok {
			continue
		}
		if event.Bar.Closed {
			c.SeedTail(event.Interval, event.Bar.OpenTimeMs)
		}
		select {
		case c.events <- event:
		case <-ctx.Done():
			return
		}
	}
}

// parseCombinedKline unwraps Binance's `{stream, data}` combined-stream
// envelope loosely via simplejson before decoding the typed kline
// payload, matching the original wire shape's two-level nesting.
func parseCombinedKline(raw []byte) (BarEvent, bool, error) {
	root, err := simplejson.NewJson(raw)
	if err != nil {
		return BarEvent{}, false, err
	}
	data := root.Get("data")
	if data.Interface() == nil {
		data = root // some feeds are not envelope-wrapped
	}
	if data.Get("e").MustString() != "kline" {
		return BarEvent{}, false, nil
	}
	k := data.Get("k")
	symbol := data.Get("s").MustString()
	interval := k.Get("i").MustString()

	openTime := k.Get("t").MustInt64()
	closeTime := k.Get("T").MustInt64()
	closed := k.Get("x").MustBool()

	open, err1 := strconv.ParseFloat(k.Get("o").MustString(), 64)
	high, err2 := strconv.ParseFloat(k.Get("h").MustString(), 64)
	low, err3 := strconv.ParseFloat(k.Get("l").MustString(), 64)
	closePrice, err4 := strconv.ParseFloat(k.Get("c").MustString(), 64)
	volume, err5 := strconv.ParseFloat(k.Get("v").MustString(), 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return BarEvent{}, false, fmt.Errorf("marketsource: malformed kline numeric field")
	}

	source := model.SourceLive
	bar := model.Bar{
		Symbol: symbol, Interval: interval, OpenTimeMs: openTime, CloseTime: closeTime,
		Open: open, High: high, Low: low, Close: closePrice, Volume: volume,
		Trades: k.Get("n").MustInt64(), Closed: closed, Source: source,
	}
	return BarEvent{Interval: interval, Bar: bar}, true, nil
}
