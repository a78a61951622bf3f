package marketstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/epic1st/paperfx/logging"
	"github.com/epic1st/paperfx/metrics"
	"github.com/epic1st/paperfx/money"
)

// reconnectInterval is the fixed backoff between dropped-connection
// retries (spec §4.5).
const reconnectInterval = 5 * time.Second

const subscriberCapacity = 32

// weeklyInterval is the Bybit kline interval code for weekly candles, used
// by SeedATHATL.
const weeklyInterval = "W"

// Client maintains the upstream kline WebSocket feed: one connection,
// many symbol:interval subscriptions multiplexed over it, reconnect with
// automatic re-subscription, and a non-blocking fan-out to subscribers
// per topic (spec §4.5).
type Client struct {
	wsURL string

	mu          sync.RWMutex
	conn        *websocket.Conn
	connected   bool
	topics      map[string]bool // topicKey -> subscribed
	subscribers map[string][]chan Candle
	latest      map[string]Candle
	athAtl      map[string]AthAtl

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewClient builds a feed client pointed at wsURL (the Bybit-shaped
// websocket base, e.g. "wss://stream.bybit.com/v5/public/linear").
func NewClient(wsURL string) *Client {
	return &Client{
		wsURL:       wsURL,
		topics:      make(map[string]bool),
		subscribers: make(map[string][]chan Candle),
		latest:      make(map[string]Candle),
		athAtl:      make(map[string]AthAtl),
		stopChan:    make(chan struct{}),
	}
}

// Connect dials the feed and starts the read loop in the background. It
// returns once the initial handshake succeeds; reconnection afterwards is
// handled internally and never surfaces as an error to the caller.
func (c *Client) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("marketstream: dial %s: %w", c.wsURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	logging.Info("market feed connected", logging.Component("marketstream"))
	go c.readLoop()
	return nil
}

// Subscribe returns a bounded channel that receives every confirmed and
// unconfirmed candle for symbol/interval, sending the subscribe frame
// upstream the first time this topic is requested and replaying the most
// recent cached candle immediately if one exists.
func (c *Client) Subscribe(symbol, interval string) (<-chan Candle, error) {
	key := topicKey(symbol, interval)

	c.mu.Lock()
	ch := make(chan Candle, subscriberCapacity)
	c.subscribers[key] = append(c.subscribers[key], ch)
	needsSubscribe := !c.topics[key]
	if needsSubscribe {
		c.topics[key] = true
	}
	latest, hasLatest := c.latest[key]
	conn := c.conn
	c.mu.Unlock()

	if hasLatest {
		ch <- latest
	}
	if needsSubscribe && conn != nil {
		if err := c.sendSubscribe(conn, key); err != nil {
			return ch, err
		}
	}
	return ch, nil
}

func (c *Client) sendSubscribe(conn *websocket.Conn, key string) error {
	frame := subscribeFrame{Op: "subscribe", Args: []string{klineArg(key)}}
	return conn.WriteJSON(frame)
}

// klineArg turns "<symbol>:<interval>" into the upstream subscribe arg
// "kline.<interval>.<symbol>".
func klineArg(key string) string {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return "kline." + key
	}
	return "kline." + parts[1] + "." + parts[0]
}

func (c *Client) readLoop() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			logging.Warn("market feed read error", logging.Any("error", err.Error()))
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			metrics.FeedReconnects.Inc()
			c.reconnectLoop()
			return
		}

		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var event klineEvent
	if err := json.Unmarshal(message, &event); err != nil || event.Topic == "" {
		return
	}

	symbol, interval, ok := parseKlineTopic(event.Topic)
	if !ok {
		return
	}
	key := topicKey(symbol, interval)

	for _, raw := range event.Data {
		candle, err := decodeCandle(symbol, interval, raw)
		if err != nil {
			continue
		}

		c.mu.Lock()
		c.latest[key] = candle
		subs := c.subscribers[key]
		c.mu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- candle:
			default:
				metrics.SubscriberDrops.WithLabelValues("candle").Inc()
			}
		}
	}
}

func parseKlineTopic(topic string) (symbol, interval string, ok bool) {
	parts := strings.SplitN(topic, ".", 3)
	if len(parts) != 3 || parts[0] != "kline" {
		return "", "", false
	}
	return parts[2], parts[1], true
}

func decodeCandle(symbol, interval string, raw klineData) (Candle, error) {
	open, err := money.Parse(raw.Open)
	if err != nil {
		return Candle{}, err
	}
	high, err := money.Parse(raw.High)
	if err != nil {
		return Candle{}, err
	}
	low, err := money.Parse(raw.Low)
	if err != nil {
		return Candle{}, err
	}
	closePrice, err := money.Parse(raw.Close)
	if err != nil {
		return Candle{}, err
	}
	volume, err := money.Parse(raw.Volume)
	if err != nil {
		return Candle{}, err
	}

	return Candle{
		Symbol:    symbol,
		Interval:  interval,
		Start:     time.UnixMilli(raw.Start),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Confirmed: raw.Confirm,
	}, nil
}

// reconnectLoop retries the dial every reconnectInterval and, on success,
// re-sends a subscribe frame for every topic that was active before the
// drop — subscribers never have to re-subscribe themselves.
func (c *Client) reconnectLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		case <-time.After(reconnectInterval):
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.wsURL, nil)
		if err != nil {
			logging.Warn("market feed reconnect failed", logging.Any("error", err.Error()))
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		topics := make([]string, 0, len(c.topics))
		for key := range c.topics {
			topics = append(topics, key)
		}
		c.mu.Unlock()

		for _, key := range topics {
			if err := c.sendSubscribe(conn, key); err != nil {
				logging.Warn("market feed re-subscribe failed", logging.Any("error", err.Error()))
			}
		}

		logging.Info("market feed reconnected", logging.Component("marketstream"))
		go c.readLoop()
		return
	}
}

// SeedATHATL fetches weekly candles for symbol via historical and records
// ath = max(high), atl = min(low) for later read-only exposure through
// ATHATL (spec §4.5). This is an approximation sampled from ≤200 weekly
// rows, not an actual all-time extremum. A failed or empty fetch (the
// historical client's own 10-second-deadline degrade-to-nil behavior)
// just leaves the symbol unseeded rather than propagating as a fatal
// error.
func (c *Client) SeedATHATL(ctx context.Context, symbol string, historical *HistoricalClient) {
	candles := historical.Fetch(ctx, symbol, weeklyInterval, 200, 0)
	if len(candles) == 0 {
		logging.Warn("ATH/ATL seeding found no weekly candles", logging.Symbol(symbol))
		return
	}

	ath := candles[0].High
	atl := candles[0].Low
	for _, candle := range candles[1:] {
		if candle.High.GT(ath) {
			ath = candle.High
		}
		if candle.Low.LT(atl) {
			atl = candle.Low
		}
	}

	c.mu.Lock()
	c.athAtl[symbol] = AthAtl{ATH: ath, ATL: atl, Ok: true}
	c.mu.Unlock()
}

// ATHATL returns the weekly-seeded all-time-high/low for symbol, if
// SeedATHATL has completed for it.
func (c *Client) ATHATL(symbol string) (AthAtl, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.athAtl[symbol]
	return v, ok
}

// IsConnected reports the feed's current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close tears the feed down and stops any in-flight reconnect attempt.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}
