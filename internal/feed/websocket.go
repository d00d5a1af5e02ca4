package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var wsLog = logrus.WithField("component", "feed.ws")

const (
	wsHandshakeTimeout = 10 * time.Second
	wsPingInterval     = 30 * time.Second
	wsMaxReconnectWait = 30 * time.Second
)

// tickMessage is the wire format of the upstream tick stream.
type tickMessage struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Volume decimal.Decimal `json:"volume"`
	TS     int64           `json:"ts"` // unix milliseconds
}

// WebsocketSource streams ticks from a JSON websocket feed and reconnects
// with exponential backoff. Ticks arriving while the consumer is busy are
// dropped, never queued unboundedly: a decision cycle only ever wants the
// freshest observation.
type WebsocketSource struct {
	url    string
	symbol string

	conn   *websocket.Conn
	connMu sync.Mutex

	ticks  chan Tick
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebsocketSource creates a source for the given feed URL and symbol.
func NewWebsocketSource(url, symbol string) *WebsocketSource {
	return &WebsocketSource{
		url:    url,
		symbol: symbol,
		ticks:  make(chan Tick, 16),
	}
}

// Start connects and begins streaming. The first connection failure is
// returned; later failures reconnect in the background.
func (s *WebsocketSource) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	if err := s.connect(runCtx); err != nil {
		cancel()
		return fmt.Errorf("feed connect: %w", err)
	}

	go s.readLoop(runCtx)
	go s.pingLoop(runCtx)
	wsLog.Infof("tick feed connected url=%s symbol=%s", s.url, s.symbol)
	return nil
}

func (s *WebsocketSource) Ticks() <-chan Tick { return s.ticks }

// Stop tears the source down and closes the tick channel.
func (s *WebsocketSource) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *WebsocketSource) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	sub := map[string]string{"op": "subscribe", "symbol": s.symbol}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

func (s *WebsocketSource) readLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.ticks)

	backoff := time.Second
	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				_ = conn.Close()
				return
			}
			wsLog.Warnf("feed read failed, reconnecting in %s: %v", backoff, err)
			_ = conn.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > wsMaxReconnectWait {
				backoff = wsMaxReconnectWait
			}
			if err := s.connect(ctx); err != nil {
				wsLog.Warnf("feed reconnect failed: %v", err)
				continue
			}
			backoff = time.Second
			continue
		}

		var msg tickMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			wsLog.Debugf("skipping malformed tick: %v", err)
			continue
		}
		tick := Tick{
			Time:   time.UnixMilli(msg.TS),
			Symbol: msg.Symbol,
			Bid:    msg.Bid,
			Ask:    msg.Ask,
			Volume: msg.Volume,
		}
		select {
		case s.ticks <- tick:
		default:
			// consumer busy; stale ticks are worthless, drop
		}
	}
}

func (s *WebsocketSource) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn != nil {
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}
}
