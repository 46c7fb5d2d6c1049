package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ListenerConfig configures callback stream behavior.
type ListenerConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultListenerConfig returns default callback stream configuration.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Listener consumes the settlement gateway's callback stream over
// WebSocket and dispatches each callback to the registered handlers.
// It reconnects with exponential backoff; the gateway replays unacked
// callbacks after reconnect, and handlers are idempotent, so a dropped
// connection loses nothing.
type Listener struct {
	endpoint string
	config   ListenerConfig

	issuance IssuanceHandler
	payout   PayoutHandler
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewListener creates a Listener and connects to the endpoint.
func NewListener(ctx context.Context, endpoint string, issuance IssuanceHandler, payout PayoutHandler, config *ListenerConfig, logger *log.Logger) (*Listener, error) {
	cfg := DefaultListenerConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	l := &Listener{
		endpoint: endpoint,
		config:   cfg,
		issuance: issuance,
		payout:   payout,
		logger:   logger,
		done:     make(chan struct{}),
	}

	if err := l.connect(ctx); err != nil {
		return nil, err
	}

	l.wg.Add(1)
	go l.readLoop()

	l.wg.Add(1)
	go l.pingLoop()

	return l, nil
}

// connect establishes the WebSocket connection.
func (l *Listener) connect(ctx context.Context) error {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, l.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	l.conn = conn
	return nil
}

// Close closes the callback stream.
func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil // Already closed
	}

	close(l.done)

	l.connMu.Lock()
	if l.conn != nil {
		l.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.conn.Close()
	}
	l.connMu.Unlock()

	l.wg.Wait()
	return nil
}

// readLoop reads callbacks from the stream and dispatches them,
// reconnecting with backoff on read failures.
func (l *Listener) readLoop() {
	defer l.wg.Done()

	reconnectDelay := l.config.ReconnectDelay

	for !l.closed.Load() {
		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			select {
			case <-l.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if l.closed.Load() {
				return
			}

			l.logger.Printf("callback stream read error: %v, reconnecting in %v", err, reconnectDelay)

			l.connMu.Lock()
			if l.conn != nil {
				l.conn.Close()
				l.conn = nil
			}
			l.connMu.Unlock()

			select {
			case <-l.done:
				return
			case <-time.After(reconnectDelay):
			}

			reconnectDelay *= 2
			if reconnectDelay > l.config.MaxReconnectDelay {
				reconnectDelay = l.config.MaxReconnectDelay
			}

			if err := l.connect(context.Background()); err != nil {
				l.logger.Printf("callback stream reconnect failed: %v", err)
				continue
			}

			l.logger.Printf("callback stream reconnected")
			reconnectDelay = l.config.ReconnectDelay
			continue
		}

		l.dispatch(data)
	}
}

// dispatch decodes one callback and routes it by kind. Handler errors are
// logged, not fatal: the gateway redelivers and handlers are idempotent.
func (l *Listener) dispatch(data []byte) {
	var cb Callback
	if err := json.Unmarshal(data, &cb); err != nil {
		l.logger.Printf("drop malformed callback: %v", err)
		return
	}
	if cb.IdempotencyKey == "" {
		l.logger.Printf("drop callback without idempotency key")
		return
	}
	cb.ReceivedAtMs = time.Now().UnixMilli()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch cb.Kind {
	case CallbackIssuance:
		err = l.issuance.HandleIssuanceCallback(ctx, cb)
	case CallbackPayout:
		err = l.payout.HandlePayoutCallback(ctx, cb)
	default:
		l.logger.Printf("drop callback with unknown kind %q", cb.Kind)
		return
	}

	if err != nil {
		l.logger.Printf("handle %s callback %s: %v", cb.Kind, cb.IdempotencyKey, err)
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (l *Listener) pingLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.connMu.Lock()
			if l.conn != nil {
				l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
				if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					l.logger.Printf("callback stream ping failed: %v", err)
				}
			}
			l.connMu.Unlock()
		}
	}
}
