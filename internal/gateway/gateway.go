// Package gateway is the only place websocket primitives are touched.
// Everything above it consumes Send, the connection-state observable, and
// the gw.* events it publishes on the bus.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soukly/convo/internal/bus"
	"github.com/soukly/convo/internal/config"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	sendBufSize  = 64
	maxFrameSize = 8 << 20 // inline image attachments make frames large
)

var (
	// ErrNotConnected is returned by Send while the socket is down.
	ErrNotConnected = errors.New("gateway not connected")
	// ErrSendBufferFull is returned when the write pump cannot keep up.
	ErrSendBufferFull = errors.New("gateway send buffer full")
)

// Gateway maintains the realtime socket: it dials, reconnects with backoff,
// decodes inbound frames onto the bus, and drains a buffered send channel.
type Gateway struct {
	cfg     config.Gateway
	bus     *bus.Bus
	machine *StateMachine
	logger  *zap.Logger

	sendCh chan Envelope
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a gateway for the configured endpoint. Nothing happens until
// Start.
func New(cfg config.Gateway, b *bus.Bus, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:     cfg,
		bus:     b,
		machine: NewStateMachine(b),
		logger:  logger,
		sendCh:  make(chan Envelope, sendBufSize),
	}
}

// State returns the current connection state.
func (g *Gateway) State() State {
	return g.machine.Current()
}

// Connected reports whether frames can currently be sent.
func (g *Gateway) Connected() bool {
	return g.machine.Current() == StateConnected
}

// Send queues an outgoing frame. Fails fast while not connected so callers
// can surface the warning instead of silently buffering into a dead socket.
func (g *Gateway) Send(event string, payload any) error {
	if !g.Connected() {
		return ErrNotConnected
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case g.sendCh <- Envelope{Event: event, Payload: raw}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Start launches the connect/reconnect loop.
func (g *Gateway) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.run(ctx)
	}()
}

// Stop tears the connection down and waits for the loops to exit.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

func (g *Gateway) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		_ = g.machine.Transition(StateConnecting)

		conn, err := g.dial(ctx)
		if err != nil {
			_ = g.machine.Transition(StateDisconnected)
			g.logger.Warn("gateway dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		_ = g.machine.Transition(StateConnected)
		g.logger.Info("gateway connected", zap.String("url", g.cfg.URL))

		g.pump(ctx, conn)

		_ = g.machine.Transition(StateDisconnected)
		g.logger.Warn("gateway disconnected")
	}
}

func (g *Gateway) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if g.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+g.cfg.Token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, g.cfg.URL, header)
	return conn, err
}

// pump runs the read loop on the calling goroutine and the write loop on a
// second one; it returns when either side fails or ctx is cancelled.
func (g *Gateway) pump(ctx context.Context, conn *websocket.Conn) {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() { _ = conn.Close() }()

	var writerDone sync.WaitGroup
	writerDone.Add(1)
	go func() {
		defer writerDone.Done()
		g.writeLoop(pumpCtx, conn)
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("gateway read error", zap.Error(err))
			}
			cancel()
			writerDone.Wait()
			return
		}
		g.dispatch(&env)
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-g.sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				g.logger.Warn("gateway write error", zap.Error(err), zap.String("event", env.Event))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch decodes one inbound frame and publishes it. Transport order is
// preserved: frames are decoded and published by the single read loop.
func (g *Gateway) dispatch(env *Envelope) {
	kind, payload, err := decodeEnvelope(env)
	if err != nil {
		g.logger.Warn("dropping malformed frame", zap.String("event", env.Event), zap.Error(err))
		return
	}
	if kind == "" {
		g.logger.Debug("dropping unknown event", zap.String("event", env.Event))
		return
	}
	g.bus.Publish(bus.Now(kind, payload))
}
