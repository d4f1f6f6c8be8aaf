// Package realtime maintains the websocket channel to the game backend: it
// dials, keeps the connection alive with pings, decodes inbound frames into
// typed updates and sends tap batches. Connection loss is handled internally
// with an explicit reconnect loop; the orchestrator only ever sees the
// Updates stream and the SendTap entry point.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	xproxy "golang.org/x/net/proxy"

	"github.com/Exelery/else-bot/internal/account"
	"github.com/Exelery/else-bot/internal/config"
	"github.com/Exelery/else-bot/internal/pacing"
)

// ConnState is the lifecycle position of the channel.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

// String returns the state name for logging.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// errTokenExpired signals that the server rejected the session token on the
// open channel.
var errTokenExpired = errors.New("session token rejected by channel")

// ErrNotOpen reports a send attempted while the channel is not open. Nothing
// is queued; the caller skips the send for this cycle.
var ErrNotOpen = errors.New("channel not open")

// tokenExpiredCode is the error code the backend sends on a stale token.
const tokenExpiredCode = "token-expired"

// updatesBuffer bounds the outbound update stream. Pushes beyond it evict the
// oldest entry; regen ticks coalesce instead of queueing.
const updatesBuffer = 32

// clickFrame is the outbound tap message.
type clickFrame struct {
	Event string    `json:"event"`
	Data  clickData `json:"data"`
	ReqID int64     `json:"reqId"`
}

type clickData struct {
	Points string `json:"points"`
}

// pingFrame is the keep-alive message.
type pingFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Channel is the realtime connection for one account. It reads the session
// token from the shared account state at dial time, so a token renewed by the
// orchestrator is picked up on the next (re)connect without coordination.
type Channel struct {
	cfg   *config.Config
	state *account.State
	pacer *pacing.Source
	log   *zap.Logger

	updates chan account.Update

	// scheme is "wss" in production; tests dial plain "ws" loopback servers.
	scheme string

	mu        sync.Mutex
	conn      *websocket.Conn
	connState ConnState
	reqID     int64
	lastSend  time.Time
	lastRecv  time.Time
}

// NewChannel builds a channel for one account. Run must be started for any
// traffic to flow.
func NewChannel(cfg *config.Config, state *account.State, pacer *pacing.Source, log *zap.Logger) *Channel {
	return &Channel{
		cfg:     cfg,
		state:   state,
		pacer:   pacer,
		log:     log,
		updates: make(chan account.Update, updatesBuffer),
		scheme:  "wss",
	}
}

// Updates is the stream of typed updates the orchestrator drains and applies.
func (c *Channel) Updates() <-chan account.Update {
	return c.updates
}

// State returns the current connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// Run drives the channel until ctx is cancelled: dial, serve the connection,
// and on any loss wait a jittered delay and dial again. Reconnects after a
// token rejection reuse whatever token the account state holds at that
// moment.
func (c *Channel) Run(ctx context.Context) error {
	defer c.setState(StateClosed)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.serveOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, errTokenExpired):
			c.setState(StateErrored)
			delay := jitterWithin(c.cfg.RequestDelay)
			c.log.Warn("channel token rejected, reconnecting",
				zap.Int64("userId", c.state.UserID),
				zap.Duration("delay", delay))
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		default:
			c.setState(StateDisconnected)
			delay := time.Duration(500+rand.Intn(1500)) * time.Millisecond
			c.log.Warn("channel lost, reconnecting",
				zap.Int64("userId", c.state.UserID),
				zap.Error(err),
				zap.Duration("delay", delay))
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}
	}
}

// serveOnce dials and serves a single connection until it is lost or the
// context ends.
func (c *Channel) serveOnce(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	now := time.Now()
	c.mu.Lock()
	c.conn = conn
	c.connState = StateOpen
	c.reqID = now.UnixMilli()
	c.lastSend = now
	c.lastRecv = now
	c.mu.Unlock()

	c.log.Info("channel open", zap.Int64("userId", c.state.UserID))

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- payload:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	pendingTicks := 0

	for {
		select {
		case <-ctx.Done():
			// Writers are serialized on c.mu; a concurrent tap must not race
			// the close frame.
			c.mu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.mu.Unlock()
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("read: %w", err)

		case payload := <-frames:
			c.mu.Lock()
			c.lastRecv = time.Now()
			c.mu.Unlock()

			if err := c.handleFrame(payload); err != nil {
				return err
			}

		case <-ticker.C:
			pendingTicks++
			select {
			case c.updates <- account.RegenUpdate{Ticks: pendingTicks}:
				pendingTicks = 0
			default:
				// Orchestrator busy; keep accumulating.
			}

			if c.idleFor() > c.cfg.PingInterval {
				if err := c.writeJSON(pingFrame{Event: "ping", Data: nil}); err != nil {
					return fmt.Errorf("ping: %w", err)
				}
			}
		}
	}
}

// handleFrame classifies one inbound payload. Malformed frames are logged and
// dropped without touching the connection; a token rejection terminates the
// connection for the reconnect loop to handle.
func (c *Channel) handleFrame(payload []byte) error {
	frame, err := decodeFrame(payload)
	if err != nil {
		c.log.Warn("dropping malformed frame",
			zap.Int64("userId", c.state.UserID),
			zap.Error(err))
		return nil
	}

	switch f := frame.(type) {
	case PushFrame:
		c.emit(account.PushUpdate{Data: f.Data})

	case ErrorFrame:
		if f.Code == tokenExpiredCode {
			return errTokenExpired
		}
		c.log.Warn("channel error frame",
			zap.Int64("userId", c.state.UserID),
			zap.String("code", f.Code))

	case OtherFrame:
		c.log.Debug("unhandled frame",
			zap.Int64("userId", c.state.UserID),
			zap.ByteString("raw", f.Raw))
	}
	return nil
}

// emit queues an update, evicting the oldest queued one when the buffer is
// full. Newer snapshots supersede older ones, so eviction loses nothing.
func (c *Channel) emit(u account.Update) {
	for {
		select {
		case c.updates <- u:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}

// SendTap sends one tap batch: a zero-points click to mark activity, a pause
// matching a human tap burst, then the points claim. Returns ErrNotOpen
// without sending anything when the channel is down, so the caller knows the
// points were not claimed and must not account for them.
func (c *Channel) SendTap(ctx context.Context, points float64) error {
	if c.State() != StateOpen {
		c.log.Warn("tap skipped, channel not open",
			zap.Int64("userId", c.state.UserID),
			zap.Stringer("state", c.State()))
		return ErrNotOpen
	}

	if err := c.writeJSON(c.nextClick("0")); err != nil {
		return fmt.Errorf("tap open: %w", err)
	}

	cadence := c.pacer.TapCadence(points, c.state.PPC)
	if err := sleepCtx(ctx, cadence); err != nil {
		return err
	}

	// The wire contract wants an integer string.
	claim := strconv.FormatInt(int64(math.Round(points)), 10)
	if err := c.writeJSON(c.nextClick(claim)); err != nil {
		return fmt.Errorf("tap claim: %w", err)
	}

	c.log.Debug("tap sent",
		zap.Int64("userId", c.state.UserID),
		zap.Float64("points", points),
		zap.Duration("cadence", cadence))
	return nil
}

// nextClick builds a click frame with the next request id.
func (c *Channel) nextClick(points string) clickFrame {
	c.mu.Lock()
	c.reqID++
	id := c.reqID
	c.mu.Unlock()
	return clickFrame{Event: "click", Data: clickData{Points: points}, ReqID: id}
}

func (c *Channel) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotOpen
	}
	c.lastSend = time.Now()
	return c.conn.WriteJSON(v)
}

func (c *Channel) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := c.lastSend
	if c.lastRecv.After(last) {
		last = c.lastRecv
	}
	return time.Since(last)
}

func (c *Channel) setState(s ConnState) {
	c.mu.Lock()
	c.connState = s
	c.mu.Unlock()
}

// dial opens the websocket with the browser header set and the account's
// proxy, authenticating with the current token from the account state.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.state.JWT == "" {
		return nil, errors.New("no session token")
	}

	u := url.URL{
		Scheme: c.scheme,
		Host:   c.cfg.WSHost,
		Path:   "/ws/",
		RawQuery: url.Values{
			"token":  {c.state.JWT},
			"userId": {strconv.FormatInt(c.state.UserID, 10)},
		}.Encode(),
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.WSHandshakeTimeout,
	}
	if err := c.applyProxy(&dialer); err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Origin", c.cfg.Origin)
	if ua := c.state.Session.UserAgent; ua != "" {
		header.Set("User-Agent", ua)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// applyProxy wires the session's proxy into the dialer. HTTP proxies go
// through the dialer's Proxy hook, socks5 through a custom net dialer.
func (c *Channel) applyProxy(dialer *websocket.Dialer) error {
	raw := c.state.Session.Proxy
	if raw == "" {
		return nil
	}

	pu, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("bad proxy url: %w", err)
	}

	switch pu.Scheme {
	case "http", "https":
		dialer.Proxy = http.ProxyURL(pu)
	case "socks5", "socks5h":
		var auth *xproxy.Auth
		if pu.User != nil {
			pass, _ := pu.User.Password()
			auth = &xproxy.Auth{User: pu.User.Username(), Password: pass}
		}
		sd, err := xproxy.SOCKS5("tcp", pu.Host, auth, xproxy.Direct)
		if err != nil {
			return fmt.Errorf("socks5 proxy: %w", err)
		}
		dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := sd.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return sd.Dial(network, addr)
		}
	default:
		return fmt.Errorf("unsupported proxy scheme %q", pu.Scheme)
	}
	return nil
}

// jitterWithin draws a duration from r using the global rand stream. The
// reconnect loop runs on the channel goroutine and must not share the
// orchestrator's pacing source.
func jitterWithin(r config.DelayRange) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int63n(int64(r.Max-r.Min)))
}

// sleepCtx waits for d or until ctx ends, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
