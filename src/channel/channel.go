// Package channel implements the client side of the real-time notification
// connection: a single websocket owned by a state machine that survives
// flaky networks through bounded reconnection and detects silently-dead
// connections through a ping/pong heartbeat.
//
// All state transitions, timer fires, and socket events are funneled
// through one run-loop goroutine reading a single internal event channel,
// so no two transitions can ever interleave for the same Channel.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/framenote/notify/src/codec"
	"github.com/framenote/notify/src/dialer"
	"github.com/framenote/notify/src/types"
)

// Status is the externally visible connection state.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

var (
	// ErrNotConnected is returned by Send when the channel is not connected.
	ErrNotConnected = errors.New("channel not connected")
	// ErrConnectAborted is returned to a Connect caller whose open attempt
	// was superseded by Disconnect or Close.
	ErrConnectAborted = errors.New("connect aborted by disconnect")
	// ErrClosed is returned once Close has released the channel.
	ErrClosed = errors.New("channel closed")
)

// eventKind discriminates the run loop's single serialized input.
type eventKind int

const (
	evConnect    eventKind = iota // Connect command
	evDisconnect                  // Disconnect command
	evSend                        // Send command
	evDialDone                    // dial attempt finished
	evConnClosed                  // read pump observed close/error
	evFrame                       // decoded inbound frame
	evTimer                       // timer fired
)

type event struct {
	kind    eventKind
	epoch   uint64          // evDialDone, evConnClosed, evFrame
	conn    types.Conn      // evDialDone
	err     error           // evDialDone, evConnClosed
	frame   types.Event     // evFrame
	timer   timerKind       // evTimer
	gen     uint64          // evTimer
	ctx     context.Context // evConnect: bounds the dial
	payload []byte          // evSend: pre-encoded frame
	reply   chan error      // commands; buffered so the loop never blocks
}

// Channel is the notification connection controller. Create one with New,
// drive it with Connect/Disconnect/Send/Status, and release it with Close.
type Channel struct {
	cfg    Config
	dial   types.Dialer
	policy retryPolicy
	logger zerolog.Logger

	events    chan event
	callbacks chan func()
	done      chan struct{}
	closeOnce sync.Once

	status atomic.Value // Status mirror, readable without the run loop

	// Run-loop owned state. Nothing below is touched off the loop.
	timers        *timerTable
	conn          types.Conn
	epoch         uint64
	attempts      int
	connectWaiter chan error
}

// New creates a Channel and starts its run loop. The configuration is
// fixed for the life of the channel.
func New(cfg Config, logger zerolog.Logger) (*Channel, error) {
	cfg = cfg.withDefaults()
	if cfg.Dialer == nil {
		if cfg.Addr == "" {
			return nil, errors.New("channel: address required")
		}
		cfg.Dialer = dialer.New()
	}

	c := &Channel{
		cfg:    cfg,
		dial:   cfg.Dialer,
		policy: retryPolicy{interval: cfg.ReconnectInterval, maxAttempts: cfg.MaxReconnectAttempts},
		logger: logger.With().Str("component", "notify-channel").Logger(),

		events:    make(chan event, 64),
		callbacks: make(chan func(), 256),
		done:      make(chan struct{}),
		timers:    newTimerTable(cfg.Clock),
	}
	c.status.Store(StatusDisconnected)

	go c.run()
	go c.dispatchCallbacks()
	return c, nil
}

// Status returns the current connection status. Never blocks.
func (c *Channel) Status() Status {
	return c.status.Load().(Status)
}

// Connect opens the connection, blocking until the open attempt resolves.
// Calling Connect while connected or reconnecting is a no-op. A failed
// open returns the dial error and also starts the reconnect cycle.
func (c *Channel) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.post(event{kind: evConnect, ctx: ctx, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Disconnect closes the connection and cancels any pending reconnect.
// It is idempotent and never fails; calling it in any state leaves the
// channel disconnected with no further automatic activity.
func (c *Channel) Disconnect() {
	reply := make(chan error, 1)
	if err := c.post(event{kind: evDisconnect, reply: reply}); err != nil {
		return
	}
	select {
	case <-reply:
	case <-c.done:
	}
}

// Send serializes v and writes it as one text frame. It fails with
// ErrNotConnected unless the channel is currently connected.
func (c *Channel) Send(v any) error {
	payload, err := codec.EncodeOutbound(v)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := c.post(event{kind: evSend, payload: payload, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// Close disconnects and permanently stops the run loop and callback
// dispatcher. The channel cannot be reused afterwards.
func (c *Channel) Close() {
	c.Disconnect()
	c.closeOnce.Do(func() { close(c.done) })
}

// post submits a command to the run loop.
func (c *Channel) post(e event) error {
	select {
	case c.events <- e:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// postInternal submits an event from a pump, dial, or timer goroutine.
// After Close the event is discarded, closing any connection it carries.
func (c *Channel) postInternal(e event) {
	select {
	case c.events <- e:
	case <-c.done:
		if e.conn != nil {
			e.conn.Close()
		}
	}
}

func (c *Channel) run() {
	for {
		select {
		case e := <-c.events:
			c.handle(e)
		case <-c.done:
			c.timers.cancelAll()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			return
		}
	}
}

// dispatchCallbacks invokes user callbacks off the run loop, in order, so
// a callback may call back into the public API without deadlocking.
func (c *Channel) dispatchCallbacks() {
	for {
		select {
		case fn := <-c.callbacks:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Channel) handle(e event) {
	switch e.kind {
	case evConnect:
		c.handleConnect(e)
	case evDisconnect:
		c.handleDisconnect(e)
	case evSend:
		c.handleSend(e)
	case evDialDone:
		c.handleDialDone(e)
	case evConnClosed:
		c.handleConnClosed(e)
	case evFrame:
		c.handleFrame(e)
	case evTimer:
		c.handleTimer(e)
	}
}

func (c *Channel) handleConnect(e event) {
	switch c.Status() {
	case StatusConnected, StatusReconnecting:
		// Idempotent: no transition, no status callback.
		e.reply <- nil
		return
	}
	c.connectWaiter = e.reply
	c.setStatus(StatusReconnecting)
	c.beginDial(e.ctx)
}

func (c *Channel) handleDisconnect(e event) {
	c.timers.cancel(timerReconnect)
	c.teardownConn()
	c.replyConnect(ErrConnectAborted)
	c.setStatus(StatusDisconnected)
	e.reply <- nil
}

func (c *Channel) handleSend(e event) {
	if c.Status() != StatusConnected || c.conn == nil {
		e.reply <- ErrNotConnected
		return
	}
	if err := c.conn.WriteText(e.payload); err != nil {
		// A failing write means the connection is going down; the read
		// pump reports the close.
		c.logger.Warn().Err(err).Msg("write failed")
		e.reply <- fmt.Errorf("channel: write: %w", err)
		return
	}
	e.reply <- nil
}

// beginDial starts an asynchronous open attempt for a fresh epoch.
// A nil ctx (timer-driven retries) dials with the background context.
func (c *Channel) beginDial(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.epoch++
	ep := c.epoch
	addr := c.cfg.Addr
	go func() {
		conn, err := c.dial.Dial(ctx, addr)
		c.postInternal(event{kind: evDialDone, epoch: ep, conn: conn, err: err})
	}()
}

func (c *Channel) handleDialDone(e event) {
	if e.epoch != c.epoch || c.Status() != StatusReconnecting {
		// Superseded by Disconnect or a newer attempt.
		if e.conn != nil {
			e.conn.Close()
		}
		return
	}
	if e.err != nil {
		c.logger.Warn().Err(e.err).Str("addr", c.cfg.Addr).Msg("dial failed")
		c.replyConnect(fmt.Errorf("channel: dial %s: %w", c.cfg.Addr, e.err))
		c.scheduleRetry()
		return
	}

	c.conn = e.conn
	c.attempts = 0
	go c.readPump(e.conn, c.epoch)
	c.setStatus(StatusConnected)
	c.startHeartbeat()
	c.replyConnect(nil)
}

func (c *Channel) handleConnClosed(e event) {
	if e.epoch != c.epoch || c.conn == nil {
		return // stale: the connection was already torn down on purpose
	}
	c.logger.Warn().Err(e.err).Msg("connection lost")
	c.teardownConn()
	c.scheduleRetry()
}

func (c *Channel) handleFrame(e event) {
	if e.epoch != c.epoch {
		return
	}
	if _, ok := e.frame.(types.PongEvent); ok {
		c.heartbeatPong()
		return
	}
	if c.cfg.OnMessage == nil {
		return
	}
	ev := e.frame
	c.enqueueCallback(func() { c.cfg.OnMessage(ev) })
}

func (c *Channel) handleTimer(e event) {
	if !c.timers.live(e.timer, e.gen) {
		return
	}
	switch e.timer {
	case timerReconnect:
		if c.Status() != StatusReconnecting {
			return
		}
		c.beginDial(nil)
	case timerHeartbeat:
		c.heartbeatTick()
	case timerHeartbeatTimeout:
		c.heartbeatTimedOut()
	}
}

// scheduleRetry consults the retry policy after an unexpected close or a
// failed open: either arm the reconnect timer or settle in StatusFailed.
func (c *Channel) scheduleRetry() {
	delay, ok := c.policy.next(c.attempts)
	if !ok {
		c.logger.Error().Int("attempts", c.attempts).Msg("reconnect attempts exhausted")
		c.setStatus(StatusFailed)
		return
	}
	c.attempts++
	c.setStatus(StatusReconnecting)
	c.logger.Info().
		Int("attempt", c.attempts).
		Dur("delay", delay).
		Msg("scheduling reconnect")
	c.armTimer(timerReconnect, delay)
}

// teardownConn stops the heartbeat, closes the physical connection, and
// bumps the epoch so anything still in flight for it is ignored.
func (c *Channel) teardownConn() {
	c.stopHeartbeat()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.epoch++
}

// replyConnect releases a Connect caller waiting on the current attempt.
func (c *Channel) replyConnect(err error) {
	if c.connectWaiter != nil {
		c.connectWaiter <- err
		c.connectWaiter = nil
	}
}

// setStatus records a transition and queues the status callback.
// No-op transitions are suppressed.
func (c *Channel) setStatus(s Status) {
	if c.Status() == s {
		return
	}
	c.status.Store(s)
	c.logger.Debug().Str("status", string(s)).Msg("status changed")
	if c.cfg.OnStatus == nil {
		return
	}
	c.enqueueCallback(func() { c.cfg.OnStatus(s) })
}

func (c *Channel) enqueueCallback(fn func()) {
	select {
	case c.callbacks <- fn:
	case <-c.done:
	}
}

func (c *Channel) armTimer(k timerKind, d time.Duration) {
	c.timers.arm(k, d, func(kind timerKind, gen uint64) {
		c.postInternal(event{kind: evTimer, timer: kind, gen: gen})
	})
}

// readPump decodes frames off conn until it fails. Malformed and unknown
// frames are dropped here with a diagnostic; everything else is forwarded
// to the run loop tagged with the connection epoch.
func (c *Channel) readPump(conn types.Conn, epoch uint64) {
	for {
		data, err := conn.ReadText()
		if err != nil {
			c.postInternal(event{kind: evConnClosed, epoch: epoch, err: err})
			return
		}
		ev, err := codec.DecodeInbound(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("dropping inbound frame")
			continue
		}
		c.postInternal(event{kind: evFrame, epoch: epoch, frame: ev})
	}
}
