package channel_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framenote/notify/src/channel"
	"github.com/framenote/notify/src/types"
)

const waitFor = 2 * time.Second

// Tuning used by every test; the three durations are distinct so the fake
// clock can identify timers by duration.
const (
	testReconnectInterval = 50 * time.Millisecond
	testHeartbeatInterval = time.Second
	testHeartbeatTimeout  = 300 * time.Millisecond
)

// fakeConn scripts one connection episode.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	frames  chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadText() ([]byte, error) {
	select {
	case fr := <-c.frames:
		return fr, nil
	case <-c.closed:
		return nil, errors.New("connection reset")
	}
}

func (c *fakeConn) WriteText(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection reset")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(frame string) {
	c.frames <- []byte(frame)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) wroteFrame(t *testing.T, substr string) bool {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, fr := range c.written {
			if strings.Contains(string(fr), substr) {
				c.mu.Unlock()
				return true
			}
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// fakeDialer hands out scripted results; an empty script means the
// endpoint is unreachable.
type fakeDialer struct {
	mu      sync.Mutex
	results []any // *fakeConn or error
	dials   int
}

func (d *fakeDialer) queueConn(c *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, c)
}

func (d *fakeDialer) queueErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, err)
}

func (d *fakeDialer) Dial(ctx context.Context, addr string) (types.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return nil, errors.New("relay unreachable")
	}
	res := d.results[0]
	d.results = d.results[1:]
	if err, ok := res.(error); ok {
		return nil, err
	}
	return res.(*fakeConn), nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) waitDials(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if d.dialCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d dials, got %d", n, d.dialCount())
}

// fakeClock records timers instead of scheduling them; tests fire them
// explicitly, identified by duration.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock { return &fakeClock{} }

func (fc *fakeClock) AfterFunc(d time.Duration, fn func()) channel.Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTimer{clock: fc, d: d, fn: fn}
	fc.timers = append(fc.timers, ft)
	return ft
}

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	active := !ft.stopped && !ft.fired
	ft.stopped = true
	return active
}

// takeLive pops the oldest live timer with duration d, if any.
func (fc *fakeClock) takeLive(d time.Duration) *fakeTimer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, ft := range fc.timers {
		if ft.d == d && !ft.stopped && !ft.fired {
			ft.fired = true
			return ft
		}
	}
	return nil
}

// fire waits for a live timer with duration d and runs it.
func (fc *fakeClock) fire(t *testing.T, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if ft := fc.takeLive(d); ft != nil {
			ft.fn()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no live timer with duration %v", d)
}

// fireIfAny runs a live timer with duration d if one exists.
func (fc *fakeClock) fireIfAny(d time.Duration) bool {
	if ft := fc.takeLive(d); ft != nil {
		ft.fn()
		return true
	}
	return false
}

func newTestChannel(t *testing.T, d *fakeDialer, fc *fakeClock, maxAttempts int) (*channel.Channel, chan channel.Status, chan types.Event) {
	t.Helper()
	statusCh := make(chan channel.Status, 32)
	msgCh := make(chan types.Event, 32)

	ch, err := channel.New(channel.Config{
		Addr:                 "ws://relay.test/ws",
		OnStatus:             func(s channel.Status) { statusCh <- s },
		OnMessage:            func(ev types.Event) { msgCh <- ev },
		ReconnectInterval:    testReconnectInterval,
		MaxReconnectAttempts: maxAttempts,
		HeartbeatInterval:    testHeartbeatInterval,
		HeartbeatTimeout:     testHeartbeatTimeout,
		Dialer:               d,
		Clock:                fc,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(ch.Close)
	return ch, statusCh, msgCh
}

func waitStatus(t *testing.T, statusCh chan channel.Status, want channel.Status) {
	t.Helper()
	select {
	case got := <-statusCh:
		require.Equal(t, want, got)
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for status %q", want)
	}
}

func waitEvent(t *testing.T, msgCh chan types.Event) types.Event {
	t.Helper()
	select {
	case ev := <-msgCh:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for message event")
		return nil
	}
}

func connectChannel(t *testing.T, ch *channel.Channel, statusCh chan channel.Status) {
	t.Helper()
	require.NoError(t, ch.Connect(context.Background()))
	waitStatus(t, statusCh, channel.StatusReconnecting)
	waitStatus(t, statusCh, channel.StatusConnected)
}

func TestConnectDeliversNotifications(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()
	conn := newFakeConn()
	d.queueConn(conn)

	ch, statusCh, msgCh := newTestChannel(t, d, fc, 2)
	connectChannel(t, ch, statusCh)
	assert.Equal(t, channel.StatusConnected, ch.Status())

	conn.deliver(`{"type":"notification","payload":{"id":"n1","type":"mention","title":"Mentioned","message":"@you in Cut 3","timestamp":"2026-08-20T10:30:00Z"}}`)

	ev := waitEvent(t, msgCh)
	ne, ok := ev.(types.NotificationEvent)
	require.True(t, ok, "expected NotificationEvent, got %T", ev)
	assert.Equal(t, "n1", ne.Notification.ID)
	assert.Equal(t, types.NotificationMention, ne.Notification.Type)
}

func TestMalformedAndUnknownFramesDropped(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()
	conn := newFakeConn()
	d.queueConn(conn)

	ch, statusCh, msgCh := newTestChannel(t, d, fc, 2)
	connectChannel(t, ch, statusCh)

	conn.deliver(`{definitely not json`)
	conn.deliver(`{"type":"presence_update","payload":{}}`)
	conn.deliver(`{"type":"notification","payload":{"id":"","type":"comment"}}`)
	conn.deliver(`{"type":"notification","payload":{"id":"n2","type":"comment","title":"ok","message":"m","timestamp":"2026-08-20T10:30:00Z"}}`)

	// The first event through is the valid frame; the dropped ones
	// never reached the callback.
	ev := waitEvent(t, msgCh)
	ne, ok := ev.(types.NotificationEvent)
	require.True(t, ok)
	assert.Equal(t, "n2", ne.Notification.ID)

	// Connection state untouched.
	assert.Equal(t, channel.StatusConnected, ch.Status())
	assert.Len(t, statusCh, 0)
}

func TestConnectIdempotent(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()
	d.queueConn(newFakeConn())

	ch, statusCh, _ := newTestChannel(t, d, fc, 2)
	connectChannel(t, ch, statusCh)

	require.NoError(t, ch.Connect(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, statusCh, 0, "second Connect must not fire a status callback")
	assert.Equal(t, 1, d.dialCount(), "second Connect must not dial")
}

func TestSendRequiresConnection(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()

	ch, _, _ := newTestChannel(t, d, fc, 2)

	err := ch.Send(map[string]any{"type": "ping"})
	assert.ErrorIs(t, err, channel.ErrNotConnected)
	assert.Equal(t, 0, d.dialCount(), "failed send must not touch the transport")
}

func TestSendWritesFrame(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()
	conn := newFakeConn()
	d.queueConn(conn)

	ch, statusCh, _ := newTestChannel(t, d, fc, 2)
	connectChannel(t, ch, statusCh)

	require.NoError(t, ch.Send(map[string]any{
		"type":           "notification_read",
		"notificationId": "n1",
	}))
	assert.True(t, conn.wroteFrame(t, `"notification_read"`))
}

func TestDisconnectIdempotent(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()
	conn := newFakeConn()
	d.queueConn(conn)

	ch, statusCh, _ := newTestChannel(t, d, fc, 2)
	connectChannel(t, ch, statusCh)

	ch.Disconnect()
	waitStatus(t, statusCh, channel.StatusDisconnected)
	assert.True(t, conn.isClosed())

	ch.Disconnect()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, statusCh, 0, "second Disconnect must not fire a duplicate callback")
	assert.Equal(t, channel.StatusDisconnected, ch.Status())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()

	ch, statusCh, _ := newTestChannel(t, d, fc, 5)

	err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
	waitStatus(t, statusCh, channel.StatusReconnecting)

	ch.Disconnect()
	waitStatus(t, statusCh, channel.StatusDisconnected)

	assert.False(t, fc.fireIfAny(testReconnectInterval), "reconnect timer must be cancelled")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount(), "no retry after manual disconnect")
}

func TestReconnectExhaustion(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()

	// maxReconnectAttempts=2: initial open plus two retries, then failed.
	ch, statusCh, _ := newTestChannel(t, d, fc, 2)

	err := ch.Connect(context.Background())
	require.Error(t, err)
	waitStatus(t, statusCh, channel.StatusReconnecting)

	fc.fire(t, testReconnectInterval)
	d.waitDials(t, 2)

	fc.fire(t, testReconnectInterval)
	waitStatus(t, statusCh, channel.StatusFailed)

	assert.Equal(t, 3, d.dialCount())
	assert.False(t, fc.fireIfAny(testReconnectInterval), "no further retry may be scheduled")
	assert.Equal(t, channel.StatusFailed, ch.Status())
}

func TestAttemptCounterResetsOnSuccess(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()
	conn := newFakeConn()
	d.queueErr(errors.New("relay unreachable"))
	d.queueConn(conn)

	ch, statusCh, _ := newTestChannel(t, d, fc, 2)

	require.Error(t, ch.Connect(context.Background()))
	waitStatus(t, statusCh, channel.StatusReconnecting)

	// First retry succeeds; the attempt counter must reset to zero.
	fc.fire(t, testReconnectInterval)
	waitStatus(t, statusCh, channel.StatusConnected)

	// Drop the connection: exactly maxReconnectAttempts further failed
	// attempts are tolerated before the channel fails.
	conn.Close()
	waitStatus(t, statusCh, channel.StatusReconnecting)

	fc.fire(t, testReconnectInterval)
	d.waitDials(t, 3)
	fc.fire(t, testReconnectInterval)
	waitStatus(t, statusCh, channel.StatusFailed)

	assert.Equal(t, 4, d.dialCount())
}

func TestUnexpectedCloseReconnects(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	d.queueConn(conn1)
	d.queueConn(conn2)

	ch, statusCh, msgCh := newTestChannel(t, d, fc, 3)
	connectChannel(t, ch, statusCh)

	conn1.Close()
	waitStatus(t, statusCh, channel.StatusReconnecting)

	fc.fire(t, testReconnectInterval)
	waitStatus(t, statusCh, channel.StatusConnected)
	assert.Equal(t, 2, d.dialCount())

	// The fresh connection is live end to end.
	conn2.deliver(`{"type":"notification","payload":{"id":"n3","type":"system","title":"t","message":"m","timestamp":"2026-08-20T10:30:00Z"}}`)
	ev := waitEvent(t, msgCh)
	_, ok := ev.(types.NotificationEvent)
	assert.True(t, ok)
}

func TestHeartbeatPingAndPong(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()
	conn := newFakeConn()
	d.queueConn(conn)

	ch, statusCh, msgCh := newTestChannel(t, d, fc, 2)
	connectChannel(t, ch, statusCh)

	fc.fire(t, testHeartbeatInterval)
	assert.True(t, conn.wroteFrame(t, `"ping"`))

	// The pong is consumed internally; the notification that follows it
	// is the first event to reach the callback.
	conn.deliver(`{"type":"pong"}`)
	conn.deliver(`{"type":"notification","payload":{"id":"n4","type":"comment","title":"t","message":"m","timestamp":"2026-08-20T10:30:00Z"}}`)
	ev := waitEvent(t, msgCh)
	ne, ok := ev.(types.NotificationEvent)
	require.True(t, ok, "pong must not be forwarded; got %T", ev)
	assert.Equal(t, "n4", ne.Notification.ID)

	// The pong cancelled the armed reply timeout.
	assert.False(t, fc.fireIfAny(testHeartbeatTimeout))
	assert.Equal(t, channel.StatusConnected, ch.Status())
}

func TestHeartbeatTimeoutForcesClose(t *testing.T) {
	d := &fakeDialer{}
	fc := newFakeClock()
	conn := newFakeConn()
	d.queueConn(conn)

	ch, statusCh, _ := newTestChannel(t, d, fc, 2)
	connectChannel(t, ch, statusCh)

	fc.fire(t, testHeartbeatInterval)
	assert.True(t, conn.wroteFrame(t, `"ping"`))

	// No pong: the timeout fires and the close is treated as unexpected,
	// driving the reconnect path.
	fc.fire(t, testHeartbeatTimeout)
	waitStatus(t, statusCh, channel.StatusReconnecting)
	assert.True(t, conn.isClosed())

	err := ch.Send(map[string]any{"type": "ping"})
	assert.ErrorIs(t, err, channel.ErrNotConnected)
}
