package channel

import "github.com/framenote/notify/src/codec"

// The heartbeat monitor runs only while the channel is connected. Every
// HeartbeatInterval it writes a ping and arms a reply timeout; a pong
// cancels the timeout, and an expired timeout forces the connection closed.
// All methods here execute on the run loop.

// startHeartbeat arms the periodic liveness probe.
func (c *Channel) startHeartbeat() {
	c.armTimer(timerHeartbeat, c.cfg.HeartbeatInterval)
}

// heartbeatTick sends one ping and arms the reply timeout.
func (c *Channel) heartbeatTick() {
	if c.Status() != StatusConnected || c.conn == nil {
		return
	}
	if err := c.conn.WriteText(codec.Ping()); err != nil {
		// The read pump will observe the failing connection; the armed
		// timeout covers the case where it does not.
		c.logger.Warn().Err(err).Msg("ping write failed")
	}
	c.armTimer(timerHeartbeatTimeout, c.cfg.HeartbeatTimeout)
	c.armTimer(timerHeartbeat, c.cfg.HeartbeatInterval)
}

// heartbeatPong cancels the armed reply timeout.
func (c *Channel) heartbeatPong() {
	c.timers.cancel(timerHeartbeatTimeout)
}

// heartbeatTimedOut forces the connection closed. The close is always
// treated as unexpected and drives the reconnect path, regardless of the
// close code the transport ends up reporting.
func (c *Channel) heartbeatTimedOut() {
	if c.Status() != StatusConnected || c.conn == nil {
		return
	}
	c.logger.Warn().
		Dur("timeout", c.cfg.HeartbeatTimeout).
		Msg("heartbeat timed out, forcing close")
	c.teardownConn()
	c.scheduleRetry()
}

// stopHeartbeat cancels both the period timer and any armed timeout.
// Leaving either running would cause spurious forced closes after a
// later reconnect.
func (c *Channel) stopHeartbeat() {
	c.timers.cancel(timerHeartbeat)
	c.timers.cancel(timerHeartbeatTimeout)
}
