// Package feed ingests notifications published by the application's API
// layer over Redis pub/sub and hands them to the relay for delivery. It is
// a one-way ingest into a single relay instance, not cross-replica fan-out.
package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/framenote/notify/src/types"
)

// PushTarget receives notifications decoded off the feed.
type PushTarget interface {
	PushNotification(n types.Notification)
}

// RedisFeed subscribes to a Redis channel carrying Notification JSON.
type RedisFeed struct {
	client  *redis.Client
	channel string
	target  PushTarget
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisFeed creates a feed that forwards published notifications to target.
func NewRedisFeed(cfg *RedisConfig, target PushTarget, logger zerolog.Logger) *RedisFeed {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisFeed{
		client:  client,
		channel: cfg.Channel,
		target:  target,
		logger:  logger.With().Str("component", "redis-feed").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the feed channel and begins forwarding notifications.
func (f *RedisFeed) Start() error {
	if err := f.client.Ping(f.ctx).Err(); err != nil {
		return err
	}

	sub := f.client.Subscribe(f.ctx, f.channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(f.ctx); err != nil {
		return err
	}

	f.mu.Lock()
	f.active = true
	f.mu.Unlock()

	f.wg.Add(1)
	go f.listen(sub)

	f.logger.Info().Str("channel", f.channel).Msg("redis feed started")
	return nil
}

// Stop unsubscribes and closes the Redis connection.
func (f *RedisFeed) Stop() error {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()

	f.cancel()
	f.wg.Wait()
	return f.client.Close()
}

// Available reports whether the feed is subscribed.
func (f *RedisFeed) Available() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

// listen reads messages from the Redis subscription and forwards them.
func (f *RedisFeed) listen(sub *redis.PubSub) {
	defer f.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f.handleMessage(msg)
		case <-f.ctx.Done():
			return
		}
	}
}

// handleMessage decodes one published notification and pushes it.
// Payloads that are not valid notifications are dropped with a diagnostic.
func (f *RedisFeed) handleMessage(msg *redis.Message) {
	var n types.Notification
	if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
		f.logger.Error().Err(err).Msg("failed to decode feed payload")
		return
	}
	if n.ID == "" || !n.Type.Known() {
		f.logger.Warn().
			Str("id", n.ID).
			Str("type", string(n.Type)).
			Msg("dropping invalid notification from feed")
		return
	}

	f.logger.Debug().Str("id", n.ID).Str("type", string(n.Type)).Msg("forwarding notification")
	f.target.PushNotification(n)
}
