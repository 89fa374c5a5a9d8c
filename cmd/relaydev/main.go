// relaydev is the local development relay: it serves the websocket endpoint
// the notification channel connects to, answers heartbeat pings, fans client
// commands out across a user's tabs, and pushes notifications published to
// the Redis feed by the application's API layer.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/framenote/notify/config"
	"github.com/framenote/notify/src/feed"
	"github.com/framenote/notify/src/relay"
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dev tool: accept connections from any origin.
	CheckOrigin: func(ctx *fasthttp.RequestCtx) bool { return true },
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	cfg := config.RelayConfigFromEnv()

	r := relay.New(logger)
	go r.Run()

	// The Redis feed is optional; without it the relay still answers
	// pings and relays client commands between tabs.
	f := feed.NewRedisFeed(feed.RedisConfigFromEnv(), r, logger)
	if err := f.Start(); err != nil {
		logger.Warn().Err(err).Msg("redis feed unavailable, running standalone")
		f = nil
	}

	app := fiber.New()
	app.Get("/ws/info", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"websocket": true,
			"endpoint":  "/ws",
			"clients":   r.ClientCount(),
		})
	})

	fiberHandler := app.Handler()
	wsHandler := upgradeHandler(r, logger)

	// Fiber v3 does not expose *fasthttp.RequestCtx, so the websocket
	// upgrade is registered at the fasthttp level.
	root := func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/ws" {
			wsHandler(ctx)
			return
		}
		fiberHandler(ctx)
	}

	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, promhttp.Handler()); err != nil {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	server := &fasthttp.Server{Handler: root}
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("relay listening")
		if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
			logger.Fatal().Err(err).Msg("relay server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")
	if f != nil {
		if err := f.Stop(); err != nil {
			logger.Error().Err(err).Msg("feed stop error")
		}
	}
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	r.Stop()
}

func upgradeHandler(r *relay.Relay, logger zerolog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		clientID := uuid.New().String()
		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := relay.NewClient(clientID, &fasthttpConn{conn}, r)
			r.Register(client)
			go client.WritePump()
			client.ReadPump()
		})
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// fasthttpConn adapts fasthttp/websocket.Conn to the relay's conn interface.
type fasthttpConn struct {
	conn *websocket.Conn
}

func (f *fasthttpConn) ReadText() ([]byte, error) {
	for {
		mt, data, err := f.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (f *fasthttpConn) WriteText(data []byte) error {
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *fasthttpConn) Close() error { return f.conn.Close() }
