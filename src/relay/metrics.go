package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "notify",
		Subsystem: "relay",
		Name:      "connected_clients",
		Help:      "Number of currently connected websocket clients.",
	})

	framesPushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "notify",
		Subsystem: "relay",
		Name:      "frames_pushed_total",
		Help:      "Frames queued to client send buffers.",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "notify",
		Subsystem: "relay",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped because a client send buffer was full.",
	})
)
