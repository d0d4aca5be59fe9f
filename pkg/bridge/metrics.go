package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	InboundMessages  prometheus.Counter
	OutboundMessages prometheus.Counter
	OutboundErrors   prometheus.Counter
	CommandsRouted   prometheus.Counter
	SSEConnected     prometheus.GaugeFunc
	Uptime           prometheus.GaugeFunc
}

// NewMetrics creates and registers the bridge collectors on reg.
// activeStreams reports how many agent event streams are connected.
func NewMetrics(reg prometheus.Registerer, uptimeSeconds, activeStreams func() float64) *Metrics {
	m := &Metrics{
		InboundMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_inbound_total",
			Help: "Messages received from the hub event stream.",
		}),
		OutboundMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_outbound_total",
			Help: "Messages relayed to the hub.",
		}),
		OutboundErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_outbound_errors_total",
			Help: "Messages dropped or failed during relay.",
		}),
		CommandsRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commands_routed_total",
			Help: "Commands routed to the agent runtime or handled locally.",
		}),
		SSEConnected: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Hub event streams currently connected.",
		}, activeStreams),
		Uptime: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "uptime_seconds",
			Help: "Seconds since the bridge started.",
		}, uptimeSeconds),
	}
	reg.MustRegister(m.InboundMessages, m.OutboundMessages, m.OutboundErrors,
		m.CommandsRouted, m.SSEConnected, m.Uptime)
	return m
}
