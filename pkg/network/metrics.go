package network

import "github.com/prometheus/client_golang/prometheus"

// metrics mirrors the package-level-collector pattern neo-go's
// pkg/consensus uses (see prometheus.go there): plain prometheus objects
// built once per Node and registered with whatever Registerer the caller
// supplied, so two Nodes in one process don't collide on collector
// registration.
type metrics struct {
	connectionsAccepted  prometheus.Counter
	connectionsInitiated prometheus.Counter
	handshakeFailures    prometheus.Counter
	messagesSent         prometheus.Counter
	messagesReceived     prometheus.Counter
	bytesSent            prometheus.Counter
	bytesReceived        prometheus.Counter
	oversizedClosures    prometheus.Counter
	decodeErrorClosures  prometheus.Counter
	handshaking          prometheus.Gauge
	handshaken           prometheus.Gauge
}

func newMetrics(nodeName string) *metrics {
	labels := prometheus.Labels{"node": nodeName}
	mk := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "p2pnode",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	mkGauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "p2pnode",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &metrics{
		connectionsAccepted:  mk("connections_accepted_total", "Inbound connections accepted."),
		connectionsInitiated: mk("connections_initiated_total", "Outbound connections initiated."),
		handshakeFailures:    mk("handshake_failures_total", "Handshakes that failed or timed out."),
		messagesSent:         mk("messages_sent_total", "Messages written to peer sockets."),
		messagesReceived:     mk("messages_received_total", "Messages decoded from a peer."),
		bytesSent:            mk("bytes_sent_total", "Bytes written to peer sockets."),
		bytesReceived:        mk("bytes_received_total", "Bytes read from peer sockets."),
		oversizedClosures:    mk("oversized_message_closures_total", "Connections closed for an oversized message."),
		decodeErrorClosures:  mk("decode_error_closures_total", "Connections closed for a decode error."),
		handshaking:          mkGauge("handshaking_peers", "Peers currently in the handshaking stage."),
		handshaken:           mkGauge("handshaken_peers", "Peers currently handshaken."),
	}
}

func (m *metrics) register(reg prometheus.Registerer) {
	if reg == nil || m == nil {
		return
	}
	collectors := []prometheus.Collector{
		m.connectionsAccepted, m.connectionsInitiated, m.handshakeFailures,
		m.messagesSent, m.messagesReceived, m.bytesSent, m.bytesReceived,
		m.oversizedClosures, m.decodeErrorClosures, m.handshaking, m.handshaken,
	}
	for _, c := range collectors {
		reg.MustRegister(c)
	}
}
