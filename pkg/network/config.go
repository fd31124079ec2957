package network

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config holds the options recognized by New. Host applications are
// responsible for producing one of these from whatever configuration
// surface they own (flags, files, environment); this package never reads
// any of those itself.
type Config struct {
	// Name identifies the node in logs. Left empty, a sequential integer
	// is assigned.
	Name string

	// DesiredListeningPort is the preferred local TCP port. Zero means
	// "no preference" — AllowRandomPort must then be true.
	DesiredListeningPort uint16

	// AllowRandomPort, when true, falls back to an OS-assigned port if
	// DesiredListeningPort is unavailable or unset. Defaults to true.
	AllowRandomPort bool

	// ConnReadBufferSize bounds a single framed message. Exceeding it
	// closes the connection with ErrOversizedMessage. Default 65536.
	ConnReadBufferSize int

	// InboundMessageQueueDepth bounds the optional node-wide processed
	// message channel (see Node.EnableIncomingRequests). Default 256.
	InboundMessageQueueDepth int

	// OutboundQueueDepth bounds each connection's outbound channel.
	// Default 64.
	OutboundQueueDepth int

	// HandshakeTimeout bounds how long a handshake closure may run before
	// the connection is dropped. Default 10s.
	HandshakeTimeout time.Duration

	// Logger receives structured events at levels debug/info/warn, keyed
	// by node name and peer address. Defaults to a no-op logger.
	Logger *zap.Logger

	// MetricsRegisterer, if non-nil, receives the node's Prometheus
	// collectors. Left nil, metrics are not registered anywhere.
	MetricsRegisterer prometheus.Registerer

	// Clock is the time source used for the handshake timeout and by the
	// topology builder's convergence wait. Defaults to the real clock;
	// tests may substitute clock.NewMock().
	Clock clock.Clock
}

// DefaultConfig returns the zero-value-safe defaults described by each
// Config field's doc comment.
func DefaultConfig() Config {
	return Config{
		AllowRandomPort:          true,
		ConnReadBufferSize:       64 * 1024,
		InboundMessageQueueDepth: 256,
		OutboundQueueDepth:       64,
		HandshakeTimeout:         10 * time.Second,
		Logger:                   zap.NewNop(),
		Clock:                    clock.New(),
	}
}

// withDefaults fills in zero-valued fields of cfg with DefaultConfig's
// values, leaving explicit (even zero) choices made by the caller alone
// where that distinction matters (AllowRandomPort is a bool and so cannot
// distinguish "unset" from "false" — it is left as the caller set it).
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnReadBufferSize <= 0 {
		c.ConnReadBufferSize = d.ConnReadBufferSize
	}
	if c.InboundMessageQueueDepth <= 0 {
		c.InboundMessageQueueDepth = d.InboundMessageQueueDepth
	}
	if c.OutboundQueueDepth <= 0 {
		c.OutboundQueueDepth = d.OutboundQueueDepth
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	return c
}
