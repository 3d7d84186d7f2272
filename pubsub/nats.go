package pubsub

import (
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes market-data envelopes to a NATS broker. Channel
// names are mapped to subjects by replacing ":" with "." (trade:SOL_USDC
// becomes trade.SOL_USDC) so subscribers can use subject wildcards.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends the payload on the subject derived from channel.
func (p *NATSPublisher) Publish(channel string, payload []byte) error {
	return p.conn.Publish(Subject(channel), payload)
}

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		logger.Warn("nats drain failed", "error", err)
	}
	p.conn.Close()
}

// Subject converts a channel name to a NATS subject.
func Subject(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}
