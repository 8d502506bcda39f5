package events

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
)

// BrokerCheck returns a readiness check that passes while at least one of
// brokers accepts a connection.
func BrokerCheck(brokers []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		lastErr := errors.New("no brokers configured")
		for _, addr := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err != nil {
				lastErr = err
				continue
			}
			return conn.Close()
		}
		return errors.Wrap(lastErr, "kafka unreachable")
	}
}
