package events

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/nats-io/nats.go"
)

// NatsWriter publishes every event as structured-mode JSON on topic.
type NatsWriter struct {
	conn *nats.Conn
}

func NewNatsWriter(url string) (*NatsWriter, error) {
	conn, err := nats.Connect(url,
		nats.Name("inference-queue"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NatsWriter{conn: conn}, nil
}

func (n *NatsWriter) Write(_ context.Context, topic string, e cloudevents.Event) error {
	data, err := e.MarshalJSON()
	if err != nil {
		return err
	}
	return n.conn.Publish(topic, data)
}

func (n *NatsWriter) Close(ctx context.Context) error {
	if err := n.conn.FlushWithContext(ctx); err != nil && n.conn.IsConnected() {
		return err
	}
	n.conn.Close()
	return nil
}
