package broker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// disconnectQuiesce is how long a 3.1.1 disconnect waits for in-flight
// work. It is kept well under the watchdog feed interval.
const disconnectQuiesce = 250 // milliseconds

// PahoV311 is an MQTT 3.1.1 transport for brokers that predate v5.
// Auto-reconnect and connect-retry are disabled.
type PahoV311 struct {
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	QoS            byte
}

func (t *PahoV311) Connect(ctx context.Context, clientID, host string, port int) (Conn, error) {
	broker := "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetKeepAlive(t.KeepAlive).
		SetConnectTimeout(t.ConnectTimeout)

	client := pahomqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: %w", broker, err)
	}
	return &pahoV311Conn{client: client, qos: t.QoS}, nil
}

type pahoV311Conn struct {
	client pahomqtt.Client
	qos    byte
}

func (c *pahoV311Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return waitToken(ctx, c.client.Publish(topic, c.qos, false, payload))
}

func (c *pahoV311Conn) Disconnect() error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}

// waitToken waits for tok or ctx, whichever finishes first.
func waitToken(ctx context.Context, tok pahomqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
