package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

// PahoV5 is an MQTT v5 transport built on the low-level paho client.
// The client runs over a connection dialed here, so a broken TCP
// session surfaces as a publish error rather than being repaired
// behind the session's back.
type PahoV5 struct {
	KeepAlive time.Duration
	QoS       byte
	Logger    *slog.Logger
}

func (t *PahoV5) Connect(ctx context.Context, clientID, host string, port int) (Conn, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn: nc,
		OnClientError: func(err error) {
			logger.Debug("mqtt client error", "broker", addr, "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			logger.Warn("broker sent disconnect", "broker", addr, "reason_code", d.ReasonCode)
		},
	})

	ack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  uint16(t.KeepAlive / time.Second),
		CleanStart: true,
	})
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("mqtt handshake with %s: %w", addr, err)
	}
	if ack.ReasonCode != 0 {
		_ = nc.Close()
		return nil, fmt.Errorf("mqtt handshake with %s: connack reason code %d", addr, ack.ReasonCode)
	}

	return &pahoV5Conn{client: client, qos: t.QoS}, nil
}

type pahoV5Conn struct {
	client *paho.Client
	qos    byte
}

func (c *pahoV5Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := c.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     c.qos,
		Payload: payload,
	})
	return err
}

func (c *pahoV5Conn) Disconnect() error {
	return c.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
