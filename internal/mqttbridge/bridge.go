// Package mqttbridge mirrors the Core's lifecycle state, its fleet size
// and its fleet events onto an MQTT broker so the satellite broker's health is
// visible to the rest of the home-automation stack. It is a monitoring
// convenience: every publish is best-effort, and a broker that is
// unreachable or slow never affects routing correctness or latency.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/satcore/internal/broker"
	"github.com/nugget/satcore/internal/config"
)

// StatsSource provides runtime fleet statistics for the periodic
// status publish. The concrete adapter is wired at cmd/satcore level so
// this package never depends on broker.Core directly for more than its
// public accessors.
type StatsSource interface {
	State() broker.State
	FleetSize() int
}

// Bridge connects to an MQTT broker, republishes every FleetEvent it
// receives via its OnFleetEvent hook as a JSON message, and runs a
// periodic loop publishing Core status (state, fleet size).
type Bridge struct {
	cfg    config.MQTTConfig
	stats  StatsSource
	logger *slog.Logger

	cm *autopaho.ConnectionManager
}

// New builds a Bridge but does not connect. Call Start to begin the
// connection and status loop.
func New(cfg config.MQTTConfig, stats StatsSource, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, stats: stats, logger: logger}
}

// Start connects to the configured broker and begins the periodic
// status publish loop. It blocks until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqttbridge: parse broker url: %w", err)
	}

	availTopic := b.topic("availability")
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     0,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqttbridge: connected", "broker", b.cfg.BrokerURL)
			publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			b.publish(publishCtx, cm, "availability", []byte("online"))
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqttbridge: connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.cfg.ClientID,
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqttbridge: connect: %w", err)
	}
	b.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqttbridge: initial connection timed out, retrying in background", "error", err)
	}

	b.runStatusLoop(ctx)
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publish(ctx, b.cm, "availability", []byte("offline"))
	return b.cm.Disconnect(ctx)
}

// OnFleetEvent republishes a fleet event as a retained-false JSON
// message. Intended to be wired as broker.Hooks.OnFleetEvent. Safe to
// call before Start, where it is a no-op. After Stop it still attempts the
// publish on the disconnected connection, and the failure is logged at
// Warn.
func (b *Bridge) OnFleetEvent(ev broker.FleetEvent) {
	if b.cm == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("mqttbridge: marshal fleet event failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.publish(ctx, b.cm, "events", payload)
}

func (b *Bridge) runStatusLoop(ctx context.Context) {
	const interval = 10 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.publishStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishStatus(ctx)
		}
	}
}

func (b *Bridge) publishStatus(ctx context.Context) {
	if b.cm == nil || b.stats == nil {
		return
	}
	status := struct {
		State     string `json:"state"`
		FleetSize int    `json:"fleet_size"`
	}{
		State:     b.stats.State().String(),
		FleetSize: b.stats.FleetSize(),
	}
	payload, err := json.Marshal(status)
	if err != nil {
		b.logger.Warn("mqttbridge: marshal status failed", "error", err)
		return
	}
	b.publish(ctx, b.cm, "status", payload)
}

func (b *Bridge) publish(ctx context.Context, cm *autopaho.ConnectionManager, suffix string, payload []byte) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.topic(suffix),
		Payload: payload,
		QoS:     0,
		Retain:  suffix == "availability",
	}); err != nil {
		b.logger.Warn("mqttbridge: publish failed", "topic", suffix, "error", err)
	}
}

func (b *Bridge) topic(suffix string) string {
	return fmt.Sprintf("%s/%s/%s", b.cfg.TopicRoot, b.cfg.InstanceID, suffix)
}
