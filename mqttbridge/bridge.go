package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tj-smith47/elmax-go"
)

// Publisher is the part of a paho client the bridge uses.
// pahomqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Bridge publishes panel snapshots to MQTT.
type Bridge struct {
	pub            Publisher
	topics         Topics
	qos            byte
	retain         bool
	publishTimeout time.Duration
	logger         *slog.Logger
}

// New creates a bridge publishing through pub.
func New(pub Publisher, cfg elmax.MQTTConfig, logger *slog.Logger) (*Bridge, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	return &Bridge{
		pub:            pub,
		topics:         Topics{Prefix: cfg.TopicPrefix},
		qos:            byte(cfg.QoS),
		retain:         cfg.Retain,
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}, nil
}

// panelSummary is the payload of the panel topic.
type panelSummary struct {
	PanelID          string `json:"panel_id"`
	Release          string `json:"release,omitempty"`
	CoverFeature     bool   `json:"cover_feature"`
	SceneFeature     bool   `json:"scene_feature"`
	PushFeature      bool   `json:"push_feature"`
	AccessoryType    string `json:"accessory_type,omitempty"`
	AccessoryRelease string `json:"accessory_release,omitempty"`
	Endpoints        int    `json:"endpoints"`
	UpdatedAt        string `json:"updated_at"`
}

// HandlePanelStatus implements elmax.PushHandler. Every endpoint is
// published; failures are collected and returned together.
func (b *Bridge) HandlePanelStatus(ctx context.Context, status *elmax.PanelStatus) error {
	if status == nil {
		return nil
	}
	panelID := status.PanelID

	var errs []error
	publish := func(topic string, v any) {
		if err := b.publishJSON(topic, v); err != nil {
			errs = append(errs, err)
		}
	}

	for _, z := range status.Zones {
		publish(b.topics.Endpoint(panelID, elmax.KindZone, z.EndpointID), z)
	}
	for _, a := range status.Areas {
		publish(b.topics.Endpoint(panelID, elmax.KindArea, a.EndpointID), a)
	}
	for _, a := range status.Actuators {
		publish(b.topics.Endpoint(panelID, elmax.KindActuator, a.EndpointID), a)
	}
	for _, c := range status.Covers {
		publish(b.topics.Endpoint(panelID, elmax.KindCover, c.EndpointID), c)
	}
	for _, g := range status.Groups {
		publish(b.topics.Endpoint(panelID, elmax.KindGroup, g.EndpointID), g)
	}
	for _, s := range status.Scenes {
		publish(b.topics.Endpoint(panelID, elmax.KindScene, s.EndpointID), s)
	}

	publish(b.topics.Panel(panelID), panelSummary{
		PanelID:          panelID,
		Release:          string(status.Release),
		CoverFeature:     status.CoverFeature,
		SceneFeature:     status.SceneFeature,
		PushFeature:      status.PushFeature,
		AccessoryType:    status.AccessoryType,
		AccessoryRelease: string(status.AccessoryRelease),
		Endpoints:        len(status.AllEndpoints()),
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339),
	})

	if b.logger != nil {
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("panel_id", panelID),
			slog.Int("failed", len(errs)),
		}
		if len(errs) > 0 {
			level = slog.LevelWarn
		}
		b.logger.LogAttrs(ctx, level, "mqtt_publish", attrs...)
	}

	return errors.Join(errs...)
}

// PublishOnline publishes the bridge availability.
func (b *Bridge) PublishOnline() error {
	return b.publish(b.topics.Status(), []byte(statusPayload("online", "")), true)
}

// PublishOffline publishes a graceful offline status. Call it before
// disconnecting so subscribers can tell a shutdown from a crash.
func (b *Bridge) PublishOffline() error {
	return b.publish(b.topics.Status(), []byte(statusPayload("offline", "graceful_shutdown")), true)
}

// disconnector is implemented by pahomqtt.Client.
type disconnector interface {
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Close publishes the offline status and disconnects the publisher when it
// is a paho client.
func (b *Bridge) Close() {
	conn, ok := b.pub.(disconnector)
	if !ok {
		_ = b.PublishOffline()
		return
	}
	if conn.IsConnected() {
		_ = b.PublishOffline()
	}
	conn.Disconnect(defaultDisconnectQuiesce)
}

func (b *Bridge) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return b.publish(topic, payload, b.retain)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) error {
	token := b.pub.Publish(topic, b.qos, retained, payload)
	if !token.WaitTimeout(b.publishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, b.publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Ensure Bridge can be registered on a push handler.
var _ elmax.PushHandler = (*Bridge)(nil)
