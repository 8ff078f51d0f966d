// Package telemetry ingests drone reports from MQTT into the registry and
// the time series store.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/internal/services"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
)

const handleTimeout = 5 * time.Second

// Client is the part of the paho client the ingester drives.
type Client interface {
	IsConnected() bool
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

type Registry interface {
	ApplyTelemetry(ctx context.Context, t services.Telemetry) (*model.Drone, error)
}

// Connect dials the broker with auto reconnect.
func Connect(broker, clientID, username, password string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if username != "" {
		opts.SetUsername(username).SetPassword(password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}

// Ingester applies every telemetry message to the registry and records the
// resulting snapshot.
type Ingester struct {
	client   Client
	topic    string
	registry Registry
	sink     Sink
}

func NewIngester(client Client, topic string, registry Registry, sink Sink) *Ingester {
	if sink == nil {
		sink = NopSink{}
	}
	return &Ingester{client: client, topic: topic, registry: registry, sink: sink}
}

func (i *Ingester) Start() error {
	token := i.client.Subscribe(i.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		if err := i.Handle(ctx, msg.Topic(), msg.Payload()); err != nil {
			logger.Warn("telemetry rejected", "topic", msg.Topic(), "error", err)
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", i.topic, err)
	}
	logger.Info("telemetry subscribed", "topic", i.topic)
	return nil
}

// Handle decodes one report. The drone id falls back to the topic segment
// after "drones/".
func (i *Ingester) Handle(ctx context.Context, topic string, payload []byte) error {
	var t services.Telemetry
	if err := json.Unmarshal(payload, &t); err != nil {
		return fmt.Errorf("decode telemetry: %w", err)
	}
	if t.DroneID == "" {
		t.DroneID = droneFromTopic(topic)
	}
	if t.DroneID == "" {
		return errors.New("telemetry without drone id")
	}

	d, err := i.registry.ApplyTelemetry(ctx, t)
	if err != nil {
		return err
	}
	if err := i.sink.Record(ctx, d); err != nil {
		logger.Warn("telemetry point not stored", "drone_id", d.DroneID, "error", err)
	}
	return nil
}

func (i *Ingester) Close() {
	if i.client.IsConnected() {
		i.client.Disconnect(250)
	}
	i.sink.Close()
}

func droneFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for j := 0; j+1 < len(parts); j++ {
		if parts[j] == "drones" {
			return parts[j+1]
		}
	}
	return ""
}
