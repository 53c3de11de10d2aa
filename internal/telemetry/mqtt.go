package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"trainer-core/internal/config"
	"trainer-core/internal/core"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher streams workout telemetry (connection state, metrics,
// reps, safety events) to an external MQTT broker: reconnection-hardened
// ClientOptions, an availability LWT, and publish-only — cloud control
// of the trainer over inbound command topics is an external-collaborator
// concern, not this core's.
type MQTTPublisher struct {
	client mqtt.Client
	cfg    *config.Config
	prefix string

	eventBus *core.EventBus
}

// NewMQTTPublisher builds an MQTTPublisher. It returns nil if MQTT is
// disabled in config.
func NewMQTTPublisher(cfg *config.Config, eb *core.EventBus) *MQTTPublisher {
	if !cfg.MQTT.Enabled {
		return nil
	}

	prefix := strings.TrimSuffix(cfg.MQTT.TopicPrefix, "/")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetWill(prefix+"/availability", "offline", 1, true)

	p := &MQTTPublisher{cfg: cfg, prefix: prefix, eventBus: eb}

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("[telemetry] mqtt connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		log.Println("[telemetry] mqtt reconnecting...")
	})

	p.client = mqtt.NewClient(opts)

	go p.listenEvents()

	return p
}

// Connect initiates the connection to the MQTT broker.
func (p *MQTTPublisher) Connect() error {
	if p.client == nil {
		return nil
	}
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Disconnect gracefully closes the MQTT connection, publishing an
// offline status first.
func (p *MQTTPublisher) Disconnect() {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(p.prefix+"/availability", 0, true, "offline")
	token.WaitTimeout(2 * time.Second)
	p.client.Disconnect(250)
}

func (p *MQTTPublisher) publish(subtopic string, payload interface{}, retained bool) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	topic := fmt.Sprintf("%s/%s", p.prefix, subtopic)

	var msg string
	switch v := payload.(type) {
	case string:
		msg = v
	default:
		b, _ := json.Marshal(v)
		msg = string(b)
	}

	token := p.client.Publish(topic, 0, retained, msg)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[telemetry] mqtt publish error to %s: %v", topic, token.Error())
		}
	}()
}

func (p *MQTTPublisher) onConnect(mqtt.Client) {
	log.Println("[telemetry] mqtt connected")
	go p.publish("availability", "online", true)
}

// listenEvents subscribes to the event bus and forwards telemetry-
// relevant events to the broker.
func (p *MQTTPublisher) listenEvents() {
	if p.eventBus == nil {
		return
	}

	sub := p.eventBus.Subscribe(
		core.ConnectionStateEvent,
		core.MetricsEvent,
		core.RepEvent,
		core.DeloadOccurredEvent,
		core.RomViolationEvent,
		core.SessionCompletedEvent,
	)

	for event := range sub {
		switch event.Type {
		case core.ConnectionStateEvent:
			p.publish("connection/state", event.Payload, true)
		case core.MetricsEvent:
			p.publish("metrics", event.Payload, false)
		case core.RepEvent:
			p.publish("reps", event.Payload, false)
		case core.DeloadOccurredEvent:
			p.publish("safety/deload", event.Payload, false)
		case core.RomViolationEvent:
			p.publish("safety/rom_violation", event.Payload, false)
		case core.SessionCompletedEvent:
			p.publish("session/completed", event.Payload, true)
		}
	}
}
