// Package tedge wraps the local MQTT broker connection: thin-edge.io's own
// "edge bus" and the bridged c8y/# topics the cloud mapper publishes and
// subscribes on. It generalizes the teacher's container-specific MQTT
// client into a plain broker client the rest of this mapper treats as an
// opaque collaborator.
package tedge

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// Message is an MQTT message flowing in either direction across the
// broker. Retain only has meaning for outbound publishes; inbound messages
// carry whatever retain flag the broker delivered them with.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// NewMessage builds a QoS 1, non-retained message, the default delivery
// guarantee this mapper relies on for command progress and cloud frames.
func NewMessage(topic string, payload []byte) Message {
	return Message{Topic: topic, Payload: payload, QoS: 1}
}

// WithRetain marks m for retained delivery, used for entity registration
// and command state messages that must survive as the topic's last value.
func (m Message) WithRetain() Message {
	m.Retain = true
	return m
}

// WithQoS overrides m's QoS.
func (m Message) WithQoS(qos byte) Message {
	m.QoS = qos
	return m
}

// Broker is the contract the Mapper Actor depends on.
type Broker interface {
	Connect() error
	Publish(msg Message) error
	Subscribe(filter string) error
	Messages() <-chan Message
	Disconnect()
}

// ClientConfig configures the production Broker.
type ClientConfig struct {
	Host     string
	Port     uint16
	ClientID string
}

// PahoBroker is the production Broker, built on eclipse/paho.mqtt.golang.
type PahoBroker struct {
	client   mqtt.Client
	messages chan Message
}

// NewPahoBroker builds a broker client with auto-reconnect and a clean
// session, matching the teacher's connection options for its own MQTT
// client.
func NewPahoBroker(cfg ClientConfig) *PahoBroker {
	b := &PahoBroker{
		messages: make(chan Message, 256),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
		b.messages <- Message{
			Topic:   m.Topic(),
			Payload: m.Payload(),
			QoS:     m.Qos(),
			Retain:  m.Retained(),
		}
	})

	b.client = mqtt.NewClient(opts)
	return b
}

// Connect dials the broker and blocks until the connection is established or
// times out.
func (b *PahoBroker) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("timed out connecting to mqtt broker")
	}
	return token.Error()
}

// Publish sends msg, blocking until the broker acknowledges it.
func (b *PahoBroker) Publish(msg Message) error {
	token := b.client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.Errorf("timed out publishing to %s", msg.Topic)
	}
	return token.Error()
}

// Subscribe registers interest in filter. Matching messages arrive on
// Messages(); subscriptions do not get their own per-topic channel since the
// Mapper Actor multiplexes everything through one select loop.
func (b *PahoBroker) Subscribe(filter string) error {
	token := b.client.Subscribe(filter, 1, nil)
	token.Wait()
	return token.Error()
}

// Messages returns the inbound message stream across all subscriptions.
func (b *PahoBroker) Messages() <-chan Message {
	return b.messages
}

// Disconnect closes the connection, waiting briefly for in-flight acks.
func (b *PahoBroker) Disconnect() {
	b.client.Disconnect(250)
}
