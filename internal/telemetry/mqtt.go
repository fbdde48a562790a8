package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrPublishTimeout is returned when the MQTT broker does not acknowledge a
// sample in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink mirrors samples to an MQTT topic at QoS 0.
type MQTTSink struct {
	client  mqttPublisher
	topic   string
	timeout time.Duration
}

// DialMQTT connects to brokerURL ("tcp://host:1883") and returns a sink
// publishing to topic.
func DialMQTT(brokerURL, clientID, topic string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", brokerURL, token.Error())
	}
	return newMQTTSink(client, topic), nil
}

func newMQTTSink(client mqttPublisher, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, timeout: time.Second}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Send(_ context.Context, payload []byte) error {
	token := s.client.Publish(s.topic, 0, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
