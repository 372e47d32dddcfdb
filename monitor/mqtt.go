package monitor

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"voltscope/debug"
)

// MQTTOptions configures the telemetry publisher.
type MQTTOptions struct {
	Broker   string // host:port or scheme://host:port
	Topic    string
	ClientID string
	QoS      byte
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes msgpack-encoded snapshots to a broker.
type MQTTSink struct {
	client    publisher
	topic     string
	qos       byte
	connected atomic.Bool
	published atomic.Uint64
}

// DialMQTT connects to the broker. The client reconnects on its own after
// the first successful connection.
func DialMQTT(opts MQTTOptions) (*MQTTSink, error) {
	broker := opts.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	s := &MQTTSink{topic: opts.Topic, qos: opts.QoS}

	co := mqtt.NewClientOptions()
	co.AddBroker(broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnect = func(mqtt.Client) {
		s.connected.Store(true)
		debug.DropAttrs("MQTT", "event", "connected", "broker", broker)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.connected.Store(false)
		debug.DropError("MQTT", fmt.Errorf("connection lost: %w", err))
	}

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		client.Disconnect(0)
		return nil, errors.New("monitor: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("monitor: mqtt connect: %w", err)
	}
	s.client = client
	s.connected.Store(true)
	return s, nil
}

// EncodeSnapshot is the MQTT payload format.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	return msgpack.Marshal(&snap)
}

// DecodeSnapshot parses a payload produced by EncodeSnapshot.
func DecodeSnapshot(payload []byte) (Snapshot, error) {
	var snap Snapshot
	err := msgpack.Unmarshal(payload, &snap)
	return snap, err
}

// Record publishes one snapshot. Snapshots are dropped while the broker is
// unreachable.
func (s *MQTTSink) Record(snap Snapshot) error {
	if !s.connected.Load() {
		return errors.New("monitor: mqtt not connected")
	}
	payload, err := EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("monitor: encode snapshot: %w", err)
	}
	token := s.client.Publish(s.topic, s.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return errors.New("monitor: mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("monitor: mqtt publish: %w", err)
	}
	s.published.Add(1)
	return nil
}

// Published is the number of acknowledged snapshots.
func (s *MQTTSink) Published() uint64 { return s.published.Load() }

// Close disconnects with a 250ms grace period.
func (s *MQTTSink) Close() error {
	s.connected.Store(false)
	s.client.Disconnect(250)
	return nil
}
