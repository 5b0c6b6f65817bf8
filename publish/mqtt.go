package publish

import (
	"context"
	"encoding/json"
	"path"
	"strconv"
	"time"

	"github.com/bemasher/multical21/frame"
	"github.com/bemasher/multical21/receiver"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

const (
	DefaultTopic   = "multical21"
	DefaultTimeout = 5 * time.Second
)

// Topics below the meter's base topic.
const (
	TopicState         = "state"
	TopicTotal         = "total_m3"
	TopicMonthStart    = "month_start_m3"
	TopicWaterTemp     = "water_temp_c"
	TopicAmbientTemp   = "ambient_temp_c"
	TopicFlow          = "flow_lph"
	TopicRSSI          = "rssi_dbm"
	TopicSignalQuality = "signal_quality"
	TopicLastUpdate    = "last_update"
	TopicDiagnostics   = "diagnostics"
)

// MQTT publishes each reading as a JSON state message and one topic per
// quantity, under <topic>/<meter>/. Diagnostics are retained.
type MQTT struct {
	client  mqtt.Client
	log     logrus.FieldLogger
	base    string
	qos     byte
	timeout time.Duration
	last    *LastUpdate
}

// NewClient builds a paho client for cfg. Connection state changes are logged.
func NewClient(cfg MQTTConfig, log logrus.FieldLogger) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost")
	})

	return mqtt.NewClient(opts)
}

// NewMQTT publishes for meter through client. last may be nil.
func NewMQTT(client mqtt.Client, cfg MQTTConfig, meter frame.MeterID, last *LastUpdate, log logrus.FieldLogger) *MQTT {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &MQTT{
		client:  client,
		log:     log,
		base:    path.Join(topic, meter.String()),
		qos:     cfg.QoS,
		timeout: timeout,
		last:    last,
	}
}

// Connect waits for the initial connection. Paho keeps retrying in the
// background until ctx is done.
func (m *MQTT) Connect(ctx context.Context) error {
	if m.client.IsConnected() {
		return nil
	}

	token := m.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			return errors.Wrap(token.Error(), "mqtt connect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Topic returns the full topic name for a suffix.
func (m *MQTT) Topic(suffix string) string {
	return path.Join(m.base, suffix)
}

type topicValue struct {
	suffix string
	value  interface{}
}

func (m *MQTT) Publish(ctx context.Context, upd receiver.Update) error {
	msg := NewMessage(upd)
	state, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}

	r := upd.Reading
	values := []topicValue{
		{TopicState, state},
		{TopicTotal, strconv.FormatFloat(r.TotalM3, 'f', 3, 64)},
		{TopicMonthStart, strconv.FormatFloat(r.MonthStartM3, 'f', 3, 64)},
		{TopicWaterTemp, strconv.FormatUint(uint64(r.FlowTempC), 10)},
		{TopicAmbientTemp, strconv.FormatUint(uint64(r.AmbientTempC), 10)},
	}
	if upd.FlowOK {
		values = append(values, topicValue{TopicFlow, strconv.FormatFloat(upd.FlowLPH, 'f', 1, 64)})
	}
	if upd.RSSIOK {
		values = append(values,
			topicValue{TopicRSSI, strconv.FormatFloat(upd.RSSI, 'f', 1, 64)},
			topicValue{TopicSignalQuality, strconv.FormatFloat(upd.SignalQuality, 'f', 0, 64)},
		)
	}
	if m.last != nil {
		values = append(values, topicValue{TopicLastUpdate, m.last.Format(r.Time)})
	}

	for _, v := range values {
		if err := m.send(ctx, m.Topic(v.suffix), false, v.value); err != nil {
			return err
		}
	}

	m.log.WithField("topic", m.base).Debug("published reading")
	return nil
}

func (m *MQTT) PublishStats(ctx context.Context, st receiver.Stats) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "marshal diagnostics")
	}
	return m.send(ctx, m.Topic(TopicDiagnostics), true, data)
}

func (m *MQTT) send(ctx context.Context, topic string, retained bool, payload interface{}) error {
	token := m.client.Publish(topic, m.qos, retained, payload)

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return errors.Errorf("publish timeout for topic %s", topic)
	case <-ctx.Done():
		return ctx.Err()
	}

	return errors.Wrapf(token.Error(), "publish %s", topic)
}

// Close disconnects, allowing in-flight messages 250ms to complete.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	m.log.Info("mqtt disconnected")
	return nil
}
