// Package broker subscribes to the telemetry bus and feeds incoming
// envelopes to the validator, grounded on
// original_source/fog/app/mqtt_worker.py's MQTTWorker, using
// github.com/eclipse/paho.mqtt.golang for the transport.
package broker

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greenhouse-systems/fog-gateway/internal/fogevents"
	"github.com/greenhouse-systems/fog-gateway/internal/telemetry"
	"github.com/greenhouse-systems/fog-gateway/internal/validator"
)

// Topic is the wildcard subscription for sensor telemetry, per
// mqtt_worker.py's "greenhouse/+/telemetry".
const Topic = "greenhouse/+/telemetry"

// topicSensorID extracts the sensor id from a concrete publish topic of
// the form "greenhouse/<sensor_id>/telemetry". ok is false if the topic
// doesn't match that shape.
func topicSensorID(topic string) (id string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "greenhouse" || parts[2] != "telemetry" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

const qos = 1

// Stats tracks message-processing counters for /health and /metrics.
type Stats struct {
	Received int64
	Accepted int64
	Rejected int64
}

// Worker owns the MQTT connection and runs each incoming message through
// the validator before handing it to Accept.
type Worker struct {
	client    mqtt.Client
	validator *validator.Validator
	logger    *slog.Logger
	accept    func(*telemetry.Processed)
	onReject  func()

	received atomic.Int64
	accepted atomic.Int64
	rejected atomic.Int64
}

// Config configures the broker's MQTT connection.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// New builds a Worker. accept is called for every record that passes
// validation; it should be non-blocking (e.g. enqueue onto a channel).
// onReject, if non-nil, is called for every message a gate rejects.
func New(cfg Config, v *validator.Validator, logger *slog.Logger, accept func(*telemetry.Processed), onReject func()) *Worker {
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID("fog-gateway")
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	w := &Worker{
		validator: v,
		logger:    logger,
		accept:    accept,
		onReject:  onReject,
	}
	opts.SetDefaultPublishHandler(w.onMessage)
	opts.OnConnect = func(c mqtt.Client) {
		if token := c.Subscribe(Topic, qos, w.onMessage); token.Wait() && token.Error() != nil {
			logger.Error("mqtt subscribe failed", "error", token.Error())
		}
	}

	w.client = mqtt.NewClient(opts)
	return w
}

// Start connects to the broker. It blocks until the initial connection
// succeeds or the context-free connect attempt fails outright; ongoing
// reconnection happens in the background via AutoReconnect.
func (w *Worker) Start() error {
	token := w.client.Connect()
	token.Wait()
	return token.Error()
}

// Stop disconnects from the broker, waiting up to quiesce for in-flight
// publishes to settle.
func (w *Worker) Stop(quiesce uint) {
	w.client.Disconnect(quiesce)
}

func (w *Worker) onMessage(_ mqtt.Client, msg mqtt.Message) {
	w.received.Add(1)

	env, err := telemetry.ParseEnvelope(msg.Payload())
	if err != nil {
		w.rejected.Add(1)
		if w.onReject != nil {
			w.onReject()
		}
		fogevents.Security(w.logger, "malformed_envelope", err.Error(), "", fogevents.SeverityWarning, "topic", msg.Topic())
		return
	}

	if topicID, ok := topicSensorID(msg.Topic()); ok && topicID != env.SensorID {
		w.rejected.Add(1)
		if w.onReject != nil {
			w.onReject()
		}
		fogevents.Security(w.logger, "identity_spoof", "envelope sensor_id does not match publish topic", env.SensorID, fogevents.SeverityCritical,
			"topic", msg.Topic(), "topic_sensor_id", topicID)
		return
	}

	processed, outcome := w.validator.Validate(env, false)
	if outcome.Rejected {
		w.rejected.Add(1)
		if w.onReject != nil {
			w.onReject()
		}
		return
	}

	w.accepted.Add(1)
	w.accept(processed)
}

// Stats returns a snapshot of processing counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Received: w.received.Load(),
		Accepted: w.accepted.Load(),
		Rejected: w.rejected.Load(),
	}
}
