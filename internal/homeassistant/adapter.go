package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/gateway"
	"github.com/nerrad567/ailink-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// DefaultDiscoveryPrefix is Home Assistant's default discovery root.
const DefaultDiscoveryPrefix = "homeassistant"

const (
	// defaultCommandTimeout bounds one MQTT-triggered command.
	defaultCommandTimeout = 15 * time.Second

	// defaultQueueSize bounds gateway events waiting to be published.
	defaultQueueSize = 256
)

// Device availability payloads.
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// MQTTClient is the subset of *mqtt.Client the adapter uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Gateway is the subset of *gateway.Gateway the adapter uses.
type Gateway interface {
	Devices() []device.Snapshot
	IssueCommand(ctx context.Context, deviceID string, in gateway.Intent) (gateway.Result, error)
}

// Logger defines the logging interface used by the adapter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures an Adapter.
type Options struct {
	MQTT    MQTTClient
	Gateway Gateway
	Topics  mqtt.Topics

	// DiscoveryPrefix defaults to "homeassistant".
	DiscoveryPrefix string

	// RawSensors publishes a diagnostic sensor per unmapped outputData key.
	RawSensors bool

	QoS            byte
	CommandTimeout time.Duration

	// QueueSize bounds events waiting for the publisher (default 256).
	QueueSize int

	Logger Logger
}

// Adapter exposes every heater to Home Assistant over MQTT discovery and
// routes entity commands back to the gateway.
//
// HandleEvent only enqueues; one publisher goroutine, started by Start,
// performs the MQTT round trips in event order.
//
// Thread Safety: All methods are safe for concurrent use.
type Adapter struct {
	mqtt      MQTTClient
	gw        Gateway
	topics    mqtt.Topics
	discovery discoveryBuilder
	raw       bool
	qos       byte
	timeout   time.Duration
	logger    Logger
	events    chan gateway.Event

	// published tracks retained config topics per device so they can be
	// cleared when the device disappears; rawKeys tracks announced extras.
	mu        sync.Mutex
	published map[string][]string
	rawKeys   map[string]map[string]bool
	started   bool
	closed    bool

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New creates an adapter. Call Start after the gateway has started.
func New(opts Options) (*Adapter, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	prefix := strings.Trim(opts.DiscoveryPrefix, "/")
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	topics := opts.Topics
	if topics.Prefix == "" {
		topics = mqtt.NewTopics("")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Adapter{
		mqtt:      opts.MQTT,
		gw:        opts.Gateway,
		topics:    topics,
		discovery: discoveryBuilder{prefix: prefix, topics: topics},
		raw:       opts.RawSensors,
		qos:       opts.QoS,
		timeout:   timeout,
		logger:    logger,
		events:    make(chan gateway.Event, queueSize),
		published: make(map[string][]string),
		rawKeys:   make(map[string]map[string]bool),
		ctx:       ctx,
		ctxCancel: cancel,
	}, nil
}

// Start announces every known heater, publishes its current state,
// subscribes to command topics and starts the event publisher. Events
// queued before Start are published after the initial announcement.
func (a *Adapter) Start() error {
	for _, snap := range a.gw.Devices() {
		a.announce(snap)
		a.publishState(snap)
	}

	topic := a.topics.AllDeviceCommands()
	if err := a.mqtt.Subscribe(topic, a.qos, a.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	a.mu.Lock()
	if !a.started && !a.closed {
		a.started = true
		a.wg.Add(1)
		go a.run()
	}
	a.mu.Unlock()

	a.logger.Info("home assistant adapter started", "command_topic", topic)
	return nil
}

// Stop unsubscribes, publishes events already queued, waits for in-flight
// commands and marks every heater offline. Retained discovery configs are kept so entities survive a
// restart.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() {
		if err := a.mqtt.Unsubscribe(a.topics.AllDeviceCommands()); err != nil {
			a.logger.Warn("unsubscribing from commands failed", "error", err)
		}
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		a.ctxCancel()
		a.wg.Wait()

		a.mu.Lock()
		ids := make([]string, 0, len(a.published))
		for id := range a.published {
			ids = append(ids, id)
		}
		a.mu.Unlock()

		for _, id := range ids {
			a.publish(a.topics.DeviceAvailability(id), []byte(payloadOffline))
		}
	})
}

// HandleEvent is a gateway.Notifier. It never blocks: when the queue is
// full the event is dropped, and the next poll of that heater republishes
// its full state anyway.
func (a *Adapter) HandleEvent(ev gateway.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.events <- ev:
	default:
		a.logger.Warn("home assistant queue full, dropping event",
			"kind", ev.Kind, "device_id", ev.Snapshot.ID)
	}
}

// run publishes queued events until Stop, then drains what is left.
func (a *Adapter) run() {
	defer a.wg.Done()
	for {
		select {
		case ev := <-a.events:
			a.apply(ev)
		case <-a.ctx.Done():
			for {
				select {
				case ev := <-a.events:
					a.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *Adapter) apply(ev gateway.Event) {
	switch ev.Kind {
	case gateway.EventDevicesChanged:
		a.applyDiff(ev.Diff)
	default:
		if a.raw {
			a.announceRaw(ev.Snapshot)
		}
		a.publishState(ev.Snapshot)
	}
}

func (a *Adapter) applyDiff(diff device.Diff) {
	for _, id := range diff.Removed {
		a.forget(id)
	}

	changed := make(map[string]bool, len(diff.Added)+len(diff.Updated))
	for _, rec := range diff.Added {
		changed[rec.ID] = true
	}
	for _, rec := range diff.Updated {
		changed[rec.ID] = true
	}
	if len(changed) == 0 {
		return
	}
	for _, snap := range a.gw.Devices() {
		if changed[snap.ID] {
			a.announce(snap)
			a.publishState(snap)
		}
	}
}

// announce publishes the retained discovery configs for one heater.
func (a *Adapter) announce(snap device.Snapshot) {
	msgs := a.discovery.forDevice(snap)
	if a.raw {
		msgs = append(msgs, a.discovery.rawSensors(snap, sortedKeys(snap.State.Extra))...)
	}

	topics := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if a.publishConfig(m) {
			topics = append(topics, m.Topic)
		}
	}

	a.mu.Lock()
	a.published[snap.ID] = topics
	known := make(map[string]bool, len(snap.State.Extra))
	if a.raw {
		for k := range snap.State.Extra {
			known[k] = true
		}
	}
	a.rawKeys[snap.ID] = known
	a.mu.Unlock()

	a.logger.Debug("discovery published", "device_id", snap.ID, "entities", len(topics))
}

// announceRaw publishes configs for extra keys not seen before.
func (a *Adapter) announceRaw(snap device.Snapshot) {
	a.mu.Lock()
	known, ok := a.rawKeys[snap.ID]
	if !ok {
		a.mu.Unlock()
		return
	}
	var fresh []string
	for _, k := range sortedKeys(snap.State.Extra) {
		if !known[k] {
			known[k] = true
			fresh = append(fresh, k)
		}
	}
	a.mu.Unlock()

	for _, m := range a.discovery.rawSensors(snap, fresh) {
		if a.publishConfig(m) {
			a.mu.Lock()
			a.published[snap.ID] = append(a.published[snap.ID], m.Topic)
			a.mu.Unlock()
		}
	}
}

// forget clears every retained topic of a removed heater.
func (a *Adapter) forget(id string) {
	a.mu.Lock()
	topics := a.published[id]
	delete(a.published, id)
	delete(a.rawKeys, id)
	a.mu.Unlock()

	topics = append(topics, a.topics.DeviceState(id), a.topics.DeviceAvailability(id))
	for _, t := range topics {
		a.publish(t, nil)
	}
	a.logger.Info("device removed from home assistant", "device_id", id)
}

func (a *Adapter) publishConfig(m discoveryMessage) bool {
	payload, err := json.Marshal(m.Config)
	if err != nil {
		a.logger.Error("encoding discovery config failed", "topic", m.Topic, "error", err)
		return false
	}
	return a.publish(m.Topic, payload)
}

// publishState publishes the snapshot and the device availability.
func (a *Adapter) publishState(snap device.Snapshot) {
	if snap.ID == "" {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		a.logger.Error("encoding state failed", "device_id", snap.ID, "error", err)
		return
	}
	a.publish(a.topics.DeviceState(snap.ID), payload)
	a.publish(a.topics.DeviceAvailability(snap.ID), []byte(availabilityPayload(snap)))
}

func (a *Adapter) publish(topic string, payload []byte) bool {
	if err := a.mqtt.Publish(topic, payload, a.qos, true); err != nil {
		a.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}

// availabilityPayload is online only while the last poll succeeded.
func availabilityPayload(snap device.Snapshot) string {
	if snap.Availability == device.AvailabilityOnline {
		return payloadOnline
	}
	return payloadOffline
}

// handleCommand parses a command message and dispatches it without
// blocking the MQTT client.
func (a *Adapter) handleCommand(topic string, payload []byte) error {
	deviceID, field, ok := a.topics.ParseDeviceCommand(topic)
	if !ok {
		return fmt.Errorf("unrecognised command topic %q", topic)
	}

	intent, err := ParseCommand(field, payload)
	if err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return gateway.ErrClosed
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
		defer cancel()

		res, err := a.gw.IssueCommand(ctx, deviceID, intent)
		if err != nil {
			a.logger.Warn("mqtt command rejected",
				"device_id", deviceID, "field", intent.Field, "payload", string(payload), "error", err)
			return
		}
		a.logger.Info("mqtt command accepted",
			"device_id", deviceID, "field", res.Field, "command_id", res.CommandID)
	}()
	return nil
}

// ParseCommand turns a command topic field and payload into an intent.
//
// The water heater mode topic carries "off" or "gas" and maps to power.
// Other payloads are passed through as text ("ON", "55") for the gateway
// to validate.
func ParseCommand(field string, payload []byte) (gateway.Intent, error) {
	value := strings.TrimSpace(string(payload))
	if value == "" {
		return gateway.Intent{}, &gateway.ValidationError{Field: field, Reason: "empty payload"}
	}

	if field == modeField {
		switch strings.ToLower(value) {
		case ModeOff:
			return gateway.Power(false), nil
		case ModeGas:
			return gateway.Power(true), nil
		}
		return gateway.Intent{}, &gateway.ValidationError{Field: field, Value: value, Reason: "unsupported mode"}
	}

	f := telemetry.Field(field)
	if !gateway.Writable(f) {
		return gateway.Intent{}, &gateway.ValidationError{Field: field, Reason: "field is not writable"}
	}
	return gateway.Intent{Field: f, Value: value}, nil
}
