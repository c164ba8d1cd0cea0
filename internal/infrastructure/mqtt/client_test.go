package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/ailink-bridge/internal/infrastructure/config"
)

// fakeToken is a paho token that is already complete.
type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  any
}

// fakePaho records calls and lets tests deliver messages to handlers.
// Methods the client never calls fall through to the nil embedded interface.
type fakePaho struct {
	pahomqtt.Client

	mu           sync.Mutex
	connected    bool
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	unsubscribed []string
	disconnected bool
	tokenErr     error
	timeout      bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) token() pahomqtt.Token {
	return &fakeToken{err: f.tokenErr, timeout: f.timeout}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, qos, retained, payload})
	return f.token()
}

func (f *fakePaho) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = cb
	return f.token()
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return f.token()
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	f.connected = false
}

func (f *fakePaho) deliver(filter, topic string, payload []byte) {
	f.mu.Lock()
	cb := f.handlers[filter]
	f.mu.Unlock()
	cb(f, &fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "ailink-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     30,
		},
	}
}

// connectedClient returns a Client wired to a fake paho client.
func connectedClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(testConfig(), NewTopics("ailink"))
	c.client = fake
	c.connected = true
	return c, fake
}

// =============================================================================
// Connection Lifecycle Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}

	unconnected := newClient(testConfig(), NewTopics(""))
	if err := unconnected.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestClosePublishesOffline(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.disconnected {
		t.Error("Close() did not disconnect")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if len(fake.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(fake.published))
	}
	got := fake.published[0]
	if got.topic != "ailink/bridge/status" || got.payload != StatusOffline || !got.retained {
		t.Errorf("Close() published %+v, want retained offline on ailink/bridge/status", got)
	}
}

func TestHandleConnect(t *testing.T) {
	c, fake := connectedClient(t)
	c.connected = false

	handler := func(string, []byte) error { return nil }
	c.subscriptions["ailink/+/+/set"] = subscription{topic: "ailink/+/+/set", qos: 1, handler: handler}

	called := make(chan struct{}, 1)
	c.SetOnConnect(func() { called <- struct{}{} })

	c.handleConnect()

	if !c.IsConnected() {
		t.Error("IsConnected() = false after handleConnect()")
	}
	if _, ok := fake.handlers["ailink/+/+/set"]; !ok {
		t.Error("subscription was not restored")
	}
	if len(fake.published) != 1 || fake.published[0].payload != StatusOnline {
		t.Errorf("published = %+v, want one online status", fake.published)
	}
	select {
	case <-called:
	default:
		t.Error("OnConnect callback not invoked")
	}
}

func TestHandleDisconnect(t *testing.T) {
	c, _ := connectedClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var gotErr error
	c.SetOnDisconnect(func(err error) { gotErr = err })

	lost := errors.New("connection reset")
	c.handleDisconnect(lost)

	if c.IsConnected() {
		t.Error("IsConnected() = true after handleDisconnect()")
	}
	if !errors.Is(gotErr, lost) {
		t.Errorf("OnDisconnect error = %v, want %v", gotErr, lost)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

func TestHealthCheck(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}

	fake.connected = false
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "ailink-test" {
		t.Errorf("ClientID = %q, want ailink-test", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}

	configureLWT(opts, NewTopics("ailink"))
	if !opts.WillEnabled || opts.WillTopic != "ailink/bridge/status" || string(opts.WillPayload) != StatusOffline {
		t.Errorf("LWT = %v %q %q, want offline on ailink/bridge/status",
			opts.WillEnabled, opts.WillTopic, opts.WillPayload)
	}
	if !opts.WillRetained {
		t.Error("LWT must be retained")
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	c, fake := connectedClient(t)

	if err := c.Publish("ailink/dev-1/state", []byte(`{}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := c.PublishRetained("ailink/dev-1/availability", []byte("online")); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}
	if err := c.ClearRetained("homeassistant/sensor/ailink_dev-1/flow/config"); err != nil {
		t.Fatalf("ClearRetained() error = %v", err)
	}

	if len(fake.published) != 3 {
		t.Fatalf("published %d messages, want 3", len(fake.published))
	}
	cleared := fake.published[2]
	if b, ok := cleared.payload.([]byte); !ok || len(b) != 0 || !cleared.retained {
		t.Errorf("ClearRetained() published %+v, want empty retained payload", cleared)
	}
}

func TestPublishValidation(t *testing.T) {
	c, fake := connectedClient(t)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "ailink/x", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "ailink/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if len(fake.published) != 0 {
		t.Errorf("invalid publishes reached the broker: %+v", fake.published)
	}
}

func TestPublishFailures(t *testing.T) {
	c, fake := connectedClient(t)

	fake.timeout = true
	if err := c.Publish("ailink/x", nil, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(timeout) error = %v, want ErrPublishFailed", err)
	}

	fake.timeout = false
	fake.tokenErr = errors.New("broker said no")
	if err := c.Publish("ailink/x", nil, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(token error) error = %v, want ErrPublishFailed", err)
	}

	fake.connected = false
	if err := c.Publish("ailink/x", nil, 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish(disconnected) error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribeAndDeliver(t *testing.T) {
	c, fake := connectedClient(t)
	filter := c.Topics().AllDeviceCommands()

	var gotTopic, gotPayload string
	err := c.Subscribe(filter, 1, func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription(filter) || c.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	fake.deliver(filter, "ailink/dev-1/power/set", []byte("ON"))
	if gotTopic != "ailink/dev-1/power/set" || gotPayload != "ON" {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c, fake := connectedClient(t)
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v", err)
	}
	if err := c.Subscribe("a", 5, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) error = %v", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v", err)
	}

	fake.tokenErr = errors.New("not authorised")
	if err := c.Subscribe("a", 1, handler); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(token error) error = %v", err)
	}
	if c.HasSubscription("a") {
		t.Error("failed subscription should not be tracked")
	}

	fake.tokenErr = nil
	fake.connected = false
	if err := c.Subscribe("a", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v", err)
	}
}

func TestUnsubscribe(t *testing.T) {
	c, fake := connectedClient(t)
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("ailink/+/+/set", 1, handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Unsubscribe("ailink/+/+/set"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Error("subscription still tracked after Unsubscribe()")
	}
	if len(fake.unsubscribed) != 1 {
		t.Errorf("broker unsubscribes = %v", fake.unsubscribed)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v", err)
	}
}

func TestHandlerErrorsAndPanicsAreLogged(t *testing.T) {
	c, fake := connectedClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	_ = c.Subscribe("err", 0, func(string, []byte) error { return errors.New("bad payload") })
	_ = c.Subscribe("panic", 0, func(string, []byte) error { panic("boom") })

	fake.deliver("err", "err", nil)
	fake.deliver("panic", "panic", nil)

	if len(logger.warns) != 1 {
		t.Errorf("warnings = %v, want 1", logger.warns)
	}
	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want 1", logger.errors)
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("ailink")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"BridgeStatus", topics.BridgeStatus(), "ailink/bridge/status"},
		{"BridgeHealth", topics.BridgeHealth(), "ailink/bridge/health"},
		{"DeviceState", topics.DeviceState("dev-1"), "ailink/dev-1/state"},
		{"DeviceAvailability", topics.DeviceAvailability("dev-1"), "ailink/dev-1/availability"},
		{"DeviceCommand", topics.DeviceCommand("dev-1", "power"), "ailink/dev-1/power/set"},
		{"AllDeviceCommands", topics.AllDeviceCommands(), "ailink/+/+/set"},
		{"custom prefix", NewTopics("/home/heaters/").BridgeStatus(), "home/heaters/bridge/status"},
		{"empty prefix", NewTopics("").DeviceState("x"), "ailink/x/state"},
		{"zero value", Topics{}.BridgeHealth(), "ailink/bridge/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseDeviceCommand(t *testing.T) {
	topics := NewTopics("ailink")

	tests := []struct {
		topic     string
		wantID    string
		wantField string
		wantOK    bool
	}{
		{"ailink/dev-1/power/set", "dev-1", "power", true},
		{"ailink/dev-1/target_temperature/set", "dev-1", "target_temperature", true},
		{"ailink/dev-1/state", "", "", false},
		{"ailink/dev-1/power/get", "", "", false},
		{"other/dev-1/power/set", "", "", false},
		{"ailink//power/set", "", "", false},
		{"ailink/a/b/c/set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, field, ok := topics.ParseDeviceCommand(tt.topic)
			if ok != tt.wantOK || id != tt.wantID || field != tt.wantField {
				t.Errorf("ParseDeviceCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, id, field, ok, tt.wantID, tt.wantField, tt.wantOK)
			}
		})
	}
}
