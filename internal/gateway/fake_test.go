package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/cloud"
	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// fakeCloud is a scriptable Cloud with per-device failures.
type fakeCloud struct {
	mu          sync.Mutex
	devices     []cloud.DeviceInfo
	listErr     error
	outputs     map[string]map[string]any
	fetchErr    map[string]error
	fetchBlock  bool
	blocked     map[string]bool
	fetchCalls  map[string]int
	invokeErr   error
	invocations []invocation
}

type invocation struct {
	deviceID   string
	identifier string
	input      map[string]string
}

func newFakeCloud(ids ...string) *fakeCloud {
	f := &fakeCloud{
		outputs:    make(map[string]map[string]any),
		fetchErr:   make(map[string]error),
		fetchCalls: make(map[string]int),
		blocked:    make(map[string]bool),
	}
	for _, id := range ids {
		f.addDevice(id)
	}
	return f
}

func (f *fakeCloud) addDevice(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, cloud.DeviceInfo{
		DeviceID:       cloud.FlexString(id),
		DeviceCategory: cloud.FlexString(device.SupportedCategory),
		DeviceName:     "Heater " + id,
	})
	f.outputs[id] = map[string]any{"powerStatus": "1", "setTemp": "50"}
}

func (f *fakeCloud) removeDevice(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.devices[:0]
	for _, d := range f.devices {
		if d.ID() != id {
			kept = append(kept, d)
		}
	}
	f.devices = kept
}

func (f *fakeCloud) setOutput(id, key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[id][key] = value
}

func (f *fakeCloud) setFetchErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fetchErr, id)
		return
	}
	f.fetchErr[id] = err
}

// block makes every fetch of id hang until its context ends.
func (f *fakeCloud) block(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[id] = true
}

func (f *fakeCloud) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[id]
}

func (f *fakeCloud) invoked() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.invocations...)
}

func (f *fakeCloud) ListDevices(context.Context) ([]cloud.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]cloud.DeviceInfo(nil), f.devices...), nil
}

func (f *fakeCloud) FetchStatus(ctx context.Context, id string) (json.RawMessage, error) {
	f.mu.Lock()
	f.fetchCalls[id]++
	block := f.fetchBlock || f.blocked[id]
	err := f.fetchErr[id]
	output := make(map[string]any, len(f.outputs[id]))
	for k, v := range f.outputs[id] {
		output[k] = v
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, &cloud.TransportError{Op: "fetch", Err: ctx.Err()}
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"statusInfo": map[string]any{
			"events": []map[string]any{{"identifier": "post", "outputData": output}},
		},
	})
}

func (f *fakeCloud) InvokeMethod(_ context.Context, id, identifier string, input map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invokeErr != nil {
		return f.invokeErr
	}
	f.invocations = append(f.invocations, invocation{deviceID: id, identifier: identifier, input: input})
	return nil
}

// eventLog collects notifications.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(kind EventKind, deviceID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind && (deviceID == "" || ev.Snapshot.ID == deviceID) {
			n++
		}
	}
	return n
}

func (l *eventLog) last(kind EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Kind == kind {
			return l.events[i], true
		}
	}
	return Event{}, false
}

// testClock is a clock the test moves by hand.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	testInterval = 20 * time.Millisecond
	waitFor      = 2 * time.Second
	tick         = 5 * time.Millisecond
)

// newTestGateway builds a gateway with fast polling over fc.
func newTestGateway(t *testing.T, fc Cloud, mutate ...func(*Options)) *Gateway {
	t.Helper()
	opts := Options{
		Cloud:            fc,
		Registry:         device.NewRegistry(nil),
		PollInterval:     testInterval,
		RequestTimeout:   time.Second,
		FailureThreshold: 3,
		ReconcileTimeout: time.Hour,
	}
	for _, m := range mutate {
		m(&opts)
	}
	gw, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(gw.Stop)
	return gw
}

// memRepo is a device.Repository serving a fixed warm-start set.
type memRepo struct {
	mu     sync.Mutex
	stored []device.Stored
	saves  int
}

func (m *memRepo) List(context.Context) ([]device.Stored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]device.Stored(nil), m.stored...), nil
}

func (m *memRepo) Upsert(context.Context, device.Record) error { return nil }

func (m *memRepo) Delete(context.Context, string) error { return nil }

func (m *memRepo) SaveState(context.Context, string, telemetry.State, time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

func (m *memRepo) saved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func statePtr(s telemetry.State) *telemetry.State { return &s }
