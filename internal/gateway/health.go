package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/device"
)

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy means MQTT is connected and every heater is online.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means MQTT is down or at least one heater is not online.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting is published once before the first report.
	HealthStarting HealthStatus = "starting"

	// HealthStopping is published by Stop.
	HealthStopping HealthStatus = "stopping"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthMessage is the retained payload on the bridge health topic.
type HealthMessage struct {
	Status        HealthStatus                `json:"status"`
	Reason        string                      `json:"reason,omitempty"`
	Version       string                      `json:"version"`
	Timestamp     time.Time                   `json:"timestamp"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Devices       int                         `json:"devices"`
	Availability  map[device.Availability]int `json:"availability"`
}

// HealthPublisher is the interface for publishing health messages.
// *mqtt.Client satisfies it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// SnapshotSource lists device snapshots. *Gateway satisfies it.
type SnapshotSource interface {
	Devices() []device.Snapshot
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Topic is the retained health topic (ailink/bridge/health).
	Topic string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Source    SnapshotSource
}

// HealthReporter publishes a periodic retained health message.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time
	now       func() time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		now:       time.Now,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic health reporting until ctx is cancelled or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context) {
	if err := h.publish(HealthStarting, "bridge starting"); err != nil {
		h.logError("failed to publish starting health", err)
	}

	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthStopping, "")
	})
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status. Without a publisher
// MQTT is disabled and only device availability counts.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher != nil && !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Source == nil {
		return HealthHealthy, ""
	}

	for _, snap := range h.cfg.Source.Devices() {
		switch snap.Availability {
		case device.AvailabilityReauthRequired:
			return HealthDegraded, "cloud credentials rejected"
		case device.AvailabilityDegraded:
			return HealthDegraded, "device polling failing"
		}
	}
	return HealthHealthy, ""
}

// Current evaluates the bridge and returns the message a report would carry.
func (h *HealthReporter) Current() HealthMessage {
	return h.Message(h.determineStatus())
}

// Message builds the health payload for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	now := h.now()
	msg := HealthMessage{
		Status:        status,
		Reason:        reason,
		Version:       h.cfg.Version,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Availability:  make(map[device.Availability]int),
	}
	if h.cfg.Source != nil {
		for _, snap := range h.cfg.Source.Devices() {
			msg.Devices++
			msg.Availability[snap.Availability]++
		}
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}

	// QoS 1, retained
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	logger.Error(msg, "error", err)
}
