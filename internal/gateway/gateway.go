package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/nerrad567/ailink-bridge/internal/cloud"
	"github.com/nerrad567/ailink-bridge/internal/device"
)

// Defaults applied to zero Options fields.
const (
	DefaultPollInterval     = 60 * time.Second
	DefaultRequestTimeout   = 10 * time.Second
	DefaultFailureThreshold = 3

	// stopTimeout bounds how long Stop waits for pollers and in-flight
	// commands after cancelling them.
	stopTimeout = 5 * time.Second
)

// Cloud is the vendor API the gateway drives. *cloud.Client satisfies it.
type Cloud interface {
	ListDevices(ctx context.Context) ([]cloud.DeviceInfo, error)
	FetchStatus(ctx context.Context, deviceID string) (json.RawMessage, error)
	InvokeMethod(ctx context.Context, deviceID, identifier string, input map[string]string) error
}

// Options configures a Gateway.
type Options struct {
	// Cloud is required.
	Cloud Cloud

	// Registry holds the live device set. Required; build it with a
	// repository to persist snapshots.
	Registry *device.Registry

	PollInterval     time.Duration
	RequestTimeout   time.Duration
	FailureThreshold int

	// ReconcileTimeout is how long an optimistic value survives a
	// disagreeing poll. Zero means twice PollInterval.
	ReconcileTimeout time.Duration

	// RediscoveryInterval schedules periodic re-discovery. Zero disables it.
	RediscoveryInterval time.Duration

	// Logger is optional.
	Logger Logger

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Gateway is the bridge's single entry point: it discovers heaters, polls
// each on its own goroutine, dispatches commands and fans out events.
//
// Thread Safety: All methods are safe for concurrent use.
type Gateway struct {
	cloud               Cloud
	registry            *device.Registry
	settings            pollSettings
	rediscoveryInterval time.Duration
	now                 func() time.Time
	logger              Logger

	// Bridge-level context, cancelled on Stop.
	ctx       context.Context
	ctxCancel context.CancelFunc

	// mu guards lifecycle flags and the poller set. Holding it for read
	// while registering work with wg keeps Stop from racing new work.
	mu       sync.RWMutex
	started  bool
	closed   bool
	pollers  map[string]context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	discoverMu sync.Mutex
	scheduler  gocron.Scheduler

	notifyMu  sync.RWMutex
	notifiers map[int]Notifier
	nextSubID int
}

// New creates a gateway. Call Start to discover devices and begin polling.
func New(opts Options) (*Gateway, error) {
	if opts.Cloud == nil {
		return nil, fmt.Errorf("cloud client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	settings := pollSettings{
		interval:         opts.PollInterval,
		requestTimeout:   opts.RequestTimeout,
		reconcileTimeout: opts.ReconcileTimeout,
		failureThreshold: opts.FailureThreshold,
	}
	if settings.interval <= 0 {
		settings.interval = DefaultPollInterval
	}
	if settings.requestTimeout <= 0 {
		settings.requestTimeout = DefaultRequestTimeout
	}
	if settings.reconcileTimeout <= 0 {
		settings.reconcileTimeout = 2 * settings.interval
	}
	if settings.failureThreshold <= 0 {
		settings.failureThreshold = DefaultFailureThreshold
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Gateway{
		cloud:               opts.Cloud,
		registry:            opts.Registry,
		settings:            settings,
		rediscoveryInterval: opts.RediscoveryInterval,
		now:                 now,
		logger:              logger,
		ctx:                 ctx,
		ctxCancel:           cancel,
		pollers:             make(map[string]context.CancelFunc),
		notifiers:           make(map[int]Notifier),
	}, nil
}

// Start warm-loads persisted devices, runs discovery and starts one poller
// per heater.
//
// Returns a *device.DiscoveryError when discovery fails or finds no
// heater; errors.Is(err, cloud.ErrAuth) identifies rejected credentials.
// ctx bounds startup only; the pollers run until Stop.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	switch {
	case g.closed:
		g.mu.Unlock()
		return ErrClosed
	case g.started:
		g.mu.Unlock()
		return ErrAlreadyStarted
	}
	g.started = true
	g.mu.Unlock()

	if err := g.registry.Load(ctx); err != nil {
		g.logger.Warn("warm start skipped", "error", err)
	}

	if _, err := g.Rediscover(ctx); err != nil {
		return err
	}

	if err := g.startScheduler(); err != nil {
		return err
	}

	g.logger.Info("gateway started",
		"devices", g.registry.Len(),
		"poll_interval", g.settings.interval,
		"reconcile_timeout", g.settings.reconcileTimeout)
	return nil
}

// startScheduler registers the periodic re-discovery job, if enabled.
func (g *Gateway) startScheduler() error {
	if g.rediscoveryInterval <= 0 {
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(g.rediscoveryInterval),
		gocron.NewTask(g.scheduledRediscover),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown() //nolint:errcheck // Nothing scheduled yet
		return fmt.Errorf("creating rediscovery job: %w", err)
	}
	s.Start()

	g.mu.Lock()
	g.scheduler = s
	g.mu.Unlock()
	return nil
}

func (g *Gateway) scheduledRediscover() {
	ctx, cancel := context.WithTimeout(g.ctx, g.settings.requestTimeout)
	defer cancel()

	if _, err := g.Rediscover(ctx); err != nil && !errors.Is(err, ErrClosed) {
		g.logger.Warn("scheduled rediscovery failed", "error", err)
	}
}

// Rediscover lists the account again and reconciles the device set:
// pollers start for new heaters and stop for heaters no longer listed.
// Existing heaters keep their state.
func (g *Gateway) Rediscover(ctx context.Context) (device.Diff, error) {
	g.discoverMu.Lock()
	defer g.discoverMu.Unlock()

	if g.isClosed() {
		return device.Diff{}, ErrClosed
	}

	records, err := device.Discover(ctx, g.cloud)
	if err != nil {
		g.logger.Error("device discovery failed", "error", err)
		return device.Diff{}, err
	}

	diff, err := g.registry.Sync(ctx, records)
	if err != nil {
		// Membership is already updated; persistence catches up next sync.
		g.logger.Warn("persisting discovered devices failed", "error", err)
	}

	for _, id := range diff.Removed {
		g.stopPoller(id)
	}
	for _, dev := range g.registry.List() {
		g.startPoller(dev)
	}

	if !diff.Empty() {
		g.notify(Event{Kind: EventDevicesChanged, Diff: diff})
	}
	return diff, nil
}

// startPoller launches a poller for dev unless one is already running.
func (g *Gateway) startPoller(dev *device.Device) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := dev.ID()
	if g.closed {
		return
	}
	if _, running := g.pollers[id]; running {
		return
	}

	ctx, cancel := context.WithCancel(g.ctx)
	g.pollers[id] = cancel

	p := &poller{
		dev:      dev,
		fetcher:  g.cloud,
		store:    g.registry,
		settings: g.settings,
		notify:   g.notify,
		now:      g.now,
		logger:   g.logger,
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		p.run(ctx)

		// A poller halted by an auth failure frees its slot so a later
		// rediscovery with fresh credentials can restart it.
		g.mu.Lock()
		if c, ok := g.pollers[id]; ok && ctx.Err() == nil {
			c()
			delete(g.pollers, id)
		}
		g.mu.Unlock()
	}()
}

func (g *Gateway) stopPoller(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cancel, ok := g.pollers[id]; ok {
		cancel()
		delete(g.pollers, id)
	}
}

// Pollers returns the number of running device pollers.
func (g *Gateway) Pollers() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pollers)
}

// Device returns the current snapshot of one heater. It never touches the
// network.
func (g *Gateway) Device(id string) (device.Snapshot, error) {
	dev, err := g.registry.Get(id)
	if err != nil {
		return device.Snapshot{}, err
	}
	return dev.Snapshot(), nil
}

// Devices returns a snapshot of every heater ordered by ID.
func (g *Gateway) Devices() []device.Snapshot {
	return g.registry.Snapshots()
}

// Subscribe registers n for every future event. The returned function
// removes it.
func (g *Gateway) Subscribe(n Notifier) (unsubscribe func()) {
	g.notifyMu.Lock()
	id := g.nextSubID
	g.nextSubID++
	g.notifiers[id] = n
	g.notifyMu.Unlock()

	return func() {
		g.notifyMu.Lock()
		delete(g.notifiers, id)
		g.notifyMu.Unlock()
	}
}

func (g *Gateway) notify(ev Event) {
	g.notifyMu.RLock()
	subs := make([]Notifier, 0, len(g.notifiers))
	for _, n := range g.notifiers {
		subs = append(subs, n)
	}
	g.notifyMu.RUnlock()

	for _, n := range subs {
		n(ev)
	}
}

// Stop cancels every poller and in-flight request, refuses further
// commands and waits a bounded time for goroutines to exit.
// Safe to call multiple times.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		scheduler := g.scheduler
		g.pollers = make(map[string]context.CancelFunc)
		g.mu.Unlock()

		g.ctxCancel()

		if scheduler != nil {
			if err := scheduler.Shutdown(); err != nil {
				g.logger.Warn("scheduler shutdown failed", "error", err)
			}
		}

		done := make(chan struct{})
		go func() {
			g.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			g.logger.Info("gateway stopped")
		case <-time.After(stopTimeout):
			g.logger.Warn("gateway stop timed out waiting for goroutines")
		}
	})
}

func (g *Gateway) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}
