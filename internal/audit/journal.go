package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/gateway"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 5 * time.Second
	pruneEvery       = time.Hour
)

// Logger is the logging interface used by the journal.
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

// JournalOptions configures a Journal.
type JournalOptions struct {
	// Retention is how long entries are kept. Zero keeps them forever.
	Retention time.Duration

	// QueueSize bounds writes waiting for the database (default 256).
	QueueSize int

	Logger Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// op is one queued write: a new entry or a resolution.
type op struct {
	record  *Entry
	resolve *device.PendingCommand
}

// Journal records gateway command events in a Repository.
//
// HandleEvent is a gateway.Notifier: it only enqueues, so a slow disk never
// stalls a poller. A single writer goroutine applies the queue in order.
type Journal struct {
	repo      Repository
	logger    Logger
	retention time.Duration
	now       func() time.Time

	queue chan op

	mu      sync.Mutex
	started bool
	closed  bool

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewJournal creates a journal writing to repo. Call Start to begin writing.
func NewJournal(repo Repository, opts JournalOptions) *Journal {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Journal{
		repo:      repo,
		logger:    opts.Logger,
		retention: opts.Retention,
		now:       opts.Now,
		queue:     make(chan op, opts.QueueSize),
		ctx:       ctx,
		ctxCancel: cancel,
	}
}

// HandleEvent enqueues the journal writes for one gateway event: a new
// entry for an accepted command, then a resolution for every command the
// event reports as settled (a poll's confirmations and overrides, or the
// command a new one superseded). Other events are ignored.
func (j *Journal) HandleEvent(ev gateway.Event) {
	if ev.Kind == gateway.EventCommand && ev.Command != nil {
		e := Entry{
			ID:       ev.Command.ID,
			DeviceID: ev.Command.DeviceID,
			Field:    ev.Command.Field,
			Value:    ev.Command.Value,
			Status:   device.PendingStatusPending,
			IssuedAt: ev.Command.IssuedAt,
		}
		j.enqueue(op{record: &e})
	}
	if ev.Kind != gateway.EventCommand && ev.Kind != gateway.EventPolled {
		return
	}
	for i := range ev.Resolved {
		cmd := ev.Resolved[i]
		j.enqueue(op{resolve: &cmd})
	}
}

func (j *Journal) enqueue(o op) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- o:
	default:
		j.logger.Warn("command journal queue full, dropping entry")
	}
}

// Start launches the writer goroutine. Calling Start twice is a no-op.
func (j *Journal) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started || j.closed {
		return
	}
	j.started = true

	j.wg.Add(1)
	go j.run()
}

// Stop flushes queued writes and stops the writer. Safe to call more than once.
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		j.mu.Unlock()

		j.ctxCancel()
		j.wg.Wait()
	})
}

// List returns one page of the journal.
func (j *Journal) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return j.repo.List(ctx, filter)
}

func (j *Journal) run() {
	defer j.wg.Done()

	j.prune()
	ticker := time.NewTicker(pruneEvery)
	defer ticker.Stop()

	for {
		select {
		case o := <-j.queue:
			j.apply(o)
		case <-ticker.C:
			j.prune()
		case <-j.ctx.Done():
			j.drain()
			return
		}
	}
}

// drain applies whatever is still queued. closed is already set, so the
// queue cannot grow.
func (j *Journal) drain() {
	for {
		select {
		case o := <-j.queue:
			j.apply(o)
		default:
			return
		}
	}
}

func (j *Journal) apply(o op) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch {
	case o.record != nil:
		if err := j.repo.Record(ctx, *o.record); err != nil {
			j.logger.Error("recording command", "command_id", o.record.ID, "error", err)
		}
	case o.resolve != nil:
		err := j.repo.Resolve(ctx, o.resolve.ID, o.resolve.Status, j.now())
		switch {
		case errors.Is(err, ErrEntryNotFound):
			j.logger.Debug("resolved command not in journal", "command_id", o.resolve.ID)
		case err != nil:
			j.logger.Error("resolving command", "command_id", o.resolve.ID, "error", err)
		}
	}
}

func (j *Journal) prune() {
	if j.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	n, err := j.repo.Prune(ctx, j.now().Add(-j.retention))
	if err != nil {
		j.logger.Error("pruning command journal", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("command journal pruned", "removed", n)
	}
}
