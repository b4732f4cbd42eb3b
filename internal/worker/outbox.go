package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/metrics"
	"github.com/rl1809/settlement/internal/port"
)

const (
	pollerLockKey  = "settlement:outbox:poller"
	defaultWorkers = 10
	defaultBatch   = 100
	defaultPoll    = time.Second
	defaultTimeout = 10 * time.Second
)

// Handler executes one outbox event.
type Handler interface {
	Handle(ctx context.Context, event domain.OutboxEvent) error
}

type Config struct {
	Workers        int
	BatchSize      int
	PollInterval   time.Duration
	HandlerTimeout time.Duration
}

// Dispatcher drains PENDING outbox rows into a worker pool. Only the
// instance holding the poller lock claims a batch, and a claimed batch is
// leased for as long as the pool can take to work through it, so an
// instance that takes over an expired poller lock cannot pick the same rows
// up again.
type Dispatcher struct {
	repo     port.OutboxRepository
	handler  Handler
	locker   port.Locker
	metrics  *metrics.Metrics
	logger   logrus.FieldLogger
	workers  int
	batch    int
	interval time.Duration
	timeout  time.Duration
	kick     chan struct{}
	now      func() time.Time
}

func NewDispatcher(repo port.OutboxRepository, handler Handler, locker port.Locker, m *metrics.Metrics, logger logrus.FieldLogger, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatch
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPoll
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultTimeout
	}
	return &Dispatcher{
		repo:     repo,
		handler:  handler,
		locker:   locker,
		metrics:  m,
		logger:   logger,
		workers:  cfg.Workers,
		batch:    cfg.BatchSize,
		interval: cfg.PollInterval,
		timeout:  cfg.HandlerTimeout,
		kick:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Kick asks for a poll without waiting for the next tick. It never blocks.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. An in-flight batch is finished first.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.WithFields(logrus.Fields{
		"workers":  d.workers,
		"batch":    d.batch,
		"interval": d.interval.String(),
	}).Info("outbox dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.kick:
		}
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.WithError(err).Error("outbox poll failed")
		}
	}
}

// RunOnce processes a single batch and reports how many events it handled.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	if d.locker != nil {
		release, ok, err := d.locker.Obtain(ctx, pollerLockKey, d.interval+d.timeout)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				d.logger.WithError(err).Debug("release poller lock")
			}
		}()
	}

	events, err := d.repo.ClaimPendingEvents(ctx, d.batch, d.lease())
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	jobs := make(chan domain.OutboxEvent)
	var wg sync.WaitGroup
	workers := d.workers
	if workers > len(events) {
		workers = len(events)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for event := range jobs {
				d.process(id, event)
			}
		}(i)
	}

	for _, e := range events {
		jobs <- e
	}
	close(jobs)
	wg.Wait()

	// A full batch means more may be waiting.
	if len(events) == d.batch {
		d.Kick()
	}
	return len(events), nil
}

// lease covers a full batch run back to back through the pool, plus one poll
// interval of slack.
func (d *Dispatcher) lease() time.Duration {
	rounds := (d.batch + d.workers - 1) / d.workers
	return time.Duration(rounds)*d.timeout + d.interval
}

// process runs detached from the poll context so a shutdown does not cut a
// handler off half way.
func (d *Dispatcher) process(workerID int, event domain.OutboxEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	log := d.logger.WithFields(logrus.Fields{
		"worker":  workerID,
		"event":   event.ID,
		"type":    event.Type,
		"attempt": event.Attempts + 1,
	})

	start := d.now()
	err := d.handler.Handle(ctx, event)
	took := d.now().Sub(start)

	if err == nil {
		d.metrics.OutboxEvent(string(event.Type), "done", took)
		if err := d.repo.MarkEventDone(ctx, event.ID, d.now()); err != nil {
			log.WithError(err).Error("failed to mark outbox event done")
		}
		return
	}

	park := event.Exhausted()
	result := "retry"
	if park {
		result = "failed"
		log.WithError(err).Error("outbox event gave up")
	} else {
		log.WithError(err).Warn("outbox event failed, will retry")
	}
	d.metrics.OutboxEvent(string(event.Type), result, took)
	if err := d.repo.MarkEventFailed(ctx, event.ID, err.Error(), park); err != nil {
		log.WithError(err).Error("failed to record outbox failure")
	}
}
