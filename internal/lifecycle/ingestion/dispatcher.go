// Package ingestion turns document and application events into reconcile
// calls without blocking the code that produced them.
package ingestion

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/metrics"
	"loan-lifecycle/internal/lifecycle/transition"
	"loan-lifecycle/internal/models"
)

var ErrClosed = errors.New("INGESTION_CLOSED")

type Reconciler interface {
	Reconcile(ctx context.Context, applicationID string, trigger models.TriggerKind) (transition.Result, error)
}

// Dispatcher queues application ids for a fixed pool of workers. While an id
// is still waiting in the queue, further events for it collapse into one.
type Dispatcher struct {
	reconciler Reconciler
	workers    int
	queue      chan string
	logger     logger.Logger

	mu      sync.Mutex
	pending map[string]models.TriggerKind
	closed  bool
}

func NewDispatcher(r Reconciler, workers, queueSize int, log logger.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		reconciler: r,
		workers:    workers,
		queue:      make(chan string, queueSize),
		pending:    make(map[string]models.TriggerKind),
		logger:     log.WithFields(map[string]interface{}{"component": "ingestion"}),
	}
}

// Notify records that applicationID needs reconciling and returns at once.
// A full queue drops the event; the next event for the application heals it.
func (d *Dispatcher) Notify(applicationID string, trigger models.TriggerKind) error {
	if applicationID == "" {
		return apperrors.NewInvalidEventError("applicationId is required")
	}
	if !trigger.Valid() {
		return apperrors.NewInvalidEventError("unknown trigger: " + string(trigger))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	if _, queued := d.pending[applicationID]; queued {
		d.pending[applicationID] = trigger
		metrics.IngestionEvents.WithLabelValues("coalesced").Inc()
		return nil
	}

	select {
	case d.queue <- applicationID:
		d.pending[applicationID] = trigger
		metrics.IngestionEvents.WithLabelValues("queued").Inc()
		metrics.IngestionQueueDepth.Set(float64(len(d.pending)))
		return nil
	default:
		metrics.IngestionEvents.WithLabelValues("dropped").Inc()
		d.logger.Warn("reconcile queue full, dropping event", map[string]interface{}{
			"applicationId": applicationID,
			"trigger":       string(trigger),
			"errorCode":     string(apperrors.ErrCodeQueueFull),
		})
		return apperrors.NewQueueFullError(applicationID)
	}
}

// Run consumes the queue until ctx is done or Close has been called and the
// queue is drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id, ok := <-d.queue:
					if !ok {
						return nil
					}
					d.process(id)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) process(applicationID string) {
	d.mu.Lock()
	trigger := d.pending[applicationID]
	delete(d.pending, applicationID)
	metrics.IngestionQueueDepth.Set(float64(len(d.pending)))
	d.mu.Unlock()

	// Reconcile gets its own context so shutdown never aborts a write half way.
	res, err := d.reconciler.Reconcile(context.Background(), applicationID, trigger)
	if err != nil {
		d.logger.Warn("reconcile failed", map[string]interface{}{
			"applicationId": applicationID,
			"trigger":       string(trigger),
			"errorCode":     string(apperrors.CodeOf(err)),
			"error":         err,
		})
		return
	}
	if res.Changed {
		d.logger.Debug("reconciled", map[string]interface{}{
			"applicationId": applicationID,
			"fromStage":     string(res.FromStage),
			"toStage":       string(res.ToStage),
		})
	}
}

// Close stops accepting events. Workers finish whatever is already queued.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

// Pending reports how many applications are waiting.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
