// Package transition keeps an application's stage consistent with its
// documents and fires stage-dependent notifications exactly once.
package transition

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/metrics"
	"loan-lifecycle/internal/common/observability"
	"loan-lifecycle/internal/lifecycle/guard"
	"loan-lifecycle/internal/lifecycle/notification"
	"loan-lifecycle/internal/lifecycle/repository"
	"loan-lifecycle/internal/lifecycle/stage"
	"loan-lifecycle/internal/models"
)

const (
	OutcomeUnchanged   = "unchanged"
	OutcomeChanged     = "changed"
	OutcomeConflict    = "conflict"
	OutcomeError       = "error"
	OutcomeLockTimeout = "lock_timeout"
)

// maxAttempts bounds evaluate+write passes when a concurrent writer bumps
// stage_version between our read and our write.
const maxAttempts = 2

type Store interface {
	LoadSnapshot(ctx context.Context, applicationID string) (*repository.Snapshot, error)
	ApplyTransition(ctx context.Context, expectedVersion int64, rec models.StageTransitionRecord) error
}

type Indexer interface {
	Index(ctx context.Context, rec models.StageTransitionRecord) error
}

type Config struct {
	Timeout          time.Duration
	StageCooldown    time.Duration
	ZeroDocsCooldown time.Duration
}

// Result reports what a reconcile pass did.
type Result struct {
	Changed   bool         `json:"changed"`
	FromStage models.Stage `json:"fromStage"`
	ToStage   models.Stage `json:"toStage"`
}

type Applier struct {
	config    Config
	store     Store
	evaluator *stage.Evaluator
	claims    guard.Claimer
	notifier  notification.Notifier
	indexer   Indexer
	obs       *observability.Observability
	locks     *keyedLock
	logger    logger.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Applier)

func WithIndexer(i Indexer) Option {
	return func(a *Applier) { a.indexer = i }
}

func WithObservability(o *observability.Observability) Option {
	return func(a *Applier) { a.obs = o }
}

func WithClock(now func() time.Time) Option {
	return func(a *Applier) { a.now = now }
}

func New(cfg Config, store Store, evaluator *stage.Evaluator, claims guard.Claimer, notifier notification.Notifier, log logger.Logger, opts ...Option) *Applier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	a := &Applier{
		config:    cfg,
		store:     store,
		evaluator: evaluator,
		claims:    claims,
		notifier:  notifier,
		obs:       observability.Noop(),
		locks:     newKeyedLock(),
		logger:    log.WithFields(map[string]interface{}{"component": "transition"}),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// pass is the outcome of the locked evaluate+write section.
type pass struct {
	result    Result
	committed *models.StageTransitionRecord
	zeroDocs  bool
}

// Reconcile recomputes the stage for one application and applies it if it
// changed. The call is detached from ctx cancellation and bounded by the
// configured timeout. Errors are logged here; callers may ignore them.
func (a *Applier) Reconcile(ctx context.Context, applicationID string, trigger models.TriggerKind) (Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.Timeout)
	defer cancel()

	log := a.logger.WithFields(map[string]interface{}{
		"applicationId": applicationID,
		"trigger":       string(trigger),
	})

	p, outcome, err := a.evaluateAndWrite(ctx, applicationID, trigger, log)
	if err != nil {
		a.record(ctx, start, trigger, outcome)
		return p.result, err
	}

	if p.committed != nil {
		a.afterCommit(ctx, *p.committed, log)
	}
	if p.zeroDocs && !p.result.ToStage.Terminal() {
		a.dispatch(ctx, applicationID, models.TemplateZeroDocs, a.config.ZeroDocsCooldown, log)
	}

	a.record(ctx, start, trigger, outcome)
	return p.result, nil
}

func (a *Applier) evaluateAndWrite(ctx context.Context, applicationID string, trigger models.TriggerKind, log logger.Logger) (pass, string, error) {
	waitStart := time.Now()
	release, err := a.locks.acquire(ctx, applicationID)
	if err != nil {
		log.Warn("timed out waiting for application lock", map[string]interface{}{
			"waited": time.Since(waitStart).String(),
		})
		return pass{}, OutcomeLockTimeout, apperrors.NewEvaluationFailedError(applicationID, err)
	}
	defer release()
	a.obs.RecordLockWait(ctx, time.Since(waitStart))

	for attempt := 1; ; attempt++ {
		snap, err := a.store.LoadSnapshot(ctx, applicationID)
		if err != nil {
			if errors.Is(err, repository.ErrApplicationNotFound) {
				log.Warn("application not found", map[string]interface{}{"error": err})
				return pass{}, OutcomeError, apperrors.NewApplicationNotFoundError(applicationID, err)
			}
			log.Error("failed to load application snapshot", map[string]interface{}{"error": err})
			return pass{}, OutcomeError, apperrors.NewEvaluationFailedError(applicationID, err)
		}

		from := snap.Application.Stage
		to := a.evaluator.Evaluate(&snap.Application, snap.Documents)
		p := pass{
			result:   Result{FromStage: from, ToStage: from},
			zeroDocs: activeDocuments(snap.Documents) == 0,
		}

		if to == from {
			return p, OutcomeUnchanged, nil
		}

		rec := models.StageTransitionRecord{
			ID:            a.newID(),
			ApplicationID: applicationID,
			FromStage:     from,
			ToStage:       to,
			Trigger:       trigger,
			EvaluatedAt:   a.now(),
		}

		err = a.store.ApplyTransition(ctx, snap.Application.StageVersion, rec)
		if err == nil {
			p.result = Result{Changed: true, FromStage: from, ToStage: to}
			p.committed = &rec
			return p, OutcomeChanged, nil
		}

		fields := map[string]interface{}{
			"fromStage": string(from),
			"toStage":   string(to),
			"attempt":   attempt,
			"error":     err,
		}
		if !errors.Is(err, repository.ErrStageConflict) {
			log.Error("failed to write stage transition", fields)
			return p, OutcomeError, apperrors.NewEvaluationFailedError(applicationID, err)
		}
		if attempt >= maxAttempts {
			log.Warn("stage write conflict persisted, giving up", fields)
			stdErr := apperrors.NewStageWriteConflictError(applicationID, err).WithMetadata(map[string]interface{}{
				"applicationId": applicationID,
				"trigger":       string(trigger),
				"fromStage":     string(from),
				"toStage":       string(to),
			})
			return p, OutcomeConflict, stdErr
		}
		log.Info("stage write conflict, re-evaluating", fields)
	}
}

func (a *Applier) afterCommit(ctx context.Context, rec models.StageTransitionRecord, log logger.Logger) {
	log.Info("stage transition applied", map[string]interface{}{
		"fromStage":    string(rec.FromStage),
		"toStage":      string(rec.ToStage),
		"transitionId": rec.ID,
	})
	metrics.StageTransitions.WithLabelValues(string(rec.ToStage)).Inc()

	if a.indexer != nil {
		if err := a.indexer.Index(ctx, rec); err != nil {
			log.Warn("failed to index stage transition", map[string]interface{}{
				"transitionId": rec.ID,
				"error":        err,
			})
		}
	}

	a.dispatch(ctx, rec.ApplicationID, string(rec.ToStage), a.config.StageCooldown, log)
}

// dispatch claims (applicationId, kind) and, if this caller won the claim,
// sends the template. A failed send leaves the claim in place.
func (a *Applier) dispatch(ctx context.Context, applicationID, templateKey string, ttl time.Duration, log logger.Logger) {
	if !a.notifier.HasTemplate(templateKey) {
		return
	}

	if !a.claims.Claim(ctx, guard.Key(applicationID, templateKey), ttl) {
		metrics.Dispatches.WithLabelValues(templateKey, "skipped").Inc()
		log.Debug("notification already claimed", map[string]interface{}{"templateKey": templateKey})
		return
	}

	res, err := a.notifier.Send(ctx, applicationID, templateKey)
	switch {
	case err != nil:
		metrics.Dispatches.WithLabelValues(templateKey, "failed").Inc()
		log.Error("notification dispatch failed", map[string]interface{}{
			"templateKey": templateKey,
			"errorCode":   string(apperrors.CodeOf(err)),
			"error":       err,
		})
	case !res.Success:
		metrics.Dispatches.WithLabelValues(templateKey, res.Status).Inc()
		log.Warn("notification not delivered", map[string]interface{}{
			"templateKey": templateKey,
			"status":      res.Status,
			"reason":      res.Error,
		})
	default:
		metrics.Dispatches.WithLabelValues(templateKey, "sent").Inc()
	}
}

func (a *Applier) record(ctx context.Context, start time.Time, trigger models.TriggerKind, outcome string) {
	metrics.Reconciliations.WithLabelValues(outcome).Inc()
	a.obs.RecordReconcile(ctx, time.Since(start), string(trigger), outcome)
}

func activeDocuments(docs []models.Document) int {
	n := 0
	for _, d := range docs {
		if !d.Deleted() {
			n++
		}
	}
	return n
}
