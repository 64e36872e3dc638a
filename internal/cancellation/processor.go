package cancellation

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-cancellation/internal/cancellation/entity"
	queueentity "github.com/ovaphlow/pitchfork/service-user-cancellation/internal/queue/entity"
)

// TaskSource is the consuming side of the deletion queue.
type TaskSource interface {
	Available(ctx context.Context, now int64, limit uint64) ([]string, error)
	Lease(ctx context.Context, ids []string, now, until int64) ([]queueentity.DeletionTask, error)
	Ack(ctx context.Context, id string) error
	Requeue(ctx context.Context, t queueentity.DeletionTask, now int64) (queueentity.DeletionTask, error)
}

// Processor drains the deletion queue on a periodic trigger.
type Processor struct {
	svc    *Service
	tasks  TaskSource
	config ConfigSource
	clock  clockwork.Clock
	logger *zap.SugaredLogger
}

func NewProcessor(svc *Service, tasks TaskSource) *Processor {
	return &Processor{svc: svc, tasks: tasks, config: svc.config, clock: svc.clock, logger: svc.logger}
}

// ProcessTask decides what happens to one task and runs the deletion when it
// is due and the subject is still pending. It never panics.
func (p *Processor) ProcessTask(ctx context.Context, task queueentity.DeletionTask) (result entity.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("deletion task panicked", "task_id", task.ID, "subject_id", task.SubjectID, "panic", r)
			result = entity.TaskFailed
		}
	}()

	if !task.Due(p.clock.Now().Unix()) {
		return entity.TaskRequeued
	}
	rec, err := p.svc.Record(ctx, task.SubjectID)
	if errors.Is(err, ErrNotFound) {
		return entity.TaskSkippedStale
	}
	if err != nil {
		p.logger.Errorw("load deletion record", "task_id", task.ID, "subject_id", task.SubjectID, "err", err)
		return entity.TaskFailed
	}
	if !rec.Pending() {
		return entity.TaskSkippedStale
	}
	report, err := p.svc.ExecuteDeletion(ctx, task.SubjectID)
	if err != nil {
		p.logger.Errorw("deletion failed, task dropped", "task_id", task.ID, "subject_id", task.SubjectID, "err", err)
		return entity.TaskFailed
	}
	if report.Outcome != entity.OutcomeExecuted {
		return entity.TaskSkippedStale
	}
	return entity.TaskExecuted
}

// Drain processes the tasks available when it starts. Tasks re-queued during
// the drain wait for the next one.
func (p *Processor) Drain(ctx context.Context) (entity.DrainSummary, error) {
	var summary entity.DrainSummary
	timer := prometheus.NewTimer(drainDuration)
	defer timer.ObserveDuration()

	cfg := p.config.Current(ctx)
	ids, err := p.tasks.Available(ctx, p.clock.Now().Unix(), uint64(cfg.DrainLimit))
	if err != nil {
		return summary, dependency("list available tasks", err)
	}
	for start := 0; start < len(ids); start += cfg.DrainBatchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		end := start + cfg.DrainBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		now := p.clock.Now()
		tasks, err := p.tasks.Lease(ctx, ids[start:end], now.Unix(), now.Add(cfg.LeaseDuration).Unix())
		if err != nil {
			return summary, dependency("lease tasks", err)
		}
		for _, t := range tasks {
			res := p.ProcessTask(ctx, t)
			p.settle(ctx, t, res)
			summary.Add(res)
			tasksProcessed.WithLabelValues(string(res)).Inc()
		}
	}
	return summary, nil
}

// settle removes a finished task or swaps a not-yet-due one for a fresh copy.
// On failure the lease runs out and the task is delivered again.
func (p *Processor) settle(ctx context.Context, t queueentity.DeletionTask, res entity.TaskResult) {
	if res == entity.TaskRequeued {
		if _, err := p.tasks.Requeue(ctx, t, p.clock.Now().Unix()); err != nil {
			p.logger.Warnw("requeue failed", "task_id", t.ID, "err", err)
		}
		return
	}
	if err := p.tasks.Ack(ctx, t.ID); err != nil {
		p.logger.Warnw("ack failed", "task_id", t.ID, "result", res, "err", err)
	}
}

// Tick runs the overdue sweep (when enabled) and one drain.
func (p *Processor) Tick(ctx context.Context) (entity.DrainSummary, error) {
	if p.config.Current(ctx).ReconcileOverdue {
		if _, err := p.svc.EnqueueOverdue(ctx); err != nil {
			p.logger.Warnw("overdue sweep failed", "err", err)
		}
	}
	return p.Drain(ctx)
}

// Run ticks once immediately and then every DrainInterval until ctx is done.
func (p *Processor) Run(ctx context.Context) {
	interval := p.config.Current(ctx).DrainInterval
	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Infow("deletion processor started", "interval", interval.String())
	p.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("deletion processor stopped")
			return
		case <-ticker.Chan():
			p.runOnce(ctx)
		}
	}
}

func (p *Processor) runOnce(ctx context.Context) {
	started := p.clock.Now()
	summary, err := p.Tick(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Errorw("drain failed", "err", err)
	}
	if summary.Total() > 0 {
		p.logger.Infow("drain finished",
			"executed", summary.Executed, "skipped", summary.Skipped,
			"requeued", summary.Requeued, "failed", summary.Failed,
			"took", p.clock.Since(started).String())
	}
}
