package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/batch"
	"github.com/lucasgelfond/puffgres/internal/change"
	"github.com/lucasgelfond/puffgres/internal/dlq"
	"github.com/lucasgelfond/puffgres/internal/mapping"
	"github.com/lucasgelfond/puffgres/internal/router"
	"github.com/lucasgelfond/puffgres/internal/state"
	"github.com/lucasgelfond/puffgres/internal/transform"
	"github.com/lucasgelfond/puffgres/internal/util/metrics"
	"github.com/lucasgelfond/puffgres/internal/util/stopper"
)

// runner owns one mapping's serial pipeline: it drains routed changes
// off its queue, buffers KindTransform items until a size or age
// bound is reached, invokes the Transformer, feeds every resulting
// action (and every router-synthesized delete) into a Batcher, and
// writes+checkpoints closed batches (spec.md 4.6-4.9). One runner
// goroutine per mapping is the unit of concurrency spec.md 5
// describes: "single-threaded per mapping, preserving LSN order
// within that mapping."
type runner struct {
	eng   *Engine
	m     *mapping.Mapping
	queue <-chan router.Routed

	transformer transform.Transformer
	invocation  transform.InvocationContext

	batcher *batch.Batcher
	pending []transform.Item

	// dlqPending accumulates DLQ entries produced so far in the
	// current batch cycle (transform failures and writer failures)
	// until the batch is flushed and paired with a checkpoint advance.
	dlqPending []state.DLQEntry
}

func (e *Engine) newRunner(m *mapping.Mapping, queue <-chan router.Routed) (*runner, error) {
	var t transform.Transformer = transform.Identity{}
	if m.Transform != nil {
		exec, err := e.Transforms.Executor(m.Name, m.Version)
		if err != nil {
			return nil, err
		}
		t = exec
	}

	return &runner{
		eng:   e,
		m:     m,
		queue: queue,
		transformer: t,
		invocation: transform.InvocationContext{
			MappingName: m.Name,
			Namespace:   m.Target.Namespace,
			Relation:    m.SourceRelation,
			Env:         e.Config.Env,
			HTTPClient:  e.Config.HTTPClient,
			Lookup:      e.Lookup,
		},
		batcher: batch.New(m.Target.Namespace, batch.DefaultBounds()),
	}, nil
}

func (r *runner) run(ctx *stopper.Context) error {
	tick := r.eng.Config.TickInterval
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	transformBatchSize := r.eng.Config.TransformBatchSize
	if transformBatchSize <= 0 {
		transformBatchSize = 100
	}

	for {
		select {
		case routed, ok := <-r.queue:
			if !ok {
				return r.drain(ctx)
			}
			if err := r.handle(ctx, routed); err != nil {
				log.WithError(err).WithField("mapping", r.m.Name).Error("engine: handling routed change")
				continue
			}
			if len(r.pending) >= transformBatchSize {
				if err := r.flushTransform(ctx); err != nil {
					return err
				}
			}
			if r.batcher.ShouldFlush() {
				if err := r.flushBatch(ctx); err != nil {
					return err
				}
			}

		case <-ticker.C:
			if len(r.pending) > 0 {
				if err := r.flushTransform(ctx); err != nil {
					return err
				}
			}
			if r.batcher.ShouldFlush() {
				if err := r.flushBatch(ctx); err != nil {
					return err
				}
			}

		case <-ctx.Stopping():
			return r.drain(ctx)
		}
	}
}

// drain flushes whatever is left in the pipeline once the queue has
// closed or shutdown has begun, so in-flight work is not silently
// lost.
func (r *runner) drain(ctx context.Context) error {
	if len(r.pending) > 0 {
		if err := r.flushTransform(ctx); err != nil {
			return err
		}
	}
	if r.batcher.Len() > 0 {
		if err := r.flushBatch(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) handle(ctx context.Context, routed router.Routed) error {
	switch routed.Kind {
	case router.KindSyntheticDelete:
		r.batcher.Add(action.Delete(routed.DeleteID, routed.DeleteVersionAttribute, routed.DeleteVersionToken, routed.DeleteLSN))
		return nil

	case router.KindTransform:
		id, err := mapping.ExtractID(r.m, routed.Change.Current())
		if err != nil {
			return err
		}
		r.pending = append(r.pending, transform.Item{Change: routed.Change, ID: id})
		return nil

	default:
		return nil
	}
}

// flushTransform invokes the Transformer over the pending buffer.
// Results stay element-aligned with r.pending, so a PermanentFailure
// at index i is dead-lettered using the Item at the same index rather
// than the action alone, which carries no row payload to freeze.
func (r *runner) flushTransform(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	items := r.pending
	r.pending = nil

	actions := transform.Invoke(ctx, r.transformer, r.invocation, r.m, items)
	for i, a := range actions {
		if a.Op != action.OpPermanentFailure {
			r.batcher.Add(a)
			continue
		}
		raw, err := dlq.Freeze(items[i])
		if err != nil {
			log.WithError(err).WithField("mapping", r.m.Name).Error("engine: freezing permanently-failed item")
		}
		r.dlqPending = append(r.dlqPending, state.DLQEntry{
			MappingName:  r.m.Name,
			LSN:          a.LSN,
			EventJSON:    raw,
			ErrorMessage: a.FailureMessage,
			ErrorKind:    a.FailureKind,
		})
	}
	return nil
}

// flushBatch writes the open batch and advances (or, in --strict
// mode, withholds) the mapping's checkpoint.
func (r *runner) flushBatch(ctx context.Context) error {
	bt := r.batcher.Flush()
	dlqEntries := r.dlqPending
	r.dlqPending = nil

	if len(bt.Actions) == 0 && len(dlqEntries) == 0 {
		return nil
	}

	var result struct {
		maxLSN change.LSN
	}
	labels := prometheus.Labels{"mapping": r.m.Name, "namespace": r.m.Target.Namespace}
	if len(bt.Actions) > 0 {
		start := time.Now()
		res, err := r.eng.Writer.Write(ctx, bt)
		metrics.WriteLatencySeconds.With(labels).Observe(time.Since(start).Seconds())
		if err != nil {
			return errors.Wrapf(err, "engine: writing batch for mapping %s", r.m.Name)
		}
		result.maxLSN = res.MaxLSN
		metrics.EventsProcessed.With(labels).Add(float64(len(res.Written)))
		for _, fo := range res.Failed {
			kind := change.KindTargetPermanent
			message := "write failed"
			if fo.Failure != nil {
				kind = fo.Failure.Kind
				message = fo.Failure.Error()
			}
			dlqEntries = append(dlqEntries, state.DLQEntry{
				MappingName:  r.m.Name,
				LSN:          fo.Action.LSN,
				ErrorMessage: message,
				ErrorKind:    kind,
			})
		}
	} else {
		result.maxLSN = bt.MaxLSN
	}

	for _, e := range dlqEntries {
		metrics.DLQEntriesTotal.With(prometheus.Labels{
			"mapping": r.m.Name, "namespace": r.m.Target.Namespace, "error_kind": e.ErrorKind.String(),
		}).Inc()
		// A transform-only failure never reaches batcher.Add, so its LSN
		// is absent from bt.MaxLSN; fold it in here so the checkpoint
		// still advances past rows that were dead-lettered rather than
		// batched (spec.md 4.9).
		result.maxLSN = change.Max(result.maxLSN, e.LSN)
	}

	eventsDelta := int64(len(bt.Actions))

	if !r.eng.Config.Strict {
		if err := r.eng.Store.AdvanceCheckpointWithDLQ(ctx, r.m.Name, result.maxLSN, eventsDelta, dlqEntries); err != nil {
			return errors.Wrapf(err, "engine: advancing checkpoint for mapping %s", r.m.Name)
		}
		metrics.CheckpointLSN.With(labels).Set(float64(result.maxLSN))
		r.eng.recordConfirmed(ctx, r.m.Name, result.maxLSN)
		return nil
	}

	// --strict: a pending DLQ entry -- new or pre-existing -- blocks
	// this mapping's checkpoint from advancing (spec.md 7).
	for _, e := range dlqEntries {
		if err := r.eng.Store.AppendDLQ(ctx, e); err != nil {
			return errors.Wrapf(err, "engine: appending dlq entry for mapping %s", r.m.Name)
		}
	}
	if len(dlqEntries) > 0 {
		return nil
	}
	pending, err := r.eng.Store.PendingDLQCount(ctx, r.m.Name)
	if err != nil {
		return errors.Wrapf(err, "engine: checking pending dlq count for mapping %s", r.m.Name)
	}
	if pending > 0 {
		return nil
	}
	if err := r.eng.Store.AdvanceCheckpoint(ctx, r.m.Name, result.maxLSN, eventsDelta); err != nil {
		return errors.Wrapf(err, "engine: advancing checkpoint for mapping %s", r.m.Name)
	}
	metrics.CheckpointLSN.With(labels).Set(float64(result.maxLSN))
	r.eng.recordConfirmed(ctx, r.m.Name, result.maxLSN)
	return nil
}
