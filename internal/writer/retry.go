package writer

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lucasgelfond/puffgres/internal/action"
	"github.com/lucasgelfond/puffgres/internal/batch"
	"github.com/lucasgelfond/puffgres/internal/change"
)

// Writer drives spec.md 4.8's write protocol against a Target: the
// in-band transient retry (base 100ms, cap 30s, max 8 tries) lives in
// the Target's HTTP transport (internal/writer/turbopuffer.go, via
// go-retryablehttp's CheckRetry/Backoff); Write itself is responsible
// for what happens once that transport gives up or reports a
// validation/permanent failure: bisect the batch, or fail every row.
type Writer struct {
	target Target
}

// New constructs a Writer over target.
func New(target Target) *Writer {
	return &Writer{target: target}
}

// Write applies b and returns a Result in which every action is
// resolved to Written or Failed -- the precondition the Checkpointer
// requires before advancing applied_lsn (spec.md 4.8, 4.9).
func (w *Writer) Write(ctx context.Context, b batch.Batch) (Result, error) {
	written, failed, err := w.apply(ctx, b.Namespace, b.Actions)
	if err != nil {
		return Result{}, err
	}
	return Result{Namespace: b.Namespace, MaxLSN: b.MaxLSN, Written: written, Failed: failed}, nil
}

func (w *Writer) apply(ctx context.Context, namespace string, actions []action.Action) ([]RowOutcome, []RowOutcome, error) {
	if len(actions) == 0 {
		return nil, nil, nil
	}

	outcomes, err := w.target.Apply(ctx, namespace, actions)
	if err == nil {
		written, failed := splitOutcomes(outcomes)
		return written, failed, nil
	}

	switch ClassifyError(err) {
	case ClassValidation:
		return w.bisect(ctx, namespace, actions)
	case ClassPermanent:
		return nil, failAll(actions, change.KindTargetPermanent, err.Error()), nil
	default:
		// Transient: the transport already exhausted its in-band
		// retries (spec.md 4.8's base-100ms/cap-30s/max-8 policy) before
		// surfacing this error, so there is nothing left to retry here.
		return nil, failAll(actions, change.KindTargetTransient, err.Error()), nil
	}
}

// bisect implements spec.md 4.8's "bisects the batch until the
// failing row is isolated" rule for validation failures whose
// offending row the target didn't identify directly.
func (w *Writer) bisect(ctx context.Context, namespace string, actions []action.Action) ([]RowOutcome, []RowOutcome, error) {
	if len(actions) == 1 {
		return nil, failAll(actions, change.KindTargetValidation, "rejected by target validation"), nil
	}

	mid := len(actions) / 2
	leftW, leftF, err := w.apply(ctx, namespace, actions[:mid])
	if err != nil {
		return nil, nil, err
	}
	rightW, rightF, err := w.apply(ctx, namespace, actions[mid:])
	if err != nil {
		return nil, nil, err
	}
	return append(leftW, rightW...), append(leftF, rightF...), nil
}

func splitOutcomes(outcomes []RowOutcome) (written, failed []RowOutcome) {
	for _, o := range outcomes {
		if o.Failure == nil {
			written = append(written, o)
		} else {
			failed = append(failed, o)
		}
	}
	return written, failed
}

func failAll(actions []action.Action, kind change.Kind, message string) []RowOutcome {
	out := make([]RowOutcome, len(actions))
	for i, a := range actions {
		out[i] = RowOutcome{
			Action:  a,
			Failure: change.NewClassifiedError(kind, "", a.LSN, nil, errors.New(message)),
		}
	}
	return out
}
