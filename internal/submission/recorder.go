package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andresaa/api-examen-conduccion/internal/docstore"
	"github.com/andresaa/api-examen-conduccion/internal/events"
	"github.com/andresaa/api-examen-conduccion/internal/model"
)

// Stage is a step of the submission lifecycle:
// RECEIVED -> VALIDATING -> REJECTED | ACCEPTED -> PERSISTED.
type Stage string

const (
	StageReceived   Stage = "RECEIVED"
	StageValidating Stage = "VALIDATING"
	StageRejected   Stage = "REJECTED"
	StageAccepted   Stage = "ACCEPTED"
	StagePersisted  Stage = "PERSISTED"
	// StageFailed marks an infrastructure failure; nothing was committed.
	StageFailed Stage = "FAILED"
)

// Observer receives the terminal stage of every submission.
type Observer interface {
	ObserveSubmission(stage, code string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveSubmission(string, string, time.Duration) {}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Recorder validates submissions and appends accepted ones to the store.
type Recorder struct {
	pipeline  *Pipeline
	store     docstore.Store
	seq       *Sequence
	locks     *keyLocks
	publisher events.Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithPublisher sends a recorded-result event after every persisted submission.
func WithPublisher(p events.Publisher) Option {
	return func(r *Recorder) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithObserver reports terminal stages, typically to metrics.
func WithObserver(o Observer) Option {
	return func(r *Recorder) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder wires a recorder. seq must already reflect the stored results.
func NewRecorder(store docstore.Store, dir Directory, seq *Sequence, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		pipeline:  NewPipeline(store, dir),
		store:     store,
		seq:       seq,
		locks:     newKeyLocks(),
		publisher: events.Noop{},
		observer:  noopObserver{},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit runs the pipeline and persists the result when every check passes.
// Rejections come back as *Rejection; any other error means nothing was stored.
func (r *Recorder) Submit(ctx context.Context, sub Submission) (model.TestResult, error) {
	ctx, span := otel.Tracer("consultant/submission").Start(ctx, "submission.submit")
	defer span.End()

	started := time.Now()
	r.transition(ctx, StageReceived)
	r.transition(ctx, StageValidating)

	intent, rej := CheckPayload(sub)
	if rej != nil {
		return model.TestResult{}, r.finish(ctx, span, started, rej)
	}
	span.SetAttributes(
		attribute.String("appointment_id", intent.AppointmentID),
		attribute.String("test_type", string(intent.TestType)),
	)

	unlock := r.locks.lock(intent.Key())
	record, err := r.checkAndAppend(ctx, sub.Variant, intent)
	unlock()
	if err != nil {
		return model.TestResult{}, r.finish(ctx, span, started, err)
	}

	r.observer.ObserveSubmission(string(StagePersisted), "", time.Since(started))
	r.logger.Info("test result recorded",
		"test_result_id", record.TestResultID,
		"appointment_id", record.AppointmentID,
		"user_id", record.UserID,
		"test_type", record.TestType,
	)
	r.notify(ctx, record)
	return record, nil
}

func (r *Recorder) checkAndAppend(ctx context.Context, v Variant, intent WriteIntent) (model.TestResult, error) {
	intent, err := r.pipeline.CheckReferences(ctx, v, intent)
	if err != nil {
		return model.TestResult{}, err
	}
	r.transition(ctx, StageAccepted)

	record := r.build(intent)
	doc, err := docstore.FromValue(record)
	if err != nil {
		return model.TestResult{}, err
	}
	if err := r.store.Append(ctx, docstore.TestResults, doc); err != nil {
		return model.TestResult{}, fmt.Errorf("append test result: %w", err)
	}
	r.transition(ctx, StagePersisted)
	return record, nil
}

// build mints identifiers and timestamps for an accepted intent.
func (r *Recorder) build(in WriteIntent) model.TestResult {
	now := r.now()
	ts := now.UTC().Format(timestampLayout)
	performedAt := ts
	if in.PerformedAt != nil {
		performedAt = *in.PerformedAt
	}
	return model.TestResult{
		ID:            model.DocumentID(r.newID()),
		TestResultID:  r.seq.Next(now),
		UserID:        in.UserID,
		AppointmentID: in.AppointmentID,
		TestType:      in.TestType,
		Result:        in.Result,
		Status:        model.StatusCompleted,
		Notes:         in.Notes,
		PerformedAt:   performedAt,
		StartPcMac:    in.StartPcMac,
		EndPcMac:      in.EndPcMac,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
}

func (r *Recorder) finish(ctx context.Context, span trace.Span, started time.Time, err error) error {
	var rej *Rejection
	if errors.As(err, &rej) {
		r.transition(ctx, StageRejected, "code", rej.Code)
		r.observer.ObserveSubmission(string(StageRejected), string(rej.Code), time.Since(started))
		span.SetAttributes(attribute.String("rejection.code", string(rej.Code)))
		return rej
	}
	r.logger.Error("submission failed", "error", err)
	r.observer.ObserveSubmission(string(StageFailed), "", time.Since(started))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (r *Recorder) transition(ctx context.Context, stage Stage, attrs ...any) {
	r.logger.DebugContext(ctx, "submission stage", append([]any{"stage", stage}, attrs...)...)
}

func (r *Recorder) notify(ctx context.Context, record model.TestResult) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	e := events.Event{Type: events.TypeTestResultRecorded, OccurredAt: r.now(), TestResult: record}
	if err := r.publisher.Publish(pubCtx, e); err != nil {
		r.logger.Warn("failed to publish test result event", "test_result_id", record.TestResultID, "error", err)
	}
}
