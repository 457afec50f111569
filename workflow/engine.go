package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/glimte/docflow/contracts"
	"github.com/glimte/docflow/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/glimte/docflow/workflow"

// Engine is the stage transition state machine. Every operation is one read
// and at most one write against the EnvelopeStore. The engine holds no
// per-envelope state and takes no locks: two concurrent transitions on the
// same envelope race, and the last write wins.
//
// Transition events are published in the background after the write; call
// Close to flush them on shutdown.
type Engine struct {
	store  EnvelopeStore
	events *eventDispatcher
	logger *slog.Logger
	clock  func() time.Time
	tracer trace.Tracer
}

// EngineConfig holds configuration for the engine
type EngineConfig struct {
	Logger         *slog.Logger
	Clock          func() time.Time
	Publisher      EventPublisher
	EventBuffer    int
	TracerProvider trace.TracerProvider
}

// EngineOption configures the engine
type EngineOption func(*EngineConfig)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) EngineOption {
	return func(c *EngineConfig) {
		c.Logger = logger
	}
}

// WithClock sets the time source used for stage timestamps
func WithClock(clock func() time.Time) EngineOption {
	return func(c *EngineConfig) {
		c.Clock = clock
	}
}

// WithEventPublisher enables transition events
func WithEventPublisher(publisher EventPublisher) EngineOption {
	return func(c *EngineConfig) {
		c.Publisher = publisher
	}
}

// WithEventBuffer sets how many events may wait for the publisher
func WithEventBuffer(size int) EngineOption {
	return func(c *EngineConfig) {
		c.EventBuffer = size
	}
}

// WithTracerProvider sets the tracer provider; defaults to the global one
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(c *EngineConfig) {
		c.TracerProvider = tp
	}
}

// NewEngine creates a transition engine over the given store
func NewEngine(store EnvelopeStore, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("envelope store cannot be nil")
	}

	config := &EngineConfig{
		Logger: slog.Default(),
		Clock:  time.Now,
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	engine := &Engine{
		store:  store,
		logger: config.Logger,
		clock:  config.Clock,
		tracer: config.TracerProvider.Tracer(tracerName),
	}
	if config.Publisher != nil {
		engine.events = newEventDispatcher(config.Publisher, config.EventBuffer, config.Logger)
	}
	return engine, nil
}

// Close stops publishing and waits until queued events have been handed to
// the publisher or ctx ends. Transitions after Close still commit; their
// events are dropped.
func (e *Engine) Close(ctx context.Context) error {
	if e.events == nil {
		return nil
	}
	return e.events.close(ctx)
}

// Send orders the approvals, builds a draft workflow and persists it on the
// envelope. The envelope must exist and must not have been started.
func (e *Engine) Send(ctx context.Context, envelopeID, trackingNumber string, approvals []RequiredApproval) (desc WorkflowDescriptor, err error) {
	const op = "Send"
	ctx, finish := e.begin(ctx, op, envelopeID, 0)
	defer func() { finish(err) }()

	record, err := e.load(ctx, envelopeID)
	if err != nil {
		return WorkflowDescriptor{}, err
	}
	if status := statusOf(record); status != WorkflowDraft && status != WorkflowNotStarted {
		return WorkflowDescriptor{}, &InvalidStateError{
			Op:         op,
			EnvelopeID: envelopeID,
			Reason:     fmt.Sprintf("workflow is %s", status),
		}
	}
	if trackingNumber == "" {
		trackingNumber = record.TrackingNumber
	}

	desc = Build(Order(approvals), envelopeID, trackingNumber)
	if err := ValidateStages(desc.Stages); err != nil {
		return WorkflowDescriptor{}, err
	}

	current := 0
	if desc.TotalStages > 0 {
		current = 1
	}
	draft := WorkflowDraft
	update := EnvelopeUpdate{
		WorkflowStages: desc.Stages,
		CurrentStage:   &current,
		WorkflowStatus: &draft,
	}
	if trackingNumber != "" {
		update.TrackingNumber = &trackingNumber
	}
	if _, err := e.write(ctx, envelopeID, update); err != nil {
		return WorkflowDescriptor{}, err
	}

	e.logger.Debug("Workflow sent", "envelopeId", envelopeID, "stages", desc.TotalStages)
	return desc, nil
}

// Start moves a draft workflow to in_progress and routes the envelope to the
// first approving party. A workflow without stages completes immediately.
func (e *Engine) Start(ctx context.Context, envelopeID string) (desc WorkflowDescriptor, err error) {
	const op = "Start"
	ctx, finish := e.begin(ctx, op, envelopeID, 0)
	defer func() { finish(err) }()

	record, err := e.load(ctx, envelopeID)
	if err != nil {
		return WorkflowDescriptor{}, err
	}
	if status := statusOf(record); status != WorkflowDraft && status != WorkflowNotStarted {
		return WorkflowDescriptor{}, &InvalidStateError{
			Op:         op,
			EnvelopeID: envelopeID,
			Reason:     fmt.Sprintf("workflow is %s", status),
		}
	}

	now := e.clock()
	stages, _ := Reconstruct(record.WorkflowStages)

	var (
		update = EnvelopeUpdate{WorkflowStages: stages}
		events []contracts.Event
	)
	events = append(events, newWorkflowStartedEvent(record, len(stages), now))

	if len(stages) == 0 {
		update.WorkflowStages = []Stage{}
		update.CurrentStage = intPtr(0)
		update.WorkflowStatus = workflowStatusPtr(WorkflowCompleted)
		update.Status = envelopeStatusPtr(EnvelopeApproved)
		events = append(events, newWorkflowCompletedEvent(record, 0, now))
	} else {
		first := &stages[0]
		if !first.Status.IsActive() {
			return WorkflowDescriptor{}, &InvalidStateError{
				Op:          op,
				EnvelopeID:  envelopeID,
				StageNumber: first.StageNumber,
				Reason:      fmt.Sprintf("first stage is %s", first.Status),
			}
		}
		for i := range stages {
			stages[i].IsCurrent = i == 0
		}
		first.CanStart = true
		first.AssignedAt = timePtr(now)

		update.CurrentStage = intPtr(first.StageNumber)
		update.WorkflowStatus = workflowStatusPtr(WorkflowInProgress)
		update.Status = envelopeStatusPtr(routingStatus(*first))
		update.LegalEntityID = stringPtr(first.ApprovingPartyID)
		events = append(events, newStageActivatedEvent(envelopeID, *first, now))
	}

	if err := ValidateStages(stages); err != nil {
		return WorkflowDescriptor{}, err
	}
	updated, err := e.write(ctx, envelopeID, update)
	if err != nil {
		return WorkflowDescriptor{}, err
	}

	e.logger.Debug("Workflow started",
		"envelopeId", envelopeID,
		"stages", len(stages),
		"workflowStatus", *update.WorkflowStatus)
	e.publish(ctx, events...)

	desc, _ = Describe(updated)
	return desc, nil
}

// CompleteStage approves the current stage and activates its successor, or
// completes the workflow when it was the last stage. A stage with a fee can
// only be completed once its payment is recorded.
func (e *Engine) CompleteStage(ctx context.Context, envelopeID string, stageNumber int, completedBy, notes string) (desc WorkflowDescriptor, err error) {
	const op = "CompleteStage"
	ctx, finish := e.begin(ctx, op, envelopeID, stageNumber)
	defer func() { finish(err) }()

	t, err := e.prepare(ctx, op, envelopeID, stageNumber)
	if err != nil {
		return WorkflowDescriptor{}, err
	}
	target := &t.stages[t.index]
	if !target.IsCurrent || target.Status.IsTerminal() || target.Status == StageBlocked {
		return WorkflowDescriptor{}, t.invalid(fmt.Sprintf("stage is %s (current=%t)", target.Status, target.IsCurrent))
	}
	if target.PaymentRequired && target.PaymentStatus != PaymentCompleted {
		return WorkflowDescriptor{}, t.invalid("stage fee has not been paid")
	}

	now := e.clock()
	target.Status = StageCompleted
	target.CompletedAt = timePtr(now)
	target.CompletedBy = completedBy
	target.Notes = notes
	target.IsCurrent = false

	events := []contracts.Event{newStageCompletedEvent(envelopeID, *target, false, now)}
	return e.advance(ctx, t, now, events)
}

// ProcessPayment records a confirmed fee payment for the current stage.
// Payment approves the stage; there is no separate review step afterwards.
func (e *Engine) ProcessPayment(ctx context.Context, confirmation PaymentConfirmation) (desc WorkflowDescriptor, err error) {
	const op = "ProcessPayment"
	envelopeID := confirmation.EnvelopeID
	ctx, finish := e.begin(ctx, op, envelopeID, confirmation.StageNumber)
	defer func() { finish(err) }()

	t, err := e.prepare(ctx, op, envelopeID, confirmation.StageNumber)
	if err != nil {
		return WorkflowDescriptor{}, err
	}
	target := &t.stages[t.index]
	if !target.PaymentRequired {
		return WorkflowDescriptor{}, t.invalid("stage does not require payment")
	}
	if !target.IsCurrent || !target.Status.IsActive() {
		return WorkflowDescriptor{}, t.invalid(fmt.Sprintf("stage is %s (current=%t)", target.Status, target.IsCurrent))
	}
	if target.PaymentStatus == PaymentCompleted {
		return WorkflowDescriptor{}, t.invalid("payment already completed")
	}

	now := e.clock()
	target.Status = StageCompleted
	target.PaymentStatus = PaymentCompleted
	target.PaymentCompletedAt = timePtr(now)
	target.CompletedAt = timePtr(now)
	target.IsCurrent = false
	if confirmation.Reference != "" {
		target.PaymentReference = confirmation.Reference
	}

	e.logger.Debug("Stage payment confirmed",
		"envelopeId", envelopeID,
		"stage", target.StageNumber,
		"provider", confirmation.Provider,
		"amountCents", confirmation.AmountCents)

	events := []contracts.Event{newStageCompletedEvent(envelopeID, *target, true, now)}
	return e.advance(ctx, t, now, events)
}

// RejectStage rejects the current stage, blocks every later stage and ends
// the workflow. A rejected workflow accepts no further events.
func (e *Engine) RejectStage(ctx context.Context, envelopeID string, stageNumber int, reason, rejectedBy string) (desc WorkflowDescriptor, err error) {
	const op = "RejectStage"
	ctx, finish := e.begin(ctx, op, envelopeID, stageNumber)
	defer func() { finish(err) }()

	t, err := e.prepare(ctx, op, envelopeID, stageNumber)
	if err != nil {
		return WorkflowDescriptor{}, err
	}
	target := &t.stages[t.index]
	if !target.IsCurrent || !target.Status.IsActive() {
		return WorkflowDescriptor{}, t.invalid(fmt.Sprintf("stage is %s (current=%t)", target.Status, target.IsCurrent))
	}
	if reason == "" {
		return WorkflowDescriptor{}, t.invalid("rejection reason is required")
	}

	now := e.clock()
	target.Status = StageRejected
	target.RejectedAt = timePtr(now)
	target.RejectionReason = reason
	target.RejectedBy = rejectedBy
	target.IsCurrent = false

	blocked := 0
	for i := t.index + 1; i < len(t.stages); i++ {
		t.stages[i].Status = StageBlocked
		t.stages[i].CanStart = false
		t.stages[i].IsCurrent = false
		blocked++
	}

	update := EnvelopeUpdate{
		WorkflowStages: t.stages,
		CurrentStage:   intPtr(target.StageNumber),
		WorkflowStatus: workflowStatusPtr(WorkflowRejected),
		Status:         envelopeStatusPtr(EnvelopeRejected),
		LegalEntityID:  stringPtr(t.record.LegalEntityID),
	}
	events := []contracts.Event{newStageRejectedEvent(envelopeID, *target, blocked, now)}
	return e.commit(ctx, t, update, events)
}

// Workflow returns the reconstructed view of an envelope's workflow and its
// effective current stage number. It never writes.
func (e *Engine) Workflow(ctx context.Context, envelopeID string) (desc WorkflowDescriptor, current int, err error) {
	const op = "Workflow"
	ctx, finish := e.begin(ctx, op, envelopeID, 0)
	defer func() { finish(err) }()

	record, err := e.load(ctx, envelopeID)
	if err != nil {
		return WorkflowDescriptor{}, 0, err
	}
	desc, current = Describe(record)
	return desc, current, nil
}

// Repair persists the reconstructed stage array and current stage pointer
// when they differ from what is stored. It reports whether it wrote.
func (e *Engine) Repair(ctx context.Context, envelopeID string) (desc WorkflowDescriptor, repaired bool, err error) {
	const op = "Repair"
	ctx, finish := e.begin(ctx, op, envelopeID, 0)
	defer func() { finish(err) }()

	record, err := e.load(ctx, envelopeID)
	if err != nil {
		return WorkflowDescriptor{}, false, err
	}
	desc, current := Describe(record)
	if reflect.DeepEqual(desc.Stages, normalizeStages(record.WorkflowStages)) && current == record.CurrentStage {
		return desc, false, nil
	}

	update := EnvelopeUpdate{
		WorkflowStages: desc.Stages,
		CurrentStage:   &current,
	}
	if _, err := e.write(ctx, envelopeID, update); err != nil {
		return WorkflowDescriptor{}, false, err
	}

	e.logger.Debug("Workflow repaired",
		"envelopeId", envelopeID,
		"storedCurrentStage", record.CurrentStage,
		"currentStage", current)
	return desc, true, nil
}

// transition is the in-memory working copy of one envelope for a single event
type transition struct {
	op     string
	record *EnvelopeRecord
	stages []Stage
	index  int
}

func (t *transition) invalid(reason string) error {
	return &InvalidStateError{
		Op:          t.op,
		EnvelopeID:  t.record.ID,
		StageNumber: t.stages[t.index].StageNumber,
		Reason:      reason,
	}
}

// prepare loads and reconstructs the envelope and checks the preconditions
// shared by all stage events: the stage exists and the workflow is running.
func (e *Engine) prepare(ctx context.Context, op, envelopeID string, stageNumber int) (*transition, error) {
	record, err := e.load(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	stages, _ := Reconstruct(record.WorkflowStages)
	index := stageIndex(stages, stageNumber)
	if index < 0 {
		return nil, &NotFoundError{EnvelopeID: envelopeID, StageNumber: stageNumber}
	}

	if status := statusOf(record); status != WorkflowInProgress {
		return nil, &InvalidStateError{
			Op:          op,
			EnvelopeID:  envelopeID,
			StageNumber: stageNumber,
			Reason:      fmt.Sprintf("workflow is %s", status),
		}
	}

	return &transition{op: op, record: record, stages: stages, index: index}, nil
}

// advance activates the successor of the stage just approved, or completes
// the workflow when there is none, then commits.
func (e *Engine) advance(ctx context.Context, t *transition, now time.Time, events []contracts.Event) (WorkflowDescriptor, error) {
	target := t.stages[t.index]
	update := EnvelopeUpdate{WorkflowStages: t.stages}

	if t.index+1 < len(t.stages) {
		next := &t.stages[t.index+1]
		next.Status = initialStatus(next.PaymentRequired)
		next.CanStart = true
		next.IsCurrent = true
		next.AssignedAt = timePtr(now)

		update.CurrentStage = intPtr(next.StageNumber)
		update.WorkflowStatus = workflowStatusPtr(WorkflowInProgress)
		update.Status = envelopeStatusPtr(routingStatus(*next))
		update.LegalEntityID = stringPtr(next.ApprovingPartyID)
		events = append(events, newStageActivatedEvent(t.record.ID, *next, now))
	} else {
		update.CurrentStage = intPtr(target.StageNumber)
		update.WorkflowStatus = workflowStatusPtr(WorkflowCompleted)
		update.Status = envelopeStatusPtr(EnvelopeApproved)
		update.LegalEntityID = stringPtr(t.record.LegalEntityID)
		events = append(events, newWorkflowCompletedEvent(t.record, len(t.stages), now))
	}

	return e.commit(ctx, t, update, events)
}

// commit validates the next stage array, writes it once and publishes events
func (e *Engine) commit(ctx context.Context, t *transition, update EnvelopeUpdate, events []contracts.Event) (WorkflowDescriptor, error) {
	if err := ValidateStages(t.stages); err != nil {
		return WorkflowDescriptor{}, err
	}

	updated, err := e.write(ctx, t.record.ID, update)
	if err != nil {
		return WorkflowDescriptor{}, err
	}

	e.logger.Debug("Stage transition committed",
		"op", t.op,
		"envelopeId", t.record.ID,
		"stage", t.stages[t.index].StageNumber,
		"currentStage", updated.CurrentStage,
		"workflowStatus", updated.WorkflowStatus)
	e.publish(ctx, events...)

	desc, _ := Describe(updated)
	return desc, nil
}

func (e *Engine) load(ctx context.Context, envelopeID string) (*EnvelopeRecord, error) {
	record, err := e.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		if errors.Is(err, ErrEnvelopeNotFound) {
			return nil, &NotFoundError{EnvelopeID: envelopeID}
		}
		return nil, &PersistenceError{Op: "get", EnvelopeID: envelopeID, Err: err}
	}
	if record == nil {
		return nil, &NotFoundError{EnvelopeID: envelopeID}
	}
	return record, nil
}

func (e *Engine) write(ctx context.Context, envelopeID string, update EnvelopeUpdate) (*EnvelopeRecord, error) {
	updated, err := e.store.UpdateEnvelope(ctx, envelopeID, update)
	if err != nil {
		if errors.Is(err, ErrEnvelopeNotFound) {
			return nil, &NotFoundError{EnvelopeID: envelopeID}
		}
		return nil, &PersistenceError{Op: "update", EnvelopeID: envelopeID, Err: err}
	}
	return updated, nil
}

// publish queues committed events for the background publisher
func (e *Engine) publish(ctx context.Context, events ...contracts.Event) {
	if e.events == nil {
		return
	}
	e.events.enqueue(ctx, events...)
}

// begin opens a span and returns a func that records metrics and closes it
func (e *Engine) begin(ctx context.Context, op, envelopeID string, stageNumber int) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "workflow."+op,
		trace.WithAttributes(
			attribute.String("envelope.id", envelopeID),
			attribute.Int("stage.number", stageNumber),
		),
	)

	return ctx, func(err error) {
		outcome := errorOutcome(err)
		observability.RecordTransition(op, outcome, time.Since(start))
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// routingStatus is the envelope status while the given stage is active
func routingStatus(stage Stage) EnvelopeStatus {
	if stage.PaymentRequired && stage.PaymentStatus != PaymentCompleted {
		return EnvelopePendingPayment
	}
	return EnvelopePendingReview
}

func statusOf(record *EnvelopeRecord) WorkflowStatus {
	if record.WorkflowStatus == "" {
		return WorkflowNotStarted
	}
	return record.WorkflowStatus
}

// normalizeStages gives stored stages the shape Reconstruct returns so the
// two can be compared
func normalizeStages(stages []Stage) []Stage {
	if stages == nil {
		return []Stage{}
	}
	return stages
}

func intPtr(v int) *int { return &v }

func stringPtr(v string) *string { return &v }

func workflowStatusPtr(v WorkflowStatus) *WorkflowStatus { return &v }

func envelopeStatusPtr(v EnvelopeStatus) *EnvelopeStatus { return &v }
