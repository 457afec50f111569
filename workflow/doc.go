// Package workflow implements the sequential multi-stage approval engine for
// shipment envelopes.
//
// A set of required approvals is ordered into a linear sequence of stages,
// each owned by one approving party (legal entity). Exactly one stage is
// actionable at a time. Completing or paying for the current stage activates
// its successor; rejecting it blocks everything downstream and ends the
// workflow.
//
// The package is split along the life of a workflow:
//
//   - Order sorts required approvals into stage order.
//   - Build turns the ordered approvals into a draft WorkflowDescriptor.
//   - Engine applies Start, CompleteStage, ProcessPayment and RejectStage
//     against an EnvelopeStore with a read-modify-write of the full stage array.
//   - Reconstruct and Describe recompute the current stage from a persisted
//     array whose flags may have drifted.
//
// Basic usage:
//
//	engine, err := workflow.NewEngine(store, workflow.WithEventPublisher(publisher))
//	if err != nil {
//	    return err
//	}
//	if _, err := engine.Send(ctx, envelopeID, trackingNumber, approvals); err != nil {
//	    return err
//	}
//	if _, err := engine.Start(ctx, envelopeID); err != nil {
//	    return err
//	}
//	_, err = engine.CompleteStage(ctx, envelopeID, 1, "officer-7", "documents verified")
//
// The engine holds no locks. Two transitions racing on the same envelope are
// resolved by the store: the last write wins.
package workflow
