package workflow

// Build converts approvals, already in stage order, into a draft workflow.
//
// Stage 1 is current and startable; its status is payment_required when it
// carries a fee and pending otherwise. Every later stage starts blocked,
// whatever its own fee. The workflow stays draft with CanProceed false until
// it is explicitly started. An empty input yields a zero-stage workflow.
func Build(orderedApprovals []RequiredApproval, envelopeID, trackingNumber string) WorkflowDescriptor {
	stages := make([]Stage, 0, len(orderedApprovals))
	for i, approval := range orderedApprovals {
		paymentRequired := approval.FeeCents > 0
		stage := Stage{
			StageNumber:        i + 1,
			ApprovalID:         approval.ID,
			ApprovalName:       approval.Name,
			ApprovingPartyID:   approval.ApprovingPartyID,
			ApprovingPartyName: approval.ApprovingPartyName,
			Status:             StageBlocked,
			IsCurrent:          i == 0,
			CanStart:           i == 0,
			PaymentRequired:    paymentRequired,
			PaymentAmountCents: approval.FeeCents,
		}
		if i == 0 {
			stage.Status = initialStatus(paymentRequired)
		}
		if paymentRequired {
			stage.PaymentStatus = PaymentPending
		}
		stages = append(stages, stage)
	}

	return WorkflowDescriptor{
		EnvelopeID:     envelopeID,
		TrackingNumber: trackingNumber,
		TotalStages:    len(stages),
		WorkflowStatus: WorkflowDraft,
		Stages:         stages,
		CanProceed:     false,
	}
}

// initialStatus is the status a stage takes when it becomes current
func initialStatus(paymentRequired bool) StageStatus {
	if paymentRequired {
		return StagePaymentRequired
	}
	return StagePending
}
