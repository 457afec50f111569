package workflow

import (
	"fmt"
)

// ValidateStages checks the structural invariants of a stage array.
// Stages must already be ordered by stage number.
func ValidateStages(stages []Stage) error {
	currentCount := 0
	rejectedAt := 0

	for i, stage := range stages {
		if stage.StageNumber != i+1 {
			return &ValidationError{
				StageNumber: stage.StageNumber,
				Reason:      fmt.Sprintf("expected stage number %d", i+1),
			}
		}
		if !stage.Status.Valid() {
			return &ValidationError{StageNumber: stage.StageNumber, Reason: fmt.Sprintf("unknown status %q", stage.Status)}
		}
		if !stage.PaymentStatus.Valid() {
			return &ValidationError{StageNumber: stage.StageNumber, Reason: fmt.Sprintf("unknown payment status %q", stage.PaymentStatus)}
		}
		if stage.PaymentRequired != (stage.PaymentStatus != PaymentNone) {
			return &ValidationError{StageNumber: stage.StageNumber, Reason: "payment status must be set iff payment is required"}
		}
		if (stage.Status == StageRejected) != (stage.RejectionReason != "") {
			return &ValidationError{StageNumber: stage.StageNumber, Reason: "rejection reason must be set iff the stage is rejected"}
		}
		if rejectedAt > 0 && stage.Status != StageBlocked {
			return &ValidationError{
				StageNumber: stage.StageNumber,
				Reason:      fmt.Sprintf("stage after rejected stage %d must be blocked", rejectedAt),
			}
		}
		if stage.Status == StageRejected && rejectedAt == 0 {
			rejectedAt = stage.StageNumber
		}
		if stage.IsCurrent {
			currentCount++
			if currentCount > 1 {
				return &ValidationError{StageNumber: stage.StageNumber, Reason: "more than one current stage"}
			}
		}
	}
	return nil
}
