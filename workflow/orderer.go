package workflow

import (
	"slices"
	"strings"
)

const (
	centralBankMarker = "Central Bank"
	customsMarker     = "Customs"
)

// Order returns approvals in stage order. It is a stable sort with three
// ranks: approvals whose approving party name contains "Central Bank" come
// first, those containing "Customs" come last, and everything else keeps its
// input order in between. A name containing both markers ranks as a bank.
//
// The ranking stands in for real regulatory dependencies between approvals;
// it does not solve a dependency graph. The input slice is not modified.
func Order(approvals []RequiredApproval) []RequiredApproval {
	ordered := slices.Clone(approvals)
	if ordered == nil {
		ordered = []RequiredApproval{}
	}
	slices.SortStableFunc(ordered, func(a, b RequiredApproval) int {
		return orderRank(a) - orderRank(b)
	})
	return ordered
}

func orderRank(a RequiredApproval) int {
	switch {
	case strings.Contains(a.ApprovingPartyName, centralBankMarker):
		return 0
	case strings.Contains(a.ApprovingPartyName, customsMarker):
		return 2
	default:
		return 1
	}
}
