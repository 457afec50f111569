package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func approvalIDs(approvals []RequiredApproval) []string {
	ids := make([]string, len(approvals))
	for i, a := range approvals {
		ids[i] = a.ID
	}
	return ids
}

func TestOrder(t *testing.T) {
	tests := []struct {
		name      string
		approvals []RequiredApproval
		want      []string
	}{
		{
			name:      "empty input",
			approvals: nil,
			want:      []string{},
		},
		{
			name: "bank first, customs last",
			approvals: []RequiredApproval{
				approval("ministry", "Ministry of Agriculture", 0),
				approval("bank", "Central Bank", 0),
				approval("customs", "Customs Authority", 0),
			},
			want: []string{"bank", "ministry", "customs"},
		},
		{
			name: "others keep input order",
			approvals: []RequiredApproval{
				approval("customs", "Port Customs Office", 0),
				approval("health", "Ministry of Health", 0),
				approval("standards", "Bureau of Standards", 0),
				approval("bank", "Central Bank of Examplestan", 0),
				approval("trade", "Ministry of Trade", 0),
			},
			want: []string{"bank", "health", "standards", "trade", "customs"},
		},
		{
			name: "several banks and customs stay stable within their rank",
			approvals: []RequiredApproval{
				approval("customs-1", "Customs East", 0),
				approval("bank-1", "Central Bank North", 0),
				approval("customs-2", "Customs West", 0),
				approval("bank-2", "Central Bank South", 0),
			},
			want: []string{"bank-1", "bank-2", "customs-1", "customs-2"},
		},
		{
			name: "bank marker wins over customs marker",
			approvals: []RequiredApproval{
				approval("other", "Ministry of Trade", 0),
				approval("both", "Central Bank Customs Desk", 0),
			},
			want: []string{"both", "other"},
		},
		{
			name: "match is case sensitive",
			approvals: []RequiredApproval{
				approval("lower", "central bank liaison", 0),
				approval("bank", "Central Bank", 0),
			},
			want: []string{"bank", "lower"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, approvalIDs(Order(tt.approvals)))
		})
	}
}

func TestOrder_DoesNotModifyInput(t *testing.T) {
	input := []RequiredApproval{
		approval("customs", "Customs Authority", 0),
		approval("bank", "Central Bank", 0),
	}

	_ = Order(input)

	assert.Equal(t, []string{"customs", "bank"}, approvalIDs(input))
}

func TestOrder_Idempotent(t *testing.T) {
	inputs := [][]RequiredApproval{
		{},
		{approval("a", "Agency A", 0)},
		{
			approval("c1", "Customs", 0),
			approval("a", "Agency A", 0),
			approval("b1", "Central Bank", 0),
			approval("b", "Agency B", 100),
			approval("c2", "Regional Customs", 0),
			approval("b2", "Central Bank Branch", 0),
		},
	}

	for _, input := range inputs {
		once := Order(input)
		assert.Equal(t, once, Order(once))
	}
}

func TestOrder_BankFirstCustomsLast(t *testing.T) {
	input := []RequiredApproval{
		approval("m1", "Ministry of Health", 0),
		approval("customs", "National Customs Service", 0),
		approval("m2", "Standards Bureau", 0),
		approval("bank", "Central Bank", 0),
		approval("m3", "Chamber of Commerce", 0),
	}

	ids := approvalIDs(Order(input))

	assert.Equal(t, "bank", ids[0])
	assert.Equal(t, "customs", ids[len(ids)-1])
}
