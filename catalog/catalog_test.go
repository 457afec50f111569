package catalog

import (
	"testing"

	"github.com/glimte/docflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestCatalog(t *testing.T) *Catalog {
	c, err := Load("testdata/catalog.yaml")
	require.NoError(t, err)
	return c
}

func ids(approvals []workflow.RequiredApproval) []string {
	out := make([]string, len(approvals))
	for i, a := range approvals {
		out[i] = a.ID
	}
	return out
}

func TestLoad(t *testing.T) {
	c := loadTestCatalog(t)
	assert.Equal(t, 3, c.Categories())

	fda, ok := c.Approval("fda")
	require.True(t, ok)
	assert.Equal(t, "party-fda", fda.ApprovingPartyID)
	assert.Equal(t, "Food and Drugs Authority", fda.ApprovingPartyName)
	assert.True(t, fda.IsRequired)
	assert.Equal(t, uint64(15000), fda.FeeCents)

	standards, ok := c.Approval("standards")
	require.True(t, ok)
	assert.False(t, standards.IsRequired)
	assert.Zero(t, standards.FeeCents)

	_, err := Load("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestApprovals(t *testing.T) {
	c := loadTestCatalog(t)

	tests := []struct {
		name  string
		goods []string
		want  []string
	}{
		{"single category", []string{"food"}, []string{"bank-lc", "fda", "customs"}},
		{"union in first-seen order", []string{"food", "electronics"}, []string{"bank-lc", "fda", "customs", "standards"}},
		{"repeated category", []string{"textiles", "textiles"}, []string{"customs"}},
		{"no categories", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Approvals(tt.goods...)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, ids(got))
		})
	}

	t.Run("unknown category", func(t *testing.T) {
		_, err := c.Approvals("food", "weapons")
		assert.ErrorIs(t, err, ErrUnknownCategory)
		assert.Contains(t, err.Error(), "weapons")
	})
}

func TestApprovalsFeedWorkflowBuild(t *testing.T) {
	c := loadTestCatalog(t)
	approvals, err := c.Approvals("food")
	require.NoError(t, err)

	desc := workflow.Build(workflow.Order(approvals), "env-1", "TRK-1")

	require.Equal(t, 3, desc.TotalStages)
	assert.Equal(t, "bank-lc", desc.Stages[0].ApprovalID)
	assert.Equal(t, "customs", desc.Stages[2].ApprovalID)
	assert.True(t, desc.Stages[1].PaymentRequired)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"invalid yaml", "approvals: [", "failed to parse catalog"},
		{"missing id", "approvals:\n  - name: x\n    approving_party_id: p\n", "has no id"},
		{"missing party", "approvals:\n  - id: a\n", "has no approving party"},
		{"duplicate id", "approvals:\n  - {id: a, approving_party_id: p}\n  - {id: a, approving_party_id: q}\n", "duplicate approval a"},
		{"dangling reference", "approvals:\n  - {id: a, approving_party_id: p}\ngoods:\n  food: [a, b]\n", "unknown approval b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
