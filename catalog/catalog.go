// Package catalog maps goods categories to the regulatory approvals a
// shipment of those goods needs before customs clearance.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"github.com/glimte/docflow/workflow"
	"gopkg.in/yaml.v3"
)

var ErrUnknownCategory = errors.New("unknown goods category")

// Catalog is the static approval catalog
type Catalog struct {
	approvals map[string]workflow.RequiredApproval
	goods     map[string][]string
}

type document struct {
	Approvals []workflow.RequiredApproval `yaml:"approvals"`
	Goods     map[string][]string         `yaml:"goods"`
}

// Load reads a catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and checks a catalog document. Every approval id must be
// unique and every id referenced by a category must be declared.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		approvals: make(map[string]workflow.RequiredApproval, len(doc.Approvals)),
		goods:     doc.Goods,
	}
	for i, a := range doc.Approvals {
		if a.ID == "" {
			return nil, fmt.Errorf("approval %d has no id", i)
		}
		if a.ApprovingPartyID == "" {
			return nil, fmt.Errorf("approval %s has no approving party", a.ID)
		}
		if _, dup := c.approvals[a.ID]; dup {
			return nil, fmt.Errorf("duplicate approval %s", a.ID)
		}
		c.approvals[a.ID] = a
	}
	for category, ids := range c.goods {
		for _, id := range ids {
			if _, ok := c.approvals[id]; !ok {
				return nil, fmt.Errorf("category %s references unknown approval %s", category, id)
			}
		}
	}
	return c, nil
}

// Approvals returns the approvals required for the given categories,
// deduplicated by id in first-seen order
func (c *Catalog) Approvals(goods ...string) ([]workflow.RequiredApproval, error) {
	seen := make(map[string]bool)
	var out []workflow.RequiredApproval

	for _, category := range goods {
		ids, ok := c.goods[category]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, c.approvals[id])
		}
	}
	return out, nil
}

// Approval looks up a single approval by id
func (c *Catalog) Approval(id string) (workflow.RequiredApproval, bool) {
	a, ok := c.approvals[id]
	return a, ok
}

// Categories returns the number of goods categories
func (c *Catalog) Categories() int {
	return len(c.goods)
}
