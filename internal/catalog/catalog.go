// Package catalog holds the ordered table of follow-up rules.
//
// Rule order carries no functional meaning for reconciliation (rules are
// independent) but it is preserved everywhere because it drives display
// order and makes passes deterministic.
package catalog

import (
	"fmt"
	"maps"

	"github.com/roach88/relance/internal/compiler"
	"github.com/roach88/relance/internal/ir"
)

// Built-in rule identifiers.
const (
	RuleSendForm     = "send-form"
	RuleValidateForm = "validate-form"
	RuleSendContract = "send-contract"
	RuleSendInvoice  = "send-invoice"
)

// Catalog is an immutable, ordered set of rule definitions.
type Catalog struct {
	rules  []ir.RuleDefinition
	index  map[string]int
	digest string
}

// DefaultRules returns the built-in rules in display order.
// The invoicing rule ships experimental and is skipped until enabled.
func DefaultRules() []ir.RuleDefinition {
	return []ir.RuleDefinition{
		{
			ID:          RuleSendForm,
			DisplayName: "Send the intake form",
			Description: "The booking exists but its intake form has not been sent to the organizer.",
			Priority:    ir.PriorityHigh,
			Urgency:     ir.UrgencyHigh,
			RequiredConditions: map[string]bool{
				ir.FieldEntityCreated: true,
				ir.FieldFormSent:      false,
			},
		},
		{
			ID:          RuleValidateForm,
			DisplayName: "Validate the intake form",
			Description: "The organizer returned the intake form and it is waiting for validation.",
			Priority:    ir.PriorityHigh,
			Urgency:     ir.UrgencyHigh,
			RequiredConditions: map[string]bool{
				ir.FieldFormReceived:  true,
				ir.FieldFormValidated: false,
			},
		},
		{
			ID:          RuleSendContract,
			DisplayName: "Send the contract",
			Description: "The intake form is validated but the contract has not been sent.",
			Priority:    ir.PriorityHigh,
			Urgency:     ir.UrgencyCritical,
			RequiredConditions: map[string]bool{
				ir.FieldFormValidated: true,
				ir.FieldContractSent:  false,
			},
		},
		{
			ID:          RuleSendInvoice,
			DisplayName: "Send the invoice",
			Description: "The contract is signed but no invoice has been sent.",
			Priority:    ir.PriorityMedium,
			Urgency:     ir.UrgencyLow,
			RequiredConditions: map[string]bool{
				ir.FieldContractSigned: true,
				ir.FieldInvoiceSent:    false,
			},
			Experimental: true,
		},
	}
}

// Default returns a catalog of the built-in rules.
func Default() *Catalog {
	c, err := New(DefaultRules()...)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in rules are invalid: %v", err))
	}
	return c
}

// New builds a catalog from rules in the given order.
// Every rule is validated; duplicate ids are rejected.
func New(rules ...ir.RuleDefinition) (*Catalog, error) {
	c := &Catalog{
		rules: make([]ir.RuleDefinition, 0, len(rules)),
		index: make(map[string]int, len(rules)),
	}
	for _, r := range rules {
		if errs := compiler.ValidateRule(&r); len(errs) > 0 {
			return nil, fmt.Errorf("rule %q: %w", r.ID, errs[0])
		}
		if _, dup := c.index[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id: %s", r.ID)
		}
		c.index[r.ID] = len(c.rules)
		c.rules = append(c.rules, cloneRule(r))
	}

	digest, err := ir.CatalogDigest(c.rules)
	if err != nil {
		return nil, err
	}
	c.digest = digest
	return c, nil
}

// Digest returns the content hash of the catalog (ir.CatalogDigest).
func (c *Catalog) Digest() string {
	return c.digest
}

// Rules returns every rule in catalog order, experimental ones included.
func (c *Catalog) Rules() []ir.RuleDefinition {
	out := make([]ir.RuleDefinition, len(c.rules))
	for i, r := range c.rules {
		out[i] = cloneRule(r)
	}
	return out
}

// Len returns the number of rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// Lookup finds a rule by id.
func (c *Catalog) Lookup(id string) (ir.RuleDefinition, bool) {
	i, ok := c.index[id]
	if !ok {
		return ir.RuleDefinition{}, false
	}
	return cloneRule(c.rules[i]), true
}

// Active returns the rules that take part in reconciliation: every
// non-experimental rule plus the experimental rules named in enabled.
func (c *Catalog) Active(enabled map[string]bool) []ir.RuleDefinition {
	out := make([]ir.RuleDefinition, 0, len(c.rules))
	for _, r := range c.rules {
		if r.Experimental && !enabled[r.ID] {
			continue
		}
		out = append(out, cloneRule(r))
	}
	return out
}

// Desired reports whether every required condition of rule holds in s.
// A condition on an unknown field never holds.
func Desired(rule ir.RuleDefinition, s ir.StateVector) bool {
	for field, want := range rule.RequiredConditions {
		got, ok := s.Get(field)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cloneRule(r ir.RuleDefinition) ir.RuleDefinition {
	r.RequiredConditions = maps.Clone(r.RequiredConditions)
	return r
}

// LoadDir builds a catalog from the CUE rule files in dir.
func LoadDir(dir string) (*Catalog, error) {
	rules, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load rules from %s: %w", dir, err)
	}
	return New(rules...)
}
