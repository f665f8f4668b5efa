package engine

import (
	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/metrics"
)

// SkipReason explains why a call did not run a pass.
// The values double as metrics outcome labels.
type SkipReason string

const (
	SkipSelfTriggered  SkipReason = metrics.OutcomeSelfTriggered
	SkipDisabled       SkipReason = metrics.OutcomeDisabled
	SkipTenantDisabled SkipReason = metrics.OutcomeTenantDisabled
	SkipDebounced      SkipReason = metrics.OutcomeDebounced
)

// Report describes the outcome of one Reconcile or Repair call.
type Report struct {
	EntityID string
	TenantID string

	// Skipped is empty when the pass ran.
	Skipped SkipReason

	// Forced is set for Repair passes.
	Forced bool

	// State is the vector the pass evaluated rules against.
	State ir.StateVector

	// Created holds the tasks inserted by this pass, in rule order.
	Created []ir.DerivedTask

	// Completed holds the ids of tasks completed by this pass.
	Completed []string

	// Linked is set when the back-link was written.
	Linked bool

	// Errors holds the per-rule failures; the call's error joins them.
	Errors []error
}

// Ran reports whether the pass got past its preconditions.
func (r Report) Ran() bool {
	return r.Skipped == ""
}

// Writes counts task mutations and back-link writes.
func (r Report) Writes() int {
	n := len(r.Created) + len(r.Completed)
	if r.Linked {
		n++
	}
	return n
}
