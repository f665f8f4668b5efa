package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRun_PassingScenario(t *testing.T) {
	s := mustParse(t, `
name: pass
description: created then received
steps:
  - name: created
    booking: {id: b-1, tenant_id: t-1}
    expect:
      created: [send-form]
      open: [send-form]
      writes: 2
  - name: received
    form: received
    expect:
      completed: [send-form]
      created: [validate-form]
      open: [validate-form]
      writes: 3
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Steps, 2)

	first := result.Steps[0]
	assert.Equal(t, "entityCreated", first.State)
	require.Len(t, first.Created, 1)
	assert.Equal(t, TaskView{ID: "task-1", RuleID: "send-form", Priority: "high", DueDate: "2026-03-05"}, first.Created[0])
	assert.Equal(t, []string{"task-1"}, first.Links)

	second := result.Steps[1]
	assert.Equal(t, []string{"send-form"}, second.Completed)
	assert.Equal(t, []string{"task-2"}, second.Links)
}

func TestRun_ReportsMismatches(t *testing.T) {
	s := mustParse(t, `
name: mismatch
description: every expectation is wrong
steps:
  - name: created
    booking: {id: b-1, tenant_id: t-1}
    expect:
      skipped: debounced
      created: [send-contract]
      open: []
      writes: 7
      due: {send-form: "2026-04-01"}
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	for _, e := range result.Errors {
		assert.Contains(t, e, "step 0 (created)")
	}
	assert.Contains(t, result.Errors[0], "skipped")
	assert.Contains(t, result.Errors[1], "created: expected [send-contract], got [send-form]")
	assert.Contains(t, result.Errors[2], "open")
	assert.Contains(t, result.Errors[3], "writes: expected 7, got 2")
	assert.Contains(t, result.Errors[4], "due.send-form: expected 2026-04-01, got 2026-03-05")
}

func TestRun_StepWithoutExpectFailsOnError(t *testing.T) {
	s := mustParse(t, `
name: no-expect
description: delete then reconcile a missing booking
steps:
  - name: created
    booking: {id: b-1, tenant_id: t-1}
  - name: deleted
    action: delete
  - name: recreated elsewhere
    booking: {id: b-2, tenant_id: t-1}
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "-", result.Steps[1].State)
	assert.Empty(t, result.Steps[1].Open)
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/booking_lifecycle.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRun_ConfigCooldown(t *testing.T) {
	s := mustParse(t, `
name: long-cooldown
description: a ten minute cooldown swallows the next step
config:
  cooldown: 10m
steps:
  - name: created
    booking: {id: b-1, tenant_id: t-1}
  - name: sent
    form: sent
    expect:
      skipped: debounced
      open: [send-form]
  - name: repaired
    action: repair
    expect:
      completed: [send-form]
      open: []
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ExpectedError(t *testing.T) {
	s := mustParse(t, `
name: gone
description: reconciling a deleted booking fails to fetch
steps:
  - name: created
    booking: {id: b-1, tenant_id: t-1}
  - name: removed
    action: delete
  - name: stale trigger
    expect:
      error: entity not found
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
