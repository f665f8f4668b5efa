// Package harness runs booking scenarios against a real Reconciler.
//
// A scenario is a YAML file describing a sequence of booking mutations.
// Each step writes the booking and its form or contract, advances a fake
// clock, runs one action and checks what the pass did.
//
// # Scenario Format
//
//	name: booking_lifecycle
//	description: "Form received completes the send-form task"
//	start: 2026-03-02T09:30:00Z      # optional, fake clock origin
//	config:                          # optional, same keys as relance.yaml
//	  experimental_rules: [send-invoice]
//	steps:
//	  - name: created
//	    booking: {id: b-1, tenant_id: t-1, title: Spring concert}
//	    expect:
//	      created: [send-form]
//	      open: [send-form]
//	      writes: 2
//	      due: {send-form: 2026-03-05}
//	  - name: form received
//	    form: received
//	    expect:
//	      completed: [send-form]
//	      created: [validate-form]
//
// # Step Actions
//
//   - reconcile: a user-originated pass (the default)
//   - system: a pass tagged as caused by the engine itself
//   - repair: a forced pass
//   - delete: cleanup of the automatic tasks, then deletion of the booking
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory SQLite database with a fake clock
// and sequential task ids (task-1, task-2, ...). Unless a step sets advance,
// the clock moves one minute before each step, well past the default
// cooldown. Identical scenarios therefore produce identical step results,
// which are compared against golden snapshots.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/lifecycle.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
