// Package state normalizes a booking and its related records into the
// boolean state vector that rules are evaluated against.
package state

import "github.com/roach88/relance/internal/ir"

// Evaluate computes the state vector of a booking.
//
// Evaluate is pure and total: a nil booking yields the zero vector and a
// missing form or contract yields false for every field that depends on it.
// Bookings flagged FormValidatedLegacy report the whole form progression
// as done even when no form record exists.
func Evaluate(booking *ir.Booking, form *ir.Form, contract *ir.Contract) ir.StateVector {
	var s ir.StateVector
	if booking == nil {
		return s
	}

	s.EntityCreated = booking.ID != ""
	s.InvoiceSent = booking.InvoiceSent

	if form != nil {
		switch form.Status {
		case ir.FormValidated:
			s.FormValidated = true
			s.FormReceived = true
			s.FormSent = true
		case ir.FormReceived:
			s.FormReceived = true
			s.FormSent = true
		case ir.FormSent:
			s.FormSent = true
		}
	}

	if booking.FormValidatedLegacy {
		s.FormSent = true
		s.FormReceived = true
		s.FormValidated = true
	}

	if contract != nil {
		switch contract.Status {
		case ir.ContractSigned:
			s.ContractSigned = true
			s.ContractSent = true
			s.ContractGenerated = true
		case ir.ContractSent:
			s.ContractSent = true
			s.ContractGenerated = true
		case ir.ContractGenerated:
			s.ContractGenerated = true
		}
	}

	return s
}

// EvaluateSnapshot is Evaluate over a fetched snapshot.
func EvaluateSnapshot(snap ir.Snapshot) ir.StateVector {
	return Evaluate(snap.Booking, snap.Form, snap.Contract)
}
