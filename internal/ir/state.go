package ir

import (
	"fmt"
	"strings"
)

// State field names, as referenced by rule conditions.
const (
	FieldEntityCreated     = "entityCreated"
	FieldFormSent          = "formSent"
	FieldFormReceived      = "formReceived"
	FieldFormValidated     = "formValidated"
	FieldContractGenerated = "contractGenerated"
	FieldContractSent      = "contractSent"
	FieldContractSigned    = "contractSigned"
	FieldInvoiceSent       = "invoiceSent"
)

// StateFields lists every state field in a fixed order.
var StateFields = []string{
	FieldEntityCreated,
	FieldFormSent,
	FieldFormReceived,
	FieldFormValidated,
	FieldContractGenerated,
	FieldContractSent,
	FieldContractSigned,
	FieldInvoiceSent,
}

// StateVector is the normalized boolean snapshot of one booking.
type StateVector struct {
	EntityCreated     bool `json:"entityCreated"`
	FormSent          bool `json:"formSent"`
	FormReceived      bool `json:"formReceived"`
	FormValidated     bool `json:"formValidated"`
	ContractGenerated bool `json:"contractGenerated"`
	ContractSent      bool `json:"contractSent"`
	ContractSigned    bool `json:"contractSigned"`
	InvoiceSent       bool `json:"invoiceSent"`
}

// Get returns the value of a named field.
// ok is false when the name is not a state field.
func (s StateVector) Get(field string) (value bool, ok bool) {
	switch field {
	case FieldEntityCreated:
		return s.EntityCreated, true
	case FieldFormSent:
		return s.FormSent, true
	case FieldFormReceived:
		return s.FormReceived, true
	case FieldFormValidated:
		return s.FormValidated, true
	case FieldContractGenerated:
		return s.ContractGenerated, true
	case FieldContractSent:
		return s.ContractSent, true
	case FieldContractSigned:
		return s.ContractSigned, true
	case FieldInvoiceSent:
		return s.InvoiceSent, true
	default:
		return false, false
	}
}

// IsStateField reports whether name is a known state field.
func IsStateField(name string) bool {
	_, ok := StateVector{}.Get(name)
	return ok
}

// String renders the fields that are true, in StateFields order.
//
//	StateVector{EntityCreated: true, FormSent: true}.String() == "entityCreated,formSent"
func (s StateVector) String() string {
	var set []string
	for _, f := range StateFields {
		if v, _ := s.Get(f); v {
			set = append(set, f)
		}
	}
	if len(set) == 0 {
		return "-"
	}
	return strings.Join(set, ",")
}

// GoString is used by %#v in test failure output.
func (s StateVector) GoString() string {
	return fmt.Sprintf("StateVector{%s}", s.String())
}
