package ir

import "time"

// EntityTypeBooking is the entity type stamped on tasks derived from bookings.
const EntityTypeBooking = "booking"

// Booking is the parent record whose lifecycle drives reconciliation.
type Booking struct {
	ID       string     `json:"id" yaml:"id"`
	TenantID string     `json:"tenant_id" yaml:"tenant_id"`
	Title    string     `json:"title,omitempty" yaml:"title,omitempty"`
	Date     *time.Time `json:"date,omitempty" yaml:"date,omitempty"` // Calendar day of the concert, if known

	// FormValidatedLegacy marks bookings whose intake form was validated
	// through the older paper workflow and therefore has no form record.
	FormValidatedLegacy bool `json:"form_validated_legacy,omitempty" yaml:"form_validated_legacy,omitempty"`

	InvoiceSent bool      `json:"invoice_sent,omitempty" yaml:"invoice_sent,omitempty"`
	TaskIDs     []string  `json:"task_ids,omitempty" yaml:"-"` // Open automatic tasks, maintained by the engine
	CreatedAt   time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// FormStatus is the progression of a booking's intake form.
type FormStatus string

const (
	FormDraft     FormStatus = "draft"
	FormSent      FormStatus = "sent"
	FormReceived  FormStatus = "received"
	FormValidated FormStatus = "validated"
)

// Valid reports whether s is a known form status.
func (s FormStatus) Valid() bool {
	switch s {
	case FormDraft, FormSent, FormReceived, FormValidated:
		return true
	}
	return false
}

// Form is the intake form attached to a booking.
type Form struct {
	ID        string     `json:"id" yaml:"id"`
	BookingID string     `json:"booking_id" yaml:"booking_id"`
	Status    FormStatus `json:"status" yaml:"status"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at,omitempty"`
}

// ContractStatus is the progression of a booking's contract.
type ContractStatus string

const (
	ContractDraft     ContractStatus = "draft"
	ContractGenerated ContractStatus = "generated"
	ContractSent      ContractStatus = "sent"
	ContractSigned    ContractStatus = "signed"
)

// Valid reports whether s is a known contract status.
func (s ContractStatus) Valid() bool {
	switch s {
	case ContractDraft, ContractGenerated, ContractSent, ContractSigned:
		return true
	}
	return false
}

// Contract is the contract attached to a booking.
type Contract struct {
	ID        string         `json:"id" yaml:"id"`
	BookingID string         `json:"booking_id" yaml:"booking_id"`
	Status    ContractStatus `json:"status" yaml:"status"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Snapshot is a booking together with its optional related records.
type Snapshot struct {
	Booking  *Booking
	Form     *Form
	Contract *Contract
}

// Origin tags who caused an inbound mutation.
type Origin string

const (
	// OriginUser marks mutations made by people or by the CRUD layer.
	OriginUser Origin = "user"
	// OriginSystem marks mutations written by the engine itself (task links).
	OriginSystem Origin = "system"
)

// Trigger is one request to reconcile a booking.
// Booking, Form and Contract are optional pre-fetched snapshots.
type Trigger struct {
	EntityID string
	TenantID string
	Booking  *Booking
	Form     *Form
	Contract *Contract
	Origin   Origin
}

// Priority is the display priority of a rule and its tasks.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ValidPriorities lists accepted priority values.
var ValidPriorities = map[Priority]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
}

// UrgencyClass selects the base due-date offset of a rule.
type UrgencyClass string

const (
	UrgencyCritical UrgencyClass = "critical"
	UrgencyHigh     UrgencyClass = "high"
	UrgencyMedium   UrgencyClass = "medium"
	UrgencyLow      UrgencyClass = "low"
)

// ValidUrgencies lists accepted urgency classes.
var ValidUrgencies = map[UrgencyClass]bool{
	UrgencyCritical: true,
	UrgencyHigh:     true,
	UrgencyMedium:   true,
	UrgencyLow:      true,
}

// RuleDefinition declares when a follow-up task should exist.
// RequiredConditions is a conjunction of exact boolean matches on state fields.
type RuleDefinition struct {
	ID                 string          `json:"id"`
	DisplayName        string          `json:"display_name"`
	Description        string          `json:"description"`
	Priority           Priority        `json:"priority"`
	Urgency            UrgencyClass    `json:"urgency"`
	RequiredConditions map[string]bool `json:"required_conditions"`
	Experimental       bool            `json:"experimental,omitempty"`
}

// DerivedTask is a persisted follow-up record.
//
// Automatic tasks are owned by the engine; manual tasks share the same storage
// and are never touched by it.
type DerivedTask struct {
	ID                     string            `json:"id"`
	RuleID                 string            `json:"rule_id,omitempty"`
	EntityID               string            `json:"entity_id"`
	EntityType             string            `json:"entity_type"`
	TenantID               string            `json:"tenant_id"`
	DisplayName            string            `json:"display_name"`
	Description            string            `json:"description,omitempty"`
	Priority               Priority          `json:"priority"`
	Automatic              bool              `json:"automatic"`
	Completed              bool              `json:"completed"`
	CompletedAutomatically bool              `json:"completed_automatically"`
	CompletionReason       string            `json:"completion_reason,omitempty"`
	DueDate                time.Time         `json:"due_date"`
	CreatedAt              time.Time         `json:"created_at"`
	CompletedAt            *time.Time        `json:"completed_at,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

// Open reports whether the task is an automatic task that is still pending.
func (t DerivedTask) Open() bool {
	return t.Automatic && !t.Completed
}
