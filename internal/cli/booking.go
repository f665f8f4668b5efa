package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/store"
)

// BookingDocument is the YAML file accepted by "booking put".
//
//	booking:
//	  id: b-42
//	  tenant_id: acme
//	  date: 2026-04-18
//	form: received
//	contract: sent
type BookingDocument struct {
	Booking  ir.Booking        `yaml:"booking"`
	Form     ir.FormStatus     `yaml:"form,omitempty"`
	Contract ir.ContractStatus `yaml:"contract,omitempty"`
}

// PutResult is the output of "booking put".
type PutResult struct {
	BookingID string     `json:"booking_id"`
	Report    ReportView `json:"report"`
}

// BookingRef identifies the booking a write touched.
type BookingRef struct {
	BookingID string `json:"booking_id"`
}

// ParseBookingDocument decodes and validates a booking document. JSON
// input is accepted too. Unknown keys are rejected.
func ParseBookingDocument(data []byte) (*BookingDocument, error) {
	doc, err := decodeBookingDocument(data)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeBookingDocument(data []byte) (*BookingDocument, error) {
	var doc BookingDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse booking document: %w", err)
	}
	return &doc, nil
}

// Validate reports every missing or unknown field at once.
func (d *BookingDocument) Validate() error {
	var errs []error
	if d.Booking.ID == "" {
		errs = append(errs, errors.New("booking.id is required"))
	}
	if d.Booking.TenantID == "" {
		errs = append(errs, errors.New("booking.tenant_id is required"))
	}
	if d.Form != "" && !d.Form.Valid() {
		errs = append(errs, fmt.Errorf("unknown form status %q", d.Form))
	}
	if d.Contract != "" && !d.Contract.Valid() {
		errs = append(errs, fmt.Errorf("unknown contract status %q", d.Contract))
	}
	return errors.Join(errs...)
}

// Write upserts the booking with its form and contract, when set, as one
// store write.
func (d *BookingDocument) Write(ctx context.Context, st *store.Store) error {
	b := d.Booking
	var (
		form     *ir.Form
		contract *ir.Contract
	)
	if d.Form != "" {
		form = &ir.Form{ID: "form-" + b.ID, BookingID: b.ID, Status: d.Form}
	}
	if d.Contract != "" {
		contract = &ir.Contract{ID: "contract-" + b.ID, BookingID: b.ID, Status: d.Contract}
	}
	return st.PutDocument(ctx, b, form, contract, ir.OriginUser)
}

// NewBookingCommand creates the booking command group.
func NewBookingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Write or delete bookings",
	}

	cmd.AddCommand(newBookingPutCommand(rootOpts))
	cmd.AddCommand(newBookingDeleteCommand(rootOpts))

	return cmd
}

func newBookingPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <file.yaml>",
		Short: "Upsert a booking with its form and contract, then reconcile it",
		Long: `Upsert a booking with its form and contract, then run a reconciliation
pass for it. A failed pass never undoes the write; its errors are reported
as warnings.

Examples:
  relance booking put ./b-42.yaml
  relance booking put ./b-42.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBookingPut(cmd, rootOpts, args[0])
		},
	}
}

func runBookingPut(cmd *cobra.Command, opts *RootOptions, path string) error {
	out := opts.formatter(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeInput, err)
	}
	doc, err := ParseBookingDocument(data)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeInput, err)
	}

	e, err := openEnv(out, opts, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)
	if err := doc.Write(ctx, e.store); err != nil {
		return out.Fail(ExitFailure, ErrCodeStore, err)
	}
	b := doc.Booking
	out.VerboseLog("booking %s written", b.ID)

	rep, err := e.rec.Reconcile(ctx, ir.Trigger{EntityID: b.ID, TenantID: b.TenantID, Origin: ir.OriginUser})

	result := PutResult{BookingID: b.ID, Report: newReportView(rep)}
	var warnings []string
	if err != nil {
		warnings = append(warnings, err.Error())
	}
	return out.SuccessWithWarnings(result, warnings, result.Report.writeText)
}

func newBookingDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <booking-id>",
		Short: "Delete a booking and its automatic tasks",
		Long: `Delete a booking together with its form, contract and automatic tasks.
Manual tasks are kept. Cleanup runs even when automation is switched off.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBookingDelete(cmd, rootOpts, args[0])
		},
	}
}

func runBookingDelete(cmd *cobra.Command, opts *RootOptions, id string) error {
	out := opts.formatter(cmd)

	e, err := openEnv(out, opts, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)
	b, err := e.store.GetBooking(ctx, id)
	if errors.Is(err, store.ErrEntityNotFound) {
		return out.Fail(ExitFailure, ErrCodeNotFound, err)
	}
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeStore, err)
	}

	if err := e.rec.DeleteAutomaticTasks(ctx, b.ID, b.TenantID); err != nil {
		return out.Fail(ExitFailure, ErrCodeReconcile, err)
	}
	if err := e.store.DeleteBooking(ctx, b.ID, ir.OriginUser); err != nil {
		return out.Fail(ExitFailure, ErrCodeStore, err)
	}

	return out.Success(BookingRef{BookingID: b.ID}, func(w io.Writer) {
		fmt.Fprintf(w, "booking %s deleted\n", b.ID)
	})
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
