package cli

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/roach88/relance/internal/engine"
	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/metrics"
	"github.com/roach88/relance/internal/store"
)

// maxBodyBytes bounds booking documents accepted over HTTP.
const maxBodyBytes = 1 << 20

// adminServer serves the HTTP surface of "relance serve".
//
// Writes made through PUT and DELETE /bookings/{id} emit store change
// events; reconciliation happens asynchronously on the dispatcher.
type adminServer struct {
	store *store.Store
	rec   *engine.Reconciler
}

// newAdminMux wires the routes. m may be nil, in which case /metrics is
// not served.
func newAdminMux(st *store.Store, rec *engine.Reconciler, m *metrics.Metrics) *http.ServeMux {
	s := &adminServer{store: st, rec: rec}

	mux := http.NewServeMux()
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok\n")
	})
	mux.HandleFunc("PUT /bookings/{id}", s.putBooking)
	mux.HandleFunc("DELETE /bookings/{id}", s.deleteBooking)
	mux.HandleFunc("POST /bookings/{id}/repair", s.repair)
	mux.HandleFunc("GET /bookings/{id}/tasks", s.listTasks)
	mux.HandleFunc("DELETE /bookings/{id}/tasks", s.deleteTasks)
	return mux
}

func (s *adminServer) putBooking(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInput, err)
		return
	}
	doc, err := decodeBookingDocument(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInput, err)
		return
	}
	if doc.Booking.ID == "" {
		doc.Booking.ID = id
	}
	if doc.Booking.ID != id {
		writeError(w, http.StatusBadRequest, ErrCodeInput,
			errors.New("booking.id does not match the request path"))
		return
	}
	if err := doc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInput, err)
		return
	}

	if err := doc.Write(r.Context(), s.store); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeStore, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CLIResponse{Status: "ok", Data: BookingRef{BookingID: id}})
}

func (s *adminServer) deleteBooking(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.store.DeleteBooking(r.Context(), id, ir.OriginUser)
	switch {
	case errors.Is(err, store.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, ErrCodeStore, err)
	default:
		// Automatic tasks are removed by the dispatcher
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *adminServer) repair(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tenant := r.URL.Query().Get("tenant")

	rep, err := s.rec.Repair(r.Context(), id, tenant)
	view := newReportView(rep)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, CLIResponse{Status: "ok", Data: view})
	case errors.Is(err, store.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err)
	case errors.Is(err, engine.ErrTenantMismatch):
		writeError(w, http.StatusBadRequest, ErrCodeTenant, err)
	default:
		slog.Warn("repair failed", "entity_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: ErrCodeReconcile, Message: err.Error(), Details: view},
		})
	}
}

func (s *adminServer) listTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	b, err := s.store.GetBooking(r.Context(), id)
	if errors.Is(err, store.ErrEntityNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeStore, err)
		return
	}

	tasks, err := s.store.ListTasks(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeStore, err)
		return
	}
	if tasks == nil {
		tasks = []ir.DerivedTask{}
	}
	writeJSON(w, http.StatusOK, CLIResponse{Status: "ok", Data: TasksResult{BookingID: id, Links: b.TaskIDs, Tasks: tasks}})
}

// deleteTasks removes the automatic tasks of a booking. The tenant comes
// from the booking, or from ?tenant= once the booking is gone.
func (s *adminServer) deleteTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tenant := r.URL.Query().Get("tenant")

	if tenant == "" {
		b, err := s.store.GetBooking(r.Context(), id)
		if errors.Is(err, store.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeStore, err)
			return
		}
		tenant = b.TenantID
	}

	if err := s.rec.DeleteAutomaticTasks(r.Context(), id, tenant); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeReconcile, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, CLIResponse{
		Status: "error",
		Error:  &CLIError{Code: code, Message: err.Error()},
	})
}

func writeJSON(w http.ResponseWriter, status int, body CLIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("write response", "error", err)
	}
}
