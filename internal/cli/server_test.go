package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relance/internal/engine"
	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/metrics"
	"github.com/roach88/relance/internal/store"
	"github.com/roach88/relance/internal/testutil"
)

type adminFixture struct {
	store   *store.Store
	rec     *engine.Reconciler
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	clk := testutil.NewFakeClock(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))

	st, err := store.Open(store.DriverSQLite, ":memory:", store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := metrics.New()
	rec := engine.New(st, st,
		engine.WithClock(clk),
		engine.WithIDGenerator(testutil.NewSequentialIDs("task")),
		engine.WithLinker(st),
		engine.WithMetrics(m),
	)
	return &adminFixture{store: st, rec: rec, metrics: m, mux: newAdminMux(st, rec, m)}
}

func (f *adminFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// seed writes a booking directly, without reconciling.
func (f *adminFixture) seed(t *testing.T, id string, form ir.FormStatus) {
	t.Helper()
	doc := &BookingDocument{Booking: ir.Booking{ID: id, TenantID: "t-1"}, Form: form}
	require.NoError(t, doc.Write(context.Background(), f.store))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) CLIResponse {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return decode(t, rec.Body.String(), v)
}

func TestAdmin_Healthz(t *testing.T) {
	f := newAdminFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestAdmin_Repair(t *testing.T) {
	f := newAdminFixture(t)
	f.seed(t, "b-1", "")

	rec := f.do(t, http.MethodPost, "/bookings/b-1/repair", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view ReportView
	resp := decodeBody(t, rec, &view)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, view.Forced)
	require.Len(t, view.Created, 1)
	assert.Equal(t, TaskView{ID: "task-1", RuleID: "send-form", Priority: "high", DueDate: "2026-03-05"}, view.Created[0])
	assert.True(t, view.Linked)
}

func TestAdmin_RepairUnknown(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodPost, "/bookings/nope/repair", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeBody(t, rec, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestAdmin_RepairWrongTenant(t *testing.T) {
	f := newAdminFixture(t)
	f.seed(t, "b-1", "")

	rec := f.do(t, http.MethodPost, "/bookings/b-1/repair?tenant=other", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody(t, rec, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTenant, resp.Error.Code)

	tasks, err := f.store.ListTasks(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestAdmin_MethodNotAllowed(t *testing.T) {
	f := newAdminFixture(t)
	rec := f.do(t, http.MethodGet, "/bookings/b-1/repair", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdmin_ListTasks(t *testing.T) {
	f := newAdminFixture(t)
	f.seed(t, "b-1", ir.FormReceived)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/bookings/b-1/repair", "").Code)

	rec := f.do(t, http.MethodGet, "/bookings/b-1/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result TasksResult
	decodeBody(t, rec, &result)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, "validate-form", result.Tasks[0].RuleID)
	assert.Equal(t, []string{"task-1"}, result.Links)

	rec = f.do(t, http.MethodGet, "/bookings/nope/tasks", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_DeleteTasks(t *testing.T) {
	f := newAdminFixture(t)
	f.seed(t, "b-1", "")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/bookings/b-1/repair", "").Code)

	manual := ir.DerivedTask{ID: "manual-1", EntityID: "b-1", EntityType: ir.EntityTypeBooking, TenantID: "t-1", DisplayName: "Call the venue"}
	_, err := f.store.CreateManualTask(context.Background(), manual)
	require.NoError(t, err)

	rec := f.do(t, http.MethodDelete, "/bookings/b-1/tasks", "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	tasks, err := f.store.ListTasks(context.Background(), "b-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1, "manual tasks survive cleanup")
	assert.False(t, tasks[0].Automatic)
}

func TestAdmin_DeleteTasksAfterBookingGone(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodDelete, "/bookings/gone/tasks", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/bookings/gone/tasks?tenant=t-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdmin_PutBooking(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodPut, "/bookings/b-1", `{"booking": {"tenant_id": "t-1"}, "form": "sent"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var ref BookingRef
	decodeBody(t, rec, &ref)
	assert.Equal(t, "b-1", ref.BookingID)

	snap, err := f.store.Fetch(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", snap.Booking.TenantID)
	require.NotNil(t, snap.Form)
	assert.Equal(t, ir.FormSent, snap.Form.Status)
}

func TestAdmin_PutBookingRejected(t *testing.T) {
	f := newAdminFixture(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"booking": `, "parse booking document"},
		{"id mismatch", "booking: {id: b-2, tenant_id: t-1}\n", "does not match"},
		{"no tenant", "booking: {id: b-1}\n", "booking.tenant_id is required"},
		{"bad status", "booking: {tenant_id: t-1}\ncontract: void\n", `unknown contract status "void"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, "/bookings/b-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeBody(t, rec, nil)
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeInput, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.want)
		})
	}
}

func TestAdmin_DeleteBooking(t *testing.T) {
	f := newAdminFixture(t)
	f.seed(t, "b-1", "")

	rec := f.do(t, http.MethodDelete, "/bookings/b-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/bookings/b-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Writes accepted over HTTP reach the dispatcher through the store's
// change events.
func TestAdmin_WritesDriveDispatcher(t *testing.T) {
	f := newAdminFixture(t)

	d := engine.NewDispatcher(f.rec)
	unsubscribe := f.store.Subscribe(d.Handle)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	t.Cleanup(func() {
		unsubscribe()
		d.Stop()
		require.NoError(t, <-done)
	})

	openTasks := func() []ir.DerivedTask {
		tasks, err := f.store.ListTasks(context.Background(), "b-1")
		require.NoError(t, err)
		var open []ir.DerivedTask
		for _, task := range tasks {
			if task.Open() {
				open = append(open, task)
			}
		}
		return open
	}

	rec := f.do(t, http.MethodPut, "/bookings/b-1", "booking: {tenant_id: t-1}\n")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Eventually(t, func() bool { return len(openTasks()) == 1 }, 2*time.Second, 10*time.Millisecond)

	rec = f.do(t, http.MethodDelete, "/bookings/b-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Eventually(t, func() bool { return len(openTasks()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestAdmin_Metrics(t *testing.T) {
	f := newAdminFixture(t)
	f.seed(t, "b-1", "")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/bookings/b-1/repair", "").Code)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `relance_passes_total{outcome="applied"} 1`)
	assert.Contains(t, body, `relance_tasks_created_total{rule="send-form"} 1`)
}

func TestAdmin_NoMetricsWithoutRecorder(t *testing.T) {
	f := newAdminFixture(t)
	mux := newAdminMux(f.store, f.rec, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusTeapot, CLIResponse{Status: "ok", Data: "x"})

	assert.Equal(t, http.StatusTeapot, rec.Code)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "x", resp.Data)
}
