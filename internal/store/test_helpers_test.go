package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relance/internal/ir"
	"github.com/roach88/relance/internal/testutil"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// createTestStore creates a new SQLite store in a temp directory.
func createTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testNow)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(DriverSQLite, path, WithClock(clk))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

// putTestBooking stores a minimal booking owned by tenant t-1.
func putTestBooking(t *testing.T, s *Store, id string) ir.Booking {
	t.Helper()
	b := ir.Booking{ID: id, TenantID: "t-1", Title: "Concert " + id}
	require.NoError(t, s.PutBooking(context.Background(), b, ir.OriginUser))
	return b
}

// newTestTask builds an open automatic task for entity/rule.
func newTestTask(id, entityID, ruleID string) ir.DerivedTask {
	return ir.DerivedTask{
		ID:          id,
		RuleID:      ruleID,
		EntityID:    entityID,
		EntityType:  ir.EntityTypeBooking,
		TenantID:    "t-1",
		DisplayName: fmt.Sprintf("Task %s", ruleID),
		Priority:    ir.PriorityHigh,
		DueDate:     testNow.AddDate(0, 0, 3).Truncate(24 * time.Hour),
		Metadata:    map[string]string{"urgency": "high"},
	}
}

// verifyPragma checks that a pragma is set to the expected value.
func verifyPragma(t *testing.T, s *Store, name, expected string) {
	t.Helper()
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		t.Fatalf("failed to query %s: %v", name, err)
	}
	if value != expected {
		t.Errorf("%s = %q, expected %q", name, value, expected)
	}
}
