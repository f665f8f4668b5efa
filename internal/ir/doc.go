// Package ir holds the shared vocabulary of the relance engine: bookings and
// their related records, the state vector, rule definitions and derived tasks.
//
// This package contains type definitions and their encodings only. All other
// internal packages import ir; ir imports nothing internal.
//
// Conventions:
//   - JSON tags use snake_case, except state fields which keep the camelCase
//     names referenced by rule conditions
//   - Due dates are calendar days at 00:00 UTC
//   - Task metadata is serialized with MarshalMetadata (canonical JSON)
package ir
