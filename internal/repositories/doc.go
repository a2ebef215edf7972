// Package repositories implements SQLite persistence for the kiosk's local state.
//
// Key Implementations:
//   - [PreferenceRepository] : key/value settings such as the selected room
//   - [HistoryRepository] : tab navigation history with sequence ordering
//   - [TokenRepository] : OAuth tokens per provider
//
// Sequence numbers provide stable, human-readable ordering independent of UUIDs and timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
